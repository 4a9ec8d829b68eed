package session

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestParseIDTokenMessage(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"user": "U2", "org": "O2"}, "any")
	d := NewTokenDecoder("")

	id, err := d.ParseHostMessage([]byte(`{"type":"idToken","token":"` + tok + `"}`))
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "U2", OrganizationID: "O2"}, id)
}

func TestParseBareTokenAndTokenOnlyMessage(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "U3", "organization_id": 17}, "any")
	d := NewTokenDecoder("")

	id, err := d.ParseHostMessage([]byte(tok))
	require.NoError(t, err)
	assert.Equal(t, model.ID("U3"), id.UserID)
	assert.Equal(t, model.ID("17"), id.OrganizationID)

	id, err = d.ParseHostMessage([]byte(`{"token":"` + tok + `"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ID("U3"), id.UserID)

	id, err = d.ParseHostMessage([]byte(`"` + tok + `"`))
	require.NoError(t, err)
	assert.Equal(t, model.ID("17"), id.OrganizationID)
}

func TestParsePlainIDMessage(t *testing.T) {
	id, err := NewTokenDecoder("").ParseHostMessage([]byte(`{"userId":"U4","organizationId":"O4"}`))
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "U4", OrganizationID: "O4"}, id)
}

func TestClaimKeyPrecedence(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"user_id": "primary", "sub": "fallback", "orgId": "ignored", "org_id": "O5"}, "k")

	id, err := NewTokenDecoder("").Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, model.ID("primary"), id.UserID)
	assert.Equal(t, model.ID("O5"), id.OrganizationID)
}

func TestSignatureVerifiedWhenSecretConfigured(t *testing.T) {
	good := signToken(t, jwt.MapClaims{"user_id": "U", "organization_id": "O"}, "shared")
	bad := signToken(t, jwt.MapClaims{"user_id": "U", "organization_id": "O"}, "other")
	d := NewTokenDecoder("shared")

	_, err := d.Decode(good)
	require.NoError(t, err)

	_, err = d.Decode(bad)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestRejectsUnknownMessages(t *testing.T) {
	d := NewTokenDecoder("")
	for _, body := range []string{``, `{"hello":"world"}`, `not a token`, `{"type":"ping","token":"x.y.z"}`} {
		_, err := d.ParseHostMessage([]byte(body))
		assert.Error(t, err, body)
	}
}
