package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

var (
	userClaimKeys = []string{"user_id", "userId", "user", "sub"}
	orgClaimKeys  = []string{"organization_id", "organizationId", "org_id", "org"}
)

// TokenDecoder extracts identity claims from a host id token.
type TokenDecoder struct {
	secret []byte
}

// NewTokenDecoder verifies HMAC signatures when secret is set and only
// decodes the claims otherwise.
func NewTokenDecoder(secret string) *TokenDecoder {
	d := &TokenDecoder{}
	if secret != "" {
		d.secret = []byte(secret)
	}
	return d
}

func (d *TokenDecoder) Decode(token string) (model.Identity, error) {
	claims := jwt.MapClaims{}
	if d.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return model.Identity{}, errors.Unauthorized(fmt.Errorf("failed to decode host token: %w", err))
		}
	} else {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return d.secret, nil
		})
		if err != nil {
			return model.Identity{}, errors.Unauthorized(fmt.Errorf("failed to verify host token: %w", err))
		}
	}

	return model.Identity{
		UserID:         model.ID(claimString(claims, userClaimKeys)),
		OrganizationID: model.ID(claimString(claims, orgClaimKeys)),
	}, nil
}

func claimString(claims jwt.MapClaims, keys []string) string {
	for _, k := range keys {
		if s := scalar(claims[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]interface{}:
		// {"user": {"id": ...}}
		return scalar(t["id"])
	}
	return ""
}

// ParseHostMessage accepts the message shapes a hosting page may post:
// {type:"idToken", token}, {token}, a bare token, or {userId, organizationId}.
func (d *TokenDecoder) ParseHostMessage(body []byte) (model.Identity, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return model.Identity{}, errors.Validation("empty host message")
	}

	switch body[0] {
	case '{':
		var msg map[string]interface{}
		if err := json.Unmarshal(body, &msg); err != nil {
			return model.Identity{}, errors.Validation("host message is not valid JSON")
		}
		if tok := scalar(msg["token"]); tok != "" {
			if typ := scalar(msg["type"]); typ != "" && typ != "idToken" {
				return model.Identity{}, errors.Validation(fmt.Sprintf("unsupported host message type %q", typ))
			}
			return d.Decode(tok)
		}
		id := model.Identity{
			UserID:         model.ID(firstScalar(msg, "userId", "user_id")),
			OrganizationID: model.ID(firstScalar(msg, "organizationId", "organization_id", "orgId")),
		}
		if id.UserID.IsZero() && id.OrganizationID.IsZero() {
			return model.Identity{}, errors.Validation("host message carries no identity")
		}
		return id, nil
	case '"':
		var tok string
		if err := json.Unmarshal(body, &tok); err != nil {
			return model.Identity{}, errors.Validation("host message is not valid JSON")
		}
		return d.Decode(strings.TrimSpace(tok))
	default:
		tok := string(body)
		if strings.Count(tok, ".") != 2 {
			return model.Identity{}, errors.Validation("host message is neither JSON nor a token")
		}
		return d.Decode(tok)
	}
}

func firstScalar(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" {
			return s
		}
	}
	return ""
}
