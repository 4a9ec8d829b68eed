package model

// Identity is the acting (user, organization) pair of a session.
type Identity struct {
	UserID         ID `json:"user_id"`
	OrganizationID ID `json:"organization_id"`
}

// Complete reports whether both identifiers are present.
func (i Identity) Complete() bool {
	return !i.UserID.IsZero() && !i.OrganizationID.IsZero()
}

type IdentitySource string

const (
	SourceNone    IdentitySource = ""
	SourceStorage IdentitySource = "storage"
	SourceURL     IdentitySource = "url"
	SourceMessage IdentitySource = "message"
)

// Priority orders identity sources; higher wins.
func (s IdentitySource) Priority() int {
	switch s {
	case SourceMessage:
		return 3
	case SourceURL:
		return 2
	case SourceStorage:
		return 1
	}
	return 0
}

// Candidate is one proposed identity with the source that produced it.
type Candidate struct {
	Identity
	Source IdentitySource
}

// StorageStatus describes the identity store of a session.
type StorageStatus struct {
	StorageType string `json:"storageType"`
	IsInIframe  bool   `json:"isInIframe"`
	HasUserID   bool   `json:"hasUserId"`
	HasOrgID    bool   `json:"hasOrgId"`
	HasUserData bool   `json:"hasUserData"`
}

type SessionState string

const (
	SessionAwaiting SessionState = "awaiting_authentication"
	SessionResolved SessionState = "resolved"
)
