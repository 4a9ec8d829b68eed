package model

import "time"

// AuditEntry is the persisted projection of a LifecycleEvent.
type AuditEntry struct {
	ID                        string    `db:"id" json:"id"`
	EventID                   string    `db:"event_id" json:"event_id"`
	Action                    string    `db:"action" json:"action"`
	RequestID                 string    `db:"request_id" json:"request_id"`
	NewStatus                 string    `db:"new_status" json:"new_status,omitempty"`
	ActorUserID               string    `db:"actor_user_id" json:"actor_user_id"`
	ActorOrganizationID       string    `db:"actor_organization_id" json:"actor_organization_id"`
	ActorName                 string    `db:"actor_name" json:"actor_name,omitempty"`
	CounterpartOrganizationID string    `db:"counterpart_organization_id" json:"counterpart_organization_id,omitempty"`
	OccurredAt                time.Time `db:"occurred_at" json:"occurred_at"`
	CreatedAt                 time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit trail reads.
type AuditFilter struct {
	RequestID string
	Limit     int
}
