package model

import "time"

// PushNotification is the body of POST /aws/push-notification.
type PushNotification struct {
	OrganizationID ID     `json:"organization_id" validate:"required"`
	Message        string `json:"message" validate:"required"`
	UserType       string `json:"user_type,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	RequestID      ID     `json:"request_id,omitempty"`
}

// CaseLink is the cross-organization case record created by /aws/case-details.
type CaseLink struct {
	AccessionNumber           string `json:"accession_number" validate:"required"`
	PatientID                 string `json:"patient_id"`
	SourceOrganizationID      ID     `json:"source_organization_id" validate:"required"`
	DestinationOrganizationID ID     `json:"destination_organization_id" validate:"required"`
	RequestID                 ID     `json:"request_id" validate:"required"`
}

// LifecycleEvent is emitted once after each successful mutation.
type LifecycleEvent struct {
	ID                        string        `json:"id"`
	Action                    Action        `json:"action"`
	RequestID                 ID            `json:"request_id"`
	NewStatus                 RequestStatus `json:"new_status,omitempty"`
	PaymentType               PaymentType   `json:"payment_type,omitempty"`
	Actor                     Identity      `json:"actor"`
	ActorName                 string        `json:"actor_name,omitempty"`
	ActorType                 string        `json:"actor_type,omitempty"`
	CounterpartOrganizationID ID            `json:"counterpart_organization_id,omitempty"`
	OccurredAt                time.Time     `json:"occurred_at"`
}

type NotificationOutcome string

const (
	OutcomeDelivered NotificationOutcome = "delivered"
	OutcomeFailed    NotificationOutcome = "failed"
	OutcomeDropped   NotificationOutcome = "dropped"
	OutcomeSkipped   NotificationOutcome = "skipped"
)
