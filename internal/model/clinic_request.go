package model

import "time"

type RequestStatus string

const (
	StatusPending             RequestStatus = "pending"
	StatusWaitingForPayment   RequestStatus = "waiting_for_payment"
	StatusReadyForExamination RequestStatus = "ready_for_examination"
	StatusWaitingForResult    RequestStatus = "waiting_for_result"
	StatusFinished            RequestStatus = "finished"
	StatusRejected            RequestStatus = "rejected"
)

var requestStatuses = map[RequestStatus]struct{}{
	StatusPending:             {},
	StatusWaitingForPayment:   {},
	StatusReadyForExamination: {},
	StatusWaitingForResult:    {},
	StatusFinished:            {},
	StatusRejected:            {},
}

func (s RequestStatus) Valid() bool {
	_, ok := requestStatuses[s]
	return ok
}

// Terminal reports whether no further transition is expected.
func (s RequestStatus) Terminal() bool {
	return s == StatusFinished || s == StatusRejected
}

type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentOnline PaymentType = "online"
	PaymentCredit PaymentType = "credit"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentOnline, PaymentCredit:
		return true
	}
	return false
}

type ClinicRequest struct {
	ID               ID            `json:"id" validate:"required"`
	Status           RequestStatus `json:"status" validate:"required"`
	ClinicReceiverID ID            `json:"clinic_receiver_id"`
	ClinicProviderID ID            `json:"clinic_provider_id"`
	ReceiverClinic   *Organization `json:"receiverClinic,omitempty"`
	ProviderClinic   *Organization `json:"providerClinic,omitempty"`
	PatientID        ID            `json:"patient_id,omitempty"`
	Patient          *Patient      `json:"Patient,omitempty"`
	RequestTypes     RequestTypes  `json:"request_types,omitempty"`
	IsEmergency      bool          `json:"is_emergency"`
	Hospital         string        `json:"hospital,omitempty"`
	AccessionNumber  string        `json:"accession_number,omitempty"`
	ReportFile       string        `json:"report_file,omitempty"`
	Price            Amount        `json:"price"`
	PaymentType      PaymentType   `json:"payment_type,omitempty"`
	AttachmentPath   string        `json:"attachment_path,omitempty"`
	CreatedAt        *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time    `json:"updatedAt,omitempty"`
}

// ReceiverID prefers the embedded clinic over the foreign key column.
func (r *ClinicRequest) ReceiverID() ID {
	if r.ReceiverClinic != nil && !r.ReceiverClinic.ID.IsZero() {
		return r.ReceiverClinic.ID
	}
	return r.ClinicReceiverID
}

func (r *ClinicRequest) ProviderID() ID {
	if r.ProviderClinic != nil && !r.ProviderClinic.ID.IsZero() {
		return r.ProviderClinic.ID
	}
	return r.ClinicProviderID
}

// Involves reports whether org takes part in the request on either side.
func (r *ClinicRequest) Involves(org ID) bool {
	return org != "" && (r.ReceiverID() == org || r.ProviderID() == org)
}

// Role of a viewer relative to a request.
type Role string

const (
	RoleReceiver Role = "receiver"
	RoleProvider Role = "provider"
	RoleNone     Role = "none"
)

func (r *ClinicRequest) RoleOf(org ID) Role {
	switch {
	case org == "":
		return RoleNone
	case r.ReceiverID() == org:
		return RoleReceiver
	case r.ProviderID() == org:
		return RoleProvider
	}
	return RoleNone
}

// Action names a user-triggered lifecycle operation.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionApprove   Action = "approve"
	ActionDecline   Action = "decline"
	ActionAccession Action = "accession"
	ActionPayment   Action = "payment"
	ActionReport    Action = "report"
	ActionDelete    Action = "delete"
)

// RequestView is a request enriched with the viewer's role and the actions
// the UI may enable for it. Gating is advisory; the clinic API decides.
type RequestView struct {
	*ClinicRequest
	ViewerRole     Role     `json:"viewer_role"`
	AllowedActions []Action `json:"allowed_actions"`
}

// RequestInput carries the fields of a create or update submission.
type RequestInput struct {
	ClinicReceiverID ID           `json:"clinic_receiver_id" form:"clinic_receiver_id" binding:"required"`
	ClinicProviderID ID           `json:"clinic_provider_id,omitempty" form:"clinic_provider_id"`
	Patient          Patient      `json:"patient"`
	RequestTypes     RequestTypes `json:"request_types"`
	IsEmergency      bool         `json:"is_emergency" form:"is_emergency"`
	Hospital         string       `json:"hospital,omitempty" form:"hospital"`
	Attachment       *Upload      `json:"-"`
}

// Upload is an in-memory file forwarded to the clinic API.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is the clinic API's answer to POST /uploads.
type UploadResult struct {
	URL      string `json:"url"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Location returns the best reference to the uploaded file.
func (u *UploadResult) Location() string {
	if u.URL != "" {
		return u.URL
	}
	return u.Path
}

// PaymentOutcome tells the caller whether the payment is complete or has to
// continue on an external invoice page.
type PaymentOutcome struct {
	Completed   bool   `json:"completed"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type RequestStats struct {
	TotalRequests           int `json:"totalRequests"`
	TotalRequestsInProgress int `json:"totalRequestsProgress"`
	TotalResults            int `json:"totalResults"`
	ReceiverOrganizations   int `json:"nbClients"`
	ProviderOrganizations   int `json:"nbProviders"`
}

type PatientCheck struct {
	Exists  bool     `json:"exists"`
	Patient *Patient `json:"patient,omitempty"`
}
