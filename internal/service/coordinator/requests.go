package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/listing"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

func validateInput(in *model.RequestInput) error {
	if in.ClinicReceiverID.IsZero() {
		return errors.Validation("clinic_receiver_id is required")
	}
	if in.ClinicReceiverID == in.ClinicProviderID {
		return errors.Validation("receiver and provider clinics must differ")
	}
	if strings.TrimSpace(in.Patient.FullName) == "" {
		return errors.Validation("patient full_name is required")
	}
	if strings.TrimSpace(in.Patient.NationalityID) == "" {
		return errors.Validation("patient nationality_id is required")
	}
	return nil
}

// CreateRequest submits a new request on behalf of the session organization,
// which always acts as provider.
func (s *Service) CreateRequest(ctx context.Context, sess *session.Session, in model.RequestInput) (*model.ClinicRequest, error) {
	req, err := s.createRequest(ctx, sess, in)
	s.observe(model.ActionCreate, err)
	return req, err
}

func (s *Service) createRequest(ctx context.Context, sess *session.Session, in model.RequestInput) (*model.ClinicRequest, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	if !in.ClinicProviderID.IsZero() && in.ClinicProviderID != actor.OrganizationID {
		return nil, errors.Validation("clinic_provider_id must be the session organization")
	}
	in.ClinicProviderID = actor.OrganizationID
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	created, err := s.api.CreateRequest(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	status := created.Status
	if status == "" {
		status = model.StatusPending
	}
	receiver := created.ReceiverID()
	if receiver.IsZero() {
		receiver = in.ClinicReceiverID
	}
	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionCreate,
		RequestID:                 created.ID,
		NewStatus:                 status,
		CounterpartOrganizationID: receiver,
	})
	return created, nil
}

func (s *Service) UpdateRequest(ctx context.Context, sess *session.Session, id model.ID, in model.RequestInput) (*model.ClinicRequest, error) {
	req, err := s.updateRequest(ctx, sess, id, in)
	s.observe(model.ActionUpdate, err)
	return req, err
}

func (s *Service) updateRequest(ctx context.Context, sess *session.Session, id model.ID, in model.RequestInput) (*model.ClinicRequest, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	if in.ClinicProviderID.IsZero() {
		in.ClinicProviderID = actor.OrganizationID
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if in.ClinicReceiverID != actor.OrganizationID && in.ClinicProviderID != actor.OrganizationID {
		return nil, errors.Validation("request must involve the session organization")
	}

	updated, err := s.api.UpdateRequest(ctx, id, in)
	if err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	counterpart := in.ClinicReceiverID
	if counterpart == actor.OrganizationID {
		counterpart = in.ClinicProviderID
	}
	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionUpdate,
		RequestID:                 id,
		CounterpartOrganizationID: counterpart,
	})
	return updated, nil
}

// GetRequest returns the request with the viewer's role and the actions the
// UI may enable. Requests outside the session organization read as not found.
func (s *Service) GetRequest(ctx context.Context, sess *session.Session, id model.ID) (*model.RequestView, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	if err := validID(id); err != nil {
		return nil, err
	}

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if !req.Involves(actor.OrganizationID) {
		return nil, errors.NotFound("request", nil)
	}
	return &model.RequestView{
		ClinicRequest:  req,
		ViewerRole:     req.RoleOf(actor.OrganizationID),
		AllowedActions: AllowedActions(req, actor.OrganizationID),
	}, nil
}

// ListRequests runs a scoped, debounced query on the session's list view.
func (s *Service) ListRequests(ctx context.Context, sess *session.Session, q model.ListQuery) (*model.RequestList, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	return sess.View.Query(ctx, actor.OrganizationID, q)
}

// CurrentList returns the last committed list of the session.
func (s *Service) CurrentList(sess *session.Session) (*listing.Snapshot, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	return sess.View.Snapshot(actor.OrganizationID), nil
}

func (s *Service) Stats(ctx context.Context, sess *session.Session) (*model.RequestStats, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	stats, err := s.api.Stats(ctx, actor.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// CheckPatient needs both the nationality id and the clinic.
func (s *Service) CheckPatient(ctx context.Context, sess *session.Session, nationalityID string, clinicID model.ID) (*model.PatientCheck, error) {
	if _, err := identity(sess); err != nil {
		return nil, err
	}
	nationalityID = strings.TrimSpace(nationalityID)
	if nationalityID == "" || clinicID.IsZero() {
		return nil, errors.Validation("nationality id and clinic are both required")
	}
	check, err := s.api.CheckPatient(ctx, nationalityID, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to check patient: %w", err)
	}
	return check, nil
}

func (s *Service) ReportURL(ctx context.Context, sess *session.Session, id model.ID) (string, error) {
	if _, err := identity(sess); err != nil {
		return "", err
	}
	if err := validID(id); err != nil {
		return "", err
	}
	u, err := s.api.ReportURL(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve report url: %w", err)
	}
	return u, nil
}
