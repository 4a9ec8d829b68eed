package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// ClinicAPI is the subset of the clinic REST API the coordinator drives.
type ClinicAPI interface {
	GetRequest(ctx context.Context, id model.ID) (*model.ClinicRequest, error)
	Stats(ctx context.Context, orgID model.ID) (*model.RequestStats, error)
	CreateRequest(ctx context.Context, in model.RequestInput) (*model.ClinicRequest, error)
	UpdateRequest(ctx context.Context, id model.ID, in model.RequestInput) (*model.ClinicRequest, error)
	UpdateStatus(ctx context.Context, id model.ID, status model.RequestStatus) error
	RecordPayment(ctx context.Context, id model.ID, paymentType model.PaymentType, price float64) error
	AttachReport(ctx context.Context, id model.ID, reportURL string) error
	DeleteRequest(ctx context.Context, id model.ID) error
	CheckPatient(ctx context.Context, nationalityID string, clinicID model.ID) (*model.PatientCheck, error)
	Upload(ctx context.Context, f model.Upload) (*model.UploadResult, error)
	SendPayment(ctx context.Context, id model.ID) (string, error)
	CreateCaseLink(ctx context.Context, link model.CaseLink) error
	ReportURL(ctx context.Context, requestID model.ID) (string, error)
}

// Hook receives one event per successful mutation. Implementations must not
// block; their failures stay with them.
type Hook interface {
	OnLifecycleEvent(ctx context.Context, ev model.LifecycleEvent)
}

type Service struct {
	api     ClinicAPI
	hooks   []Hook
	locks   *keyedLock
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewService(api ClinicAPI, hooks []Hook, m *metrics.Metrics, log *logger.Logger) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		api:     api,
		hooks:   hooks,
		locks:   newKeyedLock(),
		metrics: m,
		logger:  log.With("coordinator"),
		now:     time.Now,
	}
}

func identity(sess *session.Session) (model.Identity, error) {
	if sess == nil {
		return model.Identity{}, errors.Unauthorized(fmt.Errorf("no session"))
	}
	id, ok := sess.Identity()
	if !ok {
		return model.Identity{}, errors.Unauthorized(fmt.Errorf("awaiting authentication"))
	}
	return id, nil
}

func validID(id model.ID) error {
	if strings.TrimSpace(id.String()) == "" {
		return errors.Validation("request id is required")
	}
	return nil
}

func (s *Service) observe(action model.Action, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, errors.ErrPrecondition) {
			outcome = "rejected"
		}
	}
	s.metrics.Actions.WithLabelValues(string(action), outcome).Inc()
}

// complete runs the post-mutation chain: one event to every hook, then a
// refresh of the session's list view. Neither can fail the mutation.
func (s *Service) complete(ctx context.Context, sess *session.Session, actor model.Identity, ev model.LifecycleEvent) {
	ev.ID = uuid.NewString()
	ev.Actor = actor
	ev.OccurredAt = s.now().UTC()
	if u := sess.UserData(); u != nil {
		ev.ActorName = u.Name()
		ev.ActorType = u.Type()
	}

	for _, h := range s.hooks {
		s.emit(ctx, h, ev)
	}

	if _, err := sess.View.Refresh(ctx, actor.OrganizationID); err != nil {
		s.logger.Warn("failed to refresh request list", "request_id", ev.RequestID.String(), "error", err.Error())
	}
}

func (s *Service) emit(ctx context.Context, h Hook, ev model.LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "lifecycle hook panicked", "event_id", ev.ID)
		}
	}()
	h.OnLifecycleEvent(ctx, ev)
}

// Approve moves a pending request to waiting_for_payment.
func (s *Service) Approve(ctx context.Context, sess *session.Session, id model.ID) error {
	err := s.transition(ctx, sess, id, model.ActionApprove, model.StatusWaitingForPayment)
	s.observe(model.ActionApprove, err)
	return err
}

// Decline moves a pending request to rejected.
func (s *Service) Decline(ctx context.Context, sess *session.Session, id model.ID) error {
	err := s.transition(ctx, sess, id, model.ActionDecline, model.StatusRejected)
	s.observe(model.ActionDecline, err)
	return err
}

func (s *Service) transition(ctx context.Context, sess *session.Session, id model.ID, action model.Action, to model.RequestStatus) error {
	actor, err := identity(sess)
	if err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	if err := requirePending(req, actor.OrganizationID, action); err != nil {
		return err
	}

	if err := s.api.UpdateStatus(ctx, id, to); err != nil {
		return fmt.Errorf("failed to %s request: %w", action, err)
	}

	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    action,
		RequestID:                 id,
		NewStatus:                 to,
		CounterpartOrganizationID: req.ProviderID(),
	})
	return nil
}

// AttachAccessionNumber links the request to a federated case record. The
// record is upserted by request id: resubmitting the number already on the
// request is a no-op, a different number overwrites it.
func (s *Service) AttachAccessionNumber(ctx context.Context, sess *session.Session, id model.ID, accession, patientExternalID string) error {
	err := s.attachAccession(ctx, sess, id, accession, patientExternalID)
	s.observe(model.ActionAccession, err)
	return err
}

func (s *Service) attachAccession(ctx context.Context, sess *session.Session, id model.ID, accession, patientExternalID string) error {
	actor, err := identity(sess)
	if err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}
	accession = strings.TrimSpace(accession)
	if accession == "" {
		return errors.Validation("accession number is required")
	}

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	if req.AccessionNumber == accession {
		s.logger.Debug("accession number already attached", "request_id", id.String())
		return nil
	}

	if err := s.api.CreateCaseLink(ctx, caseLink(req, accession, patientExternalID)); err != nil {
		return fmt.Errorf("failed to attach accession number: %w", err)
	}

	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionAccession,
		RequestID:                 id,
		CounterpartOrganizationID: req.ProviderID(),
	})
	return nil
}

func caseLink(req *model.ClinicRequest, accession, patientExternalID string) model.CaseLink {
	patientID := patientExternalID
	if patientID == "" {
		patientID = req.PatientID.String()
	}
	if patientID == "" && req.Patient != nil {
		patientID = req.Patient.ID.String()
		if patientID == "" {
			patientID = req.Patient.NationalityID
		}
	}
	return model.CaseLink{
		AccessionNumber:           accession,
		PatientID:                 patientID,
		SourceOrganizationID:      req.ProviderID(),
		DestinationOrganizationID: req.ReceiverID(),
		RequestID:                 req.ID,
	}
}

// ProcessPayment records the payment. Online payments are not complete until
// the external invoice is created; the caller must send the user to the
// returned URL.
func (s *Service) ProcessPayment(ctx context.Context, sess *session.Session, id model.ID, paymentType model.PaymentType, price float64) (*model.PaymentOutcome, error) {
	out, err := s.processPayment(ctx, sess, id, paymentType, price)
	s.observe(model.ActionPayment, err)
	return out, err
}

func (s *Service) processPayment(ctx context.Context, sess *session.Session, id model.ID, paymentType model.PaymentType, price float64) (*model.PaymentOutcome, error) {
	actor, err := identity(sess)
	if err != nil {
		return nil, err
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	if !paymentType.Valid() {
		return nil, errors.Validation(fmt.Sprintf("unsupported payment type %q", paymentType))
	}
	if price < 0 {
		return nil, errors.Validation("price must not be negative")
	}

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	if err := s.api.RecordPayment(ctx, id, paymentType, price); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionPayment,
		RequestID:                 id,
		PaymentType:               paymentType,
		CounterpartOrganizationID: req.ReceiverID(),
	})

	if paymentType != model.PaymentOnline {
		return &model.PaymentOutcome{Completed: true}, nil
	}

	redirect, err := s.api.SendPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment invoice: %w", err)
	}
	if redirect == "" {
		return nil, errors.Decode("send_payment", fmt.Errorf("empty invoice url"))
	}
	return &model.PaymentOutcome{Completed: false, RedirectURL: redirect}, nil
}

// UploadReport runs the three report steps in order: ensure the case link,
// move to waiting_for_result, attach the report. Calls for the same request
// are serialized so their steps never interleave. The first failing step
// ends the sequence.
func (s *Service) UploadReport(ctx context.Context, sess *session.Session, id model.ID, reportURL string) error {
	err := s.uploadReport(ctx, sess, id, reportURL)
	s.observe(model.ActionReport, err)
	return err
}

func (s *Service) uploadReport(ctx context.Context, sess *session.Session, id model.ID, reportURL string) error {
	actor, err := identity(sess)
	if err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}
	if strings.TrimSpace(reportURL) == "" {
		return errors.Validation("report file is required")
	}

	unlock, err := s.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	// The case record is keyed by request id on the remote side, so posting
	// again for a request whose accession was not echoed back replaces it.
	if req.AccessionNumber == "" {
		if err := s.api.CreateCaseLink(ctx, caseLink(req, defaultAccession(req), "")); err != nil {
			return fmt.Errorf("failed to create case link: %w", err)
		}
	}
	if err := s.api.UpdateStatus(ctx, id, model.StatusWaitingForResult); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if err := s.api.AttachReport(ctx, id, reportURL); err != nil {
		return fmt.Errorf("failed to attach report: %w", err)
	}

	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionReport,
		RequestID:                 id,
		NewStatus:                 model.StatusWaitingForResult,
		CounterpartOrganizationID: req.ProviderID(),
	})
	return nil
}

// defaultAccession names the case record of a request that never had an
// accession number attached.
func defaultAccession(req *model.ClinicRequest) string {
	return "REQ-" + req.ID.String()
}

// UploadReportFile uploads the file and then runs UploadReport with its location.
func (s *Service) UploadReportFile(ctx context.Context, sess *session.Session, id model.ID, file model.Upload) error {
	if _, err := identity(sess); err != nil {
		return err
	}
	if len(file.Data) == 0 {
		return errors.Validation("report file is empty")
	}
	res, err := s.api.Upload(ctx, file)
	if err != nil {
		s.observe(model.ActionReport, err)
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return s.UploadReport(ctx, sess, id, res.Location())
}

// DeleteRequest reads the request first to learn its receiver, so the
// notification can still be addressed after the delete. A failed read means
// no delete is attempted.
func (s *Service) DeleteRequest(ctx context.Context, sess *session.Session, id model.ID) error {
	err := s.deleteRequest(ctx, sess, id)
	s.observe(model.ActionDelete, err)
	return err
}

func (s *Service) deleteRequest(ctx context.Context, sess *session.Session, id model.ID) error {
	actor, err := identity(sess)
	if err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}

	req, err := s.api.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read request before delete: %w", err)
	}
	if err := s.api.DeleteRequest(ctx, id); err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}

	s.complete(ctx, sess, actor, model.LifecycleEvent{
		Action:                    model.ActionDelete,
		RequestID:                 id,
		CounterpartOrganizationID: req.ReceiverID(),
	})
	return nil
}
