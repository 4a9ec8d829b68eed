package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/internal/storage"
)

type mockClinicAPI struct {
	mock.Mock
}

func (m *mockClinicAPI) ListRequests(ctx context.Context, q model.ListQuery) (*model.RequestList, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.(*model.RequestList), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) GetRequest(ctx context.Context, id model.ID) (*model.ClinicRequest, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*model.ClinicRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) Stats(ctx context.Context, orgID model.ID) (*model.RequestStats, error) {
	args := m.Called(ctx, orgID)
	if v := args.Get(0); v != nil {
		return v.(*model.RequestStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) CreateRequest(ctx context.Context, in model.RequestInput) (*model.ClinicRequest, error) {
	args := m.Called(ctx, in)
	if v := args.Get(0); v != nil {
		return v.(*model.ClinicRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) UpdateRequest(ctx context.Context, id model.ID, in model.RequestInput) (*model.ClinicRequest, error) {
	args := m.Called(ctx, id, in)
	if v := args.Get(0); v != nil {
		return v.(*model.ClinicRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) UpdateStatus(ctx context.Context, id model.ID, status model.RequestStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockClinicAPI) RecordPayment(ctx context.Context, id model.ID, paymentType model.PaymentType, price float64) error {
	return m.Called(ctx, id, paymentType, price).Error(0)
}

func (m *mockClinicAPI) AttachReport(ctx context.Context, id model.ID, reportURL string) error {
	return m.Called(ctx, id, reportURL).Error(0)
}

func (m *mockClinicAPI) DeleteRequest(ctx context.Context, id model.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockClinicAPI) CheckPatient(ctx context.Context, nationalityID string, clinicID model.ID) (*model.PatientCheck, error) {
	args := m.Called(ctx, nationalityID, clinicID)
	if v := args.Get(0); v != nil {
		return v.(*model.PatientCheck), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) Upload(ctx context.Context, f model.Upload) (*model.UploadResult, error) {
	args := m.Called(ctx, f)
	if v := args.Get(0); v != nil {
		return v.(*model.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClinicAPI) SendPayment(ctx context.Context, id model.ID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockClinicAPI) CreateCaseLink(ctx context.Context, link model.CaseLink) error {
	return m.Called(ctx, link).Error(0)
}

func (m *mockClinicAPI) ReportURL(ctx context.Context, requestID model.ID) (string, error) {
	args := m.Called(ctx, requestID)
	return args.String(0), args.Error(1)
}

type recordingHook struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (h *recordingHook) OnLifecycleEvent(_ context.Context, ev model.LifecycleEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHook) all() []model.LifecycleEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.LifecycleEvent(nil), h.events...)
}

// newSession returns a session resolved to (U-<org>, org).
func newSession(t *testing.T, api *mockClinicAPI, org model.ID) *session.Session {
	t.Helper()
	m := session.NewManager(storage.NewMemoryStore(time.Minute), nil, api, session.Options{}, nil, nil)
	sess, _ := m.GetOrCreate("")
	if org != "" {
		require.True(t, sess.Offer(context.Background(), model.Candidate{
			Identity: model.Identity{UserID: "U-" + org, OrganizationID: org},
			Source:   model.SourceURL,
		}))
	}
	return sess
}

func pendingRequest(id model.ID) *model.ClinicRequest {
	return &model.ClinicRequest{
		ID:               id,
		Status:           model.StatusPending,
		ClinicProviderID: "A",
		ClinicReceiverID: "B",
		ProviderClinic:   &model.Organization{ID: "A", Name: "Provider"},
		ReceiverClinic:   &model.Organization{ID: "B", Name: "Receiver"},
		Patient:          &model.Patient{FullName: "Jane Roe", NationalityID: "N-1"},
	}
}
