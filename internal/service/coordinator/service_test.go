package coordinator

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/notification"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

func TestApprovePendingNotifiesProvider(t *testing.T) {
	ctx := context.Background()
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	api.On("UpdateStatus", mock.Anything, model.ID("1"), model.StatusWaitingForPayment).Return(nil).Once()

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)

	require.NoError(t, svc.Approve(ctx, newSession(t, api, "B"), "1"))

	events := hook.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionApprove, events[0].Action)
	assert.Equal(t, model.StatusWaitingForPayment, events[0].NewStatus)
	assert.Equal(t, model.ID("A"), events[0].CounterpartOrganizationID)
	assert.Equal(t, model.ID("B"), events[0].Actor.OrganizationID)
	assert.NotEmpty(t, events[0].ID)
	api.AssertExpectations(t)
}

func TestApproveAndDeclineAreNoOpsUnlessPending(t *testing.T) {
	ctx := context.Background()
	for _, status := range []model.RequestStatus{
		model.StatusWaitingForPayment,
		model.StatusReadyForExamination,
		model.StatusWaitingForResult,
		model.StatusFinished,
		model.StatusRejected,
	} {
		req := pendingRequest("1")
		req.Status = status

		api := &mockClinicAPI{}
		api.On("GetRequest", mock.Anything, model.ID("1")).Return(req, nil)
		hook := &recordingHook{}
		svc := NewService(api, []Hook{hook}, nil, nil)
		sess := newSession(t, api, "B")

		assert.True(t, errors.Is(svc.Approve(ctx, sess, "1"), errors.ErrPrecondition), status)
		assert.True(t, errors.Is(svc.Decline(ctx, sess, "1"), errors.ErrPrecondition), status)
		api.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, hook.all())
	}
}

func TestProviderCannotApprove(t *testing.T) {
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	svc := NewService(api, nil, nil, nil)

	err := svc.Approve(context.Background(), newSession(t, api, "A"), "1")
	assert.True(t, errors.Is(err, errors.ErrPrecondition))
	api.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnresolvedSessionIssuesNoCalls(t *testing.T) {
	api := &mockClinicAPI{}
	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "")

	assert.True(t, errors.Is(svc.Approve(context.Background(), sess, "1"), errors.ErrUnauthorized))
	_, err := svc.ListRequests(context.Background(), sess, model.ListQuery{})
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	api.AssertNotCalled(t, "GetRequest", mock.Anything, mock.Anything)
	api.AssertNotCalled(t, "ListRequests", mock.Anything, mock.Anything)
}

func TestUploadReportStepOrder(t *testing.T) {
	var mu sync.Mutex
	var steps []string
	step := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			steps = append(steps, name)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}
	}

	req := pendingRequest("7")
	req.Status = model.StatusReadyForExamination

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(req, nil)
	api.On("CreateCaseLink", mock.Anything, mock.MatchedBy(func(l model.CaseLink) bool {
		return l.RequestID == "7" && l.SourceOrganizationID == "A" && l.DestinationOrganizationID == "B"
	})).Run(step("case")).Return(nil)
	api.On("UpdateStatus", mock.Anything, model.ID("7"), model.StatusWaitingForResult).Run(step("status")).Return(nil)
	api.On("AttachReport", mock.Anything, model.ID("7"), mock.Anything).Run(step("report")).Return(nil)

	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "B")

	var wg sync.WaitGroup
	for _, u := range []string{"https://files/r1.pdf", "https://files/r2.pdf", "https://files/r3.pdf"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, svc.UploadReport(context.Background(), sess, "7", u))
		}(u)
	}
	wg.Wait()

	require.Len(t, steps, 9)
	for i := 0; i < len(steps); i += 3 {
		assert.Equal(t, []string{"case", "status", "report"}, steps[i:i+3])
	}
}

func TestUploadReportSkipsCaseLinkWhenAccessionPresent(t *testing.T) {
	req := pendingRequest("7")
	req.Status = model.StatusReadyForExamination
	req.AccessionNumber = "ACC-1"

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(req, nil)
	api.On("UpdateStatus", mock.Anything, model.ID("7"), model.StatusWaitingForResult).Return(nil)
	api.On("AttachReport", mock.Anything, model.ID("7"), "https://files/r.pdf").Return(nil)

	svc := NewService(api, nil, nil, nil)
	require.NoError(t, svc.UploadReport(context.Background(), newSession(t, api, "B"), "7", "https://files/r.pdf"))
	api.AssertNotCalled(t, "CreateCaseLink", mock.Anything, mock.Anything)
}

func TestUploadReportCaseLinkCreatedOnceAccessionIsEchoed(t *testing.T) {
	first := pendingRequest("7")
	first.Status = model.StatusReadyForExamination
	second := pendingRequest("7")
	second.Status = model.StatusWaitingForResult
	second.AccessionNumber = "REQ-7"

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(first, nil).Once()
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(second, nil).Once()
	api.On("CreateCaseLink", mock.Anything, mock.MatchedBy(func(l model.CaseLink) bool {
		return l.RequestID == "7" && l.AccessionNumber == "REQ-7"
	})).Return(nil).Once()
	api.On("UpdateStatus", mock.Anything, model.ID("7"), model.StatusWaitingForResult).Return(nil)
	api.On("AttachReport", mock.Anything, model.ID("7"), mock.Anything).Return(nil)

	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "B")

	require.NoError(t, svc.UploadReport(context.Background(), sess, "7", "https://files/r1.pdf"))
	require.NoError(t, svc.UploadReport(context.Background(), sess, "7", "https://files/r2.pdf"))
	api.AssertNumberOfCalls(t, "CreateCaseLink", 1)
}

func TestUploadReportStopsAtFirstFailure(t *testing.T) {
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(pendingRequest("7"), nil)
	api.On("CreateCaseLink", mock.Anything, mock.Anything).Return(nil)
	api.On("UpdateStatus", mock.Anything, model.ID("7"), model.StatusWaitingForResult).
		Return(errors.Upstream(422, "invalid transition"))

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)

	err := svc.UploadReport(context.Background(), newSession(t, api, "B"), "7", "https://files/r.pdf")
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "invalid transition", appErr.Message)
	api.AssertNotCalled(t, "AttachReport", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, hook.all())
}

func TestUploadReportFileUploadsFirst(t *testing.T) {
	req := pendingRequest("7")
	req.AccessionNumber = "ACC-1"

	api := &mockClinicAPI{}
	api.On("Upload", mock.Anything, mock.Anything).Return(&model.UploadResult{URL: "https://files/up.pdf"}, nil)
	api.On("GetRequest", mock.Anything, model.ID("7")).Return(req, nil)
	api.On("UpdateStatus", mock.Anything, model.ID("7"), model.StatusWaitingForResult).Return(nil)
	api.On("AttachReport", mock.Anything, model.ID("7"), "https://files/up.pdf").Return(nil)

	svc := NewService(api, nil, nil, nil)
	err := svc.UploadReportFile(context.Background(), newSession(t, api, "B"), "7",
		model.Upload{Filename: "r.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestDeletePreReadFailurePreventsDelete(t *testing.T) {
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("3")).Return(nil, errors.Transport("get_request", stderrors.New("reset")))

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)

	err := svc.DeleteRequest(context.Background(), newSession(t, api, "A"), "3")
	assert.True(t, errors.Is(err, errors.ErrTransport))
	api.AssertNotCalled(t, "DeleteRequest", mock.Anything, mock.Anything)
	assert.Empty(t, hook.all())
}

func TestDeleteNotifiesReceiverFromPreRead(t *testing.T) {
	var order []string
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("3")).Run(func(mock.Arguments) { order = append(order, "read") }).
		Return(pendingRequest("3"), nil)
	api.On("DeleteRequest", mock.Anything, model.ID("3")).Run(func(mock.Arguments) { order = append(order, "delete") }).
		Return(nil)

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)

	require.NoError(t, svc.DeleteRequest(context.Background(), newSession(t, api, "A"), "3"))
	assert.Equal(t, []string{"read", "delete"}, order)
	require.Len(t, hook.all(), 1)
	assert.Equal(t, model.ID("B"), hook.all()[0].CounterpartOrganizationID)
}

type panickingHook struct{}

func (panickingHook) OnLifecycleEvent(context.Context, model.LifecycleEvent) { panic("hook exploded") }

type failingSender struct{}

func (failingSender) PushNotification(context.Context, model.PushNotification) error {
	return stderrors.New("push endpoint down")
}

func TestNotificationFailureNeverFailsMutations(t *testing.T) {
	ctx := context.Background()
	results := make(chan notification.Result, 16)
	d := notification.NewDispatcher(failingSender{}, notification.Options{
		Workers:  1,
		OnResult: func(r notification.Result) { results <- r },
	}, nil, nil)
	d.Start()
	defer d.Stop(ctx)

	ready := pendingRequest("1")
	ready.Status = model.StatusReadyForExamination
	ready.AccessionNumber = "ACC"

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	api.On("GetRequest", mock.Anything, model.ID("2")).Return(ready, nil)
	api.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	api.On("RecordPayment", mock.Anything, model.ID("1"), model.PaymentCash, 100.0).Return(nil)
	api.On("AttachReport", mock.Anything, model.ID("2"), mock.Anything).Return(nil)
	api.On("DeleteRequest", mock.Anything, model.ID("1")).Return(nil)

	svc := NewService(api, []Hook{panickingHook{}, d}, nil, nil)
	receiver := newSession(t, api, "B")
	provider := newSession(t, api, "A")

	assert.NoError(t, svc.Approve(ctx, receiver, "1"))
	assert.NoError(t, svc.Decline(ctx, receiver, "1"))
	_, err := svc.ProcessPayment(ctx, provider, "1", model.PaymentCash, 100)
	assert.NoError(t, err)
	assert.NoError(t, svc.UploadReport(ctx, receiver, "2", "https://files/r.pdf"))
	assert.NoError(t, svc.DeleteRequest(ctx, provider, "1"))

	for i := 0; i < 5; i++ {
		select {
		case r := <-results:
			assert.NotEqual(t, model.OutcomeDelivered, r.Outcome)
		case <-time.After(2 * time.Second):
			t.Fatal("missing notification result")
		}
	}
}

func TestCashPaymentCompletesWithoutRedirect(t *testing.T) {
	req := pendingRequest("1")
	req.Status = model.StatusWaitingForPayment

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(req, nil)
	api.On("RecordPayment", mock.Anything, model.ID("1"), model.PaymentCash, 100.0).Return(nil)

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)

	out, err := svc.ProcessPayment(context.Background(), newSession(t, api, "A"), "1", model.PaymentCash, 100)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Empty(t, out.RedirectURL)
	api.AssertNotCalled(t, "SendPayment", mock.Anything, mock.Anything)
	require.Len(t, hook.all(), 1)
	assert.Equal(t, model.ID("B"), hook.all()[0].CounterpartOrganizationID)
}

func TestOnlinePaymentYieldsRedirect(t *testing.T) {
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	api.On("RecordPayment", mock.Anything, model.ID("1"), model.PaymentOnline, 250.0).Return(nil)
	api.On("SendPayment", mock.Anything, model.ID("1")).Return("https://pay.example/inv/1", nil)

	svc := NewService(api, nil, nil, nil)

	out, err := svc.ProcessPayment(context.Background(), newSession(t, api, "A"), "1", model.PaymentOnline, 250)
	require.NoError(t, err)
	assert.False(t, out.Completed)
	assert.Equal(t, "https://pay.example/inv/1", out.RedirectURL)
}

func TestPaymentValidation(t *testing.T) {
	api := &mockClinicAPI{}
	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "A")

	_, err := svc.ProcessPayment(context.Background(), sess, "1", "barter", 10)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = svc.ProcessPayment(context.Background(), sess, "1", model.PaymentCash, -1)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	api.AssertNotCalled(t, "RecordPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAttachAccessionUpsertsByRequestID(t *testing.T) {
	req := pendingRequest("4")
	req.Status = model.StatusReadyForExamination
	req.AccessionNumber = "ACC-1"

	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("4")).Return(req, nil)
	api.On("CreateCaseLink", mock.Anything, model.CaseLink{
		AccessionNumber:           "ACC-2",
		PatientID:                 "P-9",
		SourceOrganizationID:      "A",
		DestinationOrganizationID: "B",
		RequestID:                 "4",
	}).Return(nil).Once()

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)
	sess := newSession(t, api, "B")

	require.NoError(t, svc.AttachAccessionNumber(context.Background(), sess, "4", "ACC-1", "P-9"))
	assert.Empty(t, hook.all())

	require.NoError(t, svc.AttachAccessionNumber(context.Background(), sess, "4", "ACC-2", "P-9"))
	require.Len(t, hook.all(), 1)
	assert.Equal(t, model.ID("A"), hook.all()[0].CounterpartOrganizationID)
	api.AssertExpectations(t)
}

func TestCreateRequestScopesProvider(t *testing.T) {
	in := model.RequestInput{
		ClinicReceiverID: "B",
		Patient:          model.Patient{FullName: "Jane Roe", NationalityID: "N-1"},
		RequestTypes:     model.RequestTypes{"CT"},
	}

	api := &mockClinicAPI{}
	api.On("CreateRequest", mock.Anything, mock.MatchedBy(func(in model.RequestInput) bool {
		return in.ClinicProviderID == "A" && in.ClinicReceiverID == "B"
	})).Return(&model.ClinicRequest{ID: "11", Status: model.StatusPending, ClinicProviderID: "A", ClinicReceiverID: "B"}, nil)

	hook := &recordingHook{}
	svc := NewService(api, []Hook{hook}, nil, nil)
	sess := newSession(t, api, "A")

	created, err := svc.CreateRequest(context.Background(), sess, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, created.Status)
	require.Len(t, hook.all(), 1)
	assert.Equal(t, model.ID("B"), hook.all()[0].CounterpartOrganizationID)

	in.ClinicReceiverID = "A"
	_, err = svc.CreateRequest(context.Background(), sess, in)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	in.ClinicReceiverID = "B"
	in.ClinicProviderID = "Z"
	_, err = svc.CreateRequest(context.Background(), sess, in)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestGetRequestHidesOtherTenants(t *testing.T) {
	api := &mockClinicAPI{}
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	svc := NewService(api, nil, nil, nil)

	_, err := svc.GetRequest(context.Background(), newSession(t, api, "C"), "1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	view, err := svc.GetRequest(context.Background(), newSession(t, api, "B"), "1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleReceiver, view.ViewerRole)
	assert.Equal(t, []model.Action{model.ActionApprove, model.ActionDecline}, view.AllowedActions)
}

func TestMutationRefreshesListView(t *testing.T) {
	ctx := context.Background()
	api := &mockClinicAPI{}
	api.On("ListRequests", mock.Anything, mock.Anything).Return(&model.RequestList{Data: []model.ClinicRequest{*pendingRequest("1")}}, nil)
	api.On("GetRequest", mock.Anything, model.ID("1")).Return(pendingRequest("1"), nil)
	api.On("UpdateStatus", mock.Anything, model.ID("1"), model.StatusRejected).Return(nil)

	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "B")

	_, err := svc.ListRequests(ctx, sess, model.ListQuery{})
	require.NoError(t, err)
	require.NoError(t, svc.Decline(ctx, sess, "1"))

	api.AssertNumberOfCalls(t, "ListRequests", 2)
}

func TestIdentityChangeDropsPreviousOrganizationList(t *testing.T) {
	ctx := context.Background()
	other := pendingRequest("2")
	other.ClinicReceiverID = "C"
	other.ReceiverClinic = &model.Organization{ID: "C", Name: "Other"}

	api := &mockClinicAPI{}
	api.On("ListRequests", mock.Anything, mock.Anything).Return(&model.RequestList{Data: []model.ClinicRequest{*pendingRequest("1")}}, nil)
	api.On("GetRequest", mock.Anything, model.ID("2")).Return(other, nil)
	api.On("UpdateStatus", mock.Anything, model.ID("2"), model.StatusRejected).Return(nil)

	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "B")

	_, err := svc.ListRequests(ctx, sess, model.ListQuery{})
	require.NoError(t, err)
	snap, err := svc.CurrentList(sess)
	require.NoError(t, err)
	require.NotNil(t, snap)

	require.True(t, sess.Offer(ctx, model.Candidate{
		Identity: model.Identity{UserID: "U-C", OrganizationID: "C"},
		Source:   model.SourceMessage,
	}))

	snap, err = svc.CurrentList(sess)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, svc.Decline(ctx, sess, "2"))
	api.AssertNumberOfCalls(t, "ListRequests", 1)
}

func TestCheckPatientNeedsBothFields(t *testing.T) {
	api := &mockClinicAPI{}
	svc := NewService(api, nil, nil, nil)
	sess := newSession(t, api, "A")

	_, err := svc.CheckPatient(context.Background(), sess, "N-1", "")
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = svc.CheckPatient(context.Background(), sess, " ", "B")
	assert.True(t, errors.Is(err, errors.ErrValidation))
	api.AssertNotCalled(t, "CheckPatient", mock.Anything, mock.Anything, mock.Anything)
}
