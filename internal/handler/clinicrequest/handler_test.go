package clinicrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-requests/internal/clinicapi"
	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/middleware"
	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/coordinator"
	"github.com/jwalitptl/clinic-requests/internal/service/listing"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/internal/storage"
)

const sessionHeader = "X-Session-ID"

// fakeClinic is a minimal clinic API: provider A, receiver B, request 9.
type fakeClinic struct {
	mu           sync.Mutex
	status       string
	calls        []string
	deleteStatus int
}

func (f *fakeClinic) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
}

func (f *fakeClinic) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeClinic) request() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{
		"id":                 9,
		"status":             f.status,
		"clinic_provider_id": "A",
		"clinic_receiver_id": "B",
		"Patient":            map[string]interface{}{"full_name": "Jane Roe", "nationality_id": "N-1"},
		"price":              "120.50",
	}
}

func (f *fakeClinic) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/aws/user-details", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"message": map[string]interface{}{"user": map[string]string{"name": "Dr Who", "type": "doctor"}}})
	})
	mux.HandleFunc("GET /api/clinic-requests/9", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, f.request())
	})
	mux.HandleFunc("GET /api/clinic-requests", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":       []interface{}{f.request()},
			"pagination": map[string]int{"currentPage": 1, "totalPages": 1, "totalCount": 1, "limit": 10},
		})
	})
	mux.HandleFunc("PATCH /api/clinic-requests/9/status", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.status = body["status"]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	mux.HandleFunc("PUT /api/clinic-requests/9/payment", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	mux.HandleFunc("POST /api/payment/send-payment", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]string{"invoiceUrl": "https://pay.example/inv-9"})
	})
	mux.HandleFunc("DELETE /api/clinic-requests/9", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		status := f.deleteStatus
		f.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]string{"message": "request is locked"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})
	mux.HandleFunc("POST /api/clinic-requests", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":                 10,
			"status":             "pending",
			"clinic_provider_id": r.FormValue("clinic_provider_id"),
			"clinic_receiver_id": r.FormValue("clinic_receiver_id"),
		})
	})
	return mux
}

type fixture struct {
	router  *gin.Engine
	clinic  *fakeClinic
	manager *session.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.RegisterValidators()

	clinic := &fakeClinic{status: string(model.StatusPending)}
	upstream := httptest.NewServer(clinic.handler())
	t.Cleanup(upstream.Close)

	client := clinicapi.NewClient(clinicapi.Config{BaseURL: upstream.URL + "/api", Timeout: 5 * time.Second}, nil, nil)
	manager := session.NewManager(storage.NewMemoryStore(time.Hour), client, client,
		session.Options{Listing: listing.Options{Debounce: time.Millisecond}}, nil, nil)
	svc := coordinator.NewService(client, nil, nil, nil)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.Session(manager, middleware.SessionConfig{CookieName: "clinic_session", HeaderName: sessionHeader}))
	gated := api.Group("", middleware.RequireIdentity(handler.DefaultHandshake("/api/v1")))
	NewHandler(svc).RegisterRoutes(gated)

	return &fixture{router: r, clinic: clinic, manager: manager}
}

// resolve creates session id with the given organization as acting org.
func (f *fixture) resolve(t *testing.T, id string, org model.ID) {
	t.Helper()
	sess, _ := f.manager.GetOrCreate(id)
	require.True(t, sess.Offer(context.Background(), model.Candidate{
		Identity: model.Identity{UserID: "U1", OrganizationID: org},
		Source:   model.SourceURL,
	}))
}

func (f *fixture) do(method, path, sessionID string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestUnresolvedSessionAwaitsAuthentication(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/api/v1/requests/9", "", nil, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w)
	assert.Equal(t, "awaiting authentication", env.Message)
	assert.Contains(t, string(env.Data), "awaiting_authentication")
	assert.Contains(t, string(env.Data), "/api/v1/session/message")
	assert.NotEmpty(t, w.Header().Get(sessionHeader))
	assert.False(t, f.clinic.called("GET /api/clinic-requests/9"))
}

func TestGetRequestCarriesRoleAndActions(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-receiver", "B")

	w := f.do(http.MethodGet, "/api/v1/requests/9", "s-receiver", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view struct {
		ID             string   `json:"id"`
		ViewerRole     string   `json:"viewer_role"`
		AllowedActions []string `json:"allowed_actions"`
		Price          float64  `json:"price"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.Equal(t, "9", view.ID)
	assert.Equal(t, "receiver", view.ViewerRole)
	assert.ElementsMatch(t, []string{"approve", "decline"}, view.AllowedActions)
	assert.Equal(t, 120.5, view.Price)
}

func TestApprovePendingRequest(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-receiver", "B")

	w := f.do(http.MethodPost, "/api/v1/requests/9/approve", "s-receiver", nil, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, f.clinic.called("PATCH /api/clinic-requests/9/status"))
	assert.Equal(t, string(model.StatusWaitingForPayment), f.clinic.request()["status"])
}

func TestApproveRefusedOutsidePending(t *testing.T) {
	f := setup(t)
	f.clinic.status = string(model.StatusWaitingForPayment)
	f.resolve(t, "s-receiver", "B")

	w := f.do(http.MethodPost, "/api/v1/requests/9/approve", "s-receiver", nil, "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, f.clinic.called("PATCH /api/clinic-requests/9/status"))
}

func TestPaymentRejectsUnknownType(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodPost, "/api/v1/requests/9/payment", "s-provider",
		strings.NewReader(`{"payment_type":"barter","price":10}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "payment_type")
	assert.False(t, f.clinic.called("PUT /api/clinic-requests/9/payment"))
}

func TestOnlinePaymentReturnsRedirect(t *testing.T) {
	f := setup(t)
	f.clinic.status = string(model.StatusWaitingForPayment)
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodPost, "/api/v1/requests/9/payment", "s-provider",
		strings.NewReader(`{"payment_type":"online","price":120.5}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var outcome model.PaymentOutcome
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &outcome))
	assert.False(t, outcome.Completed)
	assert.Equal(t, "https://pay.example/inv-9", outcome.RedirectURL)
	assert.True(t, f.clinic.called("PUT /api/clinic-requests/9/payment"))
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodGet, "/api/v1/requests?status=lost", "s-provider", nil, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.clinic.called("GET /api/clinic-requests"))
}

func TestListScopedToSessionOrganization(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodGet, "/api/v1/requests?page=1", "s-provider", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var list model.RequestList
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Len(t, list.Data, 1)

	current := f.do(http.MethodGet, "/api/v1/requests/current", "s-provider", nil, "")
	require.Equal(t, http.StatusOK, current.Code)
	assert.Contains(t, current.Body.String(), `"organization_id":"A"`)
}

func TestDeleteSurfacesServerMessage(t *testing.T) {
	f := setup(t)
	f.clinic.deleteStatus = http.StatusForbidden
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodDelete, "/api/v1/requests/9", "s-provider", nil, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "request is locked", decode(t, w).Message)
}

func TestCreateMultipartForcesSessionProvider(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-provider", "A")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("data", `{"clinic_receiver_id":"B","patient":{"full_name":"Jane Roe","nationality_id":"N-1"},"request_types":"[\"CT\"]"}`))
	fw, err := mw.CreateFormFile("attachment", "referral.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())

	w := f.do(http.MethodPost, "/api/v1/requests", "s-provider", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created model.ClinicRequest
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	assert.Equal(t, model.ID("A"), created.ClinicProviderID)
	assert.Equal(t, model.ID("B"), created.ClinicReceiverID)
}

func TestCreateRejectsSameReceiver(t *testing.T) {
	f := setup(t)
	f.resolve(t, "s-provider", "A")

	w := f.do(http.MethodPost, "/api/v1/requests", "s-provider",
		strings.NewReader(`{"clinic_receiver_id":"A","patient":{"full_name":"Jane Roe","nationality_id":"N-1"}}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.clinic.called("POST /api/clinic-requests"))
}
