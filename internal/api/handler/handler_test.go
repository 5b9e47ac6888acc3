package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/api/handler"
	mw "github.com/kiranshivaraju/carinspect/internal/api/middleware"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/jobs"
	"github.com/kiranshivaraju/carinspect/internal/queue"
	"github.com/kiranshivaraju/carinspect/internal/report"
	"github.com/kiranshivaraju/carinspect/internal/store/storetest"
	"github.com/kiranshivaraju/carinspect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (q *fakeQueue) Enqueue(_ context.Context, msg queue.Message, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

type testServer struct {
	st      *storetest.Store
	q       *fakeQueue
	jobs    *jobs.Service
	reports *report.Service
	router  http.Handler
	owner   uuid.UUID
}

// newServer routes the handlers the way the API router does, with a fake auth step
// driven by the X-User and X-Admin headers.
func newServer(t *testing.T) *testServer {
	t.Helper()
	st := storetest.New()
	q := &fakeQueue{}
	js := jobs.NewService(st, q, nil, jobs.Config{MaxRetries: 3})
	coord := carlock.NewCoordinator(st, js)
	reports := report.NewService(st)

	cars := handler.NewCarHandler(coord, reports)
	jh := handler.NewJobHandler(js, coord, coord)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id, err := uuid.Parse(r.Header.Get("X-User")); err == nil {
				ctx = mw.SetUserID(ctx, id)
			}
			if r.Header.Get("X-Admin") == "true" {
				ctx = mw.SetScopes(ctx, []string{models.ScopeAdmin})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Post("/cars", cars.Create)
	r.Get("/cars/{carID}", cars.Get)
	r.Patch("/cars/{carID}", cars.Update)
	r.Post("/cars/{carID}/media", cars.AttachMedia)
	r.Delete("/cars/{carID}/media/{mediaID}", cars.DetachMedia)
	r.Get("/cars/{carID}/media/validation", cars.ValidateMedia)
	r.Get("/cars/{carID}/summary", cars.Summary)
	r.Post("/cars/{carID}/status", cars.Transition)
	r.Post("/cars/{carID}/submit", cars.Submit)
	r.Get("/cars/{carID}/report", cars.Report)
	r.Get("/cars/{carID}/jobs", jh.ListByCar)
	r.Get("/jobs/{jobID}", jh.Get)
	r.Get("/jobs/{jobID}/status", jh.Status)
	r.Post("/jobs/{jobID}/retry", jh.Retry)
	r.Post("/jobs/{jobID}/cancel", jh.Cancel)

	return &testServer{st: st, q: q, jobs: js, reports: reports, router: r, owner: uuid.New()}
}

type result struct {
	code int
	body map[string]any
}

func (s *testServer) do(t *testing.T, method, path string, body any, user uuid.UUID, admin bool) result {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != uuid.Nil {
		req.Header.Set("X-User", user.String())
	}
	if admin {
		req.Header.Set("X-Admin", "true")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	res := result{code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res.body))
	}
	return res
}

func (s *testServer) as(t *testing.T, method, path string, body any) result {
	t.Helper()
	return s.do(t, method, path, body, s.owner, false)
}

func (r result) data() map[string]any {
	d, _ := r.body["data"].(map[string]any)
	return d
}

func (r result) errCode() string {
	e, _ := r.body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (s *testServer) createCar(t *testing.T) string {
	t.Helper()
	res := s.as(t, "POST", "/cars", map[string]any{"make": "Honda", "model": "Civic", "year": 2019})
	require.Equal(t, http.StatusCreated, res.code)
	return res.data()["id"].(string)
}

func (s *testServer) addPhotos(t *testing.T, carID string, types ...string) {
	t.Helper()
	for _, pt := range types {
		res := s.as(t, "POST", "/cars/"+carID+"/media", map[string]any{
			"type": "photo", "photo_type": pt, "storage_url": "https://cdn.example.com/" + pt + ".jpg",
		})
		require.Equal(t, http.StatusCreated, res.code, res.body)
	}
}

func (s *testServer) submit(t *testing.T, carID string) string {
	t.Helper()
	res := s.as(t, "POST", "/cars/"+carID+"/submit", nil)
	require.Equal(t, http.StatusCreated, res.code, res.body)
	return res.data()["id"].(string)
}

// ─── cars ────────────────────────────────────────────────────────────────────

func TestCreateCar(t *testing.T) {
	s := newServer(t)

	res := s.as(t, "POST", "/cars", map[string]any{"make": "Honda", "model": "Civic", "year": 2019, "mileage": 42000})
	require.Equal(t, http.StatusCreated, res.code)
	assert.Equal(t, "draft", res.data()["status"])
	assert.Equal(t, s.owner.String(), res.data()["user_id"])

	res = s.as(t, "POST", "/cars", map[string]any{"make": "", "model": "Civic", "year": 2019})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "VALIDATION_ERROR", res.errCode())
}

func TestCreateCar_InvalidJSON(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest("POST", "/cars", bytes.NewBufferString("{"))
	req.Header.Set("X-User", s.owner.String())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCar_Unauthenticated(t *testing.T) {
	s := newServer(t)
	res := s.do(t, "POST", "/cars", map[string]any{"make": "Honda"}, uuid.Nil, false)
	assert.Equal(t, http.StatusUnauthorized, res.code)
}

func TestGetCar_Access(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	assert.Equal(t, http.StatusOK, s.as(t, "GET", "/cars/"+carID, nil).code)

	res := s.do(t, "GET", "/cars/"+carID, nil, uuid.New(), false)
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Equal(t, "FORBIDDEN", res.errCode())

	assert.Equal(t, http.StatusOK, s.do(t, "GET", "/cars/"+carID, nil, uuid.New(), true).code)

	res = s.as(t, "GET", "/cars/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", res.errCode())

	res = s.as(t, "GET", "/cars/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "INVALID_ID", res.errCode())
}

func TestMediaValidation(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "GET", "/cars/"+carID+"/media/validation", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, false, res.data()["is_valid"])
	assert.Equal(t, float64(0), res.data()["completion_percentage"])

	s.addPhotos(t, carID, "front", "rear")
	res = s.as(t, "GET", "/cars/"+carID+"/media/validation", nil)
	assert.Equal(t, true, res.data()["is_valid"])
	assert.Equal(t, float64(29), res.data()["completion_percentage"])
	assert.ElementsMatch(t, []any{"left", "right", "interior", "engineBay"}, res.data()["missing_photo_types"])

	res = s.as(t, "GET", "/cars/"+carID, nil)
	assert.Equal(t, "media_uploaded", res.data()["status"])
}

func TestAttachMedia_Validation(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "POST", "/cars/"+carID+"/media", map[string]any{"type": "photo", "photo_type": "roof", "file_name": "a.jpg"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "VALIDATION_ERROR", res.errCode())
}

func TestDetachMedia(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	res := s.as(t, "POST", "/cars/"+carID+"/media", map[string]any{"type": "video", "file_name": "engine.mp4"})
	require.Equal(t, http.StatusCreated, res.code)
	mediaID := res.data()["id"].(string)

	res = s.as(t, "DELETE", "/cars/"+carID+"/media/"+mediaID, nil)
	assert.Equal(t, http.StatusNoContent, res.code)
}

func TestSubmit_LocksCar(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")

	jobID := s.submit(t, carID)
	assert.NotEmpty(t, jobID)
	require.Len(t, s.q.messages, 1)
	assert.Equal(t, 1, s.q.messages[0].Attempt)

	summary := s.as(t, "GET", "/cars/"+carID+"/summary", nil)
	require.Equal(t, http.StatusOK, summary.code)
	assert.Equal(t, true, summary.data()["is_locked"])
	assert.Equal(t, false, summary.data()["can_edit"])
	assert.Equal(t, "analyzing", summary.data()["car"].(map[string]any)["status"])
	assert.Equal(t, jobID, summary.data()["latest_job"].(map[string]any)["id"])

	res := s.as(t, "PATCH", "/cars/"+carID, map[string]any{"mileage": 1})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "CAR_LOCKED", res.errCode())

	res = s.as(t, "POST", "/cars/"+carID+"/media", map[string]any{"type": "photo", "photo_type": "rear", "file_name": "r.jpg"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "CAR_LOCKED", res.errCode())

	res = s.as(t, "POST", "/cars/"+carID+"/status", map[string]any{"status": "draft"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "CAR_LOCKED", res.errCode())

	res = s.as(t, "POST", "/cars/"+carID+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "INVALID_TRANSITION", res.errCode())
}

func TestSubmit_IncompleteMedia(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "POST", "/cars/"+carID+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "INCOMPLETE_MEDIA", res.errCode())
	assert.Equal(t, "draft", s.as(t, "GET", "/cars/"+carID, nil).data()["status"])
}

func TestSubmit_StoreFailure(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")
	s.st.CreateJobErr = errors.New("connection reset")

	res := s.as(t, "POST", "/cars/"+carID+"/submit", nil)
	assert.Equal(t, http.StatusInternalServerError, res.code)
	assert.Equal(t, "INTERNAL_ERROR", res.errCode())
	assert.Equal(t, "An unexpected error occurred", res.body["error"].(map[string]any)["message"])
	assert.Equal(t, "media_uploaded", s.as(t, "GET", "/cars/"+carID, nil).data()["status"])
}

func TestTransition_NotAllowed(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "POST", "/cars/"+carID+"/status", map[string]any{"status": "report_ready"})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "INVALID_TRANSITION", res.errCode())
	details := res.body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "draft", details["from"])
	assert.ElementsMatch(t, []any{"draft", "media_uploaded"}, details["allowed"])

	res = s.as(t, "POST", "/cars/"+carID+"/status", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.code)
}

func TestTransition_AdminMovesLockedCar(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")
	s.submit(t, carID)

	res := s.do(t, "POST", "/cars/"+carID+"/status", map[string]any{"status": "media_uploaded", "note": "re-shoot rear"}, uuid.New(), true)
	require.Equal(t, http.StatusOK, res.code, res.body)
	assert.Equal(t, "media_uploaded", res.data()["status"])
	assert.Equal(t, "re-shoot rear", res.data()["status_note"])
}

func TestReport(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "GET", "/cars/"+carID+"/report", nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	car, err := s.st.GetCar(context.Background(), uuid.MustParse(carID))
	require.NoError(t, err)
	_, err = s.reports.CreateFromAIResult(context.Background(),
		report.NewInput(car, uuid.New(), nil, map[string]any{"exteriorScore": 70.0, "engineScore": 60.0}))
	require.NoError(t, err)

	res = s.as(t, "GET", "/cars/"+carID+"/report", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, float64(65), res.data()["trust_score"])
	assert.Equal(t, "Good", res.data()["verdict"])

	res = s.do(t, "GET", "/cars/"+carID+"/report", nil, uuid.New(), false)
	assert.Equal(t, http.StatusForbidden, res.code)
}

// ─── jobs ────────────────────────────────────────────────────────────────────

func TestGetJob(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")
	jobID := s.submit(t, carID)

	res := s.as(t, "GET", "/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "pending", res.data()["status"])
	assert.Equal(t, carID, res.data()["car_id"])

	res = s.as(t, "GET", "/jobs/"+jobID+"/status", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "pending", res.data()["status"])
	assert.Equal(t, jobID, res.data()["job_id"])

	assert.Equal(t, http.StatusForbidden, s.do(t, "GET", "/jobs/"+jobID, nil, uuid.New(), false).code)
	assert.Equal(t, http.StatusForbidden, s.do(t, "GET", "/jobs/"+jobID+"/status", nil, uuid.New(), false).code)
	assert.Equal(t, http.StatusNotFound, s.as(t, "GET", "/jobs/"+uuid.NewString(), nil).code)
}

func TestListJobsByCar(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)

	res := s.as(t, "GET", "/cars/"+carID+"/jobs", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, []any{}, res.body["data"])

	s.addPhotos(t, carID, "front")
	jobID := s.submit(t, carID)

	res = s.as(t, "GET", "/cars/"+carID+"/jobs", nil)
	list := res.body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, jobID, list[0].(map[string]any)["id"])
	assert.Equal(t, float64(1), res.body["meta"].(map[string]any)["count"])
}

func (s *testServer) failJob(t *testing.T, jobID string, attempts int) {
	t.Helper()
	job, err := s.st.GetJob(context.Background(), uuid.MustParse(jobID))
	require.NoError(t, err)
	reason := "AI service returned status 502"
	job.Status = models.JobStatusFailed
	job.AttemptCount = attempts
	job.ErrorReason = &reason
	s.st.SetJob(job)
	s.st.SetCarStatus(job.CarID, models.CarStatusMediaUploaded)
}

func TestRetryJob(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")
	jobID := s.submit(t, carID)

	res := s.as(t, "POST", "/jobs/"+jobID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "JOB_NOT_RETRYABLE", res.errCode())

	s.failJob(t, jobID, 1)
	res = s.as(t, "POST", "/jobs/"+jobID+"/retry", nil)
	require.Equal(t, http.StatusOK, res.code, res.body)
	assert.Equal(t, "pending", res.data()["status"])
	assert.Equal(t, float64(2), res.data()["attempt_count"])
	assert.Nil(t, res.data()["error_reason"])
	assert.Equal(t, "analyzing", s.as(t, "GET", "/cars/"+carID, nil).data()["status"])

	s.failJob(t, jobID, 3)
	res = s.as(t, "POST", "/jobs/"+jobID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "RETRY_LIMIT_EXCEEDED", res.errCode())

	assert.Equal(t, http.StatusForbidden, s.do(t, "POST", "/jobs/"+jobID+"/retry", nil, uuid.New(), false).code)
}

func TestCancelJob(t *testing.T) {
	s := newServer(t)
	carID := s.createCar(t)
	s.addPhotos(t, carID, "front")
	jobID := s.submit(t, carID)

	res := s.do(t, "POST", "/jobs/"+jobID+"/cancel", nil, uuid.New(), true)
	require.Equal(t, http.StatusOK, res.code, res.body)
	assert.Equal(t, "cancelled", res.data()["status"])
	assert.Equal(t, "media_uploaded", s.as(t, "GET", "/cars/"+carID, nil).data()["status"])

	res = s.do(t, "POST", "/jobs/"+jobID+"/cancel", nil, uuid.New(), true)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, "JOB_NOT_CANCELLABLE", res.errCode())
}
