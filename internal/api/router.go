package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/carinspect/internal/api/middleware"
	"github.com/kiranshivaraju/carinspect/internal/api/response"
	"github.com/kiranshivaraju/carinspect/internal/metrics"
	"github.com/kiranshivaraju/carinspect/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	// MetricsHandler defaults to the Prometheus handler for the default registry.
	MetricsHandler http.Handler

	CreateCar     http.HandlerFunc
	GetCar        http.HandlerFunc
	UpdateCar     http.HandlerFunc
	AttachMedia   http.HandlerFunc
	DetachMedia   http.HandlerFunc
	ValidateMedia http.HandlerFunc
	CarSummary    http.HandlerFunc
	TransitionCar http.HandlerFunc
	SubmitCar     http.HandlerFunc
	ListCarJobs   http.HandlerFunc
	CarReport     http.HandlerFunc

	GetJob       http.HandlerFunc
	GetJobStatus http.HandlerFunc
	RetryJob     http.HandlerFunc
	CancelJob    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(metrics.Middleware)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/cars", orNotImplemented(deps.CreateCar))
		r.Get("/api/v1/cars/{carID}", orNotImplemented(deps.GetCar))
		r.Patch("/api/v1/cars/{carID}", orNotImplemented(deps.UpdateCar))
		r.Post("/api/v1/cars/{carID}/media", orNotImplemented(deps.AttachMedia))
		r.Delete("/api/v1/cars/{carID}/media/{mediaID}", orNotImplemented(deps.DetachMedia))
		r.Get("/api/v1/cars/{carID}/media/validation", orNotImplemented(deps.ValidateMedia))
		r.Get("/api/v1/cars/{carID}/summary", orNotImplemented(deps.CarSummary))
		r.Post("/api/v1/cars/{carID}/status", orNotImplemented(deps.TransitionCar))
		r.Post("/api/v1/cars/{carID}/submit", orNotImplemented(deps.SubmitCar))
		r.Get("/api/v1/cars/{carID}/jobs", orNotImplemented(deps.ListCarJobs))
		r.Get("/api/v1/cars/{carID}/report", orNotImplemented(deps.CarReport))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.GetJobStatus))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJob))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
