package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/api/response"
	"github.com/kiranshivaraju/carinspect/internal/cache"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Snapshot(ctx context.Context, id uuid.UUID) (*cache.JobSnapshot, error)
	ListByCar(ctx context.Context, carID uuid.UUID) ([]*models.Job, error)
}

// JobControl retries and cancels jobs together with their car's lock.
type JobControl interface {
	RetryJob(ctx context.Context, jobID uuid.UUID, actor carlock.Actor) (*models.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, actor carlock.Actor) (*models.Job, error)
}

type CarReader interface {
	Get(ctx context.Context, carID uuid.UUID, actor carlock.Actor) (*models.Car, error)
}

type JobHandler struct {
	jobs    JobReader
	control JobControl
	cars    CarReader
}

func NewJobHandler(jobs JobReader, control JobControl, cars CarReader) *JobHandler {
	return &JobHandler{jobs: jobs, control: control, cars: cars}
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !actor.CanAccess(job.UserID) {
		writeError(w, r, carlock.ErrForbidden)
		return
	}
	response.JSON(w, job)
}

// Status handles GET /api/v1/jobs/{jobID}/status. It serves the cached snapshot
// used for polling.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	snap, err := h.jobs.Snapshot(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !actor.CanAccess(snap.UserID) {
		writeError(w, r, carlock.ErrForbidden)
		return
	}
	response.JSON(w, snap)
}

// ListByCar handles GET /api/v1/cars/{carID}/jobs, newest first.
func (h *JobHandler) ListByCar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}

	if _, err := h.cars.Get(r.Context(), carID, actor); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.jobs.ListByCar(r.Context(), carID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.List(w, list)
}

// Retry handles POST /api/v1/jobs/{jobID}/retry.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.control.RetryJob(r.Context(), jobID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel. The router restricts it to admin keys.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.control.CancelJob(r.Context(), jobID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, job)
}
