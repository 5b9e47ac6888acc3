package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/api/response"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/media"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// CarService is the car side of the coordinator.
type CarService interface {
	Create(ctx context.Context, userID uuid.UUID, in carlock.CarInput) (*models.Car, error)
	Get(ctx context.Context, carID uuid.UUID, actor carlock.Actor) (*models.Car, error)
	UpdateDetails(ctx context.Context, carID uuid.UUID, actor carlock.Actor, patch carlock.CarPatch) (*models.Car, error)
	AttachMedia(ctx context.Context, carID uuid.UUID, actor carlock.Actor, m *models.Media) (*models.Media, error)
	DetachMedia(ctx context.Context, carID uuid.UUID, actor carlock.Actor, mediaID uuid.UUID) error
	ValidateMedia(ctx context.Context, carID uuid.UUID, actor carlock.Actor) (media.Readiness, error)
	Summary(ctx context.Context, carID uuid.UUID, actor carlock.Actor) (*carlock.Summary, error)
	Transition(ctx context.Context, carID uuid.UUID, target models.CarStatus, actor carlock.Actor, note string) (*models.Car, error)
	SubmitForAnalysis(ctx context.Context, carID uuid.UUID, actor carlock.Actor) (*models.Job, error)
}

type ReportReader interface {
	LatestForCar(ctx context.Context, carID uuid.UUID) (*models.Report, error)
}

type CarHandler struct {
	cars    CarService
	reports ReportReader
}

func NewCarHandler(cars CarService, reports ReportReader) *CarHandler {
	return &CarHandler{cars: cars, reports: reports}
}

// Create handles POST /api/v1/cars.
func (h *CarHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in carlock.CarInput
	if !decodeJSON(w, r, &in) {
		return
	}

	car, err := h.cars.Create(r.Context(), actor.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, car)
}

func (h *CarHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}

	car, err := h.cars.Get(r.Context(), carID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, car)
}

// Update handles PATCH /api/v1/cars/{carID}. Locked cars reject edits.
func (h *CarHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}
	var patch carlock.CarPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	car, err := h.cars.UpdateDetails(r.Context(), carID, actor, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, car)
}

type mediaRequest struct {
	Type        models.MediaType `json:"type"`
	PhotoType   *string          `json:"photo_type"`
	FileName    string           `json:"file_name"`
	StorageKey  string           `json:"storage_key"`
	StorageURL  string           `json:"storage_url"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `json:"size_bytes"`
	// IsUploaded defaults to true; false reserves a slot for a pending upload.
	IsUploaded *bool `json:"is_uploaded"`
}

// AttachMedia handles POST /api/v1/cars/{carID}/media.
func (h *CarHandler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	uploaded := true
	if req.IsUploaded != nil {
		uploaded = *req.IsUploaded
	}
	m, err := h.cars.AttachMedia(r.Context(), carID, actor, &models.Media{
		Type:        req.Type,
		PhotoType:   req.PhotoType,
		FileName:    req.FileName,
		StorageKey:  req.StorageKey,
		StorageURL:  req.StorageURL,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		IsUploaded:  uploaded,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, m)
}

func (h *CarHandler) DetachMedia(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}
	mediaID, ok := pathID(w, r, "mediaID")
	if !ok {
		return
	}

	if err := h.cars.DetachMedia(r.Context(), carID, actor, mediaID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// ValidateMedia handles GET /api/v1/cars/{carID}/media/validation.
func (h *CarHandler) ValidateMedia(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}

	readiness, err := h.cars.ValidateMedia(r.Context(), carID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, readiness)
}

func (h *CarHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}

	summary, err := h.cars.Summary(r.Context(), carID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, summary)
}

// Transition handles POST /api/v1/cars/{carID}/status.
func (h *CarHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}
	var req struct {
		Status models.CarStatus `json:"status"`
		Note   string           `json:"note"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "status is required", nil)
		return
	}

	car, err := h.cars.Transition(r.Context(), carID, req.Status, actor, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, car)
}

// Submit handles POST /api/v1/cars/{carID}/submit. It locks the car and returns the new job.
func (h *CarHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	carID, ok := pathID(w, r, "carID")
	if !ok {
		return
	}

	job, err := h.cars.SubmitForAnalysis(r.Context(), carID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, job)
}

// Report handles GET /api/v1/cars/{carID}/report and returns the latest report.
func (h *CarHandler) Report(w http.ResponseWriter, r *http.Request) {
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
	rep, err := h.reports.LatestForCar(r.Context(), carID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, rep)
}
