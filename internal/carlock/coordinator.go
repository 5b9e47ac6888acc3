// Package carlock owns every status change of a car. It keeps cars locked while an
// analysis is in flight and ties submission to job creation.
package carlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/media"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// Store is the persistence the coordinator needs.
type Store interface {
	store.CarStore
	store.MediaStore
	ListJobsByCar(ctx context.Context, carID uuid.UUID) ([]*models.Job, error)
}

// JobService creates and steers analysis jobs.
type JobService interface {
	Create(ctx context.Context, car *models.Car) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	CheckRetryable(job *models.Job) error
	Retry(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type Coordinator struct {
	store Store
	gate  *media.Gate
	jobs  JobService
	now   func() time.Time
}

func NewCoordinator(s Store, jobs JobService) *Coordinator {
	return &Coordinator{
		store: s,
		gate:  media.NewGate(s),
		jobs:  jobs,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CarInput holds the fields of a new car.
type CarInput struct {
	Make    string         `json:"make"`
	Model   string         `json:"model"`
	Year    int            `json:"year"`
	VIN     *string        `json:"vin,omitempty"`
	Mileage *int           `json:"mileage,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// CarPatch holds the fields to change. Nil fields are left alone; Details keys are merged.
type CarPatch struct {
	Make    *string        `json:"make,omitempty"`
	Model   *string        `json:"model,omitempty"`
	Year    *int           `json:"year,omitempty"`
	VIN     *string        `json:"vin,omitempty"`
	Mileage *int           `json:"mileage,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Summary is the submission view of a car.
type Summary struct {
	Car       *models.Car     `json:"car"`
	Media     []*models.Media `json:"media"`
	Readiness media.Readiness `json:"readiness"`
	IsLocked  bool            `json:"is_locked"`
	CanEdit   bool            `json:"can_edit"`
	LatestJob *models.Job     `json:"latest_job,omitempty"`
}

func (c *Coordinator) Create(ctx context.Context, userID uuid.UUID, in CarInput) (*models.Car, error) {
	if err := validateCar(in.Make, in.Model, in.Year, in.Mileage, c.now()); err != nil {
		return nil, err
	}
	now := c.now()
	car := &models.Car{
		ID:        uuid.New(),
		UserID:    userID,
		Make:      strings.TrimSpace(in.Make),
		Model:     strings.TrimSpace(in.Model),
		Year:      in.Year,
		VIN:       in.VIN,
		Mileage:   in.Mileage,
		Details:   in.Details,
		Status:    models.CarStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateCar(ctx, car); err != nil {
		return nil, fmt.Errorf("create car: %w", err)
	}
	return car, nil
}

func (c *Coordinator) Get(ctx context.Context, carID uuid.UUID, actor Actor) (*models.Car, error) {
	car, err := c.store.GetCar(ctx, carID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(car.UserID) {
		return nil, ErrForbidden
	}
	return car, nil
}

// UpdateDetails applies patch to an editable car.
func (c *Coordinator) UpdateDetails(ctx context.Context, carID uuid.UUID, actor Actor, patch CarPatch) (*models.Car, error) {
	return c.store.LockCar(ctx, carID, func(_ context.Context, _ store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if car.Status.IsLocked() {
			return lockedError(car.Status)
		}

		if patch.Make != nil {
			car.Make = strings.TrimSpace(*patch.Make)
		}
		if patch.Model != nil {
			car.Model = strings.TrimSpace(*patch.Model)
		}
		if patch.Year != nil {
			car.Year = *patch.Year
		}
		if patch.VIN != nil {
			car.VIN = patch.VIN
		}
		if patch.Mileage != nil {
			car.Mileage = patch.Mileage
		}
		if len(patch.Details) > 0 {
			merged := make(map[string]any, len(car.Details)+len(patch.Details))
			for k, v := range car.Details {
				merged[k] = v
			}
			for k, v := range patch.Details {
				merged[k] = v
			}
			car.Details = merged
		}
		return validateCar(car.Make, car.Model, car.Year, car.Mileage, c.now())
	})
}

// AttachMedia registers a media item on an editable car. A photo replaces any existing
// photo of the same sub-type. A DRAFT car becomes MEDIA_UPLOADED once its media passes the gate.
func (c *Coordinator) AttachMedia(ctx context.Context, carID uuid.UUID, actor Actor, m *models.Media) (*models.Media, error) {
	if err := validateMedia(m); err != nil {
		return nil, err
	}

	_, err := c.store.LockCar(ctx, carID, func(ctx context.Context, tx store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if car.Status.IsLocked() {
			return lockedError(car.Status)
		}

		existing, err := tx.ListMediaByCar(ctx, carID)
		if err != nil {
			return fmt.Errorf("list media: %w", err)
		}
		if m.Type == models.MediaTypePhoto {
			for _, e := range existing {
				if e.Type == models.MediaTypePhoto && e.PhotoType != nil && *e.PhotoType == *m.PhotoType {
					if err := tx.DeleteMedia(ctx, carID, e.ID); err != nil {
						return fmt.Errorf("replace %s photo: %w", *m.PhotoType, err)
					}
				}
			}
		}

		m.ID = uuid.New()
		m.CarID = carID
		m.CreatedAt = c.now()
		if err := tx.CreateMedia(ctx, m); err != nil {
			return fmt.Errorf("create media: %w", err)
		}

		if car.Status == models.CarStatusDraft {
			items, err := tx.ListMediaByCar(ctx, carID)
			if err != nil {
				return fmt.Errorf("list media: %w", err)
			}
			if media.Evaluate(items).IsValid {
				car.Status = models.CarStatusMediaUploaded
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DetachMedia removes a media item from an editable car.
func (c *Coordinator) DetachMedia(ctx context.Context, carID uuid.UUID, actor Actor, mediaID uuid.UUID) error {
	_, err := c.store.LockCar(ctx, carID, func(ctx context.Context, tx store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if car.Status.IsLocked() {
			return lockedError(car.Status)
		}
		return tx.DeleteMedia(ctx, carID, mediaID)
	})
	return err
}

// ValidateMedia runs the media gate for an owned car.
func (c *Coordinator) ValidateMedia(ctx context.Context, carID uuid.UUID, actor Actor) (media.Readiness, error) {
	if _, err := c.Get(ctx, carID, actor); err != nil {
		return media.Readiness{}, err
	}
	return c.gate.Validate(ctx, carID)
}

func (c *Coordinator) Summary(ctx context.Context, carID uuid.UUID, actor Actor) (*Summary, error) {
	car, err := c.Get(ctx, carID, actor)
	if err != nil {
		return nil, err
	}
	items, err := c.store.ListMediaByCar(ctx, carID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	jobs, err := c.store.ListJobsByCar(ctx, carID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	s := &Summary{
		Car:       car,
		Media:     items,
		Readiness: media.Evaluate(items),
		IsLocked:  car.Status.IsLocked(),
		CanEdit:   !car.Status.IsLocked(),
	}
	if len(jobs) > 0 {
		s.LatestJob = jobs[0]
	}
	return s, nil
}

// Transition moves a car to target via the transition table. Only system and admin
// actors may move a locked car. Entering SUBMITTED requires media that passes the gate.
func (c *Coordinator) Transition(ctx context.Context, carID uuid.UUID, target models.CarStatus, actor Actor, note string) (*models.Car, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	return c.store.LockCar(ctx, carID, func(ctx context.Context, tx store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if car.Status == target {
			return nil
		}
		if car.Status.IsLocked() && !actor.canMoveLocked() {
			return lockedError(car.Status)
		}
		if err := checkTransition(car.Status, target); err != nil {
			return err
		}
		if target == models.CarStatusSubmitted {
			if err := requireValidMedia(ctx, tx, carID); err != nil {
				return err
			}
		}

		car.Status = target
		if note != "" {
			car.StatusNote = &note
		}
		return nil
	})
}

// SubmitForAnalysis locks the car to ANALYZING and creates its analysis job. If the job
// cannot be created the car is returned to the status it had before.
func (c *Coordinator) SubmitForAnalysis(ctx context.Context, carID uuid.UUID, actor Actor) (*models.Job, error) {
	var prior models.CarStatus
	car, err := c.store.LockCar(ctx, carID, func(ctx context.Context, tx store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if !submittable[car.Status] {
			return fmt.Errorf("%w: cannot submit car for analysis; current status is %s, car must be in draft, media_uploaded, or submitted status",
				ErrInvalidTransition, car.Status)
		}
		if err := requireValidMedia(ctx, tx, carID); err != nil {
			return err
		}

		prior = car.Status
		now := c.now()
		car.Status = models.CarStatusAnalyzing
		car.SubmittedAt = &now
		car.StatusNote = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	job, err := c.jobs.Create(ctx, car)
	if err != nil {
		c.restore(ctx, carID, models.CarStatusAnalyzing, prior)
		return nil, fmt.Errorf("create analysis job: %w", err)
	}

	slog.Info("car submitted for analysis", "car_id", carID, "job_id", job.ID, "previous_status", prior)
	return job, nil
}

// Unlock returns a locked car to MEDIA_UPLOADED so its owner can correct and resubmit.
// An editable car is left as is.
func (c *Coordinator) Unlock(ctx context.Context, carID uuid.UUID, actor Actor, note string) (*models.Car, error) {
	return c.store.LockCar(ctx, carID, func(_ context.Context, _ store.CarTx, car *models.Car) error {
		if !actor.owns(car.UserID) {
			return ErrForbidden
		}
		if !car.Status.IsLocked() {
			return nil
		}
		if !actor.canMoveLocked() {
			return lockedError(car.Status)
		}
		if err := checkTransition(car.Status, models.CarStatusMediaUploaded); err != nil {
			return err
		}
		car.Status = models.CarStatusMediaUploaded
		if note != "" {
			car.StatusNote = &note
		}
		return nil
	})
}

// RetryJob re-locks the car of a failed job and puts the job back on the queue.
func (c *Coordinator) RetryJob(ctx context.Context, jobID uuid.UUID, actor Actor) (*models.Job, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(job.UserID) {
		return nil, ErrForbidden
	}
	if err := c.jobs.CheckRetryable(job); err != nil {
		return nil, err
	}

	var prior models.CarStatus
	_, err = c.store.LockCar(ctx, job.CarID, func(ctx context.Context, tx store.CarTx, car *models.Car) error {
		prior = car.Status
		if car.Status == models.CarStatusAnalyzing {
			return nil
		}
		if !submittable[car.Status] {
			return fmt.Errorf("%w: cannot retry analysis; car is in %s status", ErrInvalidTransition, car.Status)
		}
		if err := requireValidMedia(ctx, tx, car.ID); err != nil {
			return err
		}
		now := c.now()
		car.Status = models.CarStatusAnalyzing
		car.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := c.jobs.Retry(ctx, jobID)
	if err != nil {
		if prior != models.CarStatusAnalyzing {
			c.restore(ctx, job.CarID, models.CarStatusAnalyzing, prior)
		}
		return nil, err
	}
	return updated, nil
}

// CancelJob cancels a job and unlocks its car when the car is still analyzing.
func (c *Coordinator) CancelJob(ctx context.Context, jobID uuid.UUID, actor Actor) (*models.Job, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(job.UserID) {
		return nil, ErrForbidden
	}

	cancelled, err := c.jobs.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.restore(ctx, job.CarID, models.CarStatusAnalyzing, models.CarStatusMediaUploaded)
	return cancelled, nil
}

var errStatusMoved = errors.New("car status changed")

// restore moves a car from one status back to another if it is still in from.
// Failures are logged; the caller already has an error or result to report.
func (c *Coordinator) restore(ctx context.Context, carID uuid.UUID, from, to models.CarStatus) {
	_, err := c.store.LockCar(ctx, carID, func(_ context.Context, _ store.CarTx, car *models.Car) error {
		if car.Status != from {
			return errStatusMoved
		}
		car.Status = to
		return nil
	})
	if err != nil && !errors.Is(err, errStatusMoved) {
		slog.Error("failed to restore car status", "car_id", carID, "from", from, "to", to, "error", err)
		return
	}
	if err == nil {
		slog.Info("car status restored", "car_id", carID, "from", from, "to", to)
	}
}

func requireValidMedia(ctx context.Context, tx store.CarTx, carID uuid.UUID) error {
	items, err := tx.ListMediaByCar(ctx, carID)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	r := media.Evaluate(items)
	if r.IsValid {
		return nil
	}
	return fmt.Errorf("%w: at least one uploaded photo is required", ErrIncompleteMedia)
}

func validateCar(carMake, model string, year int, mileage *int, now time.Time) error {
	if strings.TrimSpace(carMake) == "" {
		return invalidInput("make is required")
	}
	if strings.TrimSpace(model) == "" {
		return invalidInput("model is required")
	}
	if year < 1886 || year > now.Year()+1 {
		return invalidInput("year must be between 1886 and %d, got %d", now.Year()+1, year)
	}
	if mileage != nil && *mileage < 0 {
		return invalidInput("mileage must not be negative")
	}
	return nil
}

func validateMedia(m *models.Media) error {
	if m == nil {
		return invalidInput("media is required")
	}
	switch m.Type {
	case models.MediaTypePhoto:
		if m.PhotoType == nil || !models.IsRequiredPhotoType(*m.PhotoType) {
			return invalidInput("photo_type must be one of %s", strings.Join(models.RequiredPhotoTypes, ", "))
		}
	case models.MediaTypeVideo:
		m.PhotoType = nil
	default:
		return invalidInput("type must be photo or video, got %q", m.Type)
	}
	if m.FileName == "" && m.StorageURL == "" && m.StorageKey == "" {
		return invalidInput("file_name, storage_key or storage_url is required")
	}
	return nil
}
