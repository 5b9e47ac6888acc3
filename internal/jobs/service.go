// Package jobs creates analysis jobs and applies every status change to them.
// The job store is authoritative; Redis holds a snapshot for status polling.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/cache"
	"github.com/kiranshivaraju/carinspect/internal/metrics"
	"github.com/kiranshivaraju/carinspect/internal/queue"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

var (
	ErrRetryLimitExceeded = errors.New("job retry limit exceeded")
	ErrNotRetryable       = errors.New("only failed jobs can be retried")
	ErrCannotCancel       = errors.New("job cannot be cancelled")
)

// ErrInvalidJobTransition is returned when an update does not follow the job lifecycle.
var ErrInvalidJobTransition = store.ErrInvalidJobTransition

const enqueueFailedReason = "failed to enqueue job"

// Enqueuer puts start messages on the analysis queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error
}

type Config struct {
	MaxRetries     int
	StatusCacheTTL time.Duration
}

type Service struct {
	store store.JobStore
	queue Enqueuer
	cache cache.Cache
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service. c may be nil, in which case status reads go to the store.
func NewService(s store.JobStore, q Enqueuer, c cache.Cache, cfg Config) *Service {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 24 * time.Hour
	}
	return &Service{
		store: s,
		queue: q,
		cache: c,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// MaxRetries is the total number of attempts a job gets.
func (s *Service) MaxRetries() int { return s.cfg.MaxRetries }

// Create stores a PENDING job for car and enqueues its first attempt. A job that
// cannot be enqueued is marked FAILED so it never sits PENDING forever.
func (s *Service) Create(ctx context.Context, car *models.Car) (*models.Job, error) {
	now := s.now()
	job := &models.Job{
		ID:           uuid.New(),
		CarID:        car.ID,
		UserID:       car.UserID,
		Status:       models.JobStatusPending,
		AttemptCount: 0,
		InputPayload: map[string]any{
			"carId":     car.ID.String(),
			"createdAt": now.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	msg := queue.Message{JobID: job.ID, CarID: car.ID, Attempt: 1}
	if err := s.queue.Enqueue(ctx, msg, 0); err != nil {
		slog.Error("failed to enqueue job", "job_id", job.ID, "car_id", car.ID, "error", err)
		if _, uerr := s.UpdateStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorReason(enqueueFailedReason)); uerr != nil {
			slog.Error("failed to mark unqueued job as failed", "job_id", job.ID, "error", uerr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	metrics.JobsCreated.Inc()
	s.storeSnapshot(ctx, job)
	slog.Info("job created", "job_id", job.ID, "car_id", car.ID)
	return job, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Snapshot returns the cached status view of a job, loading it from the store on a miss.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID) (*cache.JobSnapshot, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetJobSnapshot(ctx, id)
		if err != nil {
			slog.Warn("job snapshot cache read failed", "job_id", id, "error", err)
		} else if ok {
			return snap, nil
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(ctx, job)
	snap := cache.SnapshotOf(job)
	return &snap, nil
}

func (s *Service) ListByCar(ctx context.Context, carID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListJobsByCar(ctx, carID)
}

// UpdateStatus moves a job to status, merging opts. completedAt is stamped on COMPLETED
// and FAILED by the store.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	job, err := s.store.UpdateJob(ctx, id, status, opts...)
	if err != nil {
		return nil, err
	}
	metrics.JobTransitions.WithLabelValues(string(status)).Inc()
	s.storeSnapshot(ctx, job)
	return job, nil
}

// SetReportStatus records the report sub-status of a completed job.
func (s *Service) SetReportStatus(ctx context.Context, id uuid.UUID, reportStatus string, reportID *uuid.UUID) error {
	if err := s.store.SetJobReport(ctx, id, reportStatus, reportID); err != nil {
		return err
	}
	if job, err := s.store.GetJob(ctx, id); err == nil {
		s.storeSnapshot(ctx, job)
	}
	return nil
}

// CheckRetryable reports whether job may be retried manually.
func (s *Service) CheckRetryable(job *models.Job) error {
	if job.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: job is %s", ErrNotRetryable, job.Status)
	}
	if job.AttemptCount >= s.cfg.MaxRetries {
		return fmt.Errorf("%w: %d of %d attempts used", ErrRetryLimitExceeded, job.AttemptCount, s.cfg.MaxRetries)
	}
	return nil
}

// Retry moves a FAILED job back to PENDING, counts the attempt and re-enqueues it.
// The queued attempt number equals the new attempt count so the two stay in step.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.CheckRetryable(job); err != nil {
		return nil, err
	}

	updated, err := s.UpdateStatus(ctx, id, models.JobStatusPending,
		store.IncrementAttempt(),
		store.ClearErrorReason(),
		store.WithProgress("Retry requested"),
	)
	if err != nil {
		return nil, fmt.Errorf("reset job for retry: %w", err)
	}

	msg := queue.Message{JobID: updated.ID, CarID: updated.CarID, Attempt: updated.AttemptCount}
	if err := s.queue.Enqueue(ctx, msg, 0); err != nil {
		slog.Error("failed to enqueue retried job", "job_id", id, "error", err)
		if _, uerr := s.UpdateStatus(ctx, id, models.JobStatusFailed, store.WithErrorReason(enqueueFailedReason)); uerr != nil {
			slog.Error("failed to mark unqueued job as failed", "job_id", id, "error", uerr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", id, err)
	}

	metrics.JobRetriesTotal.WithLabelValues("manual").Inc()
	slog.Info("job retried", "job_id", id, "attempt", updated.AttemptCount)
	return updated, nil
}

// Cancel marks a job CANCELLED. Completed and already cancelled jobs cannot be cancelled.
// A worker holding the job notices at its next check and discards its result.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusCancelled {
		return nil, fmt.Errorf("%w: job is %s", ErrCannotCancel, job.Status)
	}

	cancelled, err := s.UpdateStatus(ctx, id, models.JobStatusCancelled, store.WithProgress("Cancelled"))
	if errors.Is(err, store.ErrInvalidJobTransition) {
		return nil, fmt.Errorf("%w: %v", ErrCannotCancel, err)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("job cancelled", "job_id", id)
	return cancelled, nil
}

func (s *Service) storeSnapshot(ctx context.Context, job *models.Job) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobSnapshot(ctx, cache.SnapshotOf(job), s.cfg.StatusCacheTTL); err != nil {
		slog.Warn("job snapshot cache write failed", "job_id", job.ID, "error", err)
	}
}
