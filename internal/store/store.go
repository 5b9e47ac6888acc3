package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrActiveJobExists is returned when a car already has a pending or processing job.
var ErrActiveJobExists = errors.New("car already has an active job")

// ErrInvalidJobTransition is returned when a job update does not follow the job lifecycle.
var ErrInvalidJobTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CarStore
	MediaStore
	JobStore
	ReportStore
}

// CarStore persists cars. Every status change goes through LockCar.
type CarStore interface {
	CreateCar(ctx context.Context, car *models.Car) error
	GetCar(ctx context.Context, id uuid.UUID) (*models.Car, error)
	// LockCar loads the car under an exclusive row lock and calls fn inside the same
	// transaction. Changes fn makes to car are written back when fn returns nil;
	// any error from fn rolls the transaction back and is returned as is.
	LockCar(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx CarTx, car *models.Car) error) (*models.Car, error)
}

// CarTx is the set of writes allowed while a car row is locked.
type CarTx interface {
	ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error)
	CreateMedia(ctx context.Context, m *models.Media) error
	DeleteMedia(ctx context.Context, carID, mediaID uuid.UUID) error
}

type MediaStore interface {
	ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByCar(ctx context.Context, carID uuid.UUID) ([]*models.Job, error)
	// UpdateJob moves a job to status and applies opts in one atomic write. It returns
	// ErrInvalidJobTransition when the current status does not allow the move.
	UpdateJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)
	SetJobReport(ctx context.Context, id uuid.UUID, reportStatus string, reportID *uuid.UUID) error
}

type ReportStore interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReportByJob(ctx context.Context, jobID uuid.UUID) (*models.Report, error)
	GetLatestReportByCar(ctx context.Context, carID uuid.UUID) (*models.Report, error)
}

var validJobTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusFailed:     {models.JobStatusPending, models.JobStatusCancelled},
}

// CanTransitionJob reports whether a job may move from one status to another.
func CanTransitionJob(from, to models.JobStatus) bool {
	for _, s := range validJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// jobSourceStatuses returns every status a job may be in to move to target.
func jobSourceStatuses(target models.JobStatus) []string {
	var out []string
	for from, targets := range validJobTransitions {
		for _, t := range targets {
			if t == target {
				out = append(out, string(from))
			}
		}
	}
	return out
}

// InvalidJobTransition builds the error returned for a rejected status move.
func InvalidJobTransition(from, to models.JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidJobTransition, from, to)
}

// JobUpdate is the resolved form of a set of JobUpdateOptions.
type JobUpdate struct {
	ProgressMessage  *string
	ErrorReason      *string
	ClearErrorReason bool
	Result           map[string]any
	AttemptCount     *int
	IncrementAttempt bool
}

type JobUpdateOption func(*JobUpdate)

func WithProgress(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ProgressMessage = &msg
	}
}

func WithErrorReason(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorReason = &msg
		u.ClearErrorReason = false
	}
}

func ClearErrorReason() JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorReason = nil
		u.ClearErrorReason = true
	}
}

func WithResult(payload map[string]any) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Result = payload
	}
}

// WithAttemptCount raises attempt_count to n. The counter never decreases.
func WithAttemptCount(n int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.AttemptCount = &n
	}
}

func IncrementAttempt() JobUpdateOption {
	return func(u *JobUpdate) {
		u.IncrementAttempt = true
	}
}

// ResolveJobUpdate folds opts into a JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// Apply writes the update onto j as a move to status at now.
func (u JobUpdate) Apply(j *models.Job, status models.JobStatus, now time.Time) {
	j.Status = status
	j.UpdatedAt = now
	if u.ProgressMessage != nil {
		msg := *u.ProgressMessage
		j.ProgressMessage = &msg
	}
	if u.ErrorReason != nil {
		msg := *u.ErrorReason
		j.ErrorReason = &msg
	}
	if u.ClearErrorReason {
		j.ErrorReason = nil
	}
	if u.Result != nil {
		j.ResultPayload = u.Result
	}
	if u.AttemptCount != nil && *u.AttemptCount > j.AttemptCount {
		j.AttemptCount = *u.AttemptCount
	}
	if u.IncrementAttempt {
		j.AttemptCount++
	}
	switch status {
	case models.JobStatusCompleted, models.JobStatusFailed:
		t := now
		j.CompletedAt = &t
	case models.JobStatusPending:
		j.CompletedAt = nil
	}
}
