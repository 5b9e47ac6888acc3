package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/media"
	"github.com/kiranshivaraju/carinspect/internal/metrics"
	"github.com/kiranshivaraju/carinspect/internal/queue"
	"github.com/kiranshivaraju/carinspect/internal/report"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

const (
	progressPreparing = "Preparing media for AI analysis..."
	progressCalling   = "Sending request to AI service..."
	progressCompleted = "AI processing completed successfully"
	progressFailed    = "AI processing failed after maximum retries"
)

// Outcome tells the pool how to settle a delivery.
type Outcome int

const (
	// OutcomeAck removes the delivery: the job completed, was skipped or was cancelled.
	OutcomeAck Outcome = iota
	// OutcomeRetry schedules the next attempt after backoff.
	OutcomeRetry
	// OutcomeFailed parks the delivery on the dead list; the job is FAILED.
	OutcomeFailed
	// OutcomeAbandon leaves the delivery in flight so its lease expires and it is
	// redelivered as the same attempt. Used when the job state could not be written.
	OutcomeAbandon
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandon:
		return "abandon"
	}
	return "unknown"
}

// Jobs is the job state the processor reads and writes.
type Jobs interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error)
	SetReportStatus(ctx context.Context, id uuid.UUID, reportStatus string, reportID *uuid.UUID) error
}

// Cars moves car status on behalf of the owner.
type Cars interface {
	Unlock(ctx context.Context, carID uuid.UUID, actor carlock.Actor, note string) (*models.Car, error)
	Transition(ctx context.Context, carID uuid.UUID, target models.CarStatus, actor carlock.Actor, note string) (*models.Car, error)
}

// CarData is read access to cars and their media.
type CarData interface {
	GetCar(ctx context.Context, id uuid.UUID) (*models.Car, error)
	ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error)
}

type Reports interface {
	CreateFromAIResult(ctx context.Context, in report.Input) (*models.Report, error)
}

type Resolver interface {
	Resolve(ctx context.Context, items []*models.Media) media.Inputs
	URL(ctx context.Context, m *models.Media) (string, error)
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Jobs     Jobs
	Cars     Cars
	CarData  CarData
	Reports  Reports
	Resolver Resolver
	Analyzer models.Analyzer
}

type ProcessorConfig struct {
	Policy queue.RetryPolicy
	// FailFastOnNoImages makes ErrNoImagesAvailable permanent instead of retrying it.
	FailFastOnNoImages bool
}

// Processor runs one analysis attempt for a queue message.
type Processor struct {
	deps Deps
	cfg  ProcessorConfig
}

func NewProcessor(deps Deps, cfg ProcessorConfig) *Processor {
	return &Processor{deps: deps, cfg: cfg}
}

// errDiscarded marks an attempt whose job was cancelled or settled by someone else.
var errDiscarded = errors.New("job changed while processing")

// Process runs one attempt of msg and reports how the delivery should be settled.
func (p *Processor) Process(ctx context.Context, msg queue.Message) (Outcome, error) {
	start := time.Now()
	logger := slog.With("job_id", msg.JobID, "car_id", msg.CarID, "attempt", msg.Attempt)

	job, err := p.deps.Jobs.Get(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("job not found, dropping message")
		return OutcomeAck, nil
	}
	if err != nil {
		return OutcomeAbandon, fmt.Errorf("load job: %w", err)
	}

	switch {
	case job.Status == models.JobStatusCancelled:
		logger.Info("job is cancelled, skipping")
		metrics.AttemptFinished(metrics.OutcomeSkipped, time.Since(start))
		return OutcomeAck, nil
	case job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed:
		logger.Info("job already settled, skipping redelivery", "status", job.Status)
		metrics.AttemptFinished(metrics.OutcomeSkipped, time.Since(start))
		return OutcomeAck, nil
	case job.AttemptCount > msg.Attempt:
		logger.Info("stale delivery, skipping", "job_attempt", job.AttemptCount)
		metrics.AttemptFinished(metrics.OutcomeSkipped, time.Since(start))
		return OutcomeAck, nil
	}

	job, err = p.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing,
		store.WithAttemptCount(msg.Attempt),
		store.WithProgress(progressPreparing),
	)
	if errors.Is(err, store.ErrInvalidJobTransition) {
		logger.Info("job changed before processing, skipping")
		return OutcomeAck, nil
	}
	if err != nil {
		return OutcomeAbandon, fmt.Errorf("mark job processing: %w", err)
	}
	logger.Info("processing job")

	outcome, err := p.run(ctx, logger, job, msg)
	metrics.AttemptFinished(outcomeLabel(outcome, err), time.Since(start))
	if errors.Is(err, errDiscarded) {
		return OutcomeAck, nil
	}
	return outcome, err
}

func (p *Processor) run(ctx context.Context, logger *slog.Logger, job *models.Job, msg queue.Message) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job", "panic", r)
			outcome, err = p.fail(ctx, logger, job, msg, fmt.Errorf("panic while processing job: %v", r))
		}
	}()

	car, items, result, err := p.analyze(ctx, logger, job)
	if errors.Is(err, errDiscarded) {
		return OutcomeAck, err
	}
	if err != nil {
		return p.fail(ctx, logger, job, msg, err)
	}

	// The call may have outlived a cancel request.
	current, err := p.deps.Jobs.Get(ctx, job.ID)
	if err == nil && current.Status == models.JobStatusCancelled {
		logger.Info("job cancelled during analysis, discarding result")
		return OutcomeAck, errDiscarded
	}

	_, err = p.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithResult(result.Payload),
		store.WithProgress(progressCompleted),
		store.ClearErrorReason(),
	)
	if errors.Is(err, store.ErrInvalidJobTransition) {
		logger.Info("job changed during analysis, discarding result")
		return OutcomeAck, errDiscarded
	}
	if err != nil {
		return p.fail(ctx, logger, job, msg, fmt.Errorf("persist result: %w", err))
	}
	logger.Info("job completed")

	p.synthesize(ctx, logger, job, car, items, result.Payload)
	return OutcomeAck, nil
}

// analyze gathers the car's media and calls the analysis service.
func (p *Processor) analyze(ctx context.Context, logger *slog.Logger, job *models.Job) (*models.Car, []*models.Media, models.AnalyzeResult, error) {
	var none models.AnalyzeResult

	car, err := p.deps.CarData.GetCar(ctx, job.CarID)
	if err != nil {
		return nil, nil, none, fmt.Errorf("load car: %w", err)
	}
	items, err := p.deps.CarData.ListMediaByCar(ctx, job.CarID)
	if err != nil {
		return nil, nil, none, fmt.Errorf("load media: %w", err)
	}

	in := p.deps.Resolver.Resolve(ctx, items)
	if len(in.ImageURLs) == 0 {
		if p.cfg.FailFastOnNoImages {
			return nil, nil, none, NewPermanentError(ErrNoImagesAvailable)
		}
		return nil, nil, none, ErrNoImagesAvailable
	}
	logger.Info("resolved media", "images", len(in.ImageURLs), "has_audio", in.AudioURL != "")

	if _, err := p.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing, store.WithProgress(progressCalling)); err != nil {
		if errors.Is(err, store.ErrInvalidJobTransition) {
			logger.Info("job changed before analysis, skipping")
			return nil, nil, none, errDiscarded
		}
		return nil, nil, none, fmt.Errorf("update progress: %w", err)
	}

	start := time.Now()
	result, err := p.deps.Analyzer.Analyze(ctx, models.AnalyzeRequest{
		JobID:     job.ID.String(),
		ImageURLs: in.ImageURLs,
		AudioURL:  in.AudioURL,
	})
	if err != nil {
		metrics.AICall("error", time.Since(start))
		return nil, nil, none, err
	}
	metrics.AICall("success", time.Since(start))
	if result.Payload == nil {
		result.Payload = map[string]any{}
	}
	return car, items, result, nil
}

// fail records a failed attempt. The last attempt, or a permanent error, marks the job
// FAILED and unlocks the car; earlier attempts keep the job PROCESSING for the retry.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, job *models.Job, msg queue.Message, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		logger.Warn("attempt interrupted by shutdown, leaving for redelivery", "error", cause)
		return OutcomeAbandon, cause
	}

	reason := cause.Error()
	maxAttempts := p.cfg.Policy.MaxAttempts

	if p.cfg.Policy.Exhausted(msg.Attempt) || IsPermanent(cause) {
		logger.Error("job failed", "error", cause, "permanent", IsPermanent(cause))
		_, err := p.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithAttemptCount(msg.Attempt),
			store.WithErrorReason(reason),
			store.WithProgress(progressFailed),
		)
		if errors.Is(err, store.ErrInvalidJobTransition) {
			logger.Info("job changed while failing, skipping")
			return OutcomeAck, errDiscarded
		}
		if err != nil {
			logger.Error("failed to mark job failed", "error", err)
			return OutcomeAbandon, cause
		}

		if _, err := p.deps.Cars.Unlock(ctx, job.CarID, carlock.System(job.UserID), "AI analysis failed: "+reason); err != nil {
			logger.Error("failed to unlock car after job failure", "error", err)
		} else {
			logger.Info("car unlocked after job failure", "status", models.CarStatusMediaUploaded)
		}
		return OutcomeFailed, cause
	}

	logger.Warn("attempt failed, will retry", "error", cause, "max_attempts", maxAttempts)
	_, err := p.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing,
		store.WithAttemptCount(msg.Attempt),
		store.WithErrorReason(reason),
		store.WithProgress(fmt.Sprintf("Processing failed (attempt %d/%d)", msg.Attempt, maxAttempts)),
	)
	if errors.Is(err, store.ErrInvalidJobTransition) {
		logger.Info("job changed while failing, skipping")
		return OutcomeAck, errDiscarded
	}
	if err != nil {
		logger.Error("failed to record attempt failure", "error", err)
	}
	return OutcomeRetry, cause
}

// synthesize creates the report and moves the car to REPORT_READY. Failures here are
// recorded on the job's report status and never change the job status.
func (p *Processor) synthesize(ctx context.Context, logger *slog.Logger, job *models.Job, car *models.Car, items []*models.Media, result map[string]any) {
	if err := p.deps.Jobs.SetReportStatus(ctx, job.ID, models.ReportStatusPending, nil); err != nil {
		logger.Warn("failed to set report status", "error", err)
	}

	in := report.NewInput(car, job.ID, p.reportMedia(ctx, items), result)
	r, err := p.deps.Reports.CreateFromAIResult(ctx, in)
	if err != nil {
		metrics.ReportFailures.Inc()
		logger.Error("failed to create report", "error", err)
		if serr := p.deps.Jobs.SetReportStatus(ctx, job.ID, models.ReportStatusFailed, nil); serr != nil {
			logger.Warn("failed to set report status", "error", serr)
		}
		if _, uerr := p.deps.Cars.Unlock(ctx, car.ID, carlock.System(car.UserID), "report generation failed"); uerr != nil {
			logger.Error("failed to unlock car after report failure", "error", uerr)
		}
		return
	}

	if err := p.deps.Jobs.SetReportStatus(ctx, job.ID, models.ReportStatusCreated, &r.ID); err != nil {
		logger.Warn("failed to set report status", "error", err)
	}
	if _, err := p.deps.Cars.Transition(ctx, car.ID, models.CarStatusReportReady, carlock.System(car.UserID), ""); err != nil {
		logger.Error("failed to mark car report ready", "report_id", r.ID, "error", err)
		return
	}
	logger.Info("report created", "report_id", r.ID, "trust_score", r.TrustScore, "verdict", r.Verdict)
}

func (p *Processor) reportMedia(ctx context.Context, items []*models.Media) []models.ReportMedia {
	out := make([]models.ReportMedia, 0, len(items))
	for _, m := range items {
		if !m.IsUploaded {
			continue
		}
		u, err := p.deps.Resolver.URL(ctx, m)
		if err != nil {
			u = m.StorageURL
		}
		out = append(out, models.ReportMedia{ID: m.ID, Type: m.Type, PhotoType: m.PhotoType, URL: u})
	}
	return out
}

func outcomeLabel(o Outcome, err error) string {
	switch {
	case errors.Is(err, errDiscarded):
		return metrics.OutcomeCancelled
	case o == OutcomeRetry:
		return metrics.OutcomeRetried
	case o == OutcomeFailed:
		return metrics.OutcomeFailed
	case o == OutcomeAbandon:
		return metrics.OutcomeSkipped
	}
	return metrics.OutcomeCompleted
}
