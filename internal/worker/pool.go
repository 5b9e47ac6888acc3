package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/carinspect/internal/metrics"
	"github.com/kiranshivaraju/carinspect/internal/queue"
)

// Queue is the consumer side of the job queue.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Retry(ctx context.Context, d *queue.Delivery, delay time.Duration) error
	DeadLetter(ctx context.Context, d *queue.Delivery, reason string) error
	RequeueExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler runs one attempt for a message.
type Handler interface {
	Process(ctx context.Context, msg queue.Message) (Outcome, error)
}

// Pool runs a fixed number of workers that drain the queue.
type Pool struct {
	queue   Queue
	handler Handler
	policy  queue.RetryPolicy
	config  Config
	logger  *slog.Logger

	wg         sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
	cancelJobs context.CancelFunc
}

// NewPool creates a Pool. It must be started with Start() and stopped with Stop().
func NewPool(q Queue, h Handler, policy queue.RetryPolicy, config Config, logger *slog.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:   q,
		handler: h,
		policy:  policy,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start launches the workers and the maintenance loop. Attempts run on a context
// detached from ctx, so cancelling ctx alone does not interrupt them; Stop does.
func (p *Pool) Start(ctx context.Context) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelJobs = cancel

	p.maintain(jobCtx)

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(jobCtx, i+1)
	}

	p.wg.Add(1)
	go p.runMaintenance(jobCtx)

	p.logger.Info("worker pool started", "concurrency", p.config.Concurrency, "max_attempts", p.policy.MaxAttempts)
}

// Stop signals all workers to stop and waits for running attempts up to ShutdownTimeout.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool...")
		close(p.stopCh)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped gracefully")
		case <-time.After(p.config.ShutdownTimeout):
			p.logger.Warn("worker pool shutdown timeout exceeded, interrupting running jobs")
		}
		if p.cancelJobs != nil {
			p.cancelJobs()
		}
	})
}

// Run starts the pool and blocks until ctx is done, then stops it.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			logger.Debug("worker stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for p.processNext(ctx, logger) {
				select {
				case <-p.stopCh:
					return
				default:
				}
			}
		}
	}
}

// processNext handles one delivery and reports whether there may be more work.
func (p *Pool) processNext(ctx context.Context, logger *slog.Logger) bool {
	d, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue job", "error", err)
		return false
	}
	if d == nil {
		return false
	}

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	logger = logger.With("job_id", d.JobID, "attempt", d.Attempt)
	outcome, err := p.execute(ctx, d)
	p.settle(ctx, logger, d, outcome, err)
	return true
}

func (p *Pool) execute(ctx context.Context, d *queue.Delivery) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomeRetry, fmt.Errorf("panic in job handler: %v", r)
			if p.policy.Exhausted(d.Attempt) {
				outcome = OutcomeFailed
			}
		}
	}()
	return p.handler.Process(ctx, d.Message)
}

func (p *Pool) settle(ctx context.Context, logger *slog.Logger, d *queue.Delivery, outcome Outcome, jobErr error) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = p.queue.Ack(ctx, d)
	case OutcomeRetry:
		delay := p.policy.Backoff(d.Attempt)
		logger.Info("scheduling retry", "delay", delay, "error", jobErr)
		err = p.queue.Retry(ctx, d, delay)
		if err == nil {
			metrics.JobRetriesTotal.WithLabelValues("automatic").Inc()
		}
	case OutcomeFailed:
		reason := "failed"
		if jobErr != nil {
			reason = jobErr.Error()
		}
		err = p.queue.DeadLetter(ctx, d, reason)
	case OutcomeAbandon:
		logger.Warn("leaving delivery for redelivery", "error", jobErr)
		return
	}

	if errors.Is(err, queue.ErrLeaseLost) {
		logger.Warn("delivery lease lost before settling", "outcome", outcome)
		return
	}
	if err != nil {
		logger.Error("failed to settle delivery", "outcome", outcome, "error", err)
	}
}

func (p *Pool) runMaintenance(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maintain(ctx)
		}
	}
}

// maintain requeues deliveries whose worker died mid-attempt and samples queue depth.
func (p *Pool) maintain(ctx context.Context) {
	n, err := p.queue.RequeueExpired(ctx)
	if err != nil {
		p.logger.Error("failed to requeue expired deliveries", "error", err)
	} else if n > 0 {
		metrics.QueueRequeued.Add(float64(n))
		p.logger.Warn("requeued expired deliveries", "count", n)
	}

	stats, err := p.queue.Stats(ctx)
	if err != nil {
		p.logger.Error("failed to read queue stats", "error", err)
		return
	}
	metrics.QueueStats(stats.Ready, stats.Delayed, stats.InFlight, stats.Dead)
}
