// Package worker runs the lease-execute-ack loops that drain the job
// queues. Each worker binds to exactly one queue and owns its
// concurrency cap, rate limit and lease renewal; cross-worker lifecycle
// (startup, drain, stalled-job sweeps) belongs to the Manager.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/events"
	"github.com/driftware/flowengine/internal/processor"
	"github.com/driftware/flowengine/internal/queue"
)

// DeadLetterSink receives jobs that have exhausted their attempts (or
// failed validation outright) for classification and recovery.
type DeadLetterSink interface {
	Submit(ctx context.Context, job *domain.Job, jobErr error, workerName string) error
}

// Health is a point-in-time snapshot of one worker's state.
type Health struct {
	Name            string     `json:"name"`
	Queue           string     `json:"queue"`
	Paused          bool       `json:"paused"`
	Active          int64      `json:"active"`
	Processed       int64      `json:"processed"`
	Failed          int64      `json:"failed"`
	LastError       string     `json:"last_error,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	AvgProcessingMs int64      `json:"avg_processing_ms"`
}

// Worker leases jobs from one queue and runs them through the processor
// registry. All job state changes go through the broker under the
// lease's token, so a worker that loses its lease cannot corrupt a job
// another worker has reclaimed.
type Worker struct {
	cfg      config.WorkerConfig
	broker   queue.Broker
	registry *processor.Registry
	sink     DeadLetterSink
	emitter  events.EventEmitter
	limiter  *slidingWindowLimiter
	sem      *semaphore.Weighted
	logger   *slog.Logger

	paused          atomic.Bool
	active          atomic.Int64
	processed       atomic.Int64
	failed          atomic.Int64
	lastError       atomic.String
	lastProcessedAt atomic.Time

	// execMillis/execCount feed the per-queue average processing time
	// the health score penalizes on.
	execMillis atomic.Int64
	execCount  atomic.Int64
}

// New creates a worker bound to the queue named in its config.
func New(cfg config.WorkerConfig, broker queue.Broker, registry *processor.Registry, sink DeadLetterSink, emitter events.EventEmitter, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		broker:   broker,
		registry: registry,
		sink:     sink,
		emitter:  emitter,
		limiter:  newSlidingWindowLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:   logger.With("worker", cfg.Name, "queue", cfg.Queue),
	}
}

// Name returns the worker's configured name.
func (w *Worker) Name() string { return w.cfg.Name }

// Queue returns the queue this worker drains.
func (w *Worker) Queue() string { return w.cfg.Queue }

// Pause stops the worker from leasing new jobs. In-flight jobs run to
// completion.
func (w *Worker) Pause() {
	w.paused.Store(true)
	w.logger.Info("worker paused")
}

// Resume restarts leasing.
func (w *Worker) Resume() {
	w.paused.Store(false)
	w.logger.Info("worker resumed")
}

// ActiveJobs returns the number of jobs currently executing.
func (w *Worker) ActiveJobs() int64 { return w.active.Load() }

// Health returns the worker's current counters.
func (w *Worker) Health() Health {
	h := Health{
		Name:      w.cfg.Name,
		Queue:     w.cfg.Queue,
		Paused:    w.paused.Load(),
		Active:    w.active.Load(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		LastError: w.lastError.Load(),
	}
	if t := w.lastProcessedAt.Load(); !t.IsZero() {
		h.LastProcessedAt = &t
	}
	if count := w.execCount.Load(); count > 0 {
		h.AvgProcessingMs = w.execMillis.Load() / count
	}
	return h
}

// execTotals returns the cumulative execution time and count, for
// per-queue aggregation by the Manager.
func (w *Worker) execTotals() (millis, count int64) {
	return w.execMillis.Load(), w.execCount.Load()
}

// Run drives the lease loop until ctx is cancelled. In-flight jobs are
// tracked through the semaphore; Run returns only after the loop stops,
// not after in-flight jobs finish (the Manager waits on those).
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		"concurrency", w.cfg.Concurrency,
		"rate_limit_max", w.cfg.RateLimit.Max,
		"rate_limit_window", w.cfg.RateLimit.Window)

	for {
		if err := w.step(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return
			}
			w.sleep(ctx, w.cfg.PollInterval)
		}
	}
}

// step performs one lease attempt. A non-nil return tells the loop to
// back off for a poll interval.
func (w *Worker) step(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if w.paused.Load() {
		return errors.New("paused")
	}

	if wait := w.limiter.NextAllowed(); wait > 0 {
		w.sleep(ctx, wait)
		return ctx.Err()
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	leased, err := w.broker.Lease(ctx, w.cfg.Queue, w.cfg.LeaseDuration)
	if err != nil {
		w.sem.Release(1)
		if errors.Is(err, queue.ErrNoJob) {
			return err
		}
		if !errors.Is(err, queue.ErrBrokerUnavailable) {
			w.logger.Error("lease failed", "error", err)
		}
		return err
	}

	if !w.limiter.Allow() {
		// Lost the rate-limit race to a concurrent step; put the job back.
		if retryErr := w.broker.Retry(ctx, leased, 0); retryErr != nil {
			w.logger.Error("failed to return rate-limited job", "job_id", leased.Job.ID, "error", retryErr)
		}
		w.sem.Release(1)
		return errors.New("rate limited")
	}

	w.active.Inc()
	go func() {
		defer w.sem.Release(1)
		defer w.active.Dec()
		w.process(ctx, leased)
	}()
	return nil
}

// process runs one leased job through its processor with lease renewal
// and an execution timeout.
func (w *Worker) process(ctx context.Context, leased *queue.LeasedJob) {
	job := leased.Job
	logger := w.logger.With("job_id", job.ID, "job_type", job.Type, "attempt", job.AttemptsMade+1)

	renewCtx, stopRenewal := context.WithCancel(ctx)
	defer stopRenewal()
	go w.renewLease(renewCtx, leased, logger)

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.ExecutionTimeout)
	defer cancel()

	proc, err := w.registry.Get(job.Type)
	if err != nil {
		// No processor will ever match; retrying cannot help.
		logger.Error("no processor registered", "error", err)
		w.deadLetter(ctx, leased, err, logger)
		return
	}

	if err := proc.Validate(execCtx, job); err != nil {
		// Validation failures are not transient; they skip the retry
		// budget and go straight to classification.
		logger.Warn("job failed validation", "error", err)
		proc.OnFailure(ctx, job, err)
		w.deadLetter(ctx, leased, err, logger)
		return
	}

	start := time.Now()
	result, execErr := w.execute(execCtx, proc, job, logger)
	stopRenewal()
	w.execMillis.Add(time.Since(start).Milliseconds())
	w.execCount.Inc()

	if execErr != nil {
		w.handleFailure(ctx, leased, proc, execErr, logger)
		return
	}

	if err := w.broker.Ack(ctx, leased, queue.OutcomeCompleted); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			// Another worker reclaimed the job mid-run; its result wins.
			logger.Warn("lease lost before completion ack")
			w.emit(ctx, events.EventJobStalled, job, "")
			return
		}
		logger.Error("failed to ack completed job", "error", err)
		return
	}

	proc.OnSuccess(ctx, job, result)
	w.processed.Inc()
	w.lastProcessedAt.Store(time.Now().UTC())
	w.emit(ctx, events.EventJobCompleted, job, "")
	logger.Info("job completed", "duration", time.Since(start))
}

// execute runs the processor with panic containment. A panicking
// processor is a code defect in that processor, not in the worker; the
// panic becomes an error so the job dead-letters on its own instead of
// taking every in-flight job down with the process.
func (w *Worker) execute(ctx context.Context, proc processor.Processor, job *domain.Job, logger *slog.Logger) (result processor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("processor panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	return proc.Execute(ctx, job, func(percent int) {
		logger.Debug("job progress", "percent", percent)
	})
}

// handleFailure consumes one attempt and either schedules a retry or
// routes the job to the dead-letter pipeline.
func (w *Worker) handleFailure(ctx context.Context, leased *queue.LeasedJob, proc processor.Processor, execErr error, logger *slog.Logger) {
	job := leased.Job
	job.AttemptsMade++
	w.failed.Inc()
	w.lastError.Store(execErr.Error())

	if !job.AttemptsExhausted() {
		delay := job.Backoff.Delay(job.AttemptsMade)
		if err := w.broker.Retry(ctx, leased, delay); err != nil {
			if errors.Is(err, queue.ErrLeaseLost) {
				logger.Warn("lease lost before retry", "error", execErr)
				w.emit(ctx, events.EventJobStalled, job, execErr.Error())
				return
			}
			logger.Error("failed to schedule retry", "error", err)
			return
		}
		w.emit(ctx, events.EventJobFailed, job, execErr.Error())
		logger.Warn("job failed, retry scheduled",
			"error", execErr,
			"retry_delay", delay,
			"attempts_remaining", job.MaxAttempts-job.AttemptsMade)
		return
	}

	// Final attempt spent. OnFailure fires exactly once, here.
	proc.OnFailure(ctx, job, execErr)
	w.deadLetter(ctx, leased, execErr, logger)
	logger.Error("job exhausted attempts", "error", execErr, "attempts", job.AttemptsMade)
}

// deadLetter terminally fails the leased job and hands it to the sink.
func (w *Worker) deadLetter(ctx context.Context, leased *queue.LeasedJob, jobErr error, logger *slog.Logger) {
	job := leased.Job

	if err := w.broker.Ack(ctx, leased, queue.OutcomeFailed); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			logger.Warn("lease lost before failure ack")
			w.emit(ctx, events.EventJobStalled, job, jobErr.Error())
			return
		}
		logger.Error("failed to ack failed job", "error", err)
	}

	if w.sink != nil {
		if err := w.sink.Submit(ctx, job, jobErr, w.cfg.Name); err != nil {
			logger.Error("failed to submit job to dead-letter pipeline", "error", err)
		}
	}
	w.emit(ctx, events.EventJobDeadLettered, job, jobErr.Error())
}

// renewLease extends the lease at a third of its duration until the job
// finishes or the lease is lost.
func (w *Worker) renewLease(ctx context.Context, leased *queue.LeasedJob, logger *slog.Logger) {
	interval := w.cfg.LeaseDuration / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.broker.RenewLease(ctx, leased, w.cfg.LeaseDuration); err != nil {
				if errors.Is(err, queue.ErrLeaseLost) {
					logger.Warn("lease renewal rejected, job reclaimed")
					return
				}
				logger.Error("lease renewal failed", "error", err)
			}
		}
	}
}

func (w *Worker) emit(ctx context.Context, eventType events.EventType, job *domain.Job, errMsg string) {
	if w.emitter == nil {
		return
	}
	event := events.NewJobLifecycleEvent(eventType, job.ID, string(job.Type), job.Queue)
	event.WorkerName = w.cfg.Name
	event.Attempt = job.AttemptsMade
	event.Error = errMsg
	if err := w.emitter.EmitEvent(ctx, event); err != nil {
		w.logger.Debug("event emission failed", "event_type", eventType, "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// String identifies the worker in logs.
func (w *Worker) String() string {
	return fmt.Sprintf("worker %s (queue %s)", w.cfg.Name, w.cfg.Queue)
}
