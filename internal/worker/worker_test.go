package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/processor"
	"github.com/driftware/flowengine/internal/queue"
)

// recordingBroker captures the calls the worker makes.
type recordingBroker struct {
	mu          sync.Mutex
	acks        []queue.Outcome
	retryDelays []time.Duration
	ackErr      error
}

func (b *recordingBroker) Enqueue(ctx context.Context, job *domain.Job) error { return nil }

func (b *recordingBroker) Lease(ctx context.Context, q string, leaseFor time.Duration) (*queue.LeasedJob, error) {
	return nil, queue.ErrNoJob
}

func (b *recordingBroker) RenewLease(ctx context.Context, leased *queue.LeasedJob, leaseFor time.Duration) error {
	return nil
}

func (b *recordingBroker) Ack(ctx context.Context, leased *queue.LeasedJob, outcome queue.Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	b.acks = append(b.acks, outcome)
	return nil
}

func (b *recordingBroker) Retry(ctx context.Context, leased *queue.LeasedJob, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryDelays = append(b.retryDelays, delay)
	return nil
}

func (b *recordingBroker) Remove(ctx context.Context, q string, jobID uuid.UUID) (bool, error) {
	return false, nil
}

func (b *recordingBroker) PromoteDue(ctx context.Context, q string, limit int) (int, error) {
	return 0, nil
}

func (b *recordingBroker) ReclaimExpired(ctx context.Context, q string, maxStalled, limit int) ([]*domain.Job, []*domain.Job, error) {
	return nil, nil, nil
}

func (b *recordingBroker) Pause(ctx context.Context, q string) error  { return nil }
func (b *recordingBroker) Resume(ctx context.Context, q string) error { return nil }
func (b *recordingBroker) Paused(ctx context.Context, q string) (bool, error) {
	return false, nil
}

func (b *recordingBroker) Stats(ctx context.Context, q string) (queue.QueueStats, error) {
	return queue.QueueStats{}, nil
}

func (b *recordingBroker) Ping(ctx context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

// scriptedProcessor counts hook invocations and fails on demand.
type scriptedProcessor struct {
	mu          sync.Mutex
	validateErr error
	executeErr  error
	panicWith   interface{}
	executed    int
	successes   int
	failures    int
}

func (p *scriptedProcessor) Validate(ctx context.Context, job *domain.Job) error {
	return p.validateErr
}

func (p *scriptedProcessor) Execute(ctx context.Context, job *domain.Job, progress processor.ProgressFunc) (processor.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed++
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	if p.executeErr != nil {
		return processor.Result{}, p.executeErr
	}
	return processor.Result{Message: "done"}, nil
}

func (p *scriptedProcessor) OnSuccess(ctx context.Context, job *domain.Job, result processor.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
}

func (p *scriptedProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
}

// collectingSink records submitted dead letters.
type collectingSink struct {
	mu        sync.Mutex
	submitted []*domain.Job
	errs      []error
}

func (s *collectingSink) Submit(ctx context.Context, job *domain.Job, jobErr error, workerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, job)
	s.errs = append(s.errs, jobErr)
	return nil
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Name:             "test-worker",
		Queue:            queue.QueueStandard,
		Concurrency:      2,
		PollInterval:     10 * time.Millisecond,
		LeaseDuration:    30 * time.Second,
		ExecutionTimeout: time.Second,
	}
}

func testJob(maxAttempts int) *queue.LeasedJob {
	return &queue.LeasedJob{
		Job: &domain.Job{
			ID:          uuid.New(),
			Type:        domain.JobTypeDataSync,
			Queue:       queue.QueueStandard,
			MaxAttempts: maxAttempts,
			Backoff:     domain.BackoffPolicy{Type: "exponential", Base: 2 * time.Second, Max: time.Minute},
		},
		Token: "tok",
	}
}

func newTestWorker(t *testing.T, proc processor.Processor, broker queue.Broker, sink DeadLetterSink) *Worker {
	t.Helper()
	registry := processor.NewRegistry()
	if proc != nil {
		registry.Register(domain.JobTypeDataSync, proc)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testWorkerConfig(), broker, registry, sink, nil, logger)
}

func TestWorker_ProcessSuccess(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	w.process(context.Background(), testJob(3))

	assert.Equal(t, []queue.Outcome{queue.OutcomeCompleted}, broker.acks)
	assert.Equal(t, 1, proc.executed)
	assert.Equal(t, 1, proc.successes)
	assert.Zero(t, proc.failures)
	assert.Empty(t, sink.submitted)

	health := w.Health()
	assert.Equal(t, int64(1), health.Processed)
	assert.Zero(t, health.Failed)
	require.NotNil(t, health.LastProcessedAt)

	_, count := w.execTotals()
	assert.Equal(t, int64(1), count, "execution time is recorded for the queue average")
}

func TestWorker_PanicInExecuteIsContained(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{panicWith: "runtime error: invalid memory address or nil pointer dereference"}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	leased := testJob(1)
	require.NotPanics(t, func() {
		w.process(context.Background(), leased)
	})

	// The panic is converted into a terminal failure on the final
	// attempt: failed ack, OnFailure once, dead-lettered with a message
	// that classifies as a code defect.
	assert.Equal(t, []queue.Outcome{queue.OutcomeFailed}, broker.acks)
	assert.Equal(t, 1, proc.failures)
	require.Len(t, sink.errs, 1)
	assert.Contains(t, sink.errs[0].Error(), "panic: runtime error: invalid memory address")
}

func TestWorker_PanicConsumesAttemptAndRetries(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{panicWith: "boom"}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	leased := testJob(3)
	require.NotPanics(t, func() {
		w.process(context.Background(), leased)
	})

	assert.Equal(t, 1, leased.Job.AttemptsMade)
	require.Len(t, broker.retryDelays, 1)
	assert.Empty(t, sink.submitted)
}

func TestWorker_ProcessFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{executeErr: errors.New("connection refused")}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	leased := testJob(3)
	w.process(context.Background(), leased)

	assert.Equal(t, 1, leased.Job.AttemptsMade)
	require.Len(t, broker.retryDelays, 1)
	assert.Equal(t, 2*time.Second, broker.retryDelays[0])
	assert.Empty(t, broker.acks)
	assert.Zero(t, proc.failures, "OnFailure must not fire while attempts remain")
	assert.Empty(t, sink.submitted)
	assert.Equal(t, "connection refused", w.Health().LastError)
}

func TestWorker_ProcessExhaustionDeadLetters(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{executeErr: errors.New("connection refused")}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	leased := testJob(1)
	w.process(context.Background(), leased)

	assert.Equal(t, []queue.Outcome{queue.OutcomeFailed}, broker.acks)
	assert.Empty(t, broker.retryDelays)
	assert.Equal(t, 1, proc.failures, "OnFailure fires exactly once, on the final attempt")
	require.Len(t, sink.submitted, 1)
	assert.Equal(t, leased.Job.ID, sink.submitted[0].ID)
}

func TestWorker_ValidationFailureSkipsRetryBudget(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	proc := &scriptedProcessor{validateErr: errors.New("missing required field to")}
	sink := &collectingSink{}
	w := newTestWorker(t, proc, broker, sink)

	leased := testJob(3)
	w.process(context.Background(), leased)

	assert.Zero(t, proc.executed, "Execute must not run after validation failure")
	assert.Equal(t, 1, proc.failures)
	assert.Equal(t, []queue.Outcome{queue.OutcomeFailed}, broker.acks)
	assert.Empty(t, broker.retryDelays, "validation failures bypass the retry budget")
	require.Len(t, sink.submitted, 1)
}

func TestWorker_UnknownJobTypeDeadLetters(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	sink := &collectingSink{}
	w := newTestWorker(t, nil, broker, sink)

	w.process(context.Background(), testJob(3))

	assert.Equal(t, []queue.Outcome{queue.OutcomeFailed}, broker.acks)
	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], domain.ErrNoProcessorFound)
}

func TestWorker_PauseBlocksLeasing(t *testing.T) {
	t.Parallel()

	broker := &recordingBroker{}
	w := newTestWorker(t, &scriptedProcessor{}, broker, nil)

	w.Pause()
	err := w.step(context.Background())
	require.Error(t, err)
	assert.True(t, w.Health().Paused)

	w.Resume()
	assert.False(t, w.Health().Paused)
}
