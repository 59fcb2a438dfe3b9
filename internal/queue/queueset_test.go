package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/store"
)

// fakeBroker is an in-memory Broker for tests. It models job keys,
// paused queues and per-queue job maps, but no lease bookkeeping.
type fakeBroker struct {
	mu      sync.Mutex
	jobs    map[string]map[uuid.UUID]*domain.Job
	jobKeys map[string]bool
	paused  map[string]bool

	enqueueErr error
	removed    []uuid.UUID
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		jobs:    make(map[string]map[uuid.UUID]*domain.Job),
		jobKeys: make(map[string]bool),
		paused:  make(map[string]bool),
	}
}

func (b *fakeBroker) Enqueue(ctx context.Context, job *domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enqueueErr != nil {
		return b.enqueueErr
	}
	if job.JobKey != "" {
		if b.jobKeys[job.JobKey] {
			return fmt.Errorf("%w: key %q", domain.ErrDuplicateJob, job.JobKey)
		}
		b.jobKeys[job.JobKey] = true
	}
	if b.jobs[job.Queue] == nil {
		b.jobs[job.Queue] = make(map[uuid.UUID]*domain.Job)
	}
	b.jobs[job.Queue][job.ID] = job
	return nil
}

func (b *fakeBroker) Lease(ctx context.Context, queue string, leaseFor time.Duration) (*LeasedJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused[queue] {
		return nil, ErrNoJob
	}
	for _, job := range b.jobs[queue] {
		delete(b.jobs[queue], job.ID)
		return &LeasedJob{Job: job, Token: "tok"}, nil
	}
	return nil, ErrNoJob
}

func (b *fakeBroker) RenewLease(ctx context.Context, leased *LeasedJob, leaseFor time.Duration) error {
	return nil
}

func (b *fakeBroker) Ack(ctx context.Context, leased *LeasedJob, outcome Outcome) error {
	return nil
}

func (b *fakeBroker) Retry(ctx context.Context, leased *LeasedJob, delay time.Duration) error {
	return b.Enqueue(ctx, leased.Job)
}

func (b *fakeBroker) Remove(ctx context.Context, queue string, jobID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, jobID)
	if _, ok := b.jobs[queue][jobID]; ok {
		delete(b.jobs[queue], jobID)
		return true, nil
	}
	return false, nil
}

func (b *fakeBroker) PromoteDue(ctx context.Context, queue string, limit int) (int, error) {
	return 0, nil
}

func (b *fakeBroker) ReclaimExpired(ctx context.Context, queue string, maxStalled, limit int) ([]*domain.Job, []*domain.Job, error) {
	return nil, nil, nil
}

func (b *fakeBroker) Pause(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[queue] = true
	return nil
}

func (b *fakeBroker) Resume(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[queue] = false
	return nil
}

func (b *fakeBroker) Paused(ctx context.Context, queue string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused[queue], nil
}

func (b *fakeBroker) Stats(ctx context.Context, queue string) (QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return QueueStats{Waiting: int64(len(b.jobs[queue]))}, nil
}

func (b *fakeBroker) Ping(ctx context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func (b *fakeBroker) queued(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs[queue])
}

// fakeWorkflowStore serves a fixed set of workflows.
type fakeWorkflowStore struct {
	workflows map[uuid.UUID]*domain.Workflow
}

func (s *fakeWorkflowStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	if w, ok := s.workflows[id]; ok {
		return w, nil
	}
	return nil, store.ErrWorkflowNotFound
}

// fakeExecutionStore records executions in memory.
type fakeExecutionStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*domain.ExecutionRecord
	createErr error
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{records: make(map[uuid.UUID]*domain.ExecutionRecord)}
}

func (s *fakeExecutionStore) CreateExecution(ctx context.Context, record *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.records[record.ID] = record
	return nil
}

func (s *fakeExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		return r, nil
	}
	return nil, store.ErrExecutionNotFound
}

func (s *fakeExecutionStore) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	if !r.Status.CanTransitionTo(status) {
		return domain.ErrTerminalStatus
	}
	r.Status = status
	r.ErrorMessage = errorMsg
	return nil
}

func (s *fakeExecutionStore) UpdateExecutionContext(ctx context.Context, id uuid.UUID, execCtx domain.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	r.Context = execCtx
	return nil
}

func (s *fakeExecutionStore) WithTx(tx *sql.Tx) store.ExecutionStore { return s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "welcome-flow",
		Status:         domain.WorkflowStatusActive,
	}
}

func newTestQueueSet(t *testing.T) (*JobQueueSet, *fakeBroker, *fakeWorkflowStore, *fakeExecutionStore) {
	t.Helper()
	broker := newFakeBroker()
	workflows := &fakeWorkflowStore{workflows: make(map[uuid.UUID]*domain.Workflow)}
	executions := newFakeExecutionStore()
	return NewJobQueueSet(broker, workflows, executions, testLogger()), broker, workflows, executions
}

func TestJobQueueSet_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("routes job to its home queue with queue defaults", func(t *testing.T) {
		t.Parallel()
		set, _, _, _ := newTestQueueSet(t)

		job, err := set.Enqueue(context.Background(), domain.JobTypeSMSCampaign, domain.JobPayload{}, EnqueueOptions{})
		require.NoError(t, err)

		assert.Equal(t, QueuePriority, job.Queue)
		assert.Equal(t, domain.PriorityDefault, job.Priority)
		assert.Equal(t, 5, job.MaxAttempts)
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		t.Parallel()
		set, broker, _, _ := newTestQueueSet(t)

		_, err := set.Enqueue(context.Background(), domain.JobTypeDataSync, domain.JobPayload{}, EnqueueOptions{Priority: "urgent"})
		assert.ErrorIs(t, err, domain.ErrInvalidPriority)
		assert.Zero(t, broker.queued(QueueStandard))
	})

	t.Run("duplicate job key is rejected", func(t *testing.T) {
		t.Parallel()
		set, _, _, _ := newTestQueueSet(t)

		_, err := set.Enqueue(context.Background(), domain.JobTypeDataSync, domain.JobPayload{}, EnqueueOptions{JobKey: "sync:crm"})
		require.NoError(t, err)

		_, err = set.Enqueue(context.Background(), domain.JobTypeDataSync, domain.JobPayload{}, EnqueueOptions{JobKey: "sync:crm"})
		assert.ErrorIs(t, err, domain.ErrDuplicateJob)
	})

	t.Run("delay sets the eligibility time", func(t *testing.T) {
		t.Parallel()
		set, _, _, _ := newTestQueueSet(t)

		job, err := set.Enqueue(context.Background(), domain.JobTypeDataSync, domain.JobPayload{}, EnqueueOptions{Delay: time.Minute})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), job.NotBefore, 2*time.Second)
	})
}

func TestJobQueueSet_EnqueueWorkflowExecution(t *testing.T) {
	t.Parallel()

	t.Run("creates execution record correlated with the job", func(t *testing.T) {
		t.Parallel()
		set, broker, workflows, executions := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflows.workflows[workflow.ID] = workflow

		executionID, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID,
			map[string]interface{}{"source": "form"}, EnqueueOptions{})
		require.NoError(t, err)

		record, err := executions.GetExecution(context.Background(), executionID)
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionStatusPending, record.Status)
		assert.Equal(t, workflow.ID, record.WorkflowID)
		assert.NotEqual(t, uuid.Nil, record.JobID)
		assert.Equal(t, QueueStandard, record.Queue)
		assert.Equal(t, 1, broker.queued(QueueStandard))
	})

	t.Run("unknown workflow fails without queueing", func(t *testing.T) {
		t.Parallel()
		set, broker, _, _ := newTestQueueSet(t)

		_, err := set.EnqueueWorkflowExecution(context.Background(), uuid.New(), nil, EnqueueOptions{})
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
		assert.Zero(t, broker.queued(QueueStandard))
	})

	t.Run("inactive workflow fails without queueing", func(t *testing.T) {
		t.Parallel()
		set, broker, workflows, _ := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflow.Status = domain.WorkflowStatusPaused
		workflows.workflows[workflow.ID] = workflow

		_, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID, nil, EnqueueOptions{})
		assert.ErrorIs(t, err, domain.ErrWorkflowNotActive)
		assert.Zero(t, broker.queued(QueueStandard))
	})

	t.Run("record create failure removes the queued job", func(t *testing.T) {
		t.Parallel()
		set, broker, workflows, executions := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflows.workflows[workflow.ID] = workflow
		executions.createErr = errors.New("db down")

		_, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID, nil, EnqueueOptions{})
		require.Error(t, err)
		assert.Zero(t, broker.queued(QueueStandard))
		assert.Len(t, broker.removed, 1)
	})
}

func TestJobQueueSet_EnqueueRecovered(t *testing.T) {
	t.Parallel()

	set, _, _, _ := newTestQueueSet(t)
	originalID := uuid.New()

	job, err := set.EnqueueRecovered(context.Background(), domain.JobSnapshot{
		JobID: originalID,
		Type:  domain.JobTypeEmailSequence,
		Queue: QueueStandard,
	}, 2, "recover", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityHigh, job.Priority)
	assert.Equal(t, 2, job.MaxAttempts)
	require.NotNil(t, job.Recovery)
	assert.Equal(t, originalID, job.Recovery.OriginalJobID)
	assert.Equal(t, 2, job.Recovery.Attempt)
	assert.Equal(t, "recover", job.Recovery.Strategy)
	assert.False(t, job.NotBefore.IsZero())
}

func TestJobQueueSet_CancelExecution(t *testing.T) {
	t.Parallel()

	t.Run("waiting job is removed and record cancelled", func(t *testing.T) {
		t.Parallel()
		set, broker, workflows, executions := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflows.workflows[workflow.ID] = workflow

		executionID, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID, nil, EnqueueOptions{})
		require.NoError(t, err)

		require.NoError(t, set.CancelExecution(context.Background(), executionID))

		record, err := executions.GetExecution(context.Background(), executionID)
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
		assert.Zero(t, broker.queued(QueueStandard))
	})

	t.Run("active job cannot be removed but record is still cancelled", func(t *testing.T) {
		t.Parallel()
		set, broker, workflows, executions := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflows.workflows[workflow.ID] = workflow

		executionID, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID, nil, EnqueueOptions{})
		require.NoError(t, err)

		// A worker leases the job before the cancel arrives; Remove
		// cannot take it back.
		leased, err := broker.Lease(context.Background(), QueueStandard, 30*time.Second)
		require.NoError(t, err)

		require.NoError(t, set.CancelExecution(context.Background(), executionID))

		record, err := executions.GetExecution(context.Background(), executionID)
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
		assert.Contains(t, broker.removed, leased.Job.ID, "removal was attempted")
	})

	t.Run("cancelling twice is a no-op", func(t *testing.T) {
		t.Parallel()
		set, _, workflows, _ := newTestQueueSet(t)
		workflow := activeWorkflow()
		workflows.workflows[workflow.ID] = workflow

		executionID, err := set.EnqueueWorkflowExecution(context.Background(), workflow.ID, nil, EnqueueOptions{})
		require.NoError(t, err)

		require.NoError(t, set.CancelExecution(context.Background(), executionID))
		assert.NoError(t, set.CancelExecution(context.Background(), executionID))
	})

	t.Run("unknown execution fails", func(t *testing.T) {
		t.Parallel()
		set, _, _, _ := newTestQueueSet(t)

		err := set.CancelExecution(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrExecutionNotFound)
	})
}

func TestJobQueueSet_PauseAll(t *testing.T) {
	t.Parallel()

	set, broker, _, _ := newTestQueueSet(t)
	ctx := context.Background()

	require.NoError(t, set.PauseAll(ctx, "incident"))
	for _, name := range QueueNames() {
		paused, err := broker.Paused(ctx, name)
		require.NoError(t, err)
		assert.True(t, paused, "queue %s should be paused", name)
	}

	require.NoError(t, set.ResumeAll(ctx, "incident resolved"))
	for _, name := range QueueNames() {
		paused, err := broker.Paused(ctx, name)
		require.NoError(t, err)
		assert.False(t, paused, "queue %s should be resumed", name)
	}
}
