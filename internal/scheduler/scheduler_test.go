package scheduler

import (
	"context"
	"fmt"
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
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
)

// fakeTriggerStore is an in-memory TriggerStore with the same
// conditional MarkFired semantics as the Postgres implementation.
type fakeTriggerStore struct {
	mu       sync.Mutex
	triggers map[uuid.UUID]*domain.ScheduleTrigger
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{triggers: make(map[uuid.UUID]*domain.ScheduleTrigger)}
}

func (s *fakeTriggerStore) SaveTrigger(ctx context.Context, trigger *domain.ScheduleTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *trigger
	s.triggers[trigger.ID] = &copied
	return nil
}

func (s *fakeTriggerStore) GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduleTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.triggers[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, store.ErrTriggerNotFound
}

func (s *fakeTriggerStore) DeactivateTrigger(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return store.ErrTriggerNotFound
	}
	t.Active = false
	return nil
}

func (s *fakeTriggerStore) ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduleTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.ScheduleTrigger
	for _, t := range s.triggers {
		if t.Active && !t.NextRunAt.After(now) {
			copied := *t
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *fakeTriggerStore) MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time, prevNextRun, nextRun time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok || !t.Active || !t.NextRunAt.Equal(prevNextRun) {
		return false, nil
	}
	t.LastRunAt = &firedAt
	t.NextRunAt = nextRun
	t.RunCount++
	return true, nil
}

func (s *fakeTriggerStore) IncrementTriggerError(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.triggers[id]; ok {
		t.ErrorCount++
	}
	return nil
}

// fakeJobQueue records enqueued jobs and workflow executions.
type fakeJobQueue struct {
	mu         sync.Mutex
	fireJobs   []*domain.Job
	jobKeys    map[string]bool
	executions []uuid.UUID
	enqueueErr error
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{jobKeys: make(map[string]bool)}
}

func (q *fakeJobQueue) Enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload, opts queue.EnqueueOptions) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if opts.JobKey != "" {
		if q.jobKeys[opts.JobKey] {
			return nil, fmt.Errorf("%w: key %q", domain.ErrDuplicateJob, opts.JobKey)
		}
		q.jobKeys[opts.JobKey] = true
	}
	job := &domain.Job{ID: uuid.New(), Type: jobType, Payload: payload, JobKey: opts.JobKey}
	q.fireJobs = append(q.fireJobs, job)
	return job, nil
}

func (q *fakeJobQueue) EnqueueWorkflowExecution(ctx context.Context, workflowID uuid.UUID, triggerData map[string]interface{}, opts queue.EnqueueOptions) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return uuid.Nil, q.enqueueErr
	}
	id := uuid.New()
	q.executions = append(q.executions, id)
	return id, nil
}

func (q *fakeJobQueue) executionCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.executions)
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeTriggerStore, *fakeJobQueue) {
	t.Helper()
	triggers := newFakeTriggerStore()
	jobs := newFakeJobQueue()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.SchedulerConfig{SweepInterval: time.Minute, MissedGrace: 30 * time.Second}
	return New(triggers, jobs, cfg, logger), triggers, jobs
}

func TestScheduler_Schedule(t *testing.T) {
	t.Parallel()

	t.Run("persists the trigger and queues its fire job", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)

		trigger, err := sched.Schedule(context.Background(), uuid.New(), domain.ScheduleTypeCron,
			domain.ScheduleConfig{Expression: "0 9 * * *"})
		require.NoError(t, err)
		assert.True(t, trigger.Active)
		assert.False(t, trigger.NextRunAt.IsZero())

		saved, err := triggers.GetTrigger(context.Background(), trigger.ID)
		require.NoError(t, err)
		assert.True(t, saved.Active)

		require.Len(t, jobs.fireJobs, 1)
		assert.Equal(t, domain.JobTypeScheduleFire, jobs.fireJobs[0].Type)
		assert.Equal(t, fmt.Sprintf("fire:%s:%d", trigger.ID, trigger.NextRunAt.Unix()), jobs.fireJobs[0].JobKey)
	})

	t.Run("invalid schedule persists nothing", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)

		_, err := sched.Schedule(context.Background(), uuid.New(), domain.ScheduleTypeCron,
			domain.ScheduleConfig{Expression: "bogus"})
		assert.ErrorIs(t, err, domain.ErrInvalidSchedule)
		assert.Empty(t, triggers.triggers)
		assert.Empty(t, jobs.fireJobs)
	})
}

func TestScheduler_FireTrigger(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	dueTrigger := func(triggers *fakeTriggerStore, scheduleType domain.ScheduleType, cfg domain.ScheduleConfig) *domain.ScheduleTrigger {
		trigger := &domain.ScheduleTrigger{
			ID:         uuid.New(),
			WorkflowID: uuid.New(),
			Type:       scheduleType,
			Config:     cfg,
			NextRunAt:  base,
			Active:     true,
		}
		require.NoError(t, triggers.SaveTrigger(context.Background(), trigger))
		return trigger
	}

	t.Run("recurring fire advances next run and queues the next fire", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(time.Second) }
		trigger := dueTrigger(triggers, domain.ScheduleTypeCron, domain.ScheduleConfig{Expression: "0 9 * * *"})

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))

		assert.Equal(t, 1, jobs.executionCount())
		updated, err := triggers.GetTrigger(context.Background(), trigger.ID)
		require.NoError(t, err)
		assert.True(t, updated.Active)
		assert.Equal(t, 1, updated.RunCount)
		assert.True(t, updated.NextRunAt.After(base), "next run must be strictly after the fired occurrence")
		require.Len(t, jobs.fireJobs, 1)
	})

	t.Run("one-shot fire deactivates the trigger", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(time.Second) }
		trigger := dueTrigger(triggers, domain.ScheduleTypeOnce, domain.ScheduleConfig{RunAt: base})

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))

		assert.Equal(t, 1, jobs.executionCount())
		updated, err := triggers.GetTrigger(context.Background(), trigger.ID)
		require.NoError(t, err)
		assert.False(t, updated.Active)
		assert.Empty(t, jobs.fireJobs, "one-shot triggers schedule no further fires")
	})

	t.Run("concurrent firer losing the conditional update enqueues nothing", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(time.Second) }
		trigger := dueTrigger(triggers, domain.ScheduleTypeCron, domain.ScheduleConfig{Expression: "0 9 * * *"})

		// A concurrent firer already advanced the trigger.
		fired, err := triggers.MarkFired(context.Background(), trigger.ID, base, base, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.True(t, fired)

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))
		assert.Zero(t, jobs.executionCount())
	})

	t.Run("fire before the due time is skipped", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(-time.Hour) }
		trigger := dueTrigger(triggers, domain.ScheduleTypeCron, domain.ScheduleConfig{Expression: "0 9 * * *"})

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))
		assert.Zero(t, jobs.executionCount())
	})

	t.Run("inactive trigger is skipped", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(time.Second) }
		trigger := dueTrigger(triggers, domain.ScheduleTypeOnce, domain.ScheduleConfig{RunAt: base})
		require.NoError(t, triggers.DeactivateTrigger(context.Background(), trigger.ID))

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))
		assert.Zero(t, jobs.executionCount())
	})

	t.Run("unknown trigger is a no-op", func(t *testing.T) {
		t.Parallel()
		sched, _, jobs := newTestScheduler(t)

		require.NoError(t, sched.FireTrigger(context.Background(), uuid.New()))
		assert.Zero(t, jobs.executionCount())
	})

	t.Run("unrunnable workflow retires the trigger", func(t *testing.T) {
		t.Parallel()
		sched, triggers, jobs := newTestScheduler(t)
		sched.now = func() time.Time { return base.Add(time.Second) }
		jobs.enqueueErr = fmt.Errorf("%w: workflow paused", domain.ErrWorkflowNotActive)
		trigger := dueTrigger(triggers, domain.ScheduleTypeCron, domain.ScheduleConfig{Expression: "0 9 * * *"})

		require.NoError(t, sched.FireTrigger(context.Background(), trigger.ID))

		updated, err := triggers.GetTrigger(context.Background(), trigger.ID)
		require.NoError(t, err)
		assert.False(t, updated.Active)
		assert.Equal(t, 1, updated.ErrorCount)
	})
}

func TestScheduler_SweepMissed(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, triggers, jobs := newTestScheduler(t)

	overdue := &domain.ScheduleTrigger{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		Type:       domain.ScheduleTypeInterval,
		Config:     domain.ScheduleConfig{Every: time.Hour},
		NextRunAt:  base.Add(-5 * time.Minute),
		Active:     true,
	}
	notYetMissed := &domain.ScheduleTrigger{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		Type:       domain.ScheduleTypeInterval,
		Config:     domain.ScheduleConfig{Every: time.Hour},
		NextRunAt:  base.Add(-10 * time.Second),
		Active:     true,
	}
	require.NoError(t, triggers.SaveTrigger(context.Background(), overdue))
	require.NoError(t, triggers.SaveTrigger(context.Background(), notYetMissed))

	sched.now = func() time.Time { return base }
	sched.sweepMissed(context.Background())

	// Only the trigger overdue past the grace period fires.
	assert.Equal(t, 1, jobs.executionCount())
	updated, err := triggers.GetTrigger(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RunCount)
}
