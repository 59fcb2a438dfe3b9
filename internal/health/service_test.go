package health

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
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
	"github.com/driftware/flowengine/internal/worker"
)

// staticPool serves canned worker snapshots and queue loads.
type staticPool struct {
	health []worker.Health
	loads  map[string]worker.QueueLoad
}

func (p *staticPool) Health() []worker.Health                 { return p.health }
func (p *staticPool) QueueLoads() map[string]worker.QueueLoad { return p.loads }

// statsBroker serves canned stats and ping results; every mutating
// operation is a no-op.
type statsBroker struct {
	pingErr error
	latency time.Duration
	stats   map[string]queue.QueueStats
}

func (b *statsBroker) Enqueue(ctx context.Context, job *domain.Job) error { return nil }
func (b *statsBroker) Lease(ctx context.Context, q string, leaseFor time.Duration) (*queue.LeasedJob, error) {
	return nil, queue.ErrNoJob
}
func (b *statsBroker) RenewLease(ctx context.Context, leased *queue.LeasedJob, leaseFor time.Duration) error {
	return nil
}
func (b *statsBroker) Ack(ctx context.Context, leased *queue.LeasedJob, outcome queue.Outcome) error {
	return nil
}
func (b *statsBroker) Retry(ctx context.Context, leased *queue.LeasedJob, delay time.Duration) error {
	return nil
}
func (b *statsBroker) Remove(ctx context.Context, q string, jobID uuid.UUID) (bool, error) {
	return false, nil
}
func (b *statsBroker) PromoteDue(ctx context.Context, q string, limit int) (int, error) {
	return 0, nil
}
func (b *statsBroker) ReclaimExpired(ctx context.Context, q string, maxStalled, limit int) ([]*domain.Job, []*domain.Job, error) {
	return nil, nil, nil
}
func (b *statsBroker) Pause(ctx context.Context, q string) error  { return nil }
func (b *statsBroker) Resume(ctx context.Context, q string) error { return nil }
func (b *statsBroker) Paused(ctx context.Context, q string) (bool, error) {
	return false, nil
}
func (b *statsBroker) Stats(ctx context.Context, q string) (queue.QueueStats, error) {
	return b.stats[q], nil
}
func (b *statsBroker) Ping(ctx context.Context) (time.Duration, error) {
	return b.latency, b.pingErr
}

// fakeAlertStore keeps alerts in memory.
type fakeAlertStore struct {
	mu            sync.Mutex
	alerts        []*domain.Alert
	resolvedStale int64
}

func (s *fakeAlertStore) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *fakeAlertStore) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if activeOnly && !a.Active() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeAlertStore) AcknowledgeAlert(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return nil
		}
	}
	return store.ErrAlertNotFound
}

func (s *fakeAlertStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			now := time.Now().UTC()
			a.ResolvedAt = &now
			return nil
		}
	}
	return store.ErrAlertNotFound
}

func (s *fakeAlertStore) ResolveAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvedStale++
	return 0, nil
}

func (s *fakeAlertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// fakeMetricsStore records snapshot saves and purges.
type fakeMetricsStore struct {
	mu        sync.Mutex
	snapshots []*domain.MetricsSnapshot
	purges    int
}

func (s *fakeMetricsStore) SaveSnapshot(ctx context.Context, snapshot *domain.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *fakeMetricsStore) ListSnapshots(ctx context.Context, since time.Time, limit int) ([]*domain.MetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots, nil
}

func (s *fakeMetricsStore) PurgeSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	return 0, nil
}

// purgeCountingDeadLetters only tracks retention purges.
type purgeCountingDeadLetters struct {
	store.DeadLetterStore
	mu     sync.Mutex
	purges int
}

func (s *purgeCountingDeadLetters) PurgeDeadLetterJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	return 0, nil
}

type serviceFixture struct {
	service     *Service
	broker      *statsBroker
	alerts      *fakeAlertStore
	metrics     *fakeMetricsStore
	deadLetters *purgeCountingDeadLetters
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		broker:      &statsBroker{latency: time.Millisecond, stats: map[string]queue.QueueStats{}},
		alerts:      &fakeAlertStore{},
		metrics:     &fakeMetricsStore{},
		deadLetters: &purgeCountingDeadLetters{},
	}
	cfg := config.HealthConfig{
		CheckInterval: time.Second,
		Thresholds: config.HealthThresholds{
			QueueDepth:    100,
			ErrorRate:     0.05,
			BrokerLatency: 100 * time.Millisecond,
			AvgProcessing: 30 * time.Second,
			MemoryPercent: 90,
		},
		AlertMaxAge:         24 * time.Hour,
		MaintenanceInterval: time.Hour,
		Retention:           30 * 24 * time.Hour,
		OffPeakStartHour:    2,
		OffPeakEndHour:      5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(f.broker, nil, f.alerts, f.metrics, f.deadLetters, cfg, logger)
	return f
}

func TestService_CheckHealthy(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	report, err := f.service.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.BrokerHealthy)
	assert.Len(t, report.Queues, 3)
	assert.Zero(t, f.alerts.count(), "a healthy check raises nothing")
	assert.Same(t, report, f.service.LastReport())
}

func TestService_CheckBrokerDown(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.broker.pingErr = errors.New("dial tcp: connection refused")

	report, err := f.service.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDown, report.Status)
	assert.False(t, report.BrokerHealthy)
	assert.Empty(t, report.Queues, "no per-queue stats without a broker")

	require.Equal(t, 1, f.alerts.count())
	assert.Equal(t, domain.AlertSeverityCritical, f.alerts.alerts[0].Severity)
	assert.Equal(t, domain.AlertComponentBroker, f.alerts.alerts[0].Component)
}

func TestService_WorstQueueSetsOverallStatus(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.broker.stats[queue.QueueStandard] = queue.QueueStats{Waiting: 150, Active: 1}

	report, err := f.service.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, report.Status)
	for _, q := range report.Queues {
		if q.Queue == queue.QueueStandard {
			assert.Equal(t, 80, q.Score)
			assert.Equal(t, StatusDegraded, q.Status)
		}
	}
}

func TestService_StalledLeasesAndSlowProcessingPenalizeScore(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.service.SetWorkerPool(&staticPool{loads: map[string]worker.QueueLoad{
		queue.QueueStandard: {Stalled: 3, AvgProcessingMs: 45000},
	}})
	f.broker.stats[queue.QueueStandard] = queue.QueueStats{Active: 1}

	report, err := f.service.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, report.Status)
	for _, q := range report.Queues {
		if q.Queue == queue.QueueStandard {
			assert.Equal(t, 70, q.Score)
			assert.Equal(t, int64(3), q.Load.Stalled)
		}
	}
}

func TestService_ConcurrentChecks(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	// Check is reachable from the periodic loop and the HTTP handler at
	// once; the transition map must tolerate that.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Check(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.NotNil(t, f.service.LastReport())
}

func TestService_SlowBrokerDegrades(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.broker.latency = 250 * time.Millisecond

	report, err := f.service.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestService_AlertsOnlyOnWorsening(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()

	// First degraded check raises an alert for the queue transition.
	f.broker.stats[queue.QueuePriority] = queue.QueueStats{Waiting: 150, Active: 1}
	_, err := f.service.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.count())

	// The same degraded state on the next check is not a transition.
	_, err = f.service.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.count())

	// Recovery is silent.
	f.broker.stats[queue.QueuePriority] = queue.QueueStats{Active: 1}
	_, err = f.service.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.count())

	// Degrading again is a fresh transition.
	f.broker.stats[queue.QueuePriority] = queue.QueueStats{Waiting: 150, Active: 1}
	_, err = f.service.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.alerts.count())
}

func TestService_Healthy(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()

	// Before the first check the service assumes the best.
	assert.True(t, f.service.Healthy(ctx, domain.JobTypeEmailSequence))

	_, err := f.service.Check(ctx)
	require.NoError(t, err)
	assert.True(t, f.service.Healthy(ctx, domain.JobTypeEmailSequence))

	f.broker.pingErr = errors.New("connection refused")
	_, err = f.service.Check(ctx)
	require.NoError(t, err)
	assert.False(t, f.service.Healthy(ctx, domain.JobTypeEmailSequence))
}

func TestService_NotifyRaisesCriticalAlert(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	entry := &domain.DeadLetterJob{
		ID: uuid.New(),
		Original: domain.JobSnapshot{
			JobID: uuid.New(),
			Type:  domain.JobTypeDataSync,
		},
		Error:    domain.FailureDetail{Message: "feature not implemented"},
		Recovery: domain.RecoveryState{Classification: domain.ClassificationPersistent},
	}
	require.NoError(t, f.service.Notify(context.Background(), entry))

	require.Equal(t, 1, f.alerts.count())
	alert := f.alerts.alerts[0]
	assert.Equal(t, domain.AlertSeverityCritical, alert.Severity)
	assert.Equal(t, domain.AlertComponentSystem, alert.Component)
	assert.Equal(t, entry.ID.String(), alert.Details["dead_letter_id"])
}

func TestService_OffPeak(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	// Window is 02:00-05:00.
	assert.True(t, f.service.offPeak(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)))
	assert.False(t, f.service.offPeak(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.False(t, f.service.offPeak(time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)), "window end is exclusive")

	// A window wrapping midnight covers both sides.
	f.service.cfg.OffPeakStartHour = 22
	f.service.cfg.OffPeakEndHour = 5
	assert.True(t, f.service.offPeak(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)))
	assert.True(t, f.service.offPeak(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)))
	assert.False(t, f.service.offPeak(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	// A degenerate window means always off-peak.
	f.service.cfg.OffPeakStartHour = 7
	f.service.cfg.OffPeakEndHour = 7
	assert.True(t, f.service.offPeak(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestService_MaintenancePurgesOnlyOffPeak(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	ctx := context.Background()

	// Midday: stale alerts still resolve, retention purges wait.
	f.service.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	f.service.runMaintenance(ctx)
	assert.Equal(t, int64(1), f.alerts.resolvedStale)
	assert.Zero(t, f.metrics.purges)
	assert.Zero(t, f.deadLetters.purges)

	// Inside the 02:00-05:00 window the purges run.
	f.service.now = func() time.Time { return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) }
	f.service.runMaintenance(ctx)
	assert.Equal(t, int64(2), f.alerts.resolvedStale)
	assert.Equal(t, 1, f.metrics.purges)
	assert.Equal(t, 1, f.deadLetters.purges)
}
