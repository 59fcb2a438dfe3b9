// Package health runs the periodic system health checks: it scores
// every queue, probes the broker, raises and auto-resolves alerts, and
// persists metrics snapshots for trend inspection. It also runs the
// retention maintenance sweep.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
	"github.com/driftware/flowengine/internal/worker"
)

// memoryCriticalPercent forces the overall status to critical
// regardless of queue scores.
const memoryCriticalPercent = 95

// QueueReport is the health verdict for one queue.
type QueueReport struct {
	Queue  string           `json:"queue"`
	Score  int              `json:"score"`
	Status Status           `json:"status"`
	Stats  queue.QueueStats `json:"stats"`
	Load   worker.QueueLoad `json:"load"`
}

// Report is one full health-check observation.
type Report struct {
	Status        Status          `json:"status"`
	CheckedAt     time.Time       `json:"checked_at"`
	BrokerHealthy bool            `json:"broker_healthy"`
	BrokerLatency time.Duration   `json:"broker_latency"`
	MemoryPercent float64         `json:"memory_percent"`
	Queues        []QueueReport   `json:"queues"`
	Workers       []worker.Health `json:"workers"`
}

// WorkerPool is the slice of the worker manager the health service
// reads.
type WorkerPool interface {
	Health() []worker.Health
	QueueLoads() map[string]worker.QueueLoad
}

// Service runs the periodic checks and owns alert lifecycle.
type Service struct {
	broker      queue.Broker
	pool        WorkerPool
	alerts      store.AlertStore
	metrics     store.MetricsStore
	deadLetters store.DeadLetterStore
	cfg         config.HealthConfig
	logger      *slog.Logger

	mu         sync.RWMutex
	lastReport *Report

	// prevStatus tracks per-component status between checks so alerts
	// fire on transitions, not on every check. Guarded by mu.
	prevStatus map[string]Status

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewService creates the health service.
func NewService(broker queue.Broker, pool WorkerPool, alerts store.AlertStore, metrics store.MetricsStore, deadLetters store.DeadLetterStore, cfg config.HealthConfig, logger *slog.Logger) *Service {
	return &Service{
		broker:      broker,
		pool:        pool,
		alerts:      alerts,
		metrics:     metrics,
		deadLetters: deadLetters,
		cfg:         cfg,
		logger:      logger.With("component", "health_service"),
		prevStatus:  make(map[string]Status),
		now:         time.Now,
	}
}

// SetWorkerPool wires the worker manager in after construction. The
// manager depends on the dead-letter pipeline, which notifies through
// this service, so the pool cannot be a constructor argument. Must be
// called before Run.
func (s *Service) SetWorkerPool(pool WorkerPool) {
	s.pool = pool
}

// LastReport returns the most recent check result, or nil before the
// first check completes.
func (s *Service) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Healthy reports whether the system can usefully retry work right
// now. The dead-letter pipeline consults this before re-enqueuing.
func (s *Service) Healthy(ctx context.Context, jobType domain.JobType) bool {
	report := s.LastReport()
	if report == nil {
		return true
	}
	return report.Status == StatusHealthy || report.Status == StatusDegraded
}

// Check runs one full health check, raises alerts for status
// transitions, and records the report.
func (s *Service) Check(ctx context.Context) (*Report, error) {
	now := s.now().UTC()
	report := &Report{CheckedAt: now, Status: StatusHealthy}

	latency, err := s.broker.Ping(ctx)
	report.BrokerHealthy = err == nil
	report.BrokerLatency = latency

	var loads map[string]worker.QueueLoad
	if s.pool != nil {
		report.Workers = s.pool.Health()
		loads = s.pool.QueueLoads()
	}
	report.MemoryPercent = memoryPercent()

	if report.BrokerHealthy {
		for _, queueName := range queue.QueueNames() {
			stats, err := s.broker.Stats(ctx, queueName)
			if err != nil {
				s.logger.Error("queue stats unavailable", "queue", queueName, "error", err)
				continue
			}
			load := loads[queueName]
			score := scoreQueue(stats, load, s.cfg.Thresholds)
			report.Queues = append(report.Queues, QueueReport{
				Queue:  queueName,
				Score:  score,
				Status: statusForScore(score),
				Stats:  stats,
				Load:   load,
			})
		}
	}

	report.Status = s.overall(report)
	s.raiseTransitionAlerts(ctx, report)

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	return report, nil
}

// overall folds component verdicts into the system status: down when
// the broker is unreachable, otherwise the worst queue status, forced
// to at least critical when memory is nearly exhausted and to at least
// degraded when broker latency crosses its threshold.
func (s *Service) overall(report *Report) Status {
	if !report.BrokerHealthy {
		return StatusDown
	}

	status := StatusHealthy
	for _, q := range report.Queues {
		if worse(q.Status, status) {
			status = q.Status
		}
	}
	if report.MemoryPercent > memoryCriticalPercent && worse(StatusCritical, status) {
		status = StatusCritical
	} else if report.MemoryPercent > s.cfg.Thresholds.MemoryPercent && worse(StatusDegraded, status) {
		status = StatusDegraded
	}
	if s.cfg.Thresholds.BrokerLatency > 0 && report.BrokerLatency > s.cfg.Thresholds.BrokerLatency && worse(StatusDegraded, status) {
		status = StatusDegraded
	}
	return status
}

// raiseTransitionAlerts creates one alert per component whose status
// worsened since the previous check.
func (s *Service) raiseTransitionAlerts(ctx context.Context, report *Report) {
	s.transition(ctx, "broker", brokerStatus(report), domain.AlertComponentBroker,
		fmt.Sprintf("broker latency %s", report.BrokerLatency),
		map[string]interface{}{"latency_ms": report.BrokerLatency.Milliseconds()})

	for _, q := range report.Queues {
		s.transition(ctx, "queue:"+q.Queue, q.Status, domain.AlertComponentQueue,
			fmt.Sprintf("queue %s score %d", q.Queue, q.Score),
			map[string]interface{}{
				"queue":   q.Queue,
				"score":   q.Score,
				"waiting": q.Stats.Waiting,
				"failed":  q.Stats.Failed,
			})
	}

	memStatus := StatusHealthy
	if report.MemoryPercent > memoryCriticalPercent {
		memStatus = StatusCritical
	} else if report.MemoryPercent > s.cfg.Thresholds.MemoryPercent {
		memStatus = StatusDegraded
	}
	s.transition(ctx, "memory", memStatus, domain.AlertComponentSystem,
		fmt.Sprintf("memory at %.1f%%", report.MemoryPercent),
		map[string]interface{}{"memory_percent": report.MemoryPercent})
}

func brokerStatus(report *Report) Status {
	if !report.BrokerHealthy {
		return StatusDown
	}
	return StatusHealthy
}

func (s *Service) transition(ctx context.Context, key string, status Status, component domain.AlertComponent, message string, details map[string]interface{}) {
	// Check runs from both the periodic loop and the HTTP handler, so
	// the transition map shares the report mutex.
	s.mu.Lock()
	prev, seen := s.prevStatus[key]
	s.prevStatus[key] = status
	s.mu.Unlock()
	if !seen {
		prev = StatusHealthy
	}
	if !worse(status, prev) {
		return
	}

	severity := domain.AlertSeverityWarning
	if status == StatusCritical || status == StatusDown {
		severity = domain.AlertSeverityCritical
	}
	alert := domain.NewAlert(severity, component, message, details)
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("failed to create alert", "component", component, "error", err)
		return
	}
	s.logger.Warn("health alert raised",
		"alert_id", alert.ID,
		"component", component,
		"severity", severity,
		"message", message)
}

// Notify satisfies the dead-letter pipeline's notifier: critical
// dead-letter entries surface as system alerts.
func (s *Service) Notify(ctx context.Context, entry *domain.DeadLetterJob) error {
	alert := domain.NewAlert(domain.AlertSeverityCritical, domain.AlertComponentSystem,
		fmt.Sprintf("unrecoverable %s job %s", entry.Original.Type, entry.Original.JobID),
		map[string]interface{}{
			"dead_letter_id": entry.ID.String(),
			"classification": string(entry.Recovery.Classification),
			"error":          entry.Error.Message,
		})
	return s.alerts.CreateAlert(ctx, alert)
}

// AcknowledgeAlert marks an alert acknowledged.
func (s *Service) AcknowledgeAlert(ctx context.Context, id uuid.UUID) error {
	return s.alerts.AcknowledgeAlert(ctx, id)
}

// ResolveAlert marks an alert resolved.
func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	return s.alerts.ResolveAlert(ctx, id)
}

// ListAlerts returns alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]*domain.Alert, error) {
	return s.alerts.ListAlerts(ctx, activeOnly, limit)
}

// Run drives the check and maintenance loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	checkInterval := s.cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	maintInterval := s.cfg.MaintenanceInterval
	if maintInterval <= 0 {
		maintInterval = time.Hour
	}

	checkTicker := time.NewTicker(checkInterval)
	defer checkTicker.Stop()
	maintTicker := time.NewTicker(maintInterval)
	defer maintTicker.Stop()

	s.logger.Info("health service started",
		"check_interval", checkInterval,
		"maintenance_interval", maintInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("health service stopped")
			return
		case <-checkTicker.C:
			s.runCheck(ctx)
		case <-maintTicker.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *Service) runCheck(ctx context.Context) {
	report, err := s.Check(ctx)
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		return
	}

	snapshot := snapshotFromReport(report)
	if err := s.metrics.SaveSnapshot(ctx, snapshot); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("failed to save metrics snapshot", "error", err)
		}
	}

	s.logger.Debug("health check completed",
		"status", report.Status,
		"broker_latency", report.BrokerLatency,
		"memory_percent", report.MemoryPercent)
}

// runMaintenance resolves stale alerts and purges aged records. The
// heavier retention purges only run inside the off-peak window.
func (s *Service) runMaintenance(ctx context.Context) {
	now := s.now().UTC()

	if s.cfg.AlertMaxAge > 0 {
		resolved, err := s.alerts.ResolveAlertsOlderThan(ctx, now.Add(-s.cfg.AlertMaxAge))
		if err != nil {
			s.logger.Error("alert auto-resolve failed", "error", err)
		} else if resolved > 0 {
			s.logger.Info("stale alerts auto-resolved", "count", resolved)
		}
	}

	if s.cfg.Retention <= 0 || !s.offPeak(now) {
		return
	}
	cutoff := now.Add(-s.cfg.Retention)

	purged, err := s.metrics.PurgeSnapshotsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("snapshot purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("metrics snapshots purged", "count", purged)
	}

	removed, err := s.deadLetters.PurgeDeadLetterJobsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("dead-letter purge failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("dead-letter entries purged", "count", removed)
	}
}

// offPeak reports whether the instant falls inside the configured
// off-peak window. The window may wrap midnight.
func (s *Service) offPeak(t time.Time) bool {
	start, end := s.cfg.OffPeakStartHour, s.cfg.OffPeakEndHour
	if start == end {
		return true
	}
	hour := t.Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func snapshotFromReport(report *Report) *domain.MetricsSnapshot {
	snapshot := &domain.MetricsSnapshot{
		ID:              uuid.New(),
		Status:          string(report.Status),
		QueueScores:     make(map[string]int, len(report.Queues)),
		QueueStats:      make(map[string]map[string]int64, len(report.Queues)),
		BrokerLatencyMs: report.BrokerLatency.Milliseconds(),
		MemoryPercent:   report.MemoryPercent,
		CreatedAt:       report.CheckedAt,
	}
	for _, q := range report.Queues {
		snapshot.QueueScores[q.Queue] = q.Score
		snapshot.QueueStats[q.Queue] = map[string]int64{
			"waiting":   q.Stats.Waiting,
			"active":    q.Stats.Active,
			"delayed":   q.Stats.Delayed,
			"completed": q.Stats.Completed,
			"failed":    q.Stats.Failed,
		}
	}
	return snapshot
}

// memoryPercent approximates process heap pressure as heap in use over
// total memory obtained from the OS.
func memoryPercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return 0
	}
	return float64(m.HeapAlloc) / float64(m.Sys) * 100
}
