package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/events"
	"github.com/driftware/flowengine/internal/processor"
	"github.com/driftware/flowengine/internal/queue"
)

// sweepBatch bounds how many jobs a single promote or reclaim pass
// moves, so a large backlog cannot starve the lease loops.
const sweepBatch = 100

// QueueLoad is the per-queue execution pressure the health score reads:
// stalled leases reclaimed by the most recent sweep plus the average
// processing time across the queue's workers.
type QueueLoad struct {
	Stalled         int64 `json:"stalled"`
	AvgProcessingMs int64 `json:"avg_processing_ms"`
}

// Manager owns the worker set's lifecycle: it starts every worker, runs
// the per-queue maintenance sweeps (delayed-job promotion and stalled
// lease reclamation), and drains the pool in stages on shutdown.
type Manager struct {
	workers []*Worker
	broker  queue.Broker
	sink    DeadLetterSink
	emitter events.EventEmitter
	logger  *slog.Logger

	// sweepCfg maps queue name to the config of a worker on that queue,
	// for the stalled interval and max stalled count.
	sweepCfg map[string]config.WorkerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool

	// stalled holds the reclaim count of the latest sweep per queue.
	stalledMu sync.Mutex
	stalled   map[string]int64
}

// NewManager builds the worker pool from the per-worker configs.
func NewManager(cfgs []config.WorkerConfig, broker queue.Broker, registry *processor.Registry, sink DeadLetterSink, emitter events.EventEmitter, logger *slog.Logger) *Manager {
	m := &Manager{
		broker:   broker,
		sink:     sink,
		emitter:  emitter,
		logger:   logger.With("component", "worker_manager"),
		sweepCfg: make(map[string]config.WorkerConfig),
		stalled:  make(map[string]int64),
	}
	for _, cfg := range cfgs {
		m.workers = append(m.workers, New(cfg, broker, registry, sink, emitter, logger))
		if _, ok := m.sweepCfg[cfg.Queue]; !ok {
			m.sweepCfg[cfg.Queue] = cfg
		}
	}
	return m
}

// StartAll launches every worker loop and one sweep loop per queue.
// It returns immediately; StopAll tears everything down.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("worker manager already started")
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	var wg sync.WaitGroup
	for _, w := range m.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}
	for queueName, cfg := range m.sweepCfg {
		wg.Add(1)
		go func(queueName string, cfg config.WorkerConfig) {
			defer wg.Done()
			m.sweep(runCtx, queueName, cfg)
		}(queueName, cfg)
	}
	go func() {
		wg.Wait()
		close(m.stopped)
	}()

	m.logger.Info("worker manager started",
		"workers", len(m.workers),
		"queues", len(m.sweepCfg))
	return nil
}

// StopAll drains the pool in stages: stop leasing, wait for in-flight
// jobs up to the timeout, then cancel the loops. Jobs still running at
// the deadline lose their lease and are reclaimed by the next sweep.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	stopped := m.stopped
	m.started = false
	m.mu.Unlock()

	m.logger.Info("draining worker pool", "timeout", timeout)
	for _, w := range m.workers {
		w.Pause()
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.activeJobs() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	remaining := m.activeJobs()
	cancel()
	<-stopped

	if remaining > 0 {
		m.logger.Warn("drain deadline reached with jobs in flight", "in_flight", remaining)
		return fmt.Errorf("worker pool stopped with %d jobs in flight", remaining)
	}
	m.logger.Info("worker pool drained")
	return nil
}

// PauseWorker pauses the named worker. Returns false if no worker
// matches.
func (m *Manager) PauseWorker(name string) bool {
	for _, w := range m.workers {
		if w.Name() == name {
			w.Pause()
			return true
		}
	}
	return false
}

// ResumeWorker resumes the named worker. Returns false if no worker
// matches.
func (m *Manager) ResumeWorker(name string) bool {
	for _, w := range m.workers {
		if w.Name() == name {
			w.Resume()
			return true
		}
	}
	return false
}

// Health returns a snapshot of every worker.
func (m *Manager) Health() []Health {
	snapshots := make([]Health, 0, len(m.workers))
	for _, w := range m.workers {
		snapshots = append(snapshots, w.Health())
	}
	return snapshots
}

// QueueLoads aggregates execution pressure per queue.
func (m *Manager) QueueLoads() map[string]QueueLoad {
	millis := make(map[string]int64)
	counts := make(map[string]int64)
	for _, w := range m.workers {
		ms, n := w.execTotals()
		millis[w.Queue()] += ms
		counts[w.Queue()] += n
	}

	m.stalledMu.Lock()
	defer m.stalledMu.Unlock()

	loads := make(map[string]QueueLoad, len(m.sweepCfg))
	for queueName := range m.sweepCfg {
		load := QueueLoad{Stalled: m.stalled[queueName]}
		if counts[queueName] > 0 {
			load.AvgProcessingMs = millis[queueName] / counts[queueName]
		}
		loads[queueName] = load
	}
	return loads
}

// recordStalled notes how many leases the latest sweep reclaimed.
func (m *Manager) recordStalled(queueName string, count int) {
	m.stalledMu.Lock()
	m.stalled[queueName] = int64(count)
	m.stalledMu.Unlock()
}

func (m *Manager) activeJobs() int64 {
	var total int64
	for _, w := range m.workers {
		total += w.ActiveJobs()
	}
	return total
}

// sweep periodically promotes due delayed jobs and reclaims expired
// leases on one queue. Jobs that stalled past the queue's limit are
// routed to the dead-letter pipeline instead of being requeued again.
func (m *Manager) sweep(ctx context.Context, queueName string, cfg config.WorkerConfig) {
	logger := m.logger.With("queue", queueName)
	ticker := time.NewTicker(cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		promoted, err := m.broker.PromoteDue(ctx, queueName, sweepBatch)
		if err != nil {
			logger.Error("delayed promotion failed", "error", err)
		} else if promoted > 0 {
			logger.Debug("delayed jobs promoted", "count", promoted)
		}

		requeued, exhausted, err := m.broker.ReclaimExpired(ctx, queueName, cfg.MaxStalledCount, sweepBatch)
		if err != nil {
			logger.Error("stalled reclamation failed", "error", err)
			continue
		}
		m.recordStalled(queueName, len(requeued)+len(exhausted))

		for _, job := range requeued {
			logger.Warn("stalled job requeued",
				"job_id", job.ID, "stalled_count", job.StalledCount)
			event := events.NewJobLifecycleEvent(events.EventJobStalled, job.ID, string(job.Type), job.Queue)
			event.Attempt = job.AttemptsMade
			if m.emitter != nil {
				if err := m.emitter.EmitEvent(ctx, event); err != nil {
					logger.Debug("event emission failed", "error", err)
				}
			}
		}

		for _, job := range exhausted {
			stalledErr := fmt.Errorf("job stalled %d times, exceeding limit of %d", job.StalledCount, cfg.MaxStalledCount)
			logger.Error("stalled job exhausted", "job_id", job.ID, "stalled_count", job.StalledCount)
			if m.sink != nil {
				if err := m.sink.Submit(ctx, job, stalledErr, ""); err != nil {
					logger.Error("failed to submit stalled job to dead-letter pipeline",
						"job_id", job.ID, "error", err)
				}
			}
			if m.emitter != nil {
				event := events.NewJobLifecycleEvent(events.EventJobDeadLettered, job.ID, string(job.Type), job.Queue)
				event.Attempt = job.AttemptsMade
				event.Error = stalledErr.Error()
				if err := m.emitter.EmitEvent(ctx, event); err != nil {
					logger.Debug("event emission failed", "error", err)
				}
			}
		}
	}
}
