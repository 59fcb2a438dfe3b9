package queue

import (
	"context"
	"errors"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/google/uuid"
)

// Common broker errors.
var (
	// ErrNoJob is returned by Lease when no job is eligible, including
	// when the queue is paused.
	ErrNoJob = errors.New("no job available")

	// ErrBrokerUnavailable is returned by every operation of the
	// unavailable broker variant, and by the Redis broker when the
	// connection is down.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrLeaseLost is returned when an operation references a lease that
	// has expired and been reclaimed by another worker.
	ErrLeaseLost = errors.New("job lease lost")
)

// Outcome is the terminal result a worker acks a job with.
type Outcome string

// Possible ack outcomes
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// LeasedJob is a job held under a worker's lease. The token guards
// against a reclaimed job being acked by its original worker.
type LeasedJob struct {
	Job   *domain.Job
	Token string
}

// QueueStats are the per-queue counters exposed to the health service
// and the stats API.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Broker is the capability interface over the persistent job store.
// The broker is the single source of truth for job state: workers and
// the dead-letter pipeline never mutate a job directly, they go through
// these operations.
type Broker interface {
	// Enqueue stores the job and makes it eligible on its queue, either
	// immediately or at job.NotBefore. A job with a JobKey is rejected
	// with domain.ErrDuplicateJob while another job holds the same key.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Lease pops the highest-priority eligible job from the queue and
	// leases it for the given duration. Returns ErrNoJob when the queue
	// is empty or paused.
	Lease(ctx context.Context, queue string, leaseFor time.Duration) (*LeasedJob, error)

	// RenewLease extends an active lease. Returns ErrLeaseLost when the
	// lease has already been reclaimed.
	RenewLease(ctx context.Context, leased *LeasedJob, leaseFor time.Duration) error

	// Ack terminally removes a leased job, recording the outcome in the
	// queue's completed/failed counters.
	Ack(ctx context.Context, leased *LeasedJob, outcome Outcome) error

	// Retry returns a leased job to its queue after a backoff delay.
	// The caller is responsible for having incremented AttemptsMade.
	Retry(ctx context.Context, leased *LeasedJob, delay time.Duration) error

	// Remove deletes a waiting or delayed job outright. Returns false
	// when the job was not found in either state (it may be active).
	Remove(ctx context.Context, queue string, jobID uuid.UUID) (bool, error)

	// PromoteDue moves delayed jobs whose eligibility time has passed
	// onto the ready queue, returning how many were promoted.
	PromoteDue(ctx context.Context, queue string, limit int) (int, error)

	// ReclaimExpired returns jobs whose lease expired to the ready
	// queue. Jobs reclaimed more than maxStalled times are removed from
	// the queue instead and returned as exhausted so the caller can
	// route them to the dead-letter pipeline.
	ReclaimExpired(ctx context.Context, queue string, maxStalled, limit int) (requeued, exhausted []*domain.Job, err error)

	// Pause stops Lease from handing out jobs on the queue; enqueues
	// still succeed. Resume reverts it.
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Paused(ctx context.Context, queue string) (bool, error)

	// Stats returns the queue's counters.
	Stats(ctx context.Context, queue string) (QueueStats, error)

	// Ping reports broker reachability and round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)
}
