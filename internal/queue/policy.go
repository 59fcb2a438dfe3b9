package queue

import (
	"time"

	"github.com/driftware/flowengine/internal/domain"
)

// Logical queue names. Each queue has an independent default retry and
// backoff policy; ordering is only meaningful within a single queue.
const (
	QueueStandard = "standard"
	QueuePriority = "priority"
	QueueDelayed  = "delayed"
)

// QueueNames returns all logical queue names.
func QueueNames() []string {
	return []string{QueueStandard, QueuePriority, QueueDelayed}
}

// RetryPolicy is a queue's default attempt budget and backoff curve.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     domain.BackoffPolicy
}

// DefaultPolicies returns the per-queue retry defaults: the standard
// queue trades latency for fewer retries, the priority queue favors
// latency-sensitive jobs surviving transient blips, and the delayed
// queue does not retry at all: a resumption failure is a workflow
// failure, not a queue failure.
func DefaultPolicies() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		QueueStandard: {
			MaxAttempts: 3,
			Backoff:     domain.BackoffPolicy{Type: "exponential", Base: 2 * time.Second, Max: 5 * time.Minute},
		},
		QueuePriority: {
			MaxAttempts: 5,
			Backoff:     domain.BackoffPolicy{Type: "exponential", Base: time.Second, Max: time.Minute},
		},
		QueueDelayed: {
			MaxAttempts: 1,
			Backoff:     domain.BackoffPolicy{Type: "fixed", Base: 0},
		},
	}
}

// QueueForType maps a job type to its home queue. Latency-sensitive
// single-message sends ride the priority queue; time-deferred
// resumptions and schedule fires ride the delayed queue.
func QueueForType(t domain.JobType) string {
	switch t {
	case domain.JobTypeSMSCampaign, domain.JobTypeChatMessage:
		return QueuePriority
	case domain.JobTypeDelayedResume, domain.JobTypeScheduleFire:
		return QueueDelayed
	default:
		return QueueStandard
	}
}
