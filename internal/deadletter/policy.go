package deadletter

import (
	"math/rand"
	"time"

	"github.com/driftware/flowengine/internal/domain"
)

// recoveryPolicy is the per-classification recovery budget.
type recoveryPolicy struct {
	Strategy    string
	MaxAttempts int
	Recoverable bool
	Priority    int
}

// policies maps each classification to its recovery budget. Persistent
// failures are never retried automatically; everything else gets a
// bounded number of attempts.
var policies = map[domain.Classification]recoveryPolicy{
	domain.ClassificationTransient: {
		Strategy:    "exponential_backoff",
		MaxAttempts: 5,
		Recoverable: true,
		Priority:    2,
	},
	domain.ClassificationConfiguration: {
		Strategy:    "manual_review",
		MaxAttempts: 2,
		Recoverable: true,
		Priority:    7,
	},
	domain.ClassificationData: {
		Strategy:    "data_validation",
		MaxAttempts: 2,
		Recoverable: true,
		Priority:    4,
	},
	domain.ClassificationPersistent: {
		Strategy:    "none",
		MaxAttempts: 0,
		Recoverable: false,
		Priority:    10,
	},
	domain.ClassificationUnknown: {
		Strategy:    "investigate",
		MaxAttempts: 3,
		Recoverable: true,
		Priority:    5,
	},
}

// policyFor returns the recovery policy for a classification. Unmapped
// classifications fall back to the unknown budget.
func policyFor(c domain.Classification) recoveryPolicy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[domain.ClassificationUnknown]
}

// Recovery backoff bounds.
const (
	recoveryBackoffBase = 30 * time.Second
	recoveryBackoffCap  = time.Hour
)

// recoveryDelay returns the wait before the given recovery attempt
// (1-based) with full jitter: a uniform draw from zero to the
// exponential ceiling, so simultaneous failures do not retry in
// lockstep.
func recoveryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := recoveryBackoffBase * time.Duration(1<<uint(attempt-1))
	if ceiling > recoveryBackoffCap || ceiling <= 0 {
		ceiling = recoveryBackoffCap
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}
