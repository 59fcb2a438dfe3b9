package deadletter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftware/flowengine/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		message        string
		classification domain.Classification
	}{
		{"dial tcp 10.0.0.4:443: connection refused", domain.ClassificationTransient},
		{"context deadline exceeded", domain.ClassificationTransient},
		{"upstream returned status 503", domain.ClassificationTransient},
		{"rate limit exceeded for account", domain.ClassificationTransient},
		{"broker unavailable", domain.ClassificationTransient},

		{"API responded 401 Unauthorized", domain.ClassificationConfiguration},
		{"invalid api key supplied", domain.ClassificationConfiguration},
		{"monthly quota exceeded", domain.ClassificationConfiguration},
		{"open /var/secrets/token: permission denied", domain.ClassificationConfiguration},
		{"credential has expired", domain.ClassificationConfiguration},

		{"validation failed: missing recipient", domain.ClassificationData},
		{"json: cannot unmarshal string into Go value", domain.ClassificationData},
		{"contact not found", domain.ClassificationData},

		{"no processor registered for job type", domain.ClassificationPersistent},
		{"feature not implemented", domain.ClassificationPersistent},
		{"job stalled 3 times, exceeding limit of 3", domain.ClassificationPersistent},
		{"runtime error: invalid memory address or nil pointer dereference", domain.ClassificationPersistent},
		{"panic: runtime error: index out of range [3] with length 2", domain.ClassificationPersistent},
		{"syntax error in template expression", domain.ClassificationPersistent},
		{"TypeError: cannot read property of undefined", domain.ClassificationPersistent},
		{"upstream returned internal server error", domain.ClassificationPersistent},
		{"unexpected status 500 from webhook", domain.ClassificationPersistent},

		{"something odd happened", domain.ClassificationUnknown},
		{"", domain.ClassificationUnknown},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.classification, Classify(tc.message), "message %q", tc.message)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	msg := "Connection Refused by remote host"
	first := Classify(msg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(msg))
	}
	assert.Equal(t, domain.ClassificationTransient, first, "matching ignores casing")
}

func TestClassify_FirstMatchWins(t *testing.T) {
	t.Parallel()

	// Mentions both a persistent and a transient marker; the persistent
	// rule is checked first.
	assert.Equal(t, domain.ClassificationPersistent, Classify("unsupported operation: timeout"))
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()

	transient := policyFor(domain.ClassificationTransient)
	assert.Equal(t, 5, transient.MaxAttempts)
	assert.True(t, transient.Recoverable)

	persistent := policyFor(domain.ClassificationPersistent)
	assert.Zero(t, persistent.MaxAttempts)
	assert.False(t, persistent.Recoverable)
	assert.Equal(t, 10, persistent.Priority, "persistent entries surface first for triage")

	unknown := policyFor(domain.Classification("novel"))
	assert.Equal(t, policyFor(domain.ClassificationUnknown), unknown)
}

func TestRecoveryDelay(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 10; attempt++ {
		d := recoveryDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, recoveryBackoffCap)
	}
}
