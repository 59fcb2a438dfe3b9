// Package deadletter classifies jobs that exhausted their ordinary
// retries and drives their automated recovery: workarounds from the
// known-issues registry, delayed retries while an upstream is degraded,
// re-enqueues with elevated priority, and operator tasks or escalation
// when automation runs out.
package deadletter

import (
	"strings"

	"github.com/driftware/flowengine/internal/domain"
)

// classificationRule maps an error-message substring to a taxonomy
// bucket. Rules are checked in order; the first match wins.
type classificationRule struct {
	substring      string
	classification domain.Classification
}

// Classification rules, most specific first. Matching is on lowercased
// error text, so processors do not need to agree on casing.
var classificationRules = []classificationRule{
	// Persistent: code defects and capability gaps. No amount of
	// retrying will change the outcome.
	{"no processor registered", domain.ClassificationPersistent},
	{"not implemented", domain.ClassificationPersistent},
	{"unsupported", domain.ClassificationPersistent},
	{"stalled", domain.ClassificationPersistent},
	{"nil pointer", domain.ClassificationPersistent},
	{"invalid memory address", domain.ClassificationPersistent},
	{"index out of range", domain.ClassificationPersistent},
	{"syntax error", domain.ClassificationPersistent},
	{"type error", domain.ClassificationPersistent},
	{"typeerror", domain.ClassificationPersistent},
	{"internal server error", domain.ClassificationPersistent},
	{"status 500", domain.ClassificationPersistent},

	// Configuration: credentials or settings need operator attention.
	{"unauthorized", domain.ClassificationConfiguration},
	{"forbidden", domain.ClassificationConfiguration},
	{"invalid api key", domain.ClassificationConfiguration},
	{"authentication", domain.ClassificationConfiguration},
	{"permission", domain.ClassificationConfiguration},
	{"credential", domain.ClassificationConfiguration},
	{"quota exceeded", domain.ClassificationConfiguration},
	{"status 401", domain.ClassificationConfiguration},
	{"status 403", domain.ClassificationConfiguration},

	// Data: the payload itself is wrong.
	{"validation", domain.ClassificationData},
	{"malformed", domain.ClassificationData},
	{"invalid payload", domain.ClassificationData},
	{"missing required", domain.ClassificationData},
	{"cannot unmarshal", domain.ClassificationData},
	{"parse error", domain.ClassificationData},
	{"not found", domain.ClassificationData},

	// Transient: the outside world hiccupped.
	{"timeout", domain.ClassificationTransient},
	{"timed out", domain.ClassificationTransient},
	{"deadline exceeded", domain.ClassificationTransient},
	{"connection refused", domain.ClassificationTransient},
	{"connection reset", domain.ClassificationTransient},
	{"broken pipe", domain.ClassificationTransient},
	{"temporarily unavailable", domain.ClassificationTransient},
	{"too many requests", domain.ClassificationTransient},
	{"rate limit", domain.ClassificationTransient},
	{"status 429", domain.ClassificationTransient},
	{"status 502", domain.ClassificationTransient},
	{"status 503", domain.ClassificationTransient},
	{"status 504", domain.ClassificationTransient},
	{"broker unavailable", domain.ClassificationTransient},
	{"unexpected eof", domain.ClassificationTransient},
}

// Classify buckets an error message. Classification is deterministic:
// the same message always lands in the same bucket. Messages matching
// no rule are unknown, which still gets a small recovery budget.
func Classify(errorMessage string) domain.Classification {
	msg := strings.ToLower(errorMessage)
	for _, rule := range classificationRules {
		if strings.Contains(msg, rule.substring) {
			return rule.classification
		}
	}
	return domain.ClassificationUnknown
}
