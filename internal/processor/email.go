package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/driftware/flowengine/internal/domain"
)

// Condition operators supported by email sequence steps.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpHasTag      = "has_tag"
	OpNotHasTag   = "not_has_tag"
)

// StepCondition is a boolean check evaluated against the recipient
// before a sequence step is sent.
type StepCondition struct {
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// SequenceRecipient is the contact an email sequence is sent to.
// Attributes are free-form fields the step conditions test against.
type SequenceRecipient struct {
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}

// SequenceStep is one email in a multi-step sequence.
type SequenceStep struct {
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Conditions []StepCondition `json:"conditions,omitempty"`
}

// EmailSequencePayload is the email_sequence job's type-specific data.
type EmailSequencePayload struct {
	Recipient SequenceRecipient `json:"recipient"`
	Steps     []SequenceStep    `json:"steps"`

	// StopOnFailure aborts the sequence at the first send failure;
	// otherwise remaining steps are still attempted.
	StopOnFailure bool `json:"stop_on_failure"`
}

// EvaluateCondition reports whether a single condition holds for the
// recipient. Unknown operators evaluate to false so a typo in a
// sequence definition skips the step instead of sending unconditionally.
func EvaluateCondition(recipient SequenceRecipient, cond StepCondition) bool {
	switch cond.Operator {
	case OpEquals:
		return recipient.Attributes[cond.Field] == cond.Value
	case OpNotEquals:
		return recipient.Attributes[cond.Field] != cond.Value
	case OpContains:
		return strings.Contains(recipient.Attributes[cond.Field], cond.Value)
	case OpNotContains:
		return !strings.Contains(recipient.Attributes[cond.Field], cond.Value)
	case OpHasTag:
		return hasTag(recipient.Tags, cond.Value)
	case OpNotHasTag:
		return !hasTag(recipient.Tags, cond.Value)
	default:
		return false
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// stepEligible reports whether all of the step's conditions hold.
func stepEligible(recipient SequenceRecipient, step SequenceStep) bool {
	for _, cond := range step.Conditions {
		if !EvaluateCondition(recipient, cond) {
			return false
		}
	}
	return true
}

// EmailSequenceProcessor dispatches a multi-step email sequence,
// evaluating per-step conditions against the recipient before each send.
type EmailSequenceProcessor struct {
	sender EmailSender
	logger *slog.Logger
}

// NewEmailSequenceProcessor creates the processor for email_sequence jobs.
func NewEmailSequenceProcessor(sender EmailSender, logger *slog.Logger) *EmailSequenceProcessor {
	return &EmailSequenceProcessor{
		sender: sender,
		logger: logger.With("processor", "email_sequence"),
	}
}

// Validate checks the payload decodes and names a recipient and at
// least one step.
func (p *EmailSequenceProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload EmailSequencePayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed sequence payload: %v", domain.ErrValidation, err)
	}
	if payload.Recipient.Email == "" {
		return fmt.Errorf("%w: missing recipient email", domain.ErrValidation)
	}
	if len(payload.Steps) == 0 {
		return fmt.Errorf("%w: sequence has no steps", domain.ErrValidation)
	}
	return nil
}

// Execute walks the steps in order. Steps whose conditions do not hold
// are skipped, not failed. Send failures either abort the sequence or
// are collected, per the sequence-level policy.
func (p *EmailSequenceProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload EmailSequencePayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed sequence payload: %v", domain.ErrValidation, err)
	}

	sent, skipped, failed := 0, 0, 0
	var firstErr error

	for i, step := range payload.Steps {
		if !stepEligible(payload.Recipient, step) {
			skipped++
			p.logger.Debug("sequence step skipped",
				"job_id", job.ID, "step", i, "recipient", payload.Recipient.Email)
			continue
		}

		if err := p.sender.SendEmail(ctx, payload.Recipient.Email, step.Subject, step.Body); err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("step %d: %w", i, err)
			}
			if payload.StopOnFailure {
				return Result{}, fmt.Errorf("sequence stopped at step %d: %w", i, err)
			}
			continue
		}
		sent++
		progress((i + 1) * 100 / len(payload.Steps))
	}

	if sent == 0 && firstErr != nil {
		// Every eligible step failed; surface the first error.
		return Result{}, firstErr
	}

	return Result{
		Message: "sequence dispatched",
		Output:  map[string]interface{}{"sent": sent, "skipped": skipped, "failed": failed},
	}, nil
}

// OnSuccess logs the dispatch counts.
func (p *EmailSequenceProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	p.logger.Info("email sequence completed",
		"job_id", job.ID,
		"sent", result.Output["sent"],
		"skipped", result.Output["skipped"],
		"failed", result.Output["failed"])
}

// OnFailure logs the failure.
func (p *EmailSequenceProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("email sequence failed", "job_id", job.ID, "error", jobErr)
}
