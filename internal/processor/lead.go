package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/store"
	"github.com/google/uuid"
)

// Score bucket weights. The four buckets sum to 100.
const (
	contactWeight    = 25
	sourceWeight     = 25
	engagementWeight = 30
	recencyWeight    = 20
)

// Qualification tag thresholds.
const (
	hotLeadThreshold       = 80
	warmLeadThreshold      = 60
	qualifiedLeadThreshold = 40
)

// ScoreLead computes a 0-100 qualification score from four weighted
// buckets (contact completeness, source quality, engagement depth,
// recency) plus the derived tag set. It is a pure function of the lead
// and the reference time, so re-running it on an unchanged lead always
// yields the same score and tags.
func ScoreLead(lead *domain.Lead, now time.Time) (int, []string) {
	score := contactScore(lead) + sourceScore(lead) + engagementScore(lead) + recencyScore(lead, now)

	var tag string
	switch {
	case score >= hotLeadThreshold:
		tag = "hot-lead"
	case score >= warmLeadThreshold:
		tag = "warm-lead"
	case score >= qualifiedLeadThreshold:
		tag = "qualified"
	default:
		tag = "nurture"
	}
	tags := []string{tag}
	if lead.Email == "" && lead.Phone == "" {
		tags = append(tags, "unreachable")
	}
	return score, tags
}

func contactScore(lead *domain.Lead) int {
	score := 0
	if lead.Email != "" {
		score += 10
	}
	if lead.Phone != "" {
		score += 5
	}
	if lead.FirstName != "" && lead.LastName != "" {
		score += 5
	}
	if lead.Company != "" {
		score += 5
	}
	if score > contactWeight {
		score = contactWeight
	}
	return score
}

func sourceScore(lead *domain.Lead) int {
	switch strings.ToLower(lead.Source) {
	case "referral":
		return sourceWeight
	case "organic", "website":
		return 20
	case "webinar", "event":
		return 18
	case "paid", "ads":
		return 12
	case "cold_list", "purchased":
		return 5
	case "":
		return 0
	default:
		return 10
	}
}

func engagementScore(lead *domain.Lead) int {
	score := 0
	score += capInt(lead.EmailOpens*2, 8)
	score += capInt(lead.EmailClicks*3, 9)
	score += capInt(lead.SiteVisits, 5)
	score += capInt(lead.FormSubmissions*4, 8)
	if score > engagementWeight {
		score = engagementWeight
	}
	return score
}

func recencyScore(lead *domain.Lead, now time.Time) int {
	if lead.LastActivityAt == nil {
		return 0
	}
	age := now.Sub(*lead.LastActivityAt)
	switch {
	case age <= 24*time.Hour:
		return recencyWeight
	case age <= 7*24*time.Hour:
		return 15
	case age <= 30*24*time.Hour:
		return 10
	case age <= 90*24*time.Hour:
		return 5
	default:
		return 0
	}
}

func capInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}

// leadPayload is the lead_qualification job's type-specific data.
type leadPayload struct {
	LeadID uuid.UUID `json:"lead_id"`
}

// LeadQualificationProcessor scores a lead and stores the result.
// Scoring is deterministic and idempotent, so re-running it is always
// safe.
type LeadQualificationProcessor struct {
	leads  store.LeadStore
	logger *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewLeadQualificationProcessor creates the processor for
// lead_qualification jobs.
func NewLeadQualificationProcessor(leads store.LeadStore, logger *slog.Logger) *LeadQualificationProcessor {
	return &LeadQualificationProcessor{
		leads:  leads,
		logger: logger.With("processor", "lead_qualification"),
		now:    time.Now,
	}
}

// Validate checks the referenced lead still exists.
func (p *LeadQualificationProcessor) Validate(ctx context.Context, job *domain.Job) error {
	var payload leadPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("%w: malformed lead payload: %v", domain.ErrValidation, err)
	}
	if payload.LeadID == uuid.Nil {
		return fmt.Errorf("%w: missing lead id", domain.ErrValidation)
	}
	if _, err := p.leads.GetLead(ctx, payload.LeadID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// Execute scores the lead and persists score and derived tags.
func (p *LeadQualificationProcessor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error) {
	var payload leadPayload
	if err := job.Payload.UnmarshalData(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: malformed lead payload: %v", domain.ErrValidation, err)
	}

	lead, err := p.leads.GetLead(ctx, payload.LeadID)
	if err != nil {
		return Result{}, err
	}
	progress(40)

	score, tags := ScoreLead(lead, p.now())
	if err := p.leads.UpdateLeadScore(ctx, lead.ID, score, tags); err != nil {
		return Result{}, fmt.Errorf("failed to store lead score: %w", err)
	}
	progress(100)

	return Result{
		Message: "lead scored",
		Output:  map[string]interface{}{"score": score, "tags": tags},
	}, nil
}

// OnSuccess logs the outcome.
func (p *LeadQualificationProcessor) OnSuccess(ctx context.Context, job *domain.Job, result Result) {
	p.logger.Info("lead qualification completed",
		"job_id", job.ID,
		"score", result.Output["score"],
		"tags", result.Output["tags"])
}

// OnFailure logs the failure; lead scores are simply left stale.
func (p *LeadQualificationProcessor) OnFailure(ctx context.Context, job *domain.Job, jobErr error) {
	p.logger.Error("lead qualification failed", "job_id", job.ID, "error", jobErr)
}
