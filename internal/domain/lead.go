package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a sales contact scored by the lead-qualification processor.
// Scoring is a pure function over these attributes, so re-running it on
// an unchanged lead always yields the same score and tag set.
type Lead struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Company        string    `json:"company,omitempty"`
	JobTitle       string    `json:"job_title,omitempty"`

	// Source is where the lead came from (referral, organic, webinar,
	// paid, cold_list, ...). Source quality is one of the scoring buckets.
	Source string `json:"source,omitempty"`

	EmailOpens      int        `json:"email_opens"`
	EmailClicks     int        `json:"email_clicks"`
	SiteVisits      int        `json:"site_visits"`
	FormSubmissions int        `json:"form_submissions"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`

	Tags      []string  `json:"tags,omitempty"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
