package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftware/flowengine/internal/domain"
)

func TestScoreLead(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)

	t.Run("fully engaged referral lead is hot", func(t *testing.T) {
		t.Parallel()
		lead := &domain.Lead{
			Email:           "jo@acme.io",
			Phone:           "+15550100",
			FirstName:       "Jo",
			LastName:        "Park",
			Company:         "Acme",
			Source:          "referral",
			EmailOpens:      10,
			EmailClicks:     10,
			SiteVisits:      10,
			FormSubmissions: 5,
			LastActivityAt:  &recent,
		}

		score, tags := ScoreLead(lead, now)
		assert.Equal(t, 100, score)
		assert.Equal(t, []string{"hot-lead"}, tags)
	})

	t.Run("empty lead nurtures", func(t *testing.T) {
		t.Parallel()
		score, tags := ScoreLead(&domain.Lead{}, now)
		assert.Zero(t, score)
		assert.Contains(t, tags, "nurture")
		assert.Contains(t, tags, "unreachable")
	})

	t.Run("stale activity earns nothing", func(t *testing.T) {
		t.Parallel()
		old := now.Add(-120 * 24 * time.Hour)
		withOld := &domain.Lead{Email: "a@b.co", LastActivityAt: &old}
		without := &domain.Lead{Email: "a@b.co"}

		scoreOld, _ := ScoreLead(withOld, now)
		scoreNone, _ := ScoreLead(without, now)
		assert.Equal(t, scoreNone, scoreOld)
	})

	t.Run("source quality ranks referral above purchased lists", func(t *testing.T) {
		t.Parallel()
		referral, _ := ScoreLead(&domain.Lead{Email: "a@b.co", Source: "Referral"}, now)
		purchased, _ := ScoreLead(&domain.Lead{Email: "a@b.co", Source: "purchased"}, now)
		assert.Greater(t, referral, purchased)
	})
}

func TestScoreLead_Idempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	activity := now.Add(-3 * 24 * time.Hour)
	lead := &domain.Lead{
		Email:          "jo@acme.io",
		Company:        "Acme",
		Source:         "webinar",
		EmailOpens:     2,
		SiteVisits:     3,
		LastActivityAt: &activity,
	}

	firstScore, firstTags := ScoreLead(lead, now)
	for i := 0; i < 5; i++ {
		score, tags := ScoreLead(lead, now)
		assert.Equal(t, firstScore, score)
		assert.Equal(t, firstTags, tags)
	}
}

func TestScoreLead_BucketsAreCapped(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lead := &domain.Lead{
		EmailOpens:      1000,
		EmailClicks:     1000,
		SiteVisits:      1000,
		FormSubmissions: 1000,
	}

	score, _ := ScoreLead(lead, now)
	assert.Equal(t, engagementWeight, score, "engagement alone cannot exceed its weight")
}
