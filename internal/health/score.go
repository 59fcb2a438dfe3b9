package health

import (
	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/worker"
)

// Status is the health verdict for a component or the whole system.
type Status string

// Possible health statuses, best to worst.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusDown     Status = "down"
)

// Score-to-status cut points.
const (
	healthyScoreMin  = 80
	degradedScoreMin = 50
)

// Scoring penalties. A queue starts at 100 and loses points per
// finding; the score never goes below zero.
const (
	depthPenaltyModerate = 20
	depthPenaltySevere   = 40
	errorPenaltyModerate = 20
	errorPenaltySevere   = 40
	stalledPenalty       = 15
	slowPenalty          = 15
	starvationPenalty    = 10
)

// scoreQueue rates one queue 0-100 from its counters and execution
// load. The same inputs always produce the same score.
func scoreQueue(stats queue.QueueStats, load worker.QueueLoad, thresholds config.HealthThresholds) int {
	score := 100

	if thresholds.QueueDepth > 0 {
		switch {
		case stats.Waiting > 2*thresholds.QueueDepth:
			score -= depthPenaltySevere
		case stats.Waiting > thresholds.QueueDepth:
			score -= depthPenaltyModerate
		}
	}

	total := stats.Completed + stats.Failed
	if total > 0 && thresholds.ErrorRate > 0 {
		rate := float64(stats.Failed) / float64(total)
		switch {
		case rate > 2*thresholds.ErrorRate:
			score -= errorPenaltySevere
		case rate > thresholds.ErrorRate:
			score -= errorPenaltyModerate
		}
	}

	// Stalled leases mean workers are dying or hanging mid-job.
	if load.Stalled > 0 {
		score -= stalledPenalty
	}

	if thresholds.AvgProcessing > 0 && load.AvgProcessingMs > thresholds.AvgProcessing.Milliseconds() {
		score -= slowPenalty
	}

	// A backlog with nothing active means no worker is draining the
	// queue.
	if stats.Waiting > 0 && stats.Active == 0 {
		score -= starvationPenalty
	}

	if score < 0 {
		score = 0
	}
	return score
}

// statusForScore maps a queue score to a status band.
func statusForScore(score int) Status {
	switch {
	case score >= healthyScoreMin:
		return StatusHealthy
	case score >= degradedScoreMin:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// worse reports whether a is a worse status than b.
func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

func statusRank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusCritical:
		return 2
	case StatusDown:
		return 3
	}
	return 0
}
