package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity ranks health-service findings.
type AlertSeverity string

// Possible alert severities
const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertComponent names the subsystem an alert was raised against.
type AlertComponent string

// Possible alert components
const (
	AlertComponentQueue  AlertComponent = "queue"
	AlertComponentWorker AlertComponent = "worker"
	AlertComponentBroker AlertComponent = "broker"
	AlertComponentSystem AlertComponent = "system"
)

// Alert is a health-service finding. Created by periodic health checks
// and mutated only by acknowledge/resolve operations.
type Alert struct {
	ID           uuid.UUID              `json:"id"`
	Severity     AlertSeverity          `json:"severity"`
	Component    AlertComponent         `json:"component"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// NewAlert creates an unacknowledged, unresolved alert.
func NewAlert(severity AlertSeverity, component AlertComponent, message string, details map[string]interface{}) *Alert {
	return &Alert{
		ID:        uuid.New(),
		Severity:  severity,
		Component: component,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

// Active reports whether the alert is still unresolved.
func (a *Alert) Active() bool {
	return a.ResolvedAt == nil
}

// MetricsSnapshot is one health-check observation persisted for later
// inspection.
type MetricsSnapshot struct {
	ID              uuid.UUID                   `json:"id"`
	Status          string                      `json:"status"`
	QueueScores     map[string]int              `json:"queue_scores"`
	QueueStats      map[string]map[string]int64 `json:"queue_stats"`
	BrokerLatencyMs int64                       `json:"broker_latency_ms"`
	MemoryPercent   float64                     `json:"memory_percent"`
	CreatedAt       time.Time                   `json:"created_at"`
}
