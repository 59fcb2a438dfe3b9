package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Broker     BrokerConfig     `mapstructure:"broker" validate:"required"`
	Workers    []WorkerConfig   `mapstructure:"workers" validate:"required,min=1,dive"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" validate:"required"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter" validate:"required"`
	Health     HealthConfig     `mapstructure:"health" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// BrokerConfig contains the connection settings for the job broker.
// When Addr is empty the broker is treated as unavailable and queue
// features degrade to explicit errors rather than silent no-ops.
type BrokerConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`

	// KeyPrefix namespaces all broker keys. Defaults to "flowengine".
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RateLimitConfig bounds worker throughput with a sliding window:
// at most Max jobs started per Window, independent of concurrency.
type RateLimitConfig struct {
	Max    int           `mapstructure:"max" validate:"gte=0"`
	Window time.Duration `mapstructure:"window"`
}

// WorkerConfig configures one worker loop bound to a single queue.
type WorkerConfig struct {
	Name             string          `mapstructure:"name" validate:"required"`
	Queue            string          `mapstructure:"queue" validate:"required,oneof=standard priority delayed"`
	Concurrency      int             `mapstructure:"concurrency" validate:"required,gt=0"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	PollInterval     time.Duration   `mapstructure:"poll_interval"`
	LeaseDuration    time.Duration   `mapstructure:"lease_duration"`
	StalledInterval  time.Duration   `mapstructure:"stalled_interval"`
	MaxStalledCount  int             `mapstructure:"max_stalled_count" validate:"gte=0"`
	ExecutionTimeout time.Duration   `mapstructure:"execution_timeout"`
}

// SchedulerConfig configures the schedule trigger subsystem.
type SchedulerConfig struct {
	// SweepInterval is how often the missed-schedule sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// MissedGrace is how far past its next run time a trigger must be
	// before the sweep treats it as missed.
	MissedGrace time.Duration `mapstructure:"missed_grace"`
}

// DeadLetterConfig configures the dead-letter pipeline.
type DeadLetterConfig struct {
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0"`

	// RecurrenceWindow and RecurrenceThreshold control recurrence
	// detection: at or above the threshold within the window, automatic
	// recovery is abandoned.
	RecurrenceWindow    time.Duration `mapstructure:"recurrence_window"`
	RecurrenceThreshold int           `mapstructure:"recurrence_threshold" validate:"gt=0"`
}

// HealthThresholds are the alerting thresholds for the health service.
type HealthThresholds struct {
	QueueDepth    int64         `mapstructure:"queue_depth" validate:"gt=0"`
	ErrorRate     float64       `mapstructure:"error_rate" validate:"gt=0,lte=1"`
	BrokerLatency time.Duration `mapstructure:"broker_latency"`
	AvgProcessing time.Duration `mapstructure:"avg_processing"`
	MemoryPercent float64       `mapstructure:"memory_percent" validate:"gt=0,lte=100"`
}

// HealthConfig configures health checks, alerting and maintenance.
type HealthConfig struct {
	CheckInterval       time.Duration    `mapstructure:"check_interval"`
	Thresholds          HealthThresholds `mapstructure:"thresholds" validate:"required"`
	AlertMaxAge         time.Duration    `mapstructure:"alert_max_age"`
	MaintenanceInterval time.Duration    `mapstructure:"maintenance_interval"`
	Retention           time.Duration    `mapstructure:"retention"`

	// OffPeakStartHour / OffPeakEndHour bound the window (local time)
	// in which maintenance runs with a larger purge batch.
	OffPeakStartHour int `mapstructure:"off_peak_start_hour" validate:"gte=0,lte=23"`
	OffPeakEndHour   int `mapstructure:"off_peak_end_hour" validate:"gte=0,lte=23"`
}
