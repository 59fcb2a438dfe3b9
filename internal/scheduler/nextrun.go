package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftware/flowengine/internal/domain"
)

// nextRun computes the trigger's next fire time strictly after the
// given instant. One-shot triggers that have already fired return the
// zero time.
func nextRun(scheduleType domain.ScheduleType, cfg domain.ScheduleConfig, after time.Time, fired bool) (time.Time, error) {
	switch scheduleType {
	case domain.ScheduleTypeCron:
		expr := cfg.Expression
		if cfg.Timezone != "" {
			expr = "CRON_TZ=" + cfg.Timezone + " " + expr
		}
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
		}
		return schedule.Next(after), nil

	case domain.ScheduleTypeInterval:
		if cfg.Every <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval must be positive", domain.ErrInvalidSchedule)
		}
		return after.Add(cfg.Every), nil

	case domain.ScheduleTypeOnce:
		if fired {
			return time.Time{}, nil
		}
		if cfg.RunAt.IsZero() {
			return time.Time{}, fmt.Errorf("%w: one-shot trigger needs a run time", domain.ErrInvalidSchedule)
		}
		if !cfg.RunAt.After(after) {
			return time.Time{}, fmt.Errorf("%w: run time %s is in the past", domain.ErrInvalidSchedule, cfg.RunAt.Format(time.RFC3339))
		}
		return cfg.RunAt, nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule type %q", domain.ErrInvalidSchedule, scheduleType)
	}
}
