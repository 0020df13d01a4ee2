package runengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chaorenex1/memex-cli-sub000/internal/config"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// schedule is a parsed config.CronScheduleConfig: exactly one of a cron
// expression, a fixed interval, or a one-shot timestamp.
type schedule struct {
	kind     string
	cronExpr string
	every    time.Duration
	at       time.Time
	timezone string
}

func newSchedule(cfg config.CronScheduleConfig) (schedule, error) {
	if strings.TrimSpace(cfg.Cron) == "" && cfg.Every == 0 && strings.TrimSpace(cfg.At) == "" {
		return schedule{}, fmt.Errorf("schedule is required")
	}
	sched := schedule{
		cronExpr: strings.TrimSpace(cfg.Cron),
		every:    cfg.Every,
		timezone: strings.TrimSpace(cfg.Timezone),
	}
	if strings.TrimSpace(cfg.At) != "" {
		at, err := parseAt(cfg.At, sched.timezone)
		if err != nil {
			return schedule{}, err
		}
		sched.at = at
		sched.kind = "at"
		return sched, nil
	}
	if sched.every > 0 {
		sched.kind = "every"
		return sched, nil
	}
	if sched.cronExpr != "" {
		if _, err := cronParser.Parse(sched.cronExpr); err != nil {
			return schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		sched.kind = "cron"
		return sched, nil
	}
	return schedule{}, fmt.Errorf("invalid schedule")
}

// next returns the next fire time for the schedule strictly after now.
func (s schedule) next(now time.Time) (time.Time, bool, error) {
	switch s.kind {
	case "at":
		if s.at.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if now.After(s.at) {
			return time.Time{}, false, nil
		}
		return s.at, true, nil
	case "every":
		if s.every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.every), true, nil
	case "cron":
		if s.cronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.timezone != "" {
			if tz, err := time.LoadLocation(s.timezone); err == nil {
				loc = tz
			}
		}
		parsed, err := cronParser.Parse(s.cronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := parsed.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind")
	}
}

func parseAt(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("at schedule value required")
	}
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			if parsed, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
				return parsed, nil
			}
			if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
				return parsed, nil
			}
		}
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse("2006-01-02 15:04", value); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at schedule: %s", value)
}

// ScheduledRunner re-fires a run on a cron/every/at schedule, a supplemental
// feature beyond a single-shot run. A caller that never builds one gets
// exactly Engine.RunWithQuery's single-shot behavior.
type ScheduledRunner struct {
	engine    *Engine
	schedule  schedule
	buildArgs func() RunQueryArgs
	loop      SessionLoopFunc
	logger    *slog.Logger
}

// NewScheduledRunner parses cfg into a schedule and wraps engine.RunWithQuery
// behind it. buildArgs is invoked fresh before each scheduled fire so each
// run gets a new run_id / session_id.
func NewScheduledRunner(engine *Engine, cfg config.CronScheduleConfig, buildArgs func() RunQueryArgs, loop SessionLoopFunc) (*ScheduledRunner, error) {
	sched, err := newSchedule(cfg)
	if err != nil {
		return nil, err
	}
	logger := engine.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduledRunner{engine: engine, schedule: sched, buildArgs: buildArgs, loop: loop, logger: logger}, nil
}

// Run blocks, firing the scheduled query until ctx is cancelled or the
// schedule has no further occurrence (an "at" schedule fires once).
func (s *ScheduledRunner) Run(ctx context.Context) {
	for {
		next, ok, err := s.schedule.next(time.Now())
		if err != nil {
			s.logger.Error("scheduled run: computing next fire time failed", "error", err)
			return
		}
		if !ok {
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.engine.RunWithQuery(ctx, s.buildArgs(), s.loop); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}
}
