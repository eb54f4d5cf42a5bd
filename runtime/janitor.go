// Package runtime holds background jobs that run for the lifetime of the
// daemon.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TracePurger deletes traces older than a retention window.
type TracePurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Janitor periodically purges expired debug traces on a cron schedule.
type Janitor struct {
	purger    TracePurger
	schedule  cron.Schedule
	retention time.Duration
	logger    zerolog.Logger
}

// NewJanitor creates a retention janitor. The schedule string accepts 5- or
// 6-field cron expressions or Go duration strings ("1h", "30m").
func NewJanitor(purger TracePurger, schedule string, retention time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse purge schedule %q: %w", schedule, err)
	}

	return &Janitor{
		purger:    purger,
		schedule:  sched,
		retention: retention,
		logger:    logger.With().Str("component", "janitor").Logger(),
	}, nil
}

// parseSchedule parses a schedule string as a cron expression (optional
// seconds field) or a plain duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %s", schedule)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// Start runs the janitor loop until the context is canceled. An initial purge
// runs immediately so a daemon restart never extends retention.
func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info().Dur("retention", j.retention).Msg("Starting trace retention janitor")

	j.runOnce(ctx)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info().Msg("Janitor stopped: context cancelled")
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	removed, err := j.purger.Purge(purgeCtx, j.retention)
	if err != nil {
		j.logger.Error().Err(err).Msg("Trace purge failed")
		return
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("Trace purge completed")
	}
}
