package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/multidoc/gateway/internal/model"

	gocron "github.com/go-co-op/gocron/v2"
)

// NewSweeper returns a scheduler, not yet started, which periodically drops
// expired sessions from store. A nil schedule means every model.DefaultSweep.
func NewSweeper(ctx context.Context, schedule *model.Schedule, store *MemoryStore) (gocron.Scheduler, error) {
	cfg := model.Schedule{Duration: model.DefaultSweep}
	if schedule != nil {
		cfg = *schedule
	}

	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		interval, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing auth.sweep.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "interval", interval.String())
	case cfg.Duration != "":
		d, err := model.ParseCueDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing auth.sweep.duration: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("auth.sweep.duration must be positive")
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() {
			if n := store.Sweep(store.now()); n > 0 {
				slog.DebugContext(ctx, "expired sessions removed", "count", n)
			}
		}),
		gocron.WithName("session-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
