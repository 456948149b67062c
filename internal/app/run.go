package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"impact-curator/internal/scheduler"
)

// RunOptions configure the long-running scan loop.
type RunOptions struct {
	// Once processes the last closed interval and exits.
	Once bool
}

// Run executes the scheduled spike scan until interrupted.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	if err != nil {
		return err
	}

	source, err := a.newSource("", nil)
	if err != nil {
		return err
	}
	p, err := a.newPipeline(ctx, source, sched, false)
	if err != nil {
		return err
	}
	defer p.close()

	if opts.Once {
		return p.service.ProcessBucket(ctx, a.now())
	}

	a.Logger.Info().Str("symbol", a.Config.Fetcher.Symbol).Dur("interval", a.Config.Scheduler.Interval).Msg("starting spike scan loop")
	err = p.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scan loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan loop stopped")
	return nil
}
