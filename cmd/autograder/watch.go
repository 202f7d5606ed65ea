package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jvolcy/autograder/internal/config"
	"github.com/jvolcy/autograder/internal/scheduler"
	"github.com/jvolcy/autograder/internal/shutdown"
	"github.com/jvolcy/autograder/internal/systemd"
)

// Default shutdown timeout - how long a running batch may take to finish
// after SIGTERM.
const shutdownTimeout = 30 * time.Second

func watchCommand() *cli.Command {
	flags := append(batchFlags(),
		&cli.StringFlag{Name: "schedule", Usage: `cron expression, e.g. "*/10 * * * *" or "@every 5m"`},
	)
	return &cli.Command{
		Name:  "watch",
		Usage: "re-grade the batch on a schedule whenever submissions change",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Schedule == "" {
				return config.ErrScheduleRequired
			}
			logger := setupLogger(cmd, cfg)
			return watch(ctx, cfg, logger, consoleOptions(cmd))
		},
	}
}

// watch runs the scheduler (and the background uploader) until ctx is
// cancelled, then shuts everything down in reverse order.
func watch(ctx context.Context, cfg *config.Config, logger *slog.Logger, con console) error {
	app, err := newApp(ctx, cfg, logger, con)
	if err != nil {
		return err
	}

	// An unknown language would fail every batch.
	if _, err := app.batch(); err != nil {
		app.Close()
		return err
	}

	coordinator := shutdown.NewCoordinator(logger)
	if app.store != nil {
		coordinator.Register("history", app.store)
	}
	if app.nats != nil {
		coordinator.Register("nats", app.nats)
	}

	sched, err := scheduler.New(cfg.Schedule, cfg.SourceDir, func(ctx context.Context) error {
		summary, err := app.grade(ctx)
		if err != nil {
			systemd.NotifyStatus("last batch failed: %v", err)
			return err
		}
		systemd.NotifyStatus("graded %d project(s), %d timeout(s), %d build failure(s)",
			summary.Count, summary.TimedOutRuns(), summary.BuildFailures())
		return nil
	}, logger)
	if err != nil {
		app.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(sched.Run(gctx))
	})
	if app.uploader != nil {
		coordinator.Register("uploader", app.uploader)
		g.Go(func() error {
			app.uploader.Run(gctx)
			return nil
		})
	}
	coordinator.Register("scheduler", sched)

	systemd.NotifyReady()
	systemd.StartWatchdog(gctx, sched.Healthy)

	logger.Info("watching submissions",
		slog.String("source_dir", cfg.SourceDir),
		slog.String("schedule", cfg.Schedule),
	)

	<-gctx.Done()
	logger.Info("shutdown signal received, starting graceful shutdown")
	systemd.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	waitErr := g.Wait()
	shutdownErr := coordinator.Shutdown(shutdownCtx)
	if waitErr != nil {
		return waitErr
	}
	return shutdownErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
