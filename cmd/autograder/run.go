package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jvolcy/autograder/internal/client"
	"github.com/jvolcy/autograder/internal/config"
	"github.com/jvolcy/autograder/internal/executor"
	"github.com/jvolcy/autograder/internal/grader"
	natsinternal "github.com/jvolcy/autograder/internal/nats"
	"github.com/jvolcy/autograder/internal/report"
	"github.com/jvolcy/autograder/internal/results"
	"github.com/jvolcy/autograder/internal/sysinfo"
	"github.com/jvolcy/autograder/internal/version"
)

// publishTimeout bounds the NATS connection and publish after a batch.
const publishTimeout = 10 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "grade the configured batch once",
		Flags: batchFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cmd, cfg)
			logger.Debug("configuration loaded", slog.String("config_path", path))

			app, err := newApp(ctx, cfg, logger, consoleOptions(cmd))
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.grade(ctx)
			if err != nil {
				return err
			}

			if p := cmd.String("summary"); p != "" {
				if err := writeSummary(p, summary); err != nil {
					return err
				}
			}

			if app.uploader != nil {
				if _, err := app.uploader.Flush(ctx); err != nil {
					logger.Warn("upload failed, summary stays queued", slog.String("error", err.Error()))
				}
			}
			return nil
		},
	}
}

// console describes the terminal sink of a batch.
type console struct {
	w          io.Writer
	quiet      bool
	noColor    bool
	showOutput bool
}

func consoleOptions(cmd *cli.Command) console {
	return console{
		w:          cmd.Root().Writer,
		quiet:      cmd.Bool("quiet"),
		noColor:    cmd.Bool("no-color"),
		showOutput: cmd.Bool("show-output"),
	}
}

// app holds everything a batch needs beyond the grader itself.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	console console

	store    *results.Store
	uploader *results.Uploader
	nats     *natsinternal.Client
	pub      *natsinternal.Publisher
}

// newApp opens the optional history store and NATS connection. A NATS
// connection failure is logged and publishing is skipped.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, con console) (*app, error) {
	a := &app{cfg: cfg, logger: logger, console: con}

	if cfg.History || cfg.UploadEnabled() {
		store, err := results.Open(cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	if cfg.UploadEnabled() {
		c := client.NewClient(cfg.UploadURL, cfg.UploadToken, logger)
		a.uploader = results.NewUploader(a.store, c, logger)
	}

	if cfg.NATSEnabled() {
		nc := natsinternal.NewClient(natsinternal.Config{
			Servers:  cfg.NATSServers,
			NKeySeed: cfg.NATSNKeySeed,
			Subject:  cfg.NATSSubject,
			Name:     "autograder-" + version.Version,
		}, logger)

		connectCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := nc.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("NATS unavailable, batches will not be published", slog.String("error", err.Error()))
		} else {
			a.nats = nc
			a.pub = natsinternal.NewPublisher(nc, logger)
		}
	}

	return a, nil
}

// Close releases the store and the NATS connection.
func (a *app) Close() error {
	var errs []error
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// batch converts the configuration into a grader batch.
func (a *app) batch() (grader.Batch, error) {
	lang, err := grader.ParseLanguage(a.cfg.Language)
	if err != nil {
		return grader.Batch{}, err
	}
	return grader.Batch{
		SourceDir:      a.cfg.SourceDir,
		SourceFilename: a.cfg.SourceFilename,
		TestData:       a.cfg.TestData,
		Language:       lang,
		IncludeSource:  a.cfg.IncludeSource,
		Tool:           a.cfg.Tool(),
		Timeout:        a.cfg.RunTimeout(),
		CompileTimeout: a.cfg.CompileBudget(),
		Limits:         a.cfg.Limits(),
	}, nil
}

// grade runs one batch end to end: report file, grading, then history,
// upload queue and NATS.
func (a *app) grade(ctx context.Context) (*report.Summary, error) {
	b, err := a.batch()
	if err != nil {
		return nil, err
	}

	if _, err := executor.VerifyTool(b.Tool); err != nil {
		// Every build or run will fail and say so in the report.
		a.logger.Warn("compiler/interpreter not found", slog.String("tool", b.Tool), slog.String("error", err.Error()))
	}

	host := ""
	if info, err := sysinfo.Collect(ctx); err == nil {
		host = info.Describe()
	} else {
		a.logger.Debug("failed to collect host info", slog.String("error", err.Error()))
	}

	f, err := report.Create(a.cfg.Output)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snapshot bytes.Buffer
	var w io.Writer = f
	if a.store != nil && a.cfg.History {
		w = io.MultiWriter(f, &snapshot)
	}

	sinks := []report.Sink{report.NewHTML(w)}
	if !a.console.quiet {
		con := report.NewConsole(a.console.w, a.console.noColor)
		con.ShowOutput = a.console.showOutput
		sinks = append(sinks, con)
	}

	exec := executor.New(a.logger)
	exec.Grace = a.cfg.KillGrace()
	exec.PollInterval = a.cfg.PollInterval()
	exec.PTY = a.cfg.PTY

	g := grader.New(exec, report.Tee(sinks...), a.logger, grader.WithHost(host))
	summary, err := g.Run(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, &grader.IOError{Op: "close", Err: err}
	}

	a.logger.Info("report written",
		slog.String("output", a.cfg.Output),
		slog.Int("projects", summary.Count),
	)

	a.record(ctx, summary, snapshot.Bytes())
	return summary, nil
}

// record stores, queues and publishes a finished batch. Failures here never
// fail the batch; the report is already on disk.
func (a *app) record(ctx context.Context, summary *report.Summary, html []byte) {
	if a.store != nil && a.cfg.History {
		if _, err := a.store.Save(summary, html); err != nil {
			a.logger.Warn("failed to store batch history", slog.String("error", err.Error()))
		}
	}
	if a.store != nil && a.uploader != nil {
		if err := a.store.Enqueue(summary); err != nil {
			a.logger.Warn("failed to queue batch for upload", slog.String("error", err.Error()))
		}
	}
	if a.pub != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := a.pub.PublishBatch(pubCtx, summary); err != nil {
			a.logger.Warn("failed to publish batch", slog.String("error", err.Error()))
		}
	}
}

func writeSummary(path string, summary *report.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}
