// AutoGrader - Entry Point
//
// autograder grades a directory of student submissions: it discovers one
// project per file or directory, compiles C++ projects, runs every project
// once per test input under a wall-clock budget, and writes an HTML report
// with a feedback form.
//
// Commands:
//
//	run      grade the configured batch once (default)
//	watch    re-grade on a cron schedule (systemd Type=notify friendly)
//	history  list stored batches or re-emit a stored report
//	init     write a starter configuration file
//	version  print build information
//
// Configuration is read from autograder.yaml (or the file named by --config),
// then AUTOGRADER_* environment variables, then command-line flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/jvolcy/autograder/internal/config"
	"github.com/jvolcy/autograder/internal/logging"
	"github.com/jvolcy/autograder/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:           "autograder",
		Usage:          "run and report on a batch of student programs",
		Version:        version.Version,
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file (.yaml, .yml or .toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before the configuration",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := godotenv.Load(cmd.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return ctx, fmt.Errorf("failed to load %s: %w", cmd.String("env-file"), err)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
			historyCommand(),
			initCommand(),
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintln(cmd.Root().Writer, version.Info())
					return err
				},
			},
		},
	}
}

// batchFlags are shared by run and watch.
func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "source-dir", Aliases: []string{"s"}, Usage: "directory holding the submissions"},
		&cli.StringFlag{Name: "source-filename", Usage: "entry point inside Python project directories"},
		&cli.StringSliceFlag{Name: "test-data", Aliases: []string{"t"}, Usage: "stdin file, once per run (repeatable)"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "HTML report path"},
		&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "c++ or python"},
		&cli.BoolFlag{Name: "include-source", Usage: "add numbered source listings to the report"},
		&cli.FloatFlag{Name: "max-run-time", Usage: "per-run budget in seconds"},
		&cli.IntFlag{Name: "max-output-lines", Usage: "captured output line limit"},
		&cli.BoolFlag{Name: "pty", Usage: "run programs on a pseudo-terminal"},
		&cli.BoolFlag{Name: "history", Usage: "store the batch in the history database"},
		&cli.StringFlag{Name: "summary", Usage: "also write the batch summary as JSON to this path"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "no console progress"},
		&cli.BoolFlag{Name: "show-output", Usage: "echo program output to the console"},
		&cli.BoolFlag{Name: "no-color", Usage: "disable console colours"},
	}
}

// loadConfig resolves the configuration file and applies the command's flags
// on top of it.
func loadConfig(cmd *cli.Command) (*config.Config, string, error) {
	path := cmd.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}

	var opts []config.Option
	setString := func(flag string, dst func(*config.Config) *string) {
		if cmd.IsSet(flag) {
			v := cmd.String(flag)
			opts = append(opts, func(c *config.Config) { *dst(c) = v })
		}
	}
	setBool := func(flag string, dst func(*config.Config) *bool) {
		if cmd.IsSet(flag) {
			v := cmd.Bool(flag)
			opts = append(opts, func(c *config.Config) { *dst(c) = v })
		}
	}

	setString("log-level", func(c *config.Config) *string { return &c.LogLevel })
	setString("log-format", func(c *config.Config) *string { return &c.LogFormat })
	setString("source-dir", func(c *config.Config) *string { return &c.SourceDir })
	setString("source-filename", func(c *config.Config) *string { return &c.SourceFilename })
	setString("output", func(c *config.Config) *string { return &c.Output })
	setString("language", func(c *config.Config) *string { return &c.Language })
	setString("schedule", func(c *config.Config) *string { return &c.Schedule })
	setBool("include-source", func(c *config.Config) *bool { return &c.IncludeSource })
	setBool("pty", func(c *config.Config) *bool { return &c.PTY })
	setBool("history", func(c *config.Config) *bool { return &c.History })

	if cmd.IsSet("test-data") {
		files := cmd.StringSlice("test-data")
		opts = append(opts, func(c *config.Config) { c.TestData = files })
	}
	if cmd.IsSet("max-run-time") {
		v := cmd.Float("max-run-time")
		opts = append(opts, func(c *config.Config) { c.MaxRunTime = v })
	}
	if cmd.IsSet("max-output-lines") {
		v := int(cmd.Int("max-output-lines"))
		opts = append(opts, func(c *config.Config) {
			c.MaxOutputLines = v
			c.MaxOutputBytes = 0
		})
	}

	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func setupLogger(cmd *cli.Command, cfg *config.Config) *slog.Logger {
	return logging.SetupLogger(cfg.LogLevel, cfg.LogFormat, cmd.Root().ErrWriter)
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "write a starter configuration file",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source-dir", Value: "submissions"},
			&cli.StringFlag{Name: "output", Value: "report.html"},
			&cli.StringFlag{Name: "language", Value: "c++"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				path = config.DefaultConfigPath
			}
			if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.SourceDir = cmd.String("source-dir")
			cfg.Output = cmd.String("output")
			cfg.Language = cmd.String("language")
			// The home directory default is resolved at load time.
			cfg.DataDir = ""

			if err := config.Save(path, cfg); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
			return err
		},
	}
}
