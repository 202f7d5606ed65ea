package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jvolcy/autograder/internal/config"
	"github.com/jvolcy/autograder/internal/results"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "inspect stored batches",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Usage: "directory holding history.db"},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list stored batches, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStore(cmd, func(s *results.Store) error {
						records, err := s.List(int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tSTARTED\tLANGUAGE\tPROJECTS\tTIMEOUTS\tBUILD FAILURES\tSOURCE")
						for _, r := range records {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
								r.ID, r.StartedAt.Local().Format(time.DateTime), r.Language,
								r.Count, r.Timeouts, r.BuildFailures, r.SourceDir)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "report",
				Usage:     "write a stored HTML report",
				ArgsUsage: "<batch-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "file to write (default stdout)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := batchID(cmd)
					if err != nil {
						return err
					}
					return withStore(cmd, func(s *results.Store) error {
						html, err := s.Report(id)
						if err != nil {
							return err
						}
						if out := cmd.String("output"); out != "" {
							return os.WriteFile(out, html, 0644)
						}
						_, err = cmd.Root().Writer.Write(html)
						return err
					})
				},
			},
			{
				Name:      "summary",
				Usage:     "print a stored batch summary as JSON",
				ArgsUsage: "<batch-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := batchID(cmd)
					if err != nil {
						return err
					}
					return withStore(cmd, func(s *results.Store) error {
						sum, err := s.Summary(id)
						if err != nil {
							return err
						}
						enc := json.NewEncoder(cmd.Root().Writer)
						enc.SetIndent("", "  ")
						return enc.Encode(sum)
					})
				},
			},
		},
		DefaultCommand: "list",
	}
}

func batchID(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s: batch id required", cmd.FullName())
	}
	return id, nil
}

// withStore opens the history database named by --data-dir, or by the
// configuration when the flag is absent.
func withStore(cmd *cli.Command, fn func(*results.Store) error) error {
	path := cmd.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}

	dir := cmd.String("data-dir")
	cfg, err := config.Load(path, func(c *config.Config) {
		// Only data_dir matters here.
		if c.SourceDir == "" {
			c.SourceDir = "."
		}
		if c.Output == "" {
			c.Output = "-"
		}
		if dir != "" {
			c.DataDir = dir
		}
	})
	if err != nil {
		return err
	}

	store, err := results.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
