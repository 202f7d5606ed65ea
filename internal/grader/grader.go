// Package grader runs a batch: every discovered project is analysed,
// optionally compiled, run once per test input under the time budget and
// reported, strictly one project after another and in path order.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvolcy/autograder/internal/analytics"
	"github.com/jvolcy/autograder/internal/capture"
	"github.com/jvolcy/autograder/internal/discover"
	"github.com/jvolcy/autograder/internal/executor"
	"github.com/jvolcy/autograder/internal/report"
	"github.com/jvolcy/autograder/internal/version"
)

// Runner executes one bounded run. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Batch is the resolved configuration of one grading run.
type Batch struct {
	// SourceDir is the root holding all submissions.
	SourceDir string

	// SourceFilename names the entry point inside Python project directories.
	// Empty means any directory holding a .py file is a project.
	SourceFilename string

	// TestData holds stdin files, one run each, in order. Empty means a
	// single run with no input.
	TestData []string

	Language      Language
	IncludeSource bool

	// Tool is the compiler (C++) or interpreter (Python) command string.
	Tool string

	Timeout        time.Duration
	CompileTimeout time.Duration
	Limits         capture.Limits
}

// Project is one submission ready to grade.
type Project struct {
	Kind    discover.Kind
	Path    string
	Sources []string
	Entry   string
	Label   string
}

// Grader orchestrates batches.
type Grader struct {
	runner  Runner
	sink    report.Sink
	logger  *slog.Logger
	host    string
	tempDir string
}

// Option configures a Grader.
type Option func(*Grader)

// WithHost sets the host description shown in reports.
func WithHost(host string) Option {
	return func(g *Grader) { g.host = host }
}

// WithTempDir sets where per-batch build artifacts are created.
func WithTempDir(dir string) Option {
	return func(g *Grader) { g.tempDir = dir }
}

// New creates a Grader that runs programs with runner and reports to sink.
func New(runner Runner, sink report.Sink, logger *slog.Logger, opts ...Option) *Grader {
	g := &Grader{
		runner: runner,
		sink:   sink,
		logger: logger.With(slog.String("component", "grader")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run grades every project of b and returns the batch summary. Problems
// confined to one project are reported and the batch moves on. Only a
// ConfigurationError, an IOError from the report, or ctx cancellation stop it.
func (g *Grader) Run(ctx context.Context, b Batch) (*report.Summary, error) {
	prof, err := profileFor(b.Language)
	if err != nil {
		return nil, err
	}

	// Builds and runs execute inside the project directory, so every
	// discovered path must be absolute.
	root, err := filepath.Abs(b.SourceDir)
	if err != nil {
		return nil, &ConfigurationError{Field: "source_dir", Value: b.SourceDir, Err: err}
	}
	b.SourceDir = root

	collector := report.NewCollector()
	sink := report.Sink(collector)
	if g.sink != nil {
		sink = report.Tee(collector, g.sink)
	}

	log := g.logger.With(
		slog.String("source_dir", b.SourceDir),
		slog.String("language", string(b.Language)),
	)

	entries, err := prof.find(&b)
	if err != nil {
		log.Warn("discovery failed, grading zero projects", slog.String("error", err.Error()))
		entries = nil
	}

	artifactDir := ""
	if prof.compiled {
		artifactDir, err = os.MkdirTemp(g.tempDir, "autograder-build-")
		if err != nil {
			return nil, fmt.Errorf("failed to create build directory: %w", err)
		}
		defer os.RemoveAll(artifactDir)
	}

	batchID := uuid.NewString()
	err = sink.BeginBatch(report.BatchInfo{
		ID:            batchID,
		SourceDir:     b.SourceDir,
		Language:      b.Language.DisplayName(),
		Tool:          b.Tool,
		IncludeSource: b.IncludeSource,
		TestData:      b.TestData,
		StartedAt:     time.Now().UTC(),
		Host:          g.host,
		Version:       version.Version,
	})
	if err != nil {
		return nil, ioErr("header", err)
	}

	log.Info("batch started",
		slog.String("batch_id", batchID),
		slog.Int("projects", len(entries)),
		slog.Int("test_inputs", len(b.TestData)),
	)

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := g.project(prof, &b, e)
		if err := g.grade(ctx, sink, prof, &b, i, p, artifactDir); err != nil {
			return nil, err
		}
	}

	files, dirs := discover.Count(entries)
	err = sink.EndBatch(report.BatchEnd{
		Count:      files + dirs,
		Language:   b.Language.DisplayName(),
		Tool:       b.Tool,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, ioErr("footer", err)
	}

	summary := collector.Summary()
	log.Info("batch finished",
		slog.String("batch_id", batchID),
		slog.Int("projects", summary.Count),
		slog.Int("build_failures", summary.BuildFailures()),
		slog.Int("timeouts", summary.TimedOutRuns()),
	)
	return summary, nil
}

// project resolves a discovered entry into a Project.
func (g *Grader) project(prof *profile, b *Batch, e discover.Entry) Project {
	p := Project{
		Kind:  e.Kind,
		Path:  e.Path,
		Label: Label(b.SourceDir, e.Path),
	}
	sources, entry, err := prof.members(b, e)
	if err != nil {
		g.logger.Warn("failed to list project sources",
			slog.String("project", e.Path),
			slog.String("error", err.Error()),
		)
	}
	p.Sources = sources
	p.Entry = entry
	return p
}

// grade reports one project. Only report write failures and cancellation
// are returned.
func (g *Grader) grade(ctx context.Context, sink report.Sink, prof *profile, b *Batch, index int, p Project, artifactDir string) error {
	log := g.logger.With(slog.String("project", p.Path), slog.String("label", p.Label))

	info := report.ProjectInfo{
		Index:   index,
		Kind:    p.Kind.String(),
		Path:    p.Path,
		Label:   p.Label,
		Sources: p.Sources,
		Metrics: make([]analytics.Metrics, 0, len(p.Sources)),
	}
	for _, src := range p.Sources {
		m, err := analytics.File(string(prof.lang), src)
		if err != nil {
			log.Warn("analytics failed", slog.String("file", src), slog.String("error", err.Error()))
		}
		info.Metrics = append(info.Metrics, m)
	}
	if b.IncludeSource {
		for _, src := range p.Sources {
			data, err := os.ReadFile(src)
			if err != nil {
				log.Warn("failed to read source listing", slog.String("file", src), slog.String("error", err.Error()))
				continue
			}
			info.Listings = append(info.Listings, report.Listing{Path: src, Source: data})
		}
	}
	if err := sink.BeginProject(info); err != nil {
		return ioErr("project header", err)
	}

	workDir := p.Path
	if p.Kind == discover.KindFile {
		workDir = filepath.Dir(p.Path)
	}

	var command, sweep string
	if prof.compiled {
		artifact := filepath.Join(artifactDir, ArtifactName(p.Label))
		defer os.Remove(artifact)

		built, err := g.build(ctx, sink, prof, b, p, workDir, artifact)
		if err != nil {
			return err
		}
		if !built {
			log.Info("build failed, skipping runs")
			return ioErr("feedback", sink.EndProject(info))
		}
		command = executor.Quote(artifact)
		sweep = artifact
	} else {
		if p.Entry == "" {
			return ioErr("feedback", sink.EndProject(info))
		}
		command = executor.CommandLine(b.Tool, p.Entry)
		workDir = filepath.Dir(p.Entry)
	}

	inputs := b.TestData
	if len(inputs) == 0 {
		inputs = []string{""}
	}
	for _, input := range inputs {
		if err := sink.BeginRun(input); err != nil {
			return ioErr("run header", err)
		}

		run := report.RunInfo{TestData: input, Timeout: b.Timeout, ExitCode: -1}
		res, err := g.runner.Run(ctx, executor.Request{
			Command: command,
			Dir:     workDir,
			Stdin:   input,
			Env:     prof.env,
			Timeout: b.Timeout,
			Limits:  b.Limits,
			Sweep:   sweep,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("run failed", slog.String("input", input), slog.String("error", err.Error()))
			run.Err = err.Error()
		} else {
			run.Output = res.Output
			run.Truncated = res.Truncated
			run.Elapsed = res.Elapsed
			run.TimedOut = res.TimedOut
			run.ExitCode = res.ExitCode
		}

		log.Debug("run complete",
			slog.String("input", input),
			slog.Duration("elapsed", run.Elapsed),
			slog.Bool("timed_out", run.TimedOut),
		)
		if err := sink.RunResult(run); err != nil {
			return ioErr("run result", err)
		}
	}

	return ioErr("feedback", sink.EndProject(info))
}

// build compiles the project's implementation files into artifact and
// reports the compiler output. It returns whether the artifact exists.
func (g *Grader) build(ctx context.Context, sink report.Sink, prof *profile, b *Batch, p Project, workDir, artifact string) (bool, error) {
	sources := make([]string, 0, len(p.Sources))
	for _, src := range p.Sources {
		for _, ext := range prof.compileExts {
			if strings.HasSuffix(src, ext) {
				sources = append(sources, src)
				break
			}
		}
	}

	// A stale artifact must never pass for a successful build.
	os.Remove(artifact)

	bi := report.BuildInfo{}
	args := append([]string{"-o", artifact}, sources...)
	res, err := g.runner.Run(ctx, executor.Request{
		Command: executor.CommandLine(b.Tool, args...),
		Dir:     workDir,
		Timeout: b.CompileTimeout,
		Limits:  b.Limits,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		bi.Err = err.Error()
	} else {
		bi.Output = res.Output
		bi.Truncated = res.Truncated
		if res.TimedOut {
			bi.Err = "Compiler: " + report.TimeoutMessage(b.CompileTimeout)
		}
	}

	bi.Succeeded = isFile(artifact)
	if err := sink.BuildOutput(bi); err != nil {
		return false, ioErr("compiler output", err)
	}
	return bi.Succeeded, nil
}

// Label derives the feedback identifier of a project from its path: the
// path relative to root, cut at the first underscore, without slashes at
// either end. "root/smith_hw3/main.cpp" becomes "smith".
func Label(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, "_"); i >= 0 {
		rel = rel[:i]
	}
	return strings.Trim(rel, "/")
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]+`)

// ArtifactName returns a unique executable file name for a project. The
// random part comes first so that it survives the kernel's 15 character
// truncation of process names.
func ArtifactName(label string) string {
	clean := strings.Trim(unsafeChars.ReplaceAllString(label, "-"), "-.")
	if len(clean) > 24 {
		clean = clean[:24]
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if clean == "" {
		return "ag" + id
	}
	return "ag" + id + "-" + clean
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
