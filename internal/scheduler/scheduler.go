package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnchanged is returned by Tick when the submissions have not changed
// since the last graded batch.
var ErrUnchanged = errors.New("submissions unchanged")

// Job grades one batch.
type Job func(ctx context.Context) error

// Scheduler runs a Job whenever a cron expression fires. Runs never overlap:
// a run that outlasts the next firing time delays it.
type Scheduler struct {
	parser     *CronParser
	expression string
	sourceDir  string
	job        Job
	logger     *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu          sync.Mutex
	fingerprint string
	lastRun     time.Time
	lastErr     error
	running     sync.WaitGroup
	cancel      context.CancelFunc
}

// New creates a scheduler that runs job on expression. When sourceDir is
// set, firings that find the submission tree unchanged are skipped.
func New(expression, sourceDir string, job Job, logger *slog.Logger) (*Scheduler, error) {
	parser := NewCronParser()
	if err := parser.Validate(expression); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expression, err)
	}
	return &Scheduler{
		parser:     parser,
		expression: expression,
		sourceDir:  sourceDir,
		job:        job,
		logger:     logger.With(slog.String("component", "scheduler")),
		now:        time.Now,
	}, nil
}

// Run grades once immediately, then on every firing, until ctx is
// cancelled or Shutdown is called. It returns ctx's error on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("scheduler started", slog.String("schedule", s.expression))
	s.tickLogged(ctx)

	for {
		next, err := s.parser.NextRun(s.expression, s.now())
		if err != nil {
			return err
		}
		s.logger.Debug("next batch scheduled", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-timer.C:
			s.tickLogged(ctx)
		}
	}
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	err := s.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnchanged):
		s.logger.Debug("submissions unchanged, skipping batch")
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled batch failed", slog.String("error", err.Error()))
	}
}

// Tick runs the job once unless the submission tree is unchanged since the
// last successful run.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.running.Add(1)
	defer s.running.Done()

	var fp string
	if s.sourceDir != "" {
		var err error
		fp, err = Fingerprint(s.sourceDir)
		if err != nil {
			// The job reports a missing source directory itself.
			s.logger.Warn("fingerprint failed", slog.String("error", err.Error()))
			fp = ""
		}
		s.mu.Lock()
		unchanged := fp != "" && fp == s.fingerprint
		s.mu.Unlock()
		if unchanged {
			return ErrUnchanged
		}
	}

	start := s.now()
	err := s.job(ctx)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	if err == nil {
		s.fingerprint = fp
	}
	s.mu.Unlock()

	return err
}

// Healthy reports whether the last run succeeded. It backs the systemd
// watchdog.
func (s *Scheduler) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr == nil
}

// LastRun returns the start time of the last run.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Shutdown stops the loop and waits for a running batch to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
