// executor.go implements bounded command execution for untrusted programs.
// Every run gets its own process group so that a timeout reclaims the shell
// and everything it spawned, followed by a sweep for escaped executables.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/jvolcy/autograder/internal/capture"
)

// Errors returned by Run.
var (
	ErrEmptyCommand = errors.New("command is empty")
	ErrNotReaped    = errors.New("process group did not exit after SIGKILL")
)

// Executor runs shell command lines with a hard wall-clock deadline.
type Executor struct {
	// Shell is the shell used to run command lines. Default: /bin/sh
	Shell string

	// PollInterval is the evaluation window granted to a zero-timeout run.
	// Default: 50ms
	PollInterval time.Duration

	// Grace is how long the group may react to SIGTERM before SIGKILL.
	// Default: 1s
	Grace time.Duration

	// WaitDelay bounds how long Run waits for the shell to be reaped after
	// SIGKILL. Default: 5s
	WaitDelay time.Duration

	// TempDir holds the per-run capture files. Empty means os.TempDir().
	TempDir string

	// PTY attaches the program's stdout and stderr to a pseudo-terminal so
	// that it line-buffers its output instead of losing it on kill.
	PTY bool

	// Sweeper kills leftover instances of Request.Sweep after a timeout.
	Sweeper Sweeper

	logger *slog.Logger
}

// New creates an Executor with default settings.
func New(logger *slog.Logger) *Executor {
	return &Executor{
		Shell:        "/bin/sh",
		PollInterval: 50 * time.Millisecond,
		Grace:        time.Second,
		WaitDelay:    5 * time.Second,
		Sweeper:      NewProcessSweeper(logger),
		logger:       logger.With(slog.String("component", "executor")),
	}
}

// Run executes req.Command and waits until it exits or its deadline passes.
// On timeout the whole process group receives SIGTERM, then SIGKILL after
// Grace, and the sweep runs. The captured output is truncated to req.Limits
// whether or not the run timed out.
//
// An error is returned only when the run could not be carried out (e.g. the
// stdin file is missing) or ctx was cancelled; a timeout is not an error.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, ErrEmptyCommand
	}

	capFile, err := os.CreateTemp(e.TempDir, "ag-capture-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	defer func() {
		capFile.Close()
		os.Remove(capFile.Name())
	}()

	cmd := exec.Command(e.Shell, "-c", req.Command)
	cmd.Dir = req.Dir

	// New process group so a timeout can signal every descendant at once
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if req.Stdin != "" {
		stdin, err := os.Open(req.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin source %s: %w", req.Stdin, err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	var ptmx, tty *os.File
	var copied chan struct{}
	if e.PTY {
		ptmx, tty, err = pty.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open pty: %w", err)
		}
		defer ptmx.Close()
		cmd.Stdout = tty
		cmd.Stderr = tty
	} else {
		cmd.Stdout = capFile
		cmd.Stderr = capFile
	}

	if err := cmd.Start(); err != nil {
		if tty != nil {
			tty.Close()
		}
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	start := time.Now()

	if ptmx != nil {
		// Only the child may hold the slave side, so EOF follows its exit.
		tty.Close()
		copied = make(chan struct{})
		go func() {
			_, _ = io.Copy(capFile, ptmx)
			close(copied)
		}()
	}

	result := &Result{
		ExitCode:  -1,
		PID:       cmd.Process.Pid,
		StartedAt: start,
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	deadline := req.Timeout
	if deadline <= 0 {
		deadline = e.PollInterval
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
		result.Elapsed = time.Since(start)
		result.Exited = true
		// The leader is reaped, but its group id stays valid while any
		// background child it left behind is alive.
		if groupAlive(result.PID) {
			e.logger.Debug("killing leftover background processes", slog.Int("pgid", result.PID))
			_ = syscall.Kill(-result.PID, syscall.SIGKILL)
		}

	case <-timer.C:
		result.Elapsed = time.Since(start)
		result.TimedOut = true
		e.logger.Warn("run exceeded deadline, terminating process group",
			slog.Int("pgid", result.PID),
			slog.Duration("timeout", req.Timeout),
		)
		waitErr = e.terminate(result.PID, done)
		if req.Sweep != "" && e.Sweeper != nil {
			if _, err := e.Sweeper.Sweep(context.WithoutCancel(ctx), req.Sweep); err != nil {
				e.logger.Warn("sweep failed",
					slog.String("target", req.Sweep),
					slog.String("error", err.Error()),
				)
			}
		}

	case <-ctx.Done():
		e.terminate(result.PID, done)
		e.drain(ptmx, copied)
		return nil, ctx.Err()
	}

	e.drain(ptmx, copied)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if !errors.Is(waitErr, ErrNotReaped) {
			e.logger.Debug("wait returned unexpected error", slog.String("error", waitErr.Error()))
		}
	} else {
		result.ExitCode = 0
	}

	if _, err := capFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind capture file: %w", err)
	}
	out, truncated, err := capture.Head(capFile, req.Limits)
	if err != nil {
		return nil, err
	}
	if e.PTY {
		// The terminal line discipline turns "\n" into "\r\n".
		out = bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
	}
	result.Output = out
	result.Truncated = truncated

	return result, nil
}

// terminate escalates SIGTERM to SIGKILL for the process group pgid and
// returns the shell's wait error once it has been reaped.
func (e *Executor) terminate(pgid int, done <-chan error) error {
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		e.logger.Debug("SIGTERM failed", slog.Int("pgid", pgid), slog.String("error", err.Error()))
	}

	var waitErr error
	reaped := false
	select {
	case waitErr = <-done:
		reaped = true
	case <-time.After(e.Grace):
	}

	// Descendants may outlive the shell, so the group is killed regardless.
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		e.logger.Debug("SIGKILL failed", slog.Int("pgid", pgid), slog.String("error", err.Error()))
	}

	if reaped {
		return waitErr
	}
	select {
	case waitErr = <-done:
		return waitErr
	case <-time.After(e.WaitDelay):
		e.logger.Error("process group survived SIGKILL", slog.Int("pgid", pgid))
		return ErrNotReaped
	}
}

// groupAlive reports whether process group pgid still has members.
func groupAlive(pgid int) bool {
	return syscall.Kill(-pgid, 0) == nil
}

// drain waits for the pty copier to flush, closing the master if it stalls.
func (e *Executor) drain(ptmx *os.File, copied chan struct{}) {
	if ptmx == nil {
		return
	}
	select {
	case <-copied:
	case <-time.After(e.WaitDelay):
		ptmx.Close()
		<-copied
	}
}
