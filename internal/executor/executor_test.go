package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvolcy/autograder/internal/capture"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSweeper remembers which executables it was asked to sweep.
type recordingSweeper struct {
	mu      sync.Mutex
	targets []string
}

func (s *recordingSweeper) Sweep(_ context.Context, executable string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, executable)
	return 0, nil
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e := New(nopLogger())
	e.Grace = 200 * time.Millisecond
	e.TempDir = t.TempDir()
	return e
}

func TestRun_PrintWithinBudget(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "echo 'hello world'",
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(100),
	})
	require.NoError(t, err)

	assert.False(t, res.TimedOut)
	assert.True(t, res.Exited)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello world\n", string(res.Output))
	assert.False(t, res.Truncated)
	assert.Less(t, res.Elapsed, 3*time.Second)
}

func TestRun_InfiniteLoopIsReclaimed(t *testing.T) {
	e := newTestExecutor(t)
	sweeper := &recordingSweeper{}
	e.Sweeper = sweeper

	res, err := e.Run(context.Background(), Request{
		Command: "sleep 1234.5 & while true; do echo tick; sleep 0.05; done",
		Timeout: 2 * time.Second,
		Limits:  capture.DefaultLimits(100),
		Sweep:   "/tmp/ag-does-not-exist",
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Exited)
	assert.Equal(t, -1, res.ExitCode)
	assert.GreaterOrEqual(t, res.Elapsed, 2*time.Second)
	assert.Contains(t, string(res.Output), "tick")
	assert.Equal(t, []string{"/tmp/ag-does-not-exist"}, sweeper.targets)

	require.Eventually(t, func() bool {
		exists, err := process.PidExists(int32(res.PID))
		return err == nil && !exists
	}, 3*time.Second, 50*time.Millisecond, "shell survived the timeout")

	require.Eventually(t, func() bool {
		return !processWithArg(t, "1234.5")
	}, 3*time.Second, 50*time.Millisecond, "background child survived the timeout")
}

func TestRun_NormalExitKillsBackgroundChildren(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "sleep 1234.7 & echo done",
		Timeout: 5 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)

	assert.True(t, res.Exited)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "done\n", string(res.Output))

	require.Eventually(t, func() bool {
		return !processWithArg(t, "1234.7") && !groupAlive(res.PID)
	}, 3*time.Second, 50*time.Millisecond, "background child survived a normal exit")
}

func TestGroupAlive_EmptyGroup(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "true",
		Timeout: 5 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.False(t, groupAlive(res.PID))
}

func TestRun_IgnoredSIGTERMStillKilled(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "trap '' TERM; while true; do :; done",
		Timeout: 300 * time.Millisecond,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	require.Eventually(t, func() bool {
		exists, err := process.PidExists(int32(res.PID))
		return err == nil && !exists
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRun_ZeroTimeout(t *testing.T) {
	e := newTestExecutor(t)
	e.PollInterval = 500 * time.Millisecond

	t.Run("trivial work completes", func(t *testing.T) {
		res, err := e.Run(context.Background(), Request{
			Command: "echo fast",
			Timeout: 0,
			Limits:  capture.DefaultLimits(10),
		})
		require.NoError(t, err)
		assert.False(t, res.TimedOut)
		assert.Equal(t, "fast\n", string(res.Output))
	})

	t.Run("slow work is cut after one window", func(t *testing.T) {
		res, err := e.Run(context.Background(), Request{
			Command: "sleep 5",
			Timeout: 0,
			Limits:  capture.DefaultLimits(10),
		})
		require.NoError(t, err)
		assert.True(t, res.TimedOut)
		assert.GreaterOrEqual(t, res.Elapsed, e.PollInterval)
		assert.Less(t, res.Elapsed, 3*time.Second)
	})
}

func TestRun_StdinRedirect(t *testing.T) {
	e := newTestExecutor(t)
	input := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("5\n7\n"), 0o600))

	res, err := e.Run(context.Background(), Request{
		Command: "while read n; do echo $((n * 2)); done",
		Stdin:   input,
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "10\n14\n", string(res.Output))
}

func TestRun_NoStdinReadsEmptyStream(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "cat; echo done",
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "done\n", string(res.Output))
}

func TestRun_MissingStdinFile(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Run(context.Background(), Request{
		Command: "cat",
		Stdin:   filepath.Join(t.TempDir(), "missing.txt"),
		Timeout: time.Second,
	})
	assert.Error(t, err)
}

func TestRun_MergesStderr(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "echo out; echo err 1>&2; exit 3",
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.Exited)
	assert.Equal(t, "out\nerr\n", string(res.Output))
}

func TestRun_TruncatesOutput(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Command: "i=1; while [ $i -le 1000 ]; do echo $i; i=$((i+1)); done",
		Timeout: 5 * time.Second,
		Limits:  capture.Limits{Lines: 3, Bytes: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", string(res.Output))
	assert.True(t, res.Truncated)
}

func TestRun_WorkingDirectoryAndEnv(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here\n"), 0o600))

	res, err := e.Run(context.Background(), Request{
		Command: "cat marker.txt; echo $AG_TEST_VALUE",
		Dir:     dir,
		Env:     []string{"AG_TEST_VALUE=42"},
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "here\n42\n", string(res.Output))
}

func TestRun_RemovesCaptureFile(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Run(context.Background(), Request{
		Command: "echo x",
		Timeout: time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), Request{
		Command: "sleep 5",
		Timeout: 100 * time.Millisecond,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(e.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ContextCancelled(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, Request{
		Command: "sleep 10",
		Timeout: 10 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_EmptyCommand(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Run(context.Background(), Request{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestRun_PTY(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	ptmx.Close()
	tty.Close()

	e := newTestExecutor(t)
	e.PTY = true

	res, err := e.Run(context.Background(), Request{
		Command: "echo one; echo two 1>&2",
		Timeout: 3 * time.Second,
		Limits:  capture.DefaultLimits(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(res.Output))
}

// processWithArg reports whether any live process has arg on its command line.
func processWithArg(t *testing.T, arg string) bool {
	t.Helper()
	procs, err := process.Processes()
	require.NoError(t, err)
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, arg) && p.Pid != int32(os.Getpid()) {
			return true
		}
	}
	return false
}
