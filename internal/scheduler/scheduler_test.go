package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCronParser(t *testing.T) {
	p := NewCronParser()
	base := time.Date(2025, 1, 6, 10, 7, 0, 0, time.UTC)

	next, err := p.NextRun("*/15 * * * *", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 6, 10, 15, 0, 0, time.UTC), next)

	next, err = p.NextRun("@every 10m", base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Minute), next)

	assert.Error(t, p.Validate("61 * * * *"))
	assert.Error(t, p.Validate("* * * * * *"), "seconds field is not accepted")
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("every tuesday", "", func(context.Context) error { return nil }, nopLogger())
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "smith_hw1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "smith_hw1", "main.cpp"), []byte("int main(){}"), 0o644))

	first, err := Fingerprint(root)
	require.NoError(t, err)

	again, err := Fingerprint(root)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644))
	hidden, err := Fingerprint(root)
	require.NoError(t, err)
	assert.Equal(t, first, hidden, "hidden files are ignored")

	require.NoError(t, os.WriteFile(filepath.Join(root, "jones.cpp"), []byte("int main(){}"), 0o644))
	added, err := Fingerprint(root)
	require.NoError(t, err)
	assert.NotEqual(t, first, added)

	_, err = Fingerprint(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestTick_SkipsUnchangedTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("print(1)"), 0o644))

	var runs atomic.Int32
	s, err := New("@hourly", root, func(context.Context) error {
		runs.Add(1)
		return nil
	}, nopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Tick(ctx))
	assert.ErrorIs(t, s.Tick(ctx), ErrUnchanged)
	assert.Equal(t, int32(1), runs.Load())

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte("print(2)"), 0o644))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int32(2), runs.Load())
	assert.True(t, s.Healthy())
	assert.False(t, s.LastRun().IsZero())
}

func TestTick_FailedRunIsRetried(t *testing.T) {
	root := t.TempDir()
	boom := errors.New("report unwritable")

	var runs atomic.Int32
	s, err := New("@hourly", root, func(context.Context) error {
		runs.Add(1)
		return boom
	}, nopLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Tick(context.Background()), boom)
	assert.ErrorIs(t, s.Tick(context.Background()), boom)
	assert.Equal(t, int32(2), runs.Load())
	assert.False(t, s.Healthy())
}

func TestRun_RunsImmediatelyAndStops(t *testing.T) {
	started := make(chan struct{}, 1)
	s, err := New("@every 1h", "", func(context.Context) error {
		started <- struct{}{}
		return nil
	}, nopLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch did not start")
	}

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
