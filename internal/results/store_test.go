package results

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvolcy/autograder/internal/report"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func summary(id string, timedOut bool) *report.Summary {
	return &report.Summary{
		ID:        id,
		SourceDir: "/srv/" + id,
		Language:  "C++",
		Count:     2,
		Projects: []report.ProjectSummary{
			{Label: "smith", BuildFailed: true},
			{Label: "jones", Runs: []report.RunSummary{{TimedOut: timedOut}}},
		},
	}
}

func TestStore_SaveListAndReport(t *testing.T) {
	s := openStore(t)
	html := []byte("<html>" + strings.Repeat("<p>tick</p>", 1000) + "</html>")

	_, err := s.Save(summary("first", false), []byte("<html>one</html>"))
	require.NoError(t, err)
	seq, err := s.Save(summary("second", true), html)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	records, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].ID, "newest first")
	assert.Equal(t, 1, records[0].Timeouts)
	assert.Equal(t, 1, records[0].BuildFailures)
	assert.Equal(t, 0, records[1].Timeouts)

	limited, err := s.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := s.Report("second")
	require.NoError(t, err)
	assert.Equal(t, html, got)

	sum, err := s.Summary("first")
	require.NoError(t, err)
	assert.Equal(t, "/srv/first", sum.SourceDir)

	_, err = s.Report("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Summary("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Queue(t *testing.T) {
	s := openStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Enqueue(summary(id, false)))
	}
	n, err := s.Pending()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending, err := s.Dequeue(2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Summary.ID)
	assert.Equal(t, "b", pending[1].Summary.ID)

	require.NoError(t, s.Remove([]uint64{pending[0].ID, pending[1].ID}))
	n, err = s.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakeClient struct {
	mu       sync.Mutex
	fail     error
	received []string
}

func (f *fakeClient) SubmitBatchSummaries(_ context.Context, summaries []*report.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, s := range summaries {
		f.received = append(f.received, s.ID)
	}
	return nil
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploader_Flush(t *testing.T) {
	s := openStore(t)
	for i := 0; i < uploadBatchSize+5; i++ {
		require.NoError(t, s.Enqueue(summary("batch", false)))
	}

	client := &fakeClient{}
	u := NewUploader(s, client, nopLogger())

	n, err := u.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uploadBatchSize+5, n)
	assert.Len(t, client.received, uploadBatchSize+5)

	left, err := s.Pending()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestUploader_FailureKeepsQueue(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Enqueue(summary("a", false)))

	boom := errors.New("connection refused")
	u := NewUploader(s, &fakeClient{fail: boom}, nopLogger())

	n, err := u.Flush(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)

	left, err := s.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestUploader_RunAndShutdown(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Enqueue(summary("a", false)))

	client := &fakeClient{}
	u := NewUploader(s, client, nopLogger())

	done := make(chan struct{})
	go func() {
		u.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.received) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, u.Shutdown(context.Background()))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
