// Package results - Uploader Component
//
// The uploader drains queued batch summaries to the configured upload
// endpoint. The run command flushes once after each batch; the watch daemon
// also runs the loop in the background so that summaries queued while the
// endpoint was unreachable eventually get through.
package results

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jvolcy/autograder/internal/report"
)

// DefaultUploadInterval is how often the background loop retries.
const DefaultUploadInterval = 30 * time.Second

const uploadBatchSize = 20

// HTTPClient uploads summaries to the server.
type HTTPClient interface {
	SubmitBatchSummaries(ctx context.Context, summaries []*report.Summary) error
}

// Uploader periodically uploads queued batch summaries.
type Uploader struct {
	store    *Store
	client   HTTPClient
	logger   *slog.Logger
	interval time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewUploader creates a new summary uploader.
func NewUploader(store *Store, client HTTPClient, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:    store,
		client:   client,
		logger:   logger.With(slog.String("component", "uploader")),
		interval: DefaultUploadInterval,
	}
}

// Run flushes immediately, then every interval, until ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) {
	internalCtx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()

	u.logger.Info("uploader started",
		slog.Duration("interval", u.interval),
	)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.flushLogged(internalCtx)

	for {
		select {
		case <-internalCtx.Done():
			u.logger.Info("uploader stopping")
			return
		case <-ticker.C:
			u.flushLogged(internalCtx)
		}
	}
}

func (u *Uploader) flushLogged(ctx context.Context) {
	if _, err := u.Flush(ctx); err != nil {
		u.logger.Warn("failed to upload summaries, will retry next cycle",
			slog.String("error", err.Error()),
		)
	}
}

// Flush uploads queued summaries in groups until the queue is empty or an
// upload fails. It returns how many summaries were uploaded.
func (u *Uploader) Flush(ctx context.Context) (int, error) {
	u.wg.Add(1)
	defer u.wg.Done()

	uploaded := 0
	for {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}

		pending, err := u.store.Dequeue(uploadBatchSize)
		if err != nil {
			return uploaded, err
		}
		if len(pending) == 0 {
			if uploaded > 0 {
				u.logger.Info("summaries uploaded", slog.Int("count", uploaded))
			}
			return uploaded, nil
		}

		summaries := make([]*report.Summary, len(pending))
		ids := make([]uint64, len(pending))
		for i, p := range pending {
			summaries[i] = p.Summary
			ids[i] = p.ID
		}

		if err := u.client.SubmitBatchSummaries(ctx, summaries); err != nil {
			return uploaded, err
		}

		// A failed removal only means the server sees these again; batch IDs
		// make that harmless.
		if err := u.store.Remove(ids); err != nil {
			u.logger.Warn("failed to remove uploaded summaries from queue",
				slog.String("error", err.Error()),
				slog.Int("count", len(ids)),
			)
			return uploaded + len(ids), nil
		}
		uploaded += len(ids)
	}
}

// Shutdown stops the loop and waits for an in-flight flush.
func (u *Uploader) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	if u.cancel != nil {
		u.cancel()
	}
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.logger.Info("uploader shutdown complete")
		return nil
	case <-ctx.Done():
		u.logger.Warn("uploader shutdown timed out")
		return ctx.Err()
	}
}
