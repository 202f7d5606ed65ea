// Package results keeps the grading history on disk and queues batch
// summaries for upload.
//
// Everything lives in one bbolt database:
//
//	batches          seq -> summary JSON
//	batch_ids        batch ID -> seq
//	reports          seq -> zstd-compressed HTML report
//	pending_uploads  seq -> summary JSON awaiting upload
package results

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/jvolcy/autograder/internal/report"
)

const (
	batchesBucket = "batches"
	batchIDBucket = "batch_ids"
	reportsBucket = "reports"
	pendingBucket = "pending_uploads"
)

// ErrNotFound is returned when no stored batch has the requested ID.
var ErrNotFound = errors.New("batch not found")

// Record is one line of the history listing.
type Record struct {
	Seq           uint64    `json:"seq"`
	ID            string    `json:"id"`
	SourceDir     string    `json:"source_dir"`
	Language      string    `json:"language"`
	StartedAt     time.Time `json:"started_at"`
	Count         int       `json:"count"`
	Timeouts      int       `json:"timeouts"`
	BuildFailures int       `json:"build_failures"`
}

// PendingUpload is a batch summary awaiting upload.
type PendingUpload struct {
	ID      uint64          `json:"id"`
	Summary *report.Summary `json:"summary"`
}

// Store provides persistent storage for batch history and pending uploads.
type Store struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{batchesBucket, batchIDBucket, reportsBucket, pendingBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Save stores a finished batch and its HTML report. It returns the sequence
// number assigned to the batch.
func (s *Store) Save(summary *report.Summary, html []byte) (uint64, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal summary: %w", err)
	}
	compressed := s.enc.EncodeAll(html, nil)

	var seq uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(batchesBucket))
		seq, _ = b.NextSequence()
		key := itob(seq)

		if err := b.Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(batchIDBucket)).Put([]byte(summary.ID), key); err != nil {
			return err
		}
		return tx.Bucket([]byte(reportsBucket)).Put(key, compressed)
	})
	return seq, err
}

// List returns up to limit stored batches, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(batchesBucket)).Cursor()

		for k, v := c.Last(); k != nil && (limit <= 0 || len(records) < limit); k, v = c.Prev() {
			var sum report.Summary
			if err := json.Unmarshal(v, &sum); err != nil {
				continue
			}
			records = append(records, Record{
				Seq:           btoi(k),
				ID:            sum.ID,
				SourceDir:     sum.SourceDir,
				Language:      sum.Language,
				StartedAt:     sum.StartedAt,
				Count:         sum.Count,
				Timeouts:      sum.TimedOutRuns(),
				BuildFailures: sum.BuildFailures(),
			})
		}
		return nil
	})

	return records, err
}

// Summary returns the stored summary of batch id.
func (s *Store) Summary(id string) (*report.Summary, error) {
	var sum report.Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(batchIDBucket)).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket([]byte(batchesBucket)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sum)
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// Report returns the decompressed HTML report of batch id.
func (s *Store) Report(id string) ([]byte, error) {
	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(batchIDBucket)).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket([]byte(reportsBucket)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction.
		compressed = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	html, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress report %s: %w", id, err)
	}
	return html, nil
}

// Enqueue adds a summary to the upload queue.
func (s *Store) Enqueue(summary *report.Summary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pendingBucket))

		id, _ := b.NextSequence()
		data, err := json.Marshal(&PendingUpload{ID: id, Summary: summary})
		if err != nil {
			return err
		}

		return b.Put(itob(id), data)
	})
}

// Dequeue retrieves up to limit pending uploads (oldest first) without
// removing them.
func (s *Store) Dequeue(limit int) ([]*PendingUpload, error) {
	var pending []*PendingUpload

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(pendingBucket)).Cursor()

		for k, v := c.First(); k != nil && len(pending) < limit; k, v = c.Next() {
			var p PendingUpload
			if err := json.Unmarshal(v, &p); err != nil {
				continue
			}
			pending = append(pending, &p)
		}
		return nil
	})

	return pending, err
}

// Remove deletes pending uploads by ID after a successful upload.
func (s *Store) Remove(ids []uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pendingBucket))
		for _, id := range ids {
			if err := b.Delete(itob(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pending returns the number of queued uploads.
func (s *Store) Pending() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// Shutdown closes the store as part of a coordinated shutdown.
func (s *Store) Shutdown(context.Context) error {
	return s.Close()
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
