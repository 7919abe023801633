package store

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/docspasta/engine/internal/models"
)

// ProgressDelta is an atomic increment applied to a job's progress hash
// (spec §4.6). Zero-valued fields are simply not incremented.
type ProgressDelta struct {
	Discovered int64
	Queued     int64
	Processed  int64
	Filtered   int64
	Skipped    int64
	Failed     int64
}

var progressFields = []struct {
	suffix string
	get    func(ProgressDelta) int64
}{
	{"discovered", func(d ProgressDelta) int64 { return d.Discovered }},
	{"queued", func(d ProgressDelta) int64 { return d.Queued }},
	{"processed", func(d ProgressDelta) int64 { return d.Processed }},
	{"filtered", func(d ProgressDelta) int64 { return d.Filtered }},
	{"skipped", func(d ProgressDelta) int64 { return d.Skipped }},
	{"failed", func(d ProgressDelta) int64 { return d.Failed }},
}

func progressKey(userID, jobID, field string) []byte {
	return []byte(jobScope(userID, jobID) + "/progress/" + field)
}

// IncrementProgress atomically applies delta to jobID's progress hash. Each
// field is incremented independently within one transaction, so a partial
// crash never leaves discovered < queued+processed+... consistency broken
// by a half-applied delta.
func (s *Store) IncrementProgress(ctx context.Context, userID, jobID string, delta ProgressDelta) error {
	err := withRetry(s.db, func(txn *badger.Txn) error {
		for _, f := range progressFields {
			d := f.get(delta)
			if d == 0 {
				continue
			}
			key := progressKey(userID, jobID, f.suffix)
			cur, err := getInt64(txn, key)
			if err != nil {
				return err
			}
			if err := txn.Set(key, encodeInt64(cur+d)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment progress: %w", err)
	}
	return nil
}

// GetProgress reads the current progress snapshot for a job.
func (s *Store) GetProgress(ctx context.Context, userID, jobID string) (models.ProgressSummary, error) {
	var summary models.ProgressSummary
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		for _, f := range progressFields {
			v, err2 := getInt64(txn, progressKey(userID, jobID, f.suffix))
			if err2 != nil {
				err = err2
				return err
			}
			switch f.suffix {
			case "discovered":
				summary.Discovered = int(v)
			case "queued":
				summary.Queued = int(v)
			case "processed":
				summary.Processed = int(v)
			case "filtered":
				summary.Filtered = int(v)
			case "skipped":
				summary.Skipped = int(v)
			case "failed":
				summary.Failed = int(v)
			}
		}
		return err
	})
	if err != nil {
		return models.ProgressSummary{}, fmt.Errorf("get progress: %w", err)
	}
	return summary, nil
}

func workerCountKey(userID, jobID string) []byte {
	return []byte(jobScope(userID, jobID) + "/workers")
}

// IncrementWorkers atomically adjusts the active-worker counter for a job
// and returns the value after the adjustment.
func (s *Store) IncrementWorkers(ctx context.Context, userID, jobID string, delta int64) (int64, error) {
	var result int64
	key := workerCountKey(userID, jobID)
	err := withRetry(s.db, func(txn *badger.Txn) error {
		cur, err := getInt64(txn, key)
		if err != nil {
			return err
		}
		result = cur + delta
		return txn.Set(key, encodeInt64(result))
	})
	if err != nil {
		return 0, fmt.Errorf("increment workers: %w", err)
	}
	return result, nil
}
