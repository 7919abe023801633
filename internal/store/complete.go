package store

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

func completionKey(userID, jobID string) []byte {
	return []byte(jobScope(userID, jobID) + "/completed")
}

// Complete is the single-winner completion primitive (spec §4.9/§8): exactly
// one caller among any number of concurrent callers for the same job
// observes won=true and records status as the job's terminal outcome. Later
// callers (or the same caller called again) observe won=false and the
// status recorded by the winner. Complete does not itself write to the
// event log; callers emit the terminal event themselves.
func (s *Store) Complete(ctx context.Context, userID, jobID, status string, data json.RawMessage) (won bool, winningStatus string, err error) {
	key := completionKey(userID, jobID)

	txnErr := withRetry(s.db, func(txn *badger.Txn) error {
		item, getErr := txn.Get(key)
		if getErr == nil {
			return item.Value(func(val []byte) error {
				winningStatus = string(val)
				return nil
			})
		}
		if getErr != badger.ErrKeyNotFound {
			return getErr
		}

		if err := txn.Set(key, []byte(status)); err != nil {
			return err
		}

		won = true
		winningStatus = status
		return nil
	})
	if txnErr != nil {
		return false, "", fmt.Errorf("complete job: %w", txnErr)
	}

	if won {
		s.wakeWaiters(jobID)
		s.releaseSequence(jobID)
	}
	return won, winningStatus, nil
}

// IsComplete reports whether jobID has already reached a terminal state and,
// if so, which status won.
func (s *Store) IsComplete(ctx context.Context, userID, jobID string) (bool, string, error) {
	var status string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(completionKey(userID, jobID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			status = string(val)
			return nil
		})
	})
	if err != nil {
		return false, "", fmt.Errorf("is complete: %w", err)
	}
	return found, status, nil
}
