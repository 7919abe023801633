package store

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// QueueItem is one pending URL admitted into a job's work queue.
type QueueItem struct {
	URL            string `json:"url"`
	URLHash        string `json:"url_hash"`
	Depth          int    `json:"depth"`
	DiscoveredFrom string `json:"discovered_from,omitempty"`
}

func queuePrefix(userID, jobID string) []byte {
	return []byte(jobScope(userID, jobID) + "/queue/")
}

func (s *Store) sequenceFor(jobID string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequences == nil {
		s.sequences = make(map[string]*badger.Sequence)
	}
	if seq, ok := s.sequences[jobID]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte("seq/"+jobID), 100)
	if err != nil {
		return nil, err
	}
	s.sequences[jobID] = seq
	return seq, nil
}

// EnqueueMany admits items into jobID's FIFO queue, assigning each a
// monotonically increasing position so PopBatch observes FIFO order.
func (s *Store) EnqueueMany(ctx context.Context, userID, jobID string, items []QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	seq, err := s.sequenceFor(jobID)
	if err != nil {
		return fmt.Errorf("get queue sequence: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, item := range items {
		n, err := seq.Next()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal queue item: %w", err)
		}
		key := append(queuePrefix(userID, jobID), encodeUint64(n)...)
		if err := wb.Set(key, payload); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
	}
	return wb.Flush()
}

// PopBatch atomically removes and returns up to n items from the front of
// jobID's queue. Returns fewer than n (possibly zero) if the queue is
// shorter than n; never partially removes an item without returning it.
func (s *Store) PopBatch(ctx context.Context, userID, jobID string, n int) ([]QueueItem, error) {
	var popped []QueueItem
	prefix := queuePrefix(userID, jobID)

	err := withRetry(s.db, func(txn *badger.Txn) error {
		popped = popped[:0]
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var keysToDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(popped) < n; it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			var qi QueueItem
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qi)
			}); err != nil {
				return err
			}
			popped = append(popped, qi)
			keysToDelete = append(keysToDelete, key)
		}

		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop batch: %w", err)
	}
	return popped, nil
}

// IsQueueEmpty reports whether jobID's queue currently holds no items.
func (s *Store) IsQueueEmpty(ctx context.Context, userID, jobID string) (bool, error) {
	prefix := queuePrefix(userID, jobID)
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(prefix)
		empty = !it.ValidForPrefix(prefix)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("is queue empty: %w", err)
	}
	return empty, nil
}

// releaseSequence returns a job's queue sequence lease; called once the job
// is terminal so Badger reclaims the unused id range on next open.
func (s *Store) releaseSequence(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.sequences[jobID]; ok {
		_ = seq.Release()
		delete(s.sequences, jobID)
	}
}
