package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Event is one entry in a job's append-only event stream (spec §4.11). ID is
// a monotonically increasing integer scoped to the job, suitable as a
// resumeAt cursor: a consumer that last saw ID n resumes by requesting
// events with ID > n and is guaranteed not to miss or repeat any.
type Event struct {
	ID        uint64          `json:"id"`
	JobID     string          `json:"job_id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func eventSeqKey(userID, jobID string) []byte {
	return []byte(jobScope(userID, jobID) + "/events/seq")
}

func eventKey(userID, jobID string, id uint64) []byte {
	return append([]byte(jobScope(userID, jobID)+"/events/log/"), encodeUint64(id)...)
}

func eventLogPrefix(userID, jobID string) []byte {
	return []byte(jobScope(userID, jobID) + "/events/log/")
}

// AppendEvent appends kind/data to jobID's event log and returns the
// assigned id. Any goroutine blocked in AwaitEvents for this job is woken.
func (s *Store) AppendEvent(ctx context.Context, userID, jobID, kind string, data json.RawMessage) (Event, error) {
	var ev Event
	err := withRetry(s.db, func(txn *badger.Txn) error {
		seqKey := eventSeqKey(userID, jobID)
		cur, err := getInt64(txn, seqKey)
		if err != nil {
			return err
		}
		id := uint64(cur) + 1
		if err := txn.Set(seqKey, encodeInt64(int64(id))); err != nil {
			return err
		}

		ev = Event{ID: id, JobID: jobID, Kind: kind, Data: data, CreatedAt: time.Now()}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return txn.Set(eventKey(userID, jobID, id), payload)
	})
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	s.wakeWaiters(jobID)
	return ev, nil
}

// EventsSince returns every event for jobID with ID strictly greater than
// afterID, oldest first.
func (s *Store) EventsSince(ctx context.Context, userID, jobID string, afterID uint64) ([]Event, error) {
	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := eventLogPrefix(userID, jobID)
		seekKey := eventKey(userID, jobID, afterID+1)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var ev Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	return events, nil
}

// AwaitEvents blocks until jobID has at least one event with ID > afterID,
// the context is cancelled, or timeout elapses, whichever comes first. On
// wake it returns the newly available events (possibly empty, if the wake
// was spurious or the context/timeout fired first).
func (s *Store) AwaitEvents(ctx context.Context, userID, jobID string, afterID uint64, timeout time.Duration) ([]Event, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[jobID] = append(s.waiters[jobID], ch)
	s.mu.Unlock()
	defer s.removeWaiter(jobID, ch)

	events, err := s.EventsSince(ctx, userID, jobID, afterID)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case <-ch:
		return s.EventsSince(ctx, userID, jobID, afterID)
	}
}

func (s *Store) wakeWaiters(jobID string) {
	s.mu.Lock()
	chans := s.waiters[jobID]
	s.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) removeWaiter(jobID string, target chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[jobID]
	for i, ch := range chans {
		if ch == target {
			s.waiters[jobID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[jobID]) == 0 {
		delete(s.waiters, jobID)
	}
}
