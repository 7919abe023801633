package store

import (
	"context"
	"errors"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// dedupRecord is the badgerhold-managed record behind the shared dedup set
// (spec §4.4): one per (job, url_hash) admitted into the queue.
type dedupRecord struct {
	Key       string `badgerhold:"key"`
	UserID    string
	JobID     string
	URLHash   string
	CreatedAt time.Time
}

func dedupKey(userID, jobID, urlHash string) string {
	return jobScope(userID, jobID) + "/seen/" + urlHash
}

// AddIfAbsent attempts to admit urlHash into jobID's shared dedup set.
// Returns true if this call won admission (the caller should enqueue),
// false if another caller already admitted it (the caller should count a
// cache hit, not an error).
func (s *Store) AddIfAbsent(ctx context.Context, userID, jobID, urlHash string) (bool, error) {
	key := dedupKey(userID, jobID, urlHash)
	rec := dedupRecord{Key: key, UserID: userID, JobID: jobID, URLHash: urlHash, CreatedAt: time.Now()}

	err := s.hold.Insert(key, &rec)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return false, nil
	}
	// A write-write conflict on the same key under Badger's SSI model means
	// a concurrent admission of the same URL won the race first.
	if isConflict(err) {
		return false, nil
	}
	return false, err
}

// Seen reports whether urlHash has already been admitted for jobID.
func (s *Store) Seen(ctx context.Context, userID, jobID, urlHash string) (bool, error) {
	var rec dedupRecord
	err := s.hold.Get(dedupKey(userID, jobID, urlHash), &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
