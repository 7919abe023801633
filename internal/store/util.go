package store

import (
	"encoding/binary"
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 8

func isConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict) || strings.Contains(err.Error(), "Conflict")
}

// withRetry runs fn, retrying on a Badger transaction conflict with a short
// backoff. fn must be idempotent with respect to re-execution (it reads
// fresh state from txn each attempt).
func withRetry(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = db.Update(fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return err
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func getInt64(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		v = decodeInt64(val)
		return nil
	})
	return v, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
