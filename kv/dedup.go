// Package kv provides the worker agent's local idempotency cache: a
// badger-backed key/value store recording which cmd_uuids have already run
// to completion, so a reconnect that replays an unacknowledged Run cannot
// double-spawn a command. Adapted from the predecessor
// project's general-purpose badger wrapper, narrowed to the one dedup-cache
// shape this domain needs.
package kv

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rustyhorde/barto/barrors"
	"github.com/rustyhorde/barto/wire"
)

// DedupCache records completed command invocations with a bounded TTL.
type DedupCache struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database at dir.
func Open(dir string) (*DedupCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening dedup cache at %s: %v", barrors.StorageError, dir, err)
	}
	return &DedupCache{db: db}, nil
}

func (c *DedupCache) Close() error { return c.db.Close() }

// MarkDone records that cmdUUID completed with status, valid for ttl.
func (c *DedupCache) MarkDone(cmdUUID string, status wire.Status, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key(cmdUUID)), encodeStatus(status)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Lookup returns the cached terminal status for cmdUUID, if one is present
// and not expired.
func (c *DedupCache) Lookup(cmdUUID string) (wire.Status, bool, error) {
	var status wire.Status
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key(cmdUUID)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s, ok := decodeStatus(val)
			if !ok {
				return nil
			}
			status, found = s, true
			return nil
		})
	})
	if err != nil {
		return wire.Status{}, false, fmt.Errorf("%w: dedup lookup: %v", barrors.StorageError, err)
	}
	return status, found, nil
}

func key(cmdUUID string) string { return "cmd:" + cmdUUID }

// encodeStatus/decodeStatus use a fixed 2-byte layout (exit_code, success) —
// the cache only ever needs to replay the terminal Status, not re-derive it.
func encodeStatus(s wire.Status) []byte {
	success := byte(0)
	if s.Success {
		success = 1
	}
	return []byte{s.ExitCode, success}
}

func decodeStatus(b []byte) (wire.Status, bool) {
	if len(b) != 2 {
		return wire.Status{}, false
	}
	return wire.Status{ExitCode: b[0], Success: b[1] == 1}, true
}
