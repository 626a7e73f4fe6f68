// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package offline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/apotheca-labs/pharmsync/internal/event"
)

// Key prefixes for badger storage.
const (
	pendingKeyPrefix  = "pending:"
	snapshotKeyPrefix = "snapshot:"
	deviceIDKey       = "meta:device_id"
	lastSyncKey       = "meta:last_sync"
)

// ErrNotFound is returned for lookups of absent keys.
var ErrNotFound = errors.New("not found")

// PendingOperation is the stored form of a queued mutation. The sequence
// number orders replay; retry count survives process restarts.
type PendingOperation struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Type       OpType          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// Operation rebuilds the typed operation from the stored payload.
func (p PendingOperation) Operation() (Operation, error) {
	return decodeOperation(p.Type, p.Payload)
}

// Store is the client's durable local state: the pending operation queue,
// per-entity snapshots for last-resort offline reads, the device id, and
// the last successful sync time. All state survives a process restart.
type Store struct {
	db  *badger.DB
	seq atomic.Uint64
}

// OpenStore opens (or creates) the badger store at dir and recovers the
// pending-operation sequence counter from existing keys.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}

	s := &Store{db: db}
	if err := s.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) recoverSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Reverse: true,
			Prefix:  []byte(pendingKeyPrefix),
		})
		defer it.Close()

		// Seek to the last pending key; its sequence is the high-water mark.
		it.Seek([]byte(pendingKeyPrefix + "\xff"))
		if !it.ValidForPrefix([]byte(pendingKeyPrefix)) {
			return nil
		}
		var p PendingOperation
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
		if err != nil {
			return fmt.Errorf("recover queue sequence: %w", err)
		}
		s.seq.Store(p.Seq)
		return nil
	})
}

func pendingKey(seq uint64) []byte {
	// Zero-padded so lexicographic key order is FIFO order.
	return []byte(fmt.Sprintf("%s%020d", pendingKeyPrefix, seq))
}

// newPendingRecord builds the stored form of an operation without
// assigning a sequence number. The queue also uses it to describe
// operations that were delivered immediately and never persisted.
func newPendingRecord(op Operation) (PendingOperation, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("marshal %s operation: %w", op.OpType(), err)
	}
	return PendingOperation{
		ID:         uuid.New().String(),
		Type:       op.OpType(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Enqueue persists a new pending operation and returns its stored record.
func (s *Store) Enqueue(op Operation) (PendingOperation, error) {
	p, err := newPendingRecord(op)
	if err != nil {
		return PendingOperation{}, err
	}
	p.Seq = s.seq.Add(1)
	if err := s.savePending(p); err != nil {
		return PendingOperation{}, err
	}
	return p, nil
}

// Update rewrites a pending operation in place (retry count bump).
func (s *Store) Update(p PendingOperation) error {
	return s.savePending(p)
}

func (s *Store) savePending(p PendingOperation) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending operation: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(p.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("persist pending operation: %w", err)
	}
	return nil
}

// Remove deletes a pending operation. No-op if already gone.
func (s *Store) Remove(p PendingOperation) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(p.Seq))
	})
	if err != nil {
		return fmt.Errorf("remove pending operation: %w", err)
	}
	return nil
}

// Pending returns all queued operations in FIFO order.
func (s *Store) Pending() ([]PendingOperation, error) {
	var out []PendingOperation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         []byte(pendingKeyPrefix),
		})
		defer it.Close()

		for it.Seek([]byte(pendingKeyPrefix)); it.ValidForPrefix([]byte(pendingKeyPrefix)); it.Next() {
			var p PendingOperation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("decode pending operation: %w", err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCount returns the queue depth.
func (s *Store) PendingCount() (int, error) {
	ops, err := s.Pending()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// DeviceID returns this installation's stable identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deviceIDKey))
		if err == nil {
			return item.Value(func(val []byte) error {
				id = string(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id = uuid.New().String()
		return txn.Set([]byte(deviceIDKey), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return id, nil
}

// SetLastSync records the time of the last successful full refresh.
func (s *Store) SetLastSync(t time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastSyncKey), []byte(t.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("persist last sync: %w", err)
	}
	return nil
}

// LastSync returns the recorded last-sync time, or ErrNotFound if the
// client has never completed a refresh.
func (s *Store) LastSync() (time.Time, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastSyncKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync: %w", err)
	}
	return t, nil
}

// SaveSnapshot stores the latest full read of an entity for last-resort
// offline display.
func (s *Store) SaveSnapshot(entity event.Entity, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", entity, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKeyPrefix+string(entity)), raw)
	})
	if err != nil {
		return fmt.Errorf("persist %s snapshot: %w", entity, err)
	}
	return nil
}

// Snapshot loads the stored snapshot for an entity into out.
func (s *Store) Snapshot(entity event.Entity, out interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKeyPrefix + string(entity)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load %s snapshot: %w", entity, err)
	}
	return err
}
