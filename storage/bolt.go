package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	metaBucketName    = []byte("meta")
	appliedBucketName = []byte("applied")
)

// BoltBackend is a durable Backend backed by a bbolt database file. One
// database can back several node ids (handy for single-process demos and
// tests); production deployments typically point one file at one node id.
type BoltBackend struct {
	db    *bolt.DB
	apply ApplyFunc
}

// OpenBoltBackend opens (creating if necessary) a bbolt database at path.
// apply is invoked for every committed entry as part of the same bbolt
// transaction that advances the durable last-applied marker; a nil apply
// is a no-op sink.
func OpenBoltBackend(path string, apply ApplyFunc) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(appliedBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init bbolt buckets: %w", err)
	}
	if apply == nil {
		apply = func(uint64, any) error { return nil }
	}
	return &BoltBackend{db: db, apply: apply}, nil
}

// Close releases the underlying database file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

type metaWire struct {
	CurrentTerm uint64         `json:"current_term"`
	VotedFor    string         `json:"voted_for"`
	Log         []logEntryWire `json:"log"`
}

type logEntryWire struct {
	Term    uint64          `json:"term"`
	Command json.RawMessage `json:"command,omitempty"`
}

func (b *BoltBackend) LoadMeta(nodeID string) (Meta, error) {
	var meta Meta
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(metaBucketName).Get([]byte(nodeID))
		if raw == nil {
			return nil
		}
		var w metaWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fmt.Errorf("storage: decode meta: %w", err)
		}
		meta.CurrentTerm = w.CurrentTerm
		meta.VotedFor = w.VotedFor
		meta.Log = make([]LogEntry, len(w.Log))
		for i, e := range w.Log {
			var cmd any
			if len(e.Command) > 0 {
				if err := json.Unmarshal(e.Command, &cmd); err != nil {
					return fmt.Errorf("storage: decode log entry command: %w", err)
				}
			}
			meta.Log[i] = LogEntry{Term: e.Term, Command: cmd}
		}
		return nil
	})
	return meta, err
}

func (b *BoltBackend) LastAppliedCommitIndex(nodeID string) (uint64, error) {
	var index uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(appliedBucketName).Get([]byte(nodeID))
		if raw == nil {
			return nil
		}
		index = binary.BigEndian.Uint64(raw)
		return nil
	})
	return index, err
}

func (b *BoltBackend) SaveMeta(nodeID string, meta Meta) error {
	w := metaWire{CurrentTerm: meta.CurrentTerm, VotedFor: meta.VotedFor, Log: make([]logEntryWire, len(meta.Log))}
	for i, e := range meta.Log {
		cmdBytes, err := json.Marshal(e.Command)
		if err != nil {
			return fmt.Errorf("storage: encode log entry command: %w", err)
		}
		w.Log[i] = logEntryWire{Term: e.Term, Command: cmdBytes}
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("storage: encode meta: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucketName).Put([]byte(nodeID), raw)
	})
}

// ApplyLog delivers entry to apply and durably advances the last-applied
// marker for nodeID inside a single bbolt transaction. apply runs inside
// that transaction, so an apply error leaves the marker unchanged, but
// apply receives no handle to the transaction: whatever it writes
// elsewhere is not committed atomically with the marker. The demo
// ApplyFunc in statemachine/kv writes to a plain in-process map, whose
// contents do not survive a crash.
func (b *BoltBackend) ApplyLog(nodeID string, index uint64, entry LogEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(appliedBucketName)
		raw := bucket.Get([]byte(nodeID))
		var current uint64
		if raw != nil {
			current = binary.BigEndian.Uint64(raw)
		}
		if index != current+1 {
			return outOfOrderErr(nodeID, current, index)
		}
		if err := b.apply(index, entry.Command); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], index)
		return bucket.Put([]byte(nodeID), buf[:])
	})
}
