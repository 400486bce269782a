// Package audit is the local, durable K-V store backing the two audit
// streams the orchestrator emits on every dispatch: swarm_audit (one row
// per handoff) and decision_ledger (content-addressed, so duplicate
// handoffs collapse onto the same key instead of growing the store).
package audit

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// Namespace names the two reserved bbolt buckets.
type Namespace string

const (
	NamespaceSwarmAudit     Namespace = "swarm_audit"
	NamespaceDecisionLedger Namespace = "decision_ledger"
	NamespaceProvenance     Namespace = "provenance"
)

// Store is a bbolt-backed K-V store with one bucket per Namespace.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// both reserved buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, ns := range []Namespace{NamespaceSwarmAudit, NamespaceDecisionLedger, NamespaceProvenance} {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return fmt.Errorf("create bucket %s: %w", ns, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutAudit writes key/value into the swarm_audit bucket, always
// overwriting any prior value — every handoff gets its own row.
func (s *Store) PutAudit(key string, value []byte) error {
	return s.put(NamespaceSwarmAudit, key, value)
}

// PutLedger writes key/value into the decision_ledger bucket only if key
// is not already present. collapsed reports whether an existing entry was
// left untouched (the content-addressed duplicate-collapse rule).
func (s *Store) PutLedger(key string, value []byte) (collapsed bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(NamespaceDecisionLedger))
		if existing := b.Get([]byte(key)); existing != nil {
			collapsed = true
			return nil
		}
		return b.Put([]byte(key), value)
	})
	return collapsed, err
}

func (s *Store) put(ns Namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ns)).Put([]byte(key), value)
	})
}

// Put writes key/value into the given namespace's bucket, unconditionally
// overwriting any prior value. Exposed for callers adapting Store to a
// namespace the audit package doesn't have a dedicated method for (e.g.
// provenance.Store).
func (s *Store) Put(ns Namespace, key string, value []byte) error {
	return s.put(ns, key, value)
}

// Get reads a value from the given namespace. It returns (nil, nil) if the
// key is absent.
func (s *Store) Get(ns Namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

// Count returns the number of entries in the given namespace.
func (s *Store) Count(ns Namespace) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ns)).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}
