// Package provenance implements the append-only, hash-linked witness chain
// (§4.9). Every entry's PrevHash is the SHAKE-256-256 digest of the
// canonical serialization of the entry before it, so two chains that agree
// on their final entry must agree on every entry before it. Writes are
// serialized through a single worker goroutine fed by a bounded channel so
// the chain head never races.
package provenance

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/swarmguard/gateway/internal/model"
)

// ErrChainClosed is returned by Append once the chain's worker has stopped.
var ErrChainClosed = errors.New("provenance: chain closed")

// Store persists the appended chain. Implementations must preserve entry
// order; Append is only ever called from the chain's single worker
// goroutine, so Store implementations need no internal locking of their own.
type Store interface {
	Append(entry model.WitnessEntry) error
}

// Chain is an append-only witness log. Construct with New and call Close
// when done to drain the worker and release its goroutine.
type Chain struct {
	store   Store
	queue   chan appendRequest
	done    chan struct{}
	mu      sync.Mutex // guards lastHash/lastSeq against concurrent Status reads
	lastHash string
	lastSeq  uint64
}

type appendRequest struct {
	entry model.WitnessEntry
	result chan error
}

// New starts a Chain backed by store, with a bounded append queue of the
// given depth.
func New(store Store, queueDepth int) *Chain {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	c := &Chain{
		store: store,
		queue: make(chan appendRequest, queueDepth),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Chain) run() {
	defer close(c.done)
	for req := range c.queue {
		req.result <- c.appendLocked(req.entry)
	}
}

func (c *Chain) appendLocked(entry model.WitnessEntry) error {
	c.mu.Lock()
	entry.PrevHash = c.lastHash
	entry.Sequence = c.lastSeq + 1
	c.mu.Unlock()

	if err := c.store.Append(entry); err != nil {
		return fmt.Errorf("provenance: append entry %d: %w", entry.Sequence, err)
	}

	digest, err := digestEntry(entry)
	if err != nil {
		return fmt.Errorf("provenance: digest entry %d: %w", entry.Sequence, err)
	}

	c.mu.Lock()
	c.lastHash = digest
	c.lastSeq = entry.Sequence
	c.mu.Unlock()
	return nil
}

// Append enqueues entry for serialized writing and blocks until it has been
// written (or the chain is closed, or ctx is done). PrevHash and Sequence
// are assigned by the chain, overwriting anything the caller set.
func (c *Chain) Append(ctx context.Context, entry model.WitnessEntry) error {
	req := appendRequest{entry: entry, result: make(chan error, 1)}
	select {
	case c.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrChainClosed
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new entries and waits for the worker to drain.
func (c *Chain) Close() {
	close(c.queue)
	<-c.done
}

// Head returns the current chain length and the hash of its last entry
// (empty if the chain is still empty).
func (c *Chain) Head() (seq uint64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq, c.lastHash
}

// digestEntry computes the SHAKE-256-256 digest of entry's canonical JSON
// serialization, hex-encoded.
func digestEntry(entry model.WitnessEntry) (string, error) {
	canonical, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	sum := make([]byte, 32)
	sha3.ShakeSum256(sum, canonical)
	return hex.EncodeToString(sum), nil
}
