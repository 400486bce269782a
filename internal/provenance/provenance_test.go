package provenance

import (
	"context"
	"sync"
	"testing"

	"github.com/swarmguard/gateway/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	entries []model.WitnessEntry
}

func (m *memStore) Append(entry model.WitnessEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) snapshot() []model.WitnessEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WitnessEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func TestChain_FirstEntryHasEmptyPrevHash(t *testing.T) {
	store := &memStore{}
	chain := New(store, 8)
	defer chain.Close()

	if err := chain.Append(context.Background(), model.WitnessEntry{WitnessType: model.WitnessProvenance, ActionHash: "abc"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries := store.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].PrevHash != "" {
		t.Errorf("expected empty PrevHash on first entry, got %q", entries[0].PrevHash)
	}
	if entries[0].Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", entries[0].Sequence)
	}
}

func TestChain_SubsequentEntriesLinkToPriorHash(t *testing.T) {
	store := &memStore{}
	chain := New(store, 8)
	defer chain.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := chain.Append(ctx, model.WitnessEntry{WitnessType: model.WitnessComputation, ActionHash: "h"}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries := store.snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash == "" {
			t.Errorf("entry %d: expected non-empty PrevHash", i)
		}
	}
	if entries[1].Sequence != 2 || entries[2].Sequence != 3 {
		t.Errorf("expected sequential sequence numbers, got %d,%d", entries[1].Sequence, entries[2].Sequence)
	}
}

func TestChain_ConcurrentAppendsAreSerialized(t *testing.T) {
	store := &memStore{}
	chain := New(store, 64)
	defer chain.Close()

	var wg sync.WaitGroup
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := chain.Append(ctx, model.WitnessEntry{WitnessType: model.WitnessSearch, ActionHash: "x"}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	entries := store.snapshot()
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
	seen := map[uint64]bool{}
	for _, e := range entries {
		if seen[e.Sequence] {
			t.Fatalf("duplicate sequence %d", e.Sequence)
		}
		seen[e.Sequence] = true
	}
}

func TestChain_EqualFinalEntryImpliesEqualPriorSequence(t *testing.T) {
	storeA := &memStore{}
	chainA := New(storeA, 8)
	storeB := &memStore{}
	chainB := New(storeB, 8)
	defer chainA.Close()
	defer chainB.Close()

	ctx := context.Background()
	actions := []string{"a1", "a2", "a3"}
	for _, a := range actions {
		if err := chainA.Append(ctx, model.WitnessEntry{WitnessType: model.WitnessProvenance, ActionHash: a}); err != nil {
			t.Fatal(err)
		}
		if err := chainB.Append(ctx, model.WitnessEntry{WitnessType: model.WitnessProvenance, ActionHash: a}); err != nil {
			t.Fatal(err)
		}
	}

	entriesA := storeA.snapshot()
	entriesB := storeB.snapshot()
	lastA := entriesA[len(entriesA)-1]
	lastB := entriesB[len(entriesB)-1]
	if !sameEntry(lastA, lastB) {
		t.Fatalf("expected identical final entries, got %+v vs %+v", lastA, lastB)
	}
	for i := range entriesA {
		if !sameEntry(entriesA[i], entriesB[i]) {
			t.Errorf("entry %d diverged: %+v vs %+v", i, entriesA[i], entriesB[i])
		}
	}
}

func sameEntry(a, b model.WitnessEntry) bool {
	return a.WitnessType == b.WitnessType &&
		a.ActionHash == b.ActionHash &&
		a.PrevHash == b.PrevHash &&
		a.Sequence == b.Sequence
}

func TestChain_AppendAfterCloseReturnsError(t *testing.T) {
	store := &memStore{}
	chain := New(store, 8)
	chain.Close()

	err := chain.Append(context.Background(), model.WitnessEntry{WitnessType: model.WitnessDeletion})
	if err != ErrChainClosed {
		t.Errorf("expected ErrChainClosed, got %v", err)
	}
}

func TestChain_HeadTracksLastEntry(t *testing.T) {
	store := &memStore{}
	chain := New(store, 8)
	defer chain.Close()

	seq, hash := chain.Head()
	if seq != 0 || hash != "" {
		t.Errorf("expected empty head before any append, got seq=%d hash=%q", seq, hash)
	}

	if err := chain.Append(context.Background(), model.WitnessEntry{WitnessType: model.WitnessProvenance, ActionHash: "a"}); err != nil {
		t.Fatal(err)
	}

	seq, hash = chain.Head()
	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}
	if hash == "" {
		t.Error("expected non-empty hash after append")
	}
}
