// Package vectorindex wraps an HNSW approximate nearest-neighbor graph
// (github.com/coder/hnsw) with namespacing, JSON persistence, backup
// rotation, and an embedder/index coupling guard: every Insert and Search
// call is checked against the embedder name that first seeded the index, so
// vectors from two different embedding spaces can never be mixed silently.
package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// Defaults frozen at index creation per the spec's configuration surface.
const (
	DefaultM              = 32
	DefaultEfConstruction = 200
	DefaultEfSearch       = 100
	DefaultMaxElements    = 1_000_000
)

// Config is frozen at creation time; nothing in it may change afterwards.
type Config struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	MaxElements    uint64
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = DefaultM
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = DefaultEfConstruction
	}
	if c.EfSearch == 0 {
		c.EfSearch = DefaultEfSearch
	}
	if c.MaxElements == 0 {
		c.MaxElements = DefaultMaxElements
	}
	return c
}

// SearchResult is one row of a k-NN query. Distance is cosine distance,
// 1 - cos(u,v), in [0, 2]; smaller means more similar.
type SearchResult struct {
	ID       string
	Distance float32
	Metadata map[string]any
}

// entry is the persisted shape of one inserted vector.
type entry struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// snapshot is the full on-disk representation of an Index.
type snapshot struct {
	EmbedderName string  `json:"embedder_name"`
	Dimension    int     `json:"dimension"`
	Entries      []entry `json:"entries"`
}

// Index is a content-addressable nearest-neighbor store over a single
// embedding space. The zero value is not usable; construct with New.
type Index struct {
	mu   sync.RWMutex
	cfg  Config
	path string

	graph        *hnsw.Graph[string]
	embedderName string // set by the first Insert/Load; "" until then
	vectors      map[string][]float32
	metadata     map[string]map[string]any
	maxElements  uint64
}

// New constructs an empty Index. path is the persistence file used by Save,
// Load, and Backup; an empty path means the index is in-memory only.
func New(path string, cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be positive, got %d", cfg.Dimension)
	}
	cfg = cfg.withDefaults()

	g := hnsw.NewGraph[string]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Distance = hnsw.CosineDistance

	return &Index{
		graph:       g,
		cfg:         cfg,
		path:        path,
		vectors:     make(map[string][]float32),
		metadata:    make(map[string]map[string]any),
		maxElements: cfg.MaxElements,
	}, nil
}

// Insert adds or replaces the vector stored under id. embedderName must
// match the embedder that first seeded this index (the first successful
// Insert fixes it); a mismatch is rejected rather than silently mixing
// embedding spaces. Write errors propagate to the caller.
func (idx *Index) Insert(id string, vector []float32, embedderName string, metadata map[string]any) error {
	if len(vector) != idx.cfg.Dimension {
		return fmt.Errorf("vectorindex: vector has dimension %d, index expects %d", len(vector), idx.cfg.Dimension)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.embedderName == "" {
		idx.embedderName = embedderName
	} else if idx.embedderName != embedderName {
		return fmt.Errorf("vectorindex: embedder mismatch: index seeded by %q, got vector from %q", idx.embedderName, embedderName)
	}

	if _, exists := idx.metadata[id]; !exists && uint64(len(idx.metadata)) >= idx.maxElements {
		return fmt.Errorf("vectorindex: index at capacity (%d elements)", idx.maxElements)
	}

	idx.graph.Add(hnsw.MakeNode(id, hnsw.Vector(vector)))
	idx.vectors[id] = vector
	idx.metadata[id] = metadata
	return nil
}

// Search returns the k nearest neighbors to vector. embedderName must match
// the index's seeding embedder; a mismatch is rejected. Internal read
// failures (e.g. an empty graph) are tolerated and yield an empty result,
// never an error.
func (idx *Index) Search(vector []float32, embedderName string, k int) ([]SearchResult, error) {
	if len(vector) != idx.cfg.Dimension {
		return nil, fmt.Errorf("vectorindex: query vector has dimension %d, index expects %d", len(vector), idx.cfg.Dimension)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.embedderName != "" && idx.embedderName != embedderName {
		return nil, fmt.Errorf("vectorindex: embedder mismatch: index seeded by %q, got query from %q", idx.embedderName, embedderName)
	}
	if len(idx.metadata) == 0 {
		return []SearchResult{}, nil
	}

	nodes := idx.graph.Search(hnsw.Vector(vector), k)
	results := make([]SearchResult, 0, len(nodes))
	for _, n := range nodes {
		dist := hnsw.CosineDistance(hnsw.Vector(vector), n.Value)
		results = append(results, SearchResult{
			ID:       n.Key,
			Distance: dist,
			Metadata: idx.metadata[n.Key],
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results, nil
}

// Len reflects persisted state: the number of distinct ids currently held.
func (idx *Index) Len() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return uint64(len(idx.metadata))
}

// EmbedderName returns the embedder that seeded this index, or "" if empty.
func (idx *Index) EmbedderName() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.embedderName
}

// Save writes the full index state to its persistence path. A no-op if the
// index was constructed with an empty path.
func (idx *Index) Save() error {
	if idx.path == "" {
		return nil
	}

	idx.mu.RLock()
	snap := idx.snapshotLocked()
	idx.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("vectorindex: marshaling snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: creating data dir: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("vectorindex: writing snapshot: %w", err)
	}
	return os.Rename(tmp, idx.path)
}

func (idx *Index) snapshotLocked() snapshot {
	entries := make([]entry, 0, len(idx.metadata))
	for id, meta := range idx.metadata {
		vec, ok := idx.vectors[id]
		if !ok {
			continue
		}
		entries = append(entries, entry{ID: id, Vector: vec, Metadata: meta})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return snapshot{
		EmbedderName: idx.embedderName,
		Dimension:    idx.cfg.Dimension,
		Entries:      entries,
	}
}

// Load replaces the index's contents with the persisted snapshot at its
// path. Returns nil without error if no file exists yet.
func (idx *Index) Load() error {
	if idx.path == "" {
		return nil
	}

	raw, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectorindex: reading snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("vectorindex: parsing snapshot: %w", err)
	}
	if snap.Dimension != idx.cfg.Dimension {
		return fmt.Errorf("vectorindex: snapshot dimension %d does not match index dimension %d", snap.Dimension, idx.cfg.Dimension)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	g := hnsw.NewGraph[string]()
	g.M = idx.cfg.M
	g.EfSearch = idx.cfg.EfSearch
	g.Distance = hnsw.CosineDistance
	metadata := make(map[string]map[string]any, len(snap.Entries))
	vectors := make(map[string][]float32, len(snap.Entries))
	for _, e := range snap.Entries {
		g.Add(hnsw.MakeNode(e.ID, hnsw.Vector(e.Vector)))
		metadata[e.ID] = e.Metadata
		vectors[e.ID] = e.Vector
	}

	idx.graph = g
	idx.metadata = metadata
	idx.vectors = vectors
	idx.embedderName = snap.EmbedderName
	return nil
}

// Backup atomically copies the index's persisted file into a timestamped
// subdirectory of dir, then prunes older backups beyond the most recent
// keep. A no-op if the index has no persistence path or no file yet exists.
func (idx *Index) Backup(dir string, keep int) error {
	if idx.path == "" {
		return nil
	}
	if _, err := os.Stat(idx.path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("vectorindex: stat persisted file: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	backupDir := filepath.Join(dir, stamp)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("vectorindex: creating backup dir: %w", err)
	}

	raw, err := os.ReadFile(idx.path)
	if err != nil {
		return fmt.Errorf("vectorindex: reading persisted file: %w", err)
	}
	dst := filepath.Join(backupDir, filepath.Base(idx.path))
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("vectorindex: writing backup: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("vectorindex: finalizing backup: %w", err)
	}

	return pruneBackups(dir, keep)
}

func pruneBackups(dir string, keep int) error {
	if keep <= 0 {
		keep = 5
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("vectorindex: listing backups: %w", err)
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		if c.IsDir() {
			names = append(names, c.Name())
		}
	}
	sort.Strings(names) // timestamp format sorts lexically == chronologically

	if len(names) <= keep {
		return nil
	}
	for _, stale := range names[:len(names)-keep] {
		if err := os.RemoveAll(filepath.Join(dir, stale)); err != nil {
			return fmt.Errorf("vectorindex: pruning backup %q: %w", stale, err)
		}
	}
	return nil
}
