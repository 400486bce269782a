package vectorindex

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T, path string) *Index {
	t.Helper()
	idx, err := New(path, Config{Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return idx
}

func TestInsertAndSearch(t *testing.T) {
	idx := newTestIndex(t, "")

	if err := idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", map[string]any{"category": "attack"}); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if err := idx.Insert("b", []float32{0, 1, 0, 0}, "fast-hash-v1", map[string]any{"category": "clean"}); err != nil {
		t.Fatalf("Insert b: %v", err)
	}

	results, err := idx.Search([]float32{1, 0, 0, 0}, "fast-hash-v1", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("closest match = %q, want %q", results[0].ID, "a")
	}
	if results[0].Metadata["category"] != "attack" {
		t.Errorf("Metadata[category] = %v, want attack", results[0].Metadata["category"])
	}
}

func TestInsert_DimensionMismatchRejected(t *testing.T) {
	idx := newTestIndex(t, "")
	err := idx.Insert("a", []float32{1, 0}, "fast-hash-v1", nil)
	if err == nil {
		t.Fatal("expected error for dimension mismatch, got nil")
	}
}

func TestInsert_EmbedderMismatchRejected(t *testing.T) {
	idx := newTestIndex(t, "")
	if err := idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", nil); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	err := idx.Insert("b", []float32{0, 1, 0, 0}, "semantic-meanpool-v1", nil)
	if err == nil {
		t.Fatal("expected embedder mismatch error, got nil")
	}
}

func TestSearch_EmbedderMismatchRejected(t *testing.T) {
	idx := newTestIndex(t, "")
	if err := idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", nil); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	_, err := idx.Search([]float32{1, 0, 0, 0}, "semantic-meanpool-v1", 1)
	if err == nil {
		t.Fatal("expected embedder mismatch error, got nil")
	}
}

func TestSearch_EmptyIndexReturnsEmptyNotError(t *testing.T) {
	idx := newTestIndex(t, "")
	results, err := idx.Search([]float32{1, 0, 0, 0}, "fast-hash-v1", 5)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestLen_ReflectsPersistedState(t *testing.T) {
	idx := newTestIndex(t, "")
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", idx.Len())
	}
	_ = idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", nil)
	_ = idx.Insert("b", []float32{0, 1, 0, 0}, "fast-hash-v1", nil)
	if idx.Len() != 2 {
		t.Errorf("Len() = %d, want 2", idx.Len())
	}
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	idx := newTestIndex(t, path)
	if err := idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := newTestIndex(t, path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("Len() after Load = %d, want 1", reloaded.Len())
	}
	if reloaded.EmbedderName() != "fast-hash-v1" {
		t.Errorf("EmbedderName() = %q, want fast-hash-v1", reloaded.EmbedderName())
	}

	results, err := reloaded.Search([]float32{1, 0, 0, 0}, "fast-hash-v1", 1)
	if err != nil {
		t.Fatalf("Search after Load: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("Search after Load = %+v, want [a]", results)
	}
}

func TestLoad_MissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	idx := newTestIndex(t, filepath.Join(dir, "missing.json"))
	if err := idx.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0", idx.Len())
	}
}

func TestBackup_RotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	backupDir := filepath.Join(dir, "backups")

	idx := newTestIndex(t, path)
	_ = idx.Insert("a", []float32{1, 0, 0, 0}, "fast-hash-v1", nil)
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := idx.Backup(backupDir, 2); err != nil {
			t.Fatalf("Backup iteration %d: %v", i, err)
		}
	}

	children, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir(backupDir): %v", err)
	}
	if len(children) > 2 {
		t.Errorf("len(children) = %d, want <= 2 after pruning", len(children))
	}
}

func TestBackup_NoopWithoutPersistedFile(t *testing.T) {
	dir := t.TempDir()
	idx := newTestIndex(t, filepath.Join(dir, "never-saved.json"))
	if err := idx.Backup(filepath.Join(dir, "backups"), 5); err != nil {
		t.Fatalf("Backup with no persisted file: %v", err)
	}
}
