package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamaly87/codebase-semantic-search/internal/extractor"
	"github.com/jamaly87/codebase-semantic-search/internal/manifest"
	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/jamaly87/codebase-semantic-search/internal/vectorstore"
	"github.com/jamaly87/codebase-semantic-search/pkg/ignore"
)

func loadManifestForTest(root string) (*models.Manifest, error) {
	return manifest.Load(indexDir(root), root)
}

// fakeEmbedder is a deterministic, in-memory Embedder stand-in: vectors are
// derived from text length/content so distinct texts reliably land at
// distinct points, without requiring a live inference server in unit tests.
type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) vector(text string) []float32 {
	vec := make([]float32, f.dim)
	var sum float64
	for _, r := range text {
		sum += float64(r)
	}
	vec[0] = float32(sum)
	if f.dim > 1 {
		vec[1] = float32(len(text))
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(1.0 / sqrtApprox(norm))
	for i := range vec {
		vec[i] *= n
	}
	return vec
}

func sqrtApprox(x float64) float64 {
	z := x
	if z == 0 {
		return 0
	}
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, query string, cache bool) ([]float32, error) {
	return f.vector(query), nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Close() error   { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ex, err := extractor.New()
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	t.Cleanup(func() { ex.Close() })
	return New(ex, &fakeEmbedder{dim: 4}, 2)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestBuildThenSearchRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "auth.go", "package auth\n\nfunc HashPassword(p string) string {\n\treturn p\n}\n")
	writeFile(t, root, "util.go", "package util\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")

	e := newTestEngine(t)
	ctx := context.Background()

	stats, err := e.Build(ctx, root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Changed == 0 {
		t.Fatalf("expected some changed files, got %+v", stats)
	}

	hits, err := e.Search(ctx, root, "HashPassword", 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one search hit")
	}
}

func TestUpdateDetectsChangedDeletedUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package b\n\nfunc B() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// b.go deleted, a.go changed, c.go added.
	writeFile(t, root, "a.go", "package a\n\nfunc A() { return }\n")
	writeFile(t, root, "c.go", "package c\n\nfunc C() {}\n")
	if err := os.Remove(filepath.Join(root, "b.go")); err != nil {
		t.Fatalf("remove b.go: %v", err)
	}

	found := map[string]string{
		"a.go": "package a\n\nfunc A() { return }\n",
		"c.go": "package c\n\nfunc C() {}\n",
	}

	stats, err := e.Update(ctx, root, found)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", stats.Deleted)
	}
	if stats.Changed != 2 {
		t.Errorf("expected 2 changed (a.go modified + c.go new), got %d", stats.Changed)
	}

	m, err := loadManifestForTest(root)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	if _, ok := m.Files["b.go"]; ok {
		t.Error("expected b.go manifest row removed")
	}
	if _, ok := m.Files["a.go"]; !ok {
		t.Error("expected a.go manifest row present")
	}
	if _, ok := m.Files["c.go"]; !ok {
		t.Error("expected c.go manifest row present")
	}
}

func TestUpdateDeletesPreviousBlocksOnChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc Old() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	m, err := loadManifestForTest(root)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	oldEntry, ok := m.Files["a.go"]
	if !ok || len(oldEntry.Blocks) == 0 {
		t.Fatalf("expected a.go indexed with blocks, got %+v", m.Files)
	}
	oldIDs := append([]string(nil), oldEntry.Blocks...)

	// Rename the function and shift its start line so the new block id(s)
	// differ from the old one(s) ("<path>:<line>:<name>") rather than
	// colliding with them.
	newContent := "package a\n\n\nfunc New() {}\n"
	writeFile(t, root, "a.go", newContent)
	if _, err := e.Update(ctx, root, map[string]string{"a.go": newContent}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	store, err := vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	for _, id := range oldIDs {
		if _, err := store.Get(ctx, id); err != vectorstore.ErrNotFound {
			t.Errorf("expected previous block id %s removed after change, got err=%v", id, err)
		}
	}
}

func TestUpdateReconcilesOrphanedBlocks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Simulate a crash between a prior store.Set and its manifest.Save: a
	// vector with an id no manifest row references.
	store, err := vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	orphan := models.VectorRecord{ID: "ghost.go:0:Ghost", Vector: []float32{1, 0, 0, 0}, File: "ghost.go", Name: "Ghost"}
	if err := store.Set(ctx, []models.VectorRecord{orphan}); err != nil {
		t.Fatalf("Set orphan: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.Update(ctx, root, map[string]string{"a.go": "package a\n\nfunc A() {}\n"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	store, err = vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer store.Close()
	if _, err := store.Get(ctx, orphan.ID); err != vectorstore.ErrNotFound {
		t.Errorf("expected orphan block removed by reconciliation on open, got err=%v", err)
	}
}

func TestSearchScopeFiltersByPrefix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a/code.go", "package a\n\nfunc DoWork() {}\n")
	writeFile(t, root, "pkg/b/code.go", "package b\n\nfunc DoWork() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	hits, err := e.Search(ctx, root, "DoWork", 10, "pkg/a")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if !pathInScope(h.File, "pkg/a") {
			t.Errorf("hit %s outside scope pkg/a", h.File)
		}
	}
}

func TestMergeSubdirGraftsWithoutReembedding(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "root.go", "package root\n\nfunc Top() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()

	// Build the parent index before the subdirectory exists, so the
	// subdirectory's blocks only ever enter the parent manifest via
	// MergeSubdir, never via the parent's own scan.
	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build root: %v", err)
	}

	subDir := filepath.Join(root, "sub")
	writeFile(t, subDir, "code.go", "package sub\n\nfunc Nested() {}\n")
	if _, err := e.Build(ctx, subDir); err != nil {
		t.Fatalf("Build sub: %v", err)
	}

	subIndexDir := indexDir(subDir)
	if err := e.MergeSubdir(ctx, root, subIndexDir); err != nil {
		t.Fatalf("MergeSubdir: %v", err)
	}

	m, err := loadManifestForTest(root)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	if _, ok := m.Files["sub/code.go"]; !ok {
		t.Errorf("expected merged row sub/code.go in parent manifest, got %+v", m.Files)
	}

	hits, err := e.Search(ctx, root, "Nested", 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.File == "sub/code.go" {
			found = true
		}
	}
	if !found {
		t.Error("expected merged block to be searchable from parent root")
	}
}

func TestBuildHonorsIgnoreMatcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package root\n\nfunc Keep() {}\n")
	writeFile(t, root, "vendor/skip.go", "package vendor\n\nfunc Skip() {}\n")

	e := newTestEngine(t).WithIgnoreMatcher(ignore.NewMatcher([]string{"vendor/**"}))
	ctx := context.Background()

	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	m, err := loadManifestForTest(root)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	if _, ok := m.Files["vendor/skip.go"]; ok {
		t.Error("expected vendor/skip.go excluded by ignore matcher")
	}
	if _, ok := m.Files["keep.go"]; !ok {
		t.Error("expected keep.go indexed")
	}
}

func TestClearRemovesIndexDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Build(ctx, root); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := e.Clear(root); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(indexDir(root)); !os.IsNotExist(err) {
		t.Errorf("expected index dir removed, stat err = %v", err)
	}
}
