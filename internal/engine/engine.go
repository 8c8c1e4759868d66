// Package engine implements IndexEngine: the orchestrator that composes the
// scanner, extractor, embedder, vector store, and manifest into build,
// update, search, merge_subdir, and clear.
package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/jamaly87/codebase-semantic-search/internal/cache"
	"github.com/jamaly87/codebase-semantic-search/internal/embedding"
	"github.com/jamaly87/codebase-semantic-search/internal/extractor"
	"github.com/jamaly87/codebase-semantic-search/internal/hybrid"
	"github.com/jamaly87/codebase-semantic-search/internal/indexroot"
	"github.com/jamaly87/codebase-semantic-search/internal/manifest"
	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/jamaly87/codebase-semantic-search/internal/scanner"
	"github.com/jamaly87/codebase-semantic-search/internal/vectorstore"
	"github.com/jamaly87/codebase-semantic-search/pkg/ignore"
)

const storeSubdir = "store"

// Engine is the stateful orchestrator of a single logical index. It holds no
// per-root state itself: every operation opens the store and manifest for
// the given root, does its work, and closes the store before returning, so
// concurrent Engine method calls against different roots never interfere
// and the file lock in vectorstore enforces exclusion on the same root.
type Engine struct {
	extractor *extractor.Extractor
	embedder  embedding.Embedder
	workers   int

	// hashCache is an optional secondary bookkeeping layer on top of the
	// manifest (nil disables it): it records last-indexed timestamps and
	// chunk counts per file in its own cache file. Nothing in this repo
	// reads those records back (the CLI's status command reads the
	// manifest), and the cache is never consulted for the changed/deleted
	// diff itself (manifest.Load +
	// diff already has every file's content in hand from the scanner, so
	// there is no I/O left for a cache to save on that path).
	hashCache *cache.FileHashManager

	// ignoreMatcher, when set, layers pkg/config.IgnoreConfig.Patterns on
	// top of internal/scanner's fixed denylist during Build's scan.
	ignoreMatcher *ignore.Matcher
}

// New builds an Engine over the given extractor and embedder, using workers
// goroutines for the parallel scan/extract phase (0 or negative defaults to
// runtime.NumCPU()).
func New(ex *extractor.Extractor, em embedding.Embedder, workers int) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{extractor: ex, embedder: em, workers: workers}
}

// WithHashCache attaches a FileHashManager for per-file indexed-at/chunk-count
// bookkeeping, rooted at cacheDir. Returns an error if cacheDir cannot be
// created.
func (e *Engine) WithHashCache(cacheDir string) (*Engine, error) {
	hc, err := cache.NewFileHashManager(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("engine: attaching hash cache: %w", err)
	}
	e.hashCache = hc
	return e, nil
}

// WithIgnoreMatcher attaches additional user-configurable ignore globs
// (typically pkg/config.IgnoreConfig.Patterns) consulted by Build alongside
// internal/scanner's fixed denylist.
func (e *Engine) WithIgnoreMatcher(m *ignore.Matcher) *Engine {
	e.ignoreMatcher = m
	return e
}

// Stats summarizes one Build or Update call.
type Stats struct {
	Changed   int
	Deleted   int
	Unchanged int
	Errors    int
}

func indexDir(root string) string {
	return filepath.Join(root, indexroot.IndexDirName)
}

func storeDir(root string) string {
	return filepath.Join(indexDir(root), storeSubdir)
}

func hashContent(content string) models.ContentHash {
	sum := sha256.Sum256([]byte(content))
	return models.ContentHash(fmt.Sprintf("%x", sum[:8]))
}

// Build performs a full index of every scanner-eligible file under root.
// It is implemented as Update against the complete current file set: any
// manifest row for a file no longer present is removed exactly as update's
// deleted-file handling would remove it, so the postcondition ("every
// scanned file has a manifest entry with current hash; store and manifest
// satisfy invariant I-a") holds without a separate code path.
func (e *Engine) Build(ctx context.Context, root string) (Stats, error) {
	found, err := scanner.Scan(root, ".", false, e.ignoreMatcher)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: build: scanning %s: %w", root, err)
	}
	files := make(map[string]string, len(found))
	for abs, content := range found {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			rel = abs
		}
		files[rel] = content
	}
	return e.Update(ctx, root, files)
}

// Update incrementally reconciles root's index against files (a root-relative
// path -> current content map, typically produced by Scanner). See spec.md
// §4.7 for the exact four-step algorithm this implements.
func (e *Engine) Update(ctx context.Context, root string, files map[string]string) (Stats, error) {
	dir := indexDir(root)
	m, err := manifest.Load(dir, root)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: update: loading manifest: %w", err)
	}

	store, err := vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		return Stats{}, fmt.Errorf("engine: update: opening store: %w", err)
	}
	defer store.Close()

	// A crash between a file's store.Set and its manifest.Save in a prior
	// run can leave that file's vectors in the store with no manifest row
	// referencing them. Reconciling against the manifest on every open
	// converts that into a clean state before any new work begins (spec.md
	// §5/§7, invariant I-c).
	if err := vectorstore.Reconcile(ctx, store, manifest.AllBlockIDs(m)); err != nil {
		return Stats{}, fmt.Errorf("engine: update: reconciling store: %w", err)
	}

	var stats Stats

	if e.hashCache != nil {
		if err := e.hashCache.Load(root); err != nil {
			return stats, fmt.Errorf("engine: update: loading hash cache: %w", err)
		}
	}

	changed, deleted, unchanged := diff(m, files)
	stats.Unchanged = len(unchanged)

	if err := e.processDeleted(ctx, store, m, deleted); err != nil {
		return stats, err
	}
	stats.Deleted = len(deleted)
	if len(deleted) > 0 {
		if err := manifest.Save(dir, m); err != nil {
			return stats, fmt.Errorf("engine: update: persisting manifest after deletes: %w", err)
		}
		if e.hashCache != nil {
			for _, path := range deleted {
				e.hashCache.Remove(filepath.Join(root, path))
			}
		}
	}

	changedCount, errCount, err := e.processChanged(ctx, root, dir, store, m, files, changed)
	stats.Changed = changedCount
	stats.Errors = errCount
	if err != nil {
		return stats, err
	}

	if e.hashCache != nil {
		if err := e.hashCache.Save(); err != nil {
			return stats, fmt.Errorf("engine: update: saving hash cache: %w", err)
		}
	}

	slog.Info("engine: update complete", "root", root, "changed", stats.Changed, "deleted", stats.Deleted, "unchanged", stats.Unchanged, "errors", stats.Errors)
	return stats, nil
}

// diff computes (changed, deleted, unchanged) per spec.md §4.7 step 1.
func diff(m *models.Manifest, files map[string]string) (changed, deleted, unchanged []string) {
	for path, content := range files {
		entry, ok := manifest.Get(m, path)
		if !ok || entry.Hash != hashContent(content) {
			changed = append(changed, path)
		} else {
			unchanged = append(unchanged, path)
		}
	}
	for path := range m.Files {
		if _, ok := files[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(changed)
	sort.Strings(deleted)
	return changed, deleted, unchanged
}

func (e *Engine) processDeleted(ctx context.Context, store vectorstore.Store, m *models.Manifest, deleted []string) error {
	for _, path := range deleted {
		entry, ok := manifest.Get(m, path)
		if !ok {
			continue
		}
		if err := store.Delete(ctx, entry.Blocks); err != nil {
			return fmt.Errorf("engine: update: deleting blocks for %s: %w", path, err)
		}
		manifest.Remove(m, path)
	}
	return nil
}

type extraction struct {
	path   string
	hash   models.ContentHash
	blocks []models.Block
	err    error
}

// processChanged extracts every changed file's blocks in parallel (the
// Extractor pool), then serializes the resulting texts through a single
// embedding call (the Inference pool, spec.md §5), and finally commits
// store+manifest writes one file at a time so a crash between files never
// leaves a file's row and vectors in a mixed state (invariant I-c).
func (e *Engine) processChanged(ctx context.Context, root, dir string, store vectorstore.Store, m *models.Manifest, files map[string]string, changed []string) (changedCount, errCount int, err error) {
	if len(changed) == 0 {
		return 0, 0, nil
	}

	extractions := e.extractParallel(files, changed)

	// Flatten every successfully extracted block into one corpus so the
	// embedder's own token-bucketing/batching sees the full update at once.
	var texts []string
	offsets := make(map[string][2]int, len(extractions))
	for _, ex := range extractions {
		if ex.err != nil {
			continue
		}
		start := len(texts)
		for _, b := range ex.blocks {
			texts = append(texts, b.Content)
		}
		offsets[ex.path] = [2]int{start, len(texts)}
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = e.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, 0, fmt.Errorf("engine: update: embedding: %w", err)
		}
	}

	for _, ex := range extractions {
		if ex.err != nil {
			errCount++
			manifest.Remove(m, ex.path)
			if saveErr := manifest.Save(dir, m); saveErr != nil {
				return changedCount, errCount, fmt.Errorf("engine: update: persisting manifest after extraction failure on %s: %w", ex.path, saveErr)
			}
			slog.Warn("engine: extraction failed, row dropped", "file", ex.path, "error", ex.err)
			continue
		}

		span := offsets[ex.path]
		records := make([]models.VectorRecord, len(ex.blocks))
		ids := make([]string, len(ex.blocks))
		for i, b := range ex.blocks {
			id := b.ID(ex.path)
			ids[i] = id
			records[i] = models.VectorRecord{
				ID:      id,
				Vector:  vectors[span[0]+i],
				File:    ex.path,
				Kind:    b.Kind,
				Name:    b.Name,
				Start:   b.StartLine,
				End:     b.EndLine,
				Content: b.Content,
			}
		}

		// A changed file's previous blocks may not share ids with its new
		// ones (an edit can shift line numbers, rename a function, or drop
		// one entirely), so the old ids must be deleted before the new
		// records are upserted or they linger in the store unreferenced by
		// any manifest row (spec.md §4.7 step 3, invariant I-a).
		if oldEntry, ok := manifest.Get(m, ex.path); ok && len(oldEntry.Blocks) > 0 {
			if err := store.Delete(ctx, oldEntry.Blocks); err != nil {
				return changedCount, errCount, fmt.Errorf("engine: update: deleting previous blocks for %s: %w", ex.path, err)
			}
		}

		if err := store.Set(ctx, records); err != nil {
			return changedCount, errCount, fmt.Errorf("engine: update: storing blocks for %s: %w", ex.path, err)
		}
		manifest.Put(m, ex.path, models.FileEntry{Hash: ex.hash, Blocks: ids})
		if err := manifest.Save(dir, m); err != nil {
			return changedCount, errCount, fmt.Errorf("engine: update: persisting manifest after %s: %w", ex.path, err)
		}
		if e.hashCache != nil {
			if err := e.hashCache.Update(filepath.Join(root, ex.path), len(ex.blocks)); err != nil {
				slog.Warn("engine: hash cache update failed", "file", ex.path, "error", err)
			}
		}
		changedCount++
	}

	return changedCount, errCount, nil
}

// extractParallel runs the extractor over every changed path using a bounded
// worker pool (the File I/O / Extractor pool, spec.md §5), returning results
// in the same order as changed for deterministic downstream processing.
func (e *Engine) extractParallel(files map[string]string, changed []string) []extraction {
	results := make([]extraction, len(changed))
	pathChan := make(chan int, len(changed))
	for i := range changed {
		pathChan <- i
	}
	close(pathChan)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range pathChan {
				path := changed[i]
				content := files[path]
				blocks, err := e.extractor.Extract(path, content, "")
				results[i] = extraction{path: path, hash: hashContent(content), blocks: blocks, err: err}
			}
		}()
	}
	wg.Wait()
	return results
}

// Search embeds query, overfetches when scope is set, applies scope
// filtering and the hybrid lexical boost, and returns the top k hits.
func (e *Engine) Search(ctx context.Context, root, query string, k int, scope string) ([]models.SearchHit, error) {
	m, err := manifest.Load(indexDir(root), root)
	if err != nil {
		return nil, fmt.Errorf("engine: search: loading manifest: %w", err)
	}

	store, err := vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("engine: search: opening store: %w", err)
	}
	defer store.Close()

	if err := vectorstore.Reconcile(ctx, store, manifest.AllBlockIDs(m)); err != nil {
		return nil, fmt.Errorf("engine: search: reconciling store: %w", err)
	}

	q, err := e.embedder.EmbedOne(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("engine: search: embedding query: %w", err)
	}

	fetchK := k
	if scope != "" {
		fetchK = 3 * k
	}

	scored, err := store.Search(ctx, q, fetchK)
	if err != nil {
		return nil, fmt.Errorf("engine: search: store search: %w", err)
	}

	if scope != "" {
		filtered := scored[:0]
		for _, s := range scored {
			if pathInScope(s.Record.File, scope) {
				filtered = append(filtered, s)
			}
		}
		scored = filtered
	}

	hits := make([]hybrid.Hit, len(scored))
	for i, s := range scored {
		hits[i] = hybrid.Hit{Record: s.Record, SemanticScore: hybrid.SemanticScore(s.Distance)}
	}
	ranked := hybrid.Rerank(query, hits)

	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]models.SearchHit, len(ranked))
	for i, r := range ranked {
		out[i] = models.SearchHit{
			File:    r.Record.File,
			Kind:    string(r.Record.Kind),
			Name:    r.Record.Name,
			Line:    r.Record.Start,
			EndLine: r.Record.End,
			Content: r.Record.Content,
			Score:   r.Score,
		}
	}
	return out, nil
}

// pathInScope reports whether relPath is prefixed by scope, treating scope
// as a root-relative path with no leading or trailing slash per spec.md
// §4.7 (a path-segment boundary match, not a bare string prefix, so "foo"
// does not match "foobar/baz.go").
func pathInScope(relPath, scope string) bool {
	if relPath == scope {
		return true
	}
	return len(relPath) > len(scope) && relPath[:len(scope)] == scope && relPath[len(scope)] == filepath.Separator
}

// MergeSubdir grafts sub_index_dir's manifest and vectors into root's index
// without re-embedding, per spec.md §4.7. The caller removes sub_index_dir
// afterwards; this method only reads it.
func (e *Engine) MergeSubdir(ctx context.Context, root, subIndexDir string) error {
	subRoot := filepath.Dir(subIndexDir)
	prefix, err := filepath.Rel(root, subRoot)
	if err != nil {
		return fmt.Errorf("engine: merge_subdir: computing prefix: %w", err)
	}

	subManifest, err := manifest.Load(subIndexDir, subRoot)
	if err != nil {
		return fmt.Errorf("engine: merge_subdir: loading sub-manifest: %w", err)
	}

	dir := indexDir(root)
	parentManifest, err := manifest.Load(dir, root)
	if err != nil {
		return fmt.Errorf("engine: merge_subdir: loading parent manifest: %w", err)
	}

	subStore, err := vectorstore.Open(filepath.Join(subIndexDir, storeSubdir), e.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("engine: merge_subdir: opening sub-store: %w", err)
	}
	defer subStore.Close()

	parentStore, err := vectorstore.Open(storeDir(root), e.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("engine: merge_subdir: opening parent store: %w", err)
	}
	defer parentStore.Close()

	for oldPath, entry := range subManifest.Files {
		newPath := filepath.Join(prefix, oldPath)
		if _, exists := manifest.Get(parentManifest, newPath); exists {
			continue
		}

		newIDs := make([]string, 0, len(entry.Blocks))
		for _, oldID := range entry.Blocks {
			rec, err := subStore.Get(ctx, oldID)
			if err != nil {
				return fmt.Errorf("engine: merge_subdir: reading sub-store record %s: %w", oldID, err)
			}
			newID := filepath.Join(prefix, oldID)
			rec.ID = newID
			rec.File = newPath
			newIDs = append(newIDs, newID)

			if err := parentStore.Set(ctx, []models.VectorRecord{rec}); err != nil {
				return fmt.Errorf("engine: merge_subdir: upserting %s: %w", newID, err)
			}
		}

		manifest.Put(parentManifest, newPath, models.FileEntry{Hash: entry.Hash, Blocks: newIDs})
	}

	if err := manifest.Save(dir, parentManifest); err != nil {
		return fmt.Errorf("engine: merge_subdir: persisting parent manifest: %w", err)
	}
	return nil
}

// Clear recursively removes root's .hhg directory.
func (e *Engine) Clear(root string) error {
	if err := os.RemoveAll(indexDir(root)); err != nil {
		return fmt.Errorf("engine: clear: %w", err)
	}
	return nil
}
