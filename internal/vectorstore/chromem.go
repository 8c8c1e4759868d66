package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	chromem "github.com/philippgille/chromem-go"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

const collectionName = "blocks"

// identityEmbed is passed to chromem-go's collection constructors: this
// store only ever queries/upserts with precomputed vectors, so the
// embedding function chromem would otherwise call is never invoked.
func identityEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: embedding function invoked but vectors are always precomputed")
}

// metadata keys chromem-go stores alongside each document (chromem requires
// string-to-string metadata).
const (
	metaFile  = "file"
	metaKind  = "kind"
	metaName  = "name"
	metaStart = "start"
	metaEnd   = "end"
)

// ChromemStore is the concrete, local-file-backed Store. Open acquires an
// exclusive flock over dir/.lock for the lifetime of the handle; a second
// opener against the same directory observes ErrLocked.
//
// chromem-go has no id-listing or get-by-id primitive, so this store keeps
// an in-memory index of ids -> VectorRecord alongside the persistent
// collection, updated on every Set/Delete. The collection itself remains
// the durable copy; the index is rebuilt from it at Open.
type ChromemStore struct {
	dir  string
	dim  int
	db   *chromem.DB
	col  *chromem.Collection
	lock *flock.Flock

	mu    sync.RWMutex
	index map[string]models.VectorRecord
}

// Open creates the store directory if absent, acquires the exclusive file
// lock, and opens (or creates) the persistent chromem-go database. dim is
// the embedding dimension this store was built with; opening against a
// different dimension than previously recorded returns ErrDimensionMismatch.
func Open(dir string, dim int) (*ChromemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: mkdir: %w", err)
	}

	lockPath := filepath.Join(dir, ".lock")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("vectorstore: acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, "db"), false)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	dimPath := filepath.Join(dir, "dim")
	if existing, err := os.ReadFile(dimPath); err == nil {
		var storedDim int
		if _, scanErr := fmt.Sscanf(string(existing), "%d", &storedDim); scanErr == nil && storedDim != dim {
			_ = fl.Unlock()
			return nil, ErrDimensionMismatch
		}
	} else {
		if err := os.WriteFile(dimPath, []byte(fmt.Sprintf("%d", dim)), 0o644); err != nil {
			_ = fl.Unlock()
			return nil, fmt.Errorf("vectorstore: writing dim marker: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	s := &ChromemStore{dir: dir, dim: dim, db: db, col: col, lock: fl, index: map[string]models.VectorRecord{}}
	if err := s.rebuildIndex(context.Background()); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// rebuildIndex reconstructs the in-memory id index from the persistent
// collection after a (re)open. chromem-go's only enumeration primitive is
// a similarity query, so a zero-biased probe vector capped at the full
// document count recovers every row; acceptable since this only runs once
// per open over a single-machine-sized corpus.
func (s *ChromemStore) rebuildIndex(ctx context.Context) error {
	count := s.col.Count()
	if count == 0 {
		return nil
	}
	probe := make([]float32, s.dim)
	if len(probe) > 0 {
		probe[0] = 1
	}
	results, err := s.col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		s.index[r.ID] = fromChromemResult(r.ID, r.Content, r.Metadata, r.Embedding)
	}
	return nil
}

func toChromemDoc(r models.VectorRecord) chromem.Document {
	return chromem.Document{
		ID:      r.ID,
		Content: r.Content,
		Metadata: map[string]string{
			metaFile:  r.File,
			metaKind:  string(r.Kind),
			metaName:  r.Name,
			metaStart: fmt.Sprintf("%d", r.Start),
			metaEnd:   fmt.Sprintf("%d", r.End),
		},
		Embedding: r.Vector,
	}
}

func fromChromemResult(id string, content string, meta map[string]string, vec []float32) models.VectorRecord {
	var start, end int
	fmt.Sscanf(meta[metaStart], "%d", &start)
	fmt.Sscanf(meta[metaEnd], "%d", &end)
	return models.VectorRecord{
		ID:      id,
		Vector:  vec,
		File:    meta[metaFile],
		Kind:    models.BlockKind(meta[metaKind]),
		Name:    meta[metaName],
		Start:   start,
		End:     end,
		Content: content,
	}
}

// Set upserts records by id, replacing any prior record with the same id.
func (s *ChromemStore) Set(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: record %q has dimension %d, store dimension is %d", ErrDimensionMismatch, r.ID, len(r.Vector), s.dim)
		}
		docs[i] = toChromemDoc(r)
	}

	// chromem-go's collection has no upsert; an existing id must be
	// deleted before it can be re-added.
	for _, r := range records {
		_ = s.col.Delete(ctx, nil, nil, r.ID)
	}
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("vectorstore: set: %w", err)
	}

	s.mu.Lock()
	for _, r := range records {
		s.index[r.ID] = r
	}
	s.mu.Unlock()
	return nil
}

// Delete removes records by id; absent ids are silently ignored.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		_ = s.col.Delete(ctx, nil, nil, id)
	}
	s.mu.Lock()
	for _, id := range ids {
		delete(s.index, id)
	}
	s.mu.Unlock()
	return nil
}

// Get fetches a single record by id.
func (s *ChromemStore) Get(ctx context.Context, id string) (models.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.index[id]
	if !ok {
		return models.VectorRecord{}, ErrNotFound
	}
	return r, nil
}

// Search returns the k nearest neighbors to query by cosine distance,
// ascending (closest first). chromem-go returns cosine similarity in
// [-1, 1]; distance = 1 - similarity maps that onto [0, 2].
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]ScoredRecord, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, store dimension is %d", ErrDimensionMismatch, len(query), s.dim)
	}
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]ScoredRecord, len(results))
	for i, r := range results {
		distance := 1.0 - float64(r.Similarity)
		out[i] = ScoredRecord{
			Record:   fromChromemResult(r.ID, r.Content, r.Metadata, nil),
			Distance: distance,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// Count returns the number of records currently stored.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.col.Count(), nil
}

// AllIDs enumerates every id currently in the store, used by Reconcile.
func (s *ChromemStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close releases the store's exclusive file lock. chromem-go persists
// eagerly on every mutating call, so there is no separate flush step.
func (s *ChromemStore) Close() error {
	return s.lock.Unlock()
}

var _ Store = (*ChromemStore)(nil)
