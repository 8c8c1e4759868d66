// Package vectorstore is a persistent, local-file vector database: a
// directory holding an exclusive process lock plus a chromem-go collection,
// supporting upsert, delete, get, and cosine k-NN search.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

// Sentinel errors surfaced at the engine boundary (spec.md §7).
var (
	ErrLocked           = errors.New("vectorstore: locked by another process")
	ErrCorrupt          = errors.New("vectorstore: corrupt or unreadable")
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	ErrNotFound         = errors.New("vectorstore: not found")
)

// Store is the persistent vector database contract. All operations take a
// context for cancellation of slow disk I/O, not for implementing internal
// concurrency (the store itself is single-writer, guarded by a file lock).
type Store interface {
	// Set upserts records by id.
	Set(ctx context.Context, records []models.VectorRecord) error
	// Delete removes records by id; it is not an error if an id is absent.
	Delete(ctx context.Context, ids []string) error
	// Get fetches a single record, returning ErrNotFound if absent.
	Get(ctx context.Context, id string) (models.VectorRecord, error)
	// Search returns the k nearest neighbors to query by cosine distance,
	// sorted ascending (closest first). Distance is in [0, 2].
	Search(ctx context.Context, query []float32, k int) ([]ScoredRecord, error)
	// Count returns the number of records currently stored.
	Count(ctx context.Context) (int, error)
	// Close releases the store's file lock.
	Close() error
}

// ScoredRecord pairs a VectorRecord with its cosine distance from a query.
type ScoredRecord struct {
	Record   models.VectorRecord
	Distance float64
}

// Reconcile deletes every store id not present in keep, converting a
// mid-update crash into a clean "unchanged since last commit" state (spec.md
// §7 reconciliation).
func Reconcile(ctx context.Context, s Store, keep map[string]bool) error {
	ids, err := allIDs(ctx, s)
	if err != nil {
		return fmt.Errorf("vectorstore: reconcile: listing ids: %w", err)
	}
	var orphans []string
	for _, id := range ids {
		if !keep[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	return s.Delete(ctx, orphans)
}

// allIDs is implemented by the concrete store since Store does not expose
// enumeration directly (keeping the interface minimal per spec.md §4.4);
// the chromem-backed implementation satisfies idLister.
func allIDs(ctx context.Context, s Store) ([]string, error) {
	lister, ok := s.(idLister)
	if !ok {
		return nil, nil
	}
	return lister.AllIDs(ctx)
}

type idLister interface {
	AllIDs(ctx context.Context) ([]string, error)
}
