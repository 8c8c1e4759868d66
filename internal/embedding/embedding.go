// Package embedding maps text to unit-L2-normalized dense vectors: a batch
// path for document ingestion and a cached single-query path for search.
package embedding

import (
	"context"
	"errors"
)

// QueryPrefix is prepended to every embed_one call before encoding, per
// nomic-embed-text's recommended query/document prefix convention (the
// model this repo's default embedder targets, per pkg/config's default
// Embeddings.Model).
const QueryPrefix = "search_query: "

// DocumentPrefix is the analogous prefix applied to texts passed through
// Embed (the ingestion path).
const DocumentPrefix = "search_document: "

var ErrNaN = errors.New("embedding: result contains NaN")

// Embedder maps text to fixed-dimension, L2-normalized vectors.
type Embedder interface {
	// Embed maps texts to vectors, order-preserving, for document ingestion.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne maps a single query to a vector. When cache is true, the
	// result is looked up in and stored into the query cache.
	EmbedOne(ctx context.Context, query string, cache bool) ([]float32, error)
	// Dimension returns D, the fixed output dimension.
	Dimension() int
	Close() error
}

func l2Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	norm := sqrt(sumSquares)
	if norm < 1e-9 {
		norm = 1e-9
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func hasNaN(vec []float32) bool {
	for _, v := range vec {
		if v != v {
			return true
		}
	}
	return false
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// bucketSize is the token-count bucket width texts are grouped by before
// batching, per spec.md §4.2: limits padding waste within a batch.
const bucketSize = 50

// charsPerToken is the rough token-length estimate used only for bucketing,
// not for the prose chunker's own token estimate.
const charsPerToken = 4

func tokenBucket(text string) int {
	return (len(text) / charsPerToken) / bucketSize
}

// bucketTexts groups texts by tokenBucket, preserving each text's original
// index so results can be reassembled in input order.
func bucketTexts(texts []string) map[int][]int {
	buckets := make(map[int][]int)
	for i, t := range texts {
		b := tokenBucket(t)
		buckets[b] = append(buckets[b], i)
	}
	return buckets
}
