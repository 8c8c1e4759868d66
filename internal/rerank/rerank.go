// Package rerank scores (query, candidate) pairs with a cross-encoder and
// implements GrepReranker, the no-index grep+extract+rerank pipeline.
package rerank

import (
	"context"
	"math"
)

// Reranker scores each candidate against query, order-preserving. Scores
// are in [0, 1] (sigmoid-squashed classification logits).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
	Close() error
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
