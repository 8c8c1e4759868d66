package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jamaly87/codebase-semantic-search/pkg/config"
)

// targetBatchSize is the batch size aimed for within one token bucket.
const targetBatchSize = 32

// OllamaEmbedder is the default Embedder backend: an HTTP client against an
// Ollama server's /api/embeddings endpoint, adapted from the teacher's
// embeddings.Client (MRL truncation, L2 normalization) and extended with
// the token-length bucketing and NaN-retry contract of spec.md §4.2.
type OllamaEmbedder struct {
	cfg        *config.EmbeddingsConfig
	httpClient *http.Client
	baseURL    string
}

// NewOllamaEmbedder builds the default Embedder backend from cfg.
func NewOllamaEmbedder(cfg *config.EmbeddingsConfig) *OllamaEmbedder {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &OllamaEmbedder{
		cfg:     cfg,
		baseURL: cfg.OllamaURL,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) Dimension() int {
	if e.cfg.UseMRL && e.cfg.Dimensions > 0 {
		return e.cfg.Dimensions
	}
	if e.cfg.FullDimension > 0 {
		return e.cfg.FullDimension
	}
	return 768
}

// embedSingle performs one HTTP round trip, applying MRL truncation and
// L2 normalization the same way the ingestion and query paths both need.
func (e *OllamaEmbedder) embedSingle(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embeddings", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: ollama returned %d: %s", resp.StatusCode, string(body))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	vec := out.Embedding
	if e.cfg.UseMRL && e.cfg.Dimensions > 0 && e.cfg.Dimensions < len(vec) {
		vec = vec[:e.cfg.Dimensions]
	}
	if e.cfg.Normalize {
		vec = l2Normalize(vec)
	}
	if hasNaN(vec) {
		return nil, fmt.Errorf("%w: text produced NaN embedding", ErrNaN)
	}
	return vec, nil
}

// Embed buckets texts by approximate token length, dispatches each bucket
// in target-sized batches, and retries a failing batch one text at a time
// (spec.md §4.2's NaN/exception recovery).
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	buckets := bucketTexts(texts)

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = DocumentPrefix + t
	}

	for _, indices := range buckets {
		for start := 0; start < len(indices); start += targetBatchSize {
			end := start + targetBatchSize
			if end > len(indices) {
				end = len(indices)
			}
			batch := indices[start:end]

			if err := e.embedBatch(ctx, prefixed, batch, out); err != nil {
				// retry this bucket one text at a time; a single-text
				// failure is surfaced rather than silently dropped.
				for _, idx := range batch {
					vec, err := e.embedSingle(ctx, prefixed[idx])
					if err != nil {
						return nil, fmt.Errorf("embedding: index %d: %w", idx, err)
					}
					out[idx] = vec
				}
			}
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string, indices []int, out [][]float32) error {
	for _, idx := range indices {
		vec, err := e.embedSingle(ctx, texts[idx])
		if err != nil {
			return err
		}
		out[idx] = vec
	}
	return nil
}

// EmbedOne always performs a live call; query-cache behavior is layered on
// by CachedEmbedder, which wraps this type in the default wiring.
func (e *OllamaEmbedder) EmbedOne(ctx context.Context, query string, cache bool) ([]float32, error) {
	return e.embedSingle(ctx, QueryPrefix+query)
}

func (e *OllamaEmbedder) Close() error { return nil }

var _ Embedder = (*OllamaEmbedder)(nil)
