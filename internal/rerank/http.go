package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const batchSize = 32

// HTTPReranker is the default Reranker backend: an out-of-process
// cross-encoder server, mirroring embedding.OllamaEmbedder's pattern since
// no Go-native cross-encoder runtime exists anywhere in this repo's
// dependency pack. The server is expected to expose pairwise
// tokenization/inference and return raw classification logits; sigmoid
// normalization happens here so every Reranker implementation honors the
// same [0, 1] contract.
type HTTPReranker struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPReranker builds the default backend against a server at baseURL.
func NewHTTPReranker(baseURL string) *HTTPReranker {
	return &HTTPReranker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type rerankResponse struct {
	Logits []float64 `json:"logits"`
}

// Rerank scores candidates in fixed-size batches, applying pairwise
// tokenization server-side (with token-type-ids when the model exposes
// that input) and sigmoid normalization here.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(candidates))
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		logits, err := r.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, fmt.Errorf("rerank: batch %d: %w", start/batchSize, err)
		}
		for i, logit := range logits {
			scores[start+i] = sigmoid(logit)
		}
	}
	return scores, nil
}

func (r *HTTPReranker) scoreBatch(ctx context.Context, query string, batch []string) ([]float64, error) {
	reqBody, err := json.Marshal(rerankRequest{Query: query, Candidates: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := r.baseURL + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker server returned %d: %s", resp.StatusCode, string(body))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Logits) != len(batch) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(batch), len(out.Logits))
	}
	return out.Logits, nil
}

func (r *HTTPReranker) Close() error { return nil }

var _ Reranker = (*HTTPReranker)(nil)
