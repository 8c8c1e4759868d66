package rerank

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamaly87/codebase-semantic-search/internal/extractor"
)

func TestSigmoidBounds(t *testing.T) {
	if got := sigmoid(0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("sigmoid(0) = %f, want 0.5", got)
	}
	if got := sigmoid(100); got <= 0.99 {
		t.Errorf("sigmoid(100) should approach 1, got %f", got)
	}
	if got := sigmoid(-100); got >= 0.01 {
		t.Errorf("sigmoid(-100) should approach 0, got %f", got)
	}
}

func TestToExtractQueryEscapesAndOrsPlainPhrase(t *testing.T) {
	got := toExtractQuery("hash password")
	if got != "hash|password" {
		t.Errorf("got %q, want hash|password", got)
	}
}

func TestToExtractQueryPassesThroughRegex(t *testing.T) {
	got := toExtractQuery("hash_.*password")
	if got != "hash_.*password" {
		t.Errorf("expected regex query unchanged, got %q", got)
	}
}

func newTestRerankServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		json.NewDecoder(r.Body).Decode(&req)
		logits := make([]float64, len(req.Candidates))
		for i, c := range req.Candidates {
			if len(c) > 20 {
				logits[i] = 5.0
			} else {
				logits[i] = -5.0
			}
		}
		json.NewEncoder(w).Encode(rerankResponse{Logits: logits})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRerankerScoresAndNormalizes(t *testing.T) {
	srv := newTestRerankServer(t)
	r := NewHTTPReranker(srv.URL)

	scores, err := r.Rerank(context.Background(), "q", []string{"short", "a much longer candidate string"})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if scores[0] >= 0.5 {
		t.Errorf("expected low score for short candidate, got %f", scores[0])
	}
	if scores[1] <= 0.5 {
		t.Errorf("expected high score for long candidate, got %f", scores[1])
	}
}

func TestGrepRerankerRunEndToEnd(t *testing.T) {
	srv := newTestRerankServer(t)
	rr := NewHTTPReranker(srv.URL)

	ex, err := extractor.New()
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	defer ex.Close()

	g := New(ex, rr)

	root := t.TempDir()
	writeFile(t, root, "auth.go", "package auth\n\nfunc HashPassword(p string) string {\n\treturn p\n}\n")

	hits, err := g.Run(context.Background(), root, "hash password", 10, 100)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].File != "auth.go" {
		t.Errorf("unexpected file %q", hits[0].File)
	}
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

func TestGrepRerankerCapsCandidatesByLength(t *testing.T) {
	srv := newTestRerankServer(t)
	rr := NewHTTPReranker(srv.URL)
	ex, err := extractor.New()
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	defer ex.Close()

	g := New(ex, rr)

	root := t.TempDir()
	writeFile(t, root, "notes.txt", "short line one\nshort line two\n")

	hits, err := g.Run(context.Background(), root, "short", 10, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(hits) > 1 {
		t.Errorf("expected candidate cap to bound results to 1, got %d", len(hits))
	}
}
