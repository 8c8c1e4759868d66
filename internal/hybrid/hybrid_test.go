package hybrid

import (
	"testing"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

func TestExpandQueryTermsAppliesSynonyms(t *testing.T) {
	terms := ExpandQueryTerms("auth config")
	for _, want := range []string{"auth", "authentication", "authorize", "authorization", "config", "configuration", "settings", "options"} {
		if !terms[want] {
			t.Errorf("missing expanded term %q in %v", want, terms)
		}
	}
}

func TestRerankBoostsLiteralMatch(t *testing.T) {
	hits := []Hit{
		// "password" is the only expanded term found in the literal match
		// (m=1, boost 1.1): 0.5 becomes 0.55, overtaking the 0.52 non-match.
		{Record: models.VectorRecord{Name: "unrelated", Content: "nothing here"}, SemanticScore: 0.52},
		{Record: models.VectorRecord{Name: "hash_password", Content: "def hash_password(p): return p"}, SemanticScore: 0.5},
	}
	out := Rerank("password hashing", hits)
	if out[0].Record.Name != "hash_password" {
		t.Fatalf("expected literal match to rank first, got %q", out[0].Record.Name)
	}
	if out[0].Score <= 0.5 {
		t.Errorf("expected boosted score > 0.5, got %f", out[0].Score)
	}
}

func TestRerankBoostCapAndScoreCap(t *testing.T) {
	// Eight of the nine expanded terms of "auth db impl" occur in each
	// haystack (all but "db"), so the boost is capped at 1.5 rather than 1.8.
	content := "authentication authorize authorization database implementation implement"
	hits := []Hit{
		{Record: models.VectorRecord{Name: "auth", Content: content}, SemanticScore: 0.9},
		{Record: models.VectorRecord{Name: "capped", Content: content}, SemanticScore: 0.5},
	}
	out := Rerank("auth db impl", hits)
	if out[0].Score > 1.0 {
		t.Errorf("score must be capped at 1.0, got %f", out[0].Score)
	}
	if out[1].Score != 0.75 {
		t.Errorf("boost must be capped at 1.5x (0.5 -> 0.75), got %f", out[1].Score)
	}
}

func TestRerankSortsDescending(t *testing.T) {
	hits := []Hit{
		{Record: models.VectorRecord{Name: "low"}, SemanticScore: 0.2},
		{Record: models.VectorRecord{Name: "high"}, SemanticScore: 0.8},
	}
	out := Rerank("irrelevant query", hits)
	if out[0].Record.Name != "high" || out[1].Record.Name != "low" {
		t.Fatalf("expected descending order, got %v", out)
	}
}

func TestSemanticScoreFormula(t *testing.T) {
	if got := SemanticScore(0); got != 1.0 {
		t.Errorf("SemanticScore(0) = %f, want 1.0", got)
	}
	if got := SemanticScore(2); got != 0.0 {
		t.Errorf("SemanticScore(2) = %f, want 0.0", got)
	}
}
