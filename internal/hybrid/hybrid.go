// Package hybrid applies a bounded lexical boost on top of semantic search
// scores: a fixed synonym table expands the query, substring matches against
// each hit's name+content increase its score by up to 1.5x, and the list is
// re-sorted.
package hybrid

import (
	"sort"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

// CodeSynonyms maps a short code-ish term to the longer forms it should
// also match against. Applied only to the hybrid boost, never to the
// embedding itself — the boost is intentionally conservative.
var CodeSynonyms = map[string][]string{
	"auth":   {"authentication", "authorize", "authorization"},
	"authn":  {"authentication"},
	"authz":  {"authorization"},
	"config": {"configuration", "settings", "options"},
	"cfg":    {"config", "configuration"},
	"db":     {"database"},
	"err":    {"error", "exception"},
	"exc":    {"exception", "error"},
	"fn":     {"function"},
	"func":   {"function"},
	"impl":   {"implementation", "implement"},
	"init":   {"initialize", "initialization"},
	"msg":    {"message"},
	"param":  {"parameter"},
	"params": {"parameters"},
	"req":    {"request"},
	"res":    {"response"},
	"resp":   {"response"},
	"ret":    {"return"},
	"srv":    {"server", "service"},
	"svc":    {"service"},
	"util":   {"utility", "utilities"},
	"utils":  {"utilities", "utility"},
	"val":    {"value", "validate", "validation"},
}

// ExpandQueryTerms lowercases and whitespace-splits query, then unions each
// term with its synonym-table expansions.
func ExpandQueryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		terms[word] = true
		if syns, ok := CodeSynonyms[word]; ok {
			for _, s := range syns {
				terms[s] = true
			}
		}
	}
	return terms
}

// Hit is a semantic search hit with its already-computed semantic score,
// prior to hybrid rescoring.
type Hit struct {
	Record     models.VectorRecord
	SemanticScore float64
}

// Scored is a Hit with its final hybrid score attached.
type Scored struct {
	Record models.VectorRecord
	Score  float64
}

// Rerank expands query into terms, boosts each hit whose name+content
// contains one or more terms (bounded at 1.5x), and returns hits sorted by
// final score descending.
func Rerank(query string, hits []Hit) []Scored {
	terms := ExpandQueryTerms(query)

	out := make([]Scored, len(hits))
	for i, h := range hits {
		haystack := strings.ToLower(h.Record.Name) + " " + strings.ToLower(h.Record.Content)

		matches := 0
		for t := range terms {
			if strings.Contains(haystack, t) {
				matches++
			}
		}

		score := h.SemanticScore
		if matches > 0 {
			boost := 1.0 + 0.1*float64(matches)
			if boost > 1.5 {
				boost = 1.5
			}
			score = score * boost
			if score > 1.0 {
				score = 1.0
			}
		}
		out[i] = Scored{Record: h.Record, Score: score}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SemanticScore converts a cosine distance in [0, 2] into a score in
// [0, 1]: (2 - distance) / 2. This, not 1 - distance, is the formula this
// repo uses throughout.
func SemanticScore(distance float64) float64 {
	return (2.0 - distance) / 2.0
}
