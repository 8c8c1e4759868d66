package rerank

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/extractor"
	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/jamaly87/codebase-semantic-search/internal/scanner"
)

const defaultMaxCandidates = 100

var regexMetachars = regexp.MustCompile(`[.*+?\[\](){}|^$\\]`)

// toExtractQuery converts a free-form search query into the pattern passed
// to extractor.Extract's fallback regex scan. A query already containing
// regex metacharacters is passed through unchanged; a plain multi-word
// phrase is turned into an OR of its escaped tokens so the fallback matches
// any word in the phrase rather than requiring the literal phrase on one
// line.
func toExtractQuery(query string) string {
	if regexMetachars.MatchString(query) {
		return query
	}
	fields := strings.Fields(query)
	if len(fields) <= 1 {
		return regexp.QuoteMeta(query)
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(escaped, "|")
}

type candidate struct {
	file      string
	kind      models.BlockKind
	name      string
	startLine int
	endLine   int
	content   string
	scoreText string
}

// GrepReranker is the stateless no-index pipeline: scan files, extract
// structural or fallback blocks from each, score every block against the
// query with a cross-encoder, and return the top k. Nothing here is
// persisted between calls.
type GrepReranker struct {
	extractor *extractor.Extractor
	reranker  Reranker
}

// New builds a GrepReranker over the given extractor and reranker backend.
func New(ex *extractor.Extractor, rr Reranker) *GrepReranker {
	return &GrepReranker{extractor: ex, reranker: rr}
}

// Run is the stateless pipeline: scan root for files matching query,
// extract blocks from each, score every block against query, and return the
// top k. Nothing here is persisted between calls.
func (g *GrepReranker) Run(ctx context.Context, root, query string, topK, maxCandidates int) ([]models.SearchHit, error) {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}

	extractQuery := toExtractQuery(query)

	files, err := scanner.Scan(root, extractQuery, false)
	if err != nil {
		return nil, fmt.Errorf("rerank: scanning: %w", err)
	}

	var candidates []candidate
	for absPath, content := range files {
		relPath, err := filepath.Rel(root, absPath)
		if err != nil {
			relPath = absPath
		}
		blocks, err := g.extractor.Extract(relPath, content, extractQuery)
		if err != nil {
			return nil, fmt.Errorf("rerank: extracting %s: %w", relPath, err)
		}
		for _, b := range blocks {
			scoreText := fmt.Sprintf("%s %s: %s", b.Kind, b.Name, b.Content)
			candidates = append(candidates, candidate{
				file:      relPath,
				kind:      b.Kind,
				name:      b.Name,
				startLine: b.StartLine,
				endLine:   b.EndLine,
				content:   b.Content,
				scoreText: scoreText,
			})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	if len(candidates) > maxCandidates {
		sort.Slice(candidates, func(i, j int) bool {
			return len(candidates[i].scoreText) < len(candidates[j].scoreText)
		})
		candidates = candidates[:maxCandidates]
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.scoreText
	}

	// With no reranker backend configured, fall back to extraction order:
	// every candidate scores 0 and the stable sort below leaves them as-is.
	scores := make([]float64, len(candidates))
	if g.reranker != nil {
		scores, err = g.reranker.Rerank(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	hits := make([]models.SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = models.SearchHit{
			File:    c.file,
			Kind:    string(c.kind),
			Name:    c.name,
			Line:    c.startLine,
			EndLine: c.endLine,
			Content: c.content,
			Score:   scores[i],
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
