// Package extractor implements structural code-block extraction: parse one
// file with the grammar bound to its extension, run the language's
// structural query, and return the captured blocks. Files with no grammar
// binding, a grammar/query error, or zero captures fall back to a
// regex-windowed scan or the head of the file. Prose files are chunked
// recursively instead (see prose.go).
package extractor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

const (
	fallbackWindowLines = 5
	fallbackMaxMatches  = 5
	fallbackHeadLines   = 50
)

// textExtensions are chunked as prose instead of parsed structurally.
var textExtensions = map[string]bool{
	".md": true, ".mdx": true, ".markdown": true, ".txt": true, ".rst": true,
}

type binding struct {
	parser *sitter.Parser
	query  *sitter.Query
}

// Extractor parses source files into Blocks. Tree-sitter parsers are not
// thread-safe, so all parsing is serialized through a mutex; callers that
// want parallel extraction across files should use one Extractor per
// worker, or accept the serialization (parsing a single file is fast
// relative to embedding).
type Extractor struct {
	mu       sync.Mutex
	bindings map[string]*binding // keyed by language tag, not extension
}

// New precompiles one parser and query per supported language.
func New() (*Extractor, error) {
	e := &Extractor{bindings: make(map[string]*binding)}
	for lang, src := range querySource {
		sitterLang := languageFor(lang)
		if sitterLang == nil {
			continue
		}
		q, err := sitter.NewQuery([]byte(src), sitterLang)
		if err != nil {
			return nil, fmt.Errorf("extractor: compiling query for %s: %w", lang, err)
		}
		parser := sitter.NewParser()
		parser.SetLanguage(sitterLang)
		e.bindings[lang] = &binding{parser: parser, query: q}
	}
	return e, nil
}

// Extract returns the Blocks found in content, which is assumed to be the
// file at relPath. query is the fallback regex pattern to scan for when no
// grammar binding applies; index-build callers that have no specific search
// query pass "" (matches nothing, so the fallback degrades straight to the
// file head). Extract never returns an error for a bad query or grammar
// failure — those degrade to fallback per the extraction contract; an error
// here means content could not be processed at all.
func (e *Extractor) Extract(relPath, content, query string) ([]models.Block, error) {
	ext := strings.ToLower(filepath.Ext(relPath))

	if textExtensions[ext] {
		blocks := extractProse(relPath, content)
		if len(blocks) > 0 {
			return blocks, nil
		}
		return fallbackSlidingWindow(relPath, content, query), nil
	}

	lang, ok := extToLang[ext]
	if !ok {
		return fallbackSlidingWindow(relPath, content, query), nil
	}

	e.mu.Lock()
	b, ok := e.bindings[lang]
	if !ok {
		e.mu.Unlock()
		return fallbackSlidingWindow(relPath, content, query), nil
	}

	contentBytes := []byte(content)
	tree := b.parser.Parse(nil, contentBytes)
	if tree == nil {
		e.mu.Unlock()
		return fallbackSlidingWindow(relPath, content, query), nil
	}

	cursor := sitter.NewQueryCursor()
	cursor.Exec(b.query, tree.RootNode())
	e.mu.Unlock()

	type capture struct {
		node *sitter.Node
		tag  string
	}
	var captures []capture
	seen := map[[2]uint32]bool{}

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, c := range match.Captures {
			rng := [2]uint32{c.Node.StartByte(), c.Node.EndByte()}
			if seen[rng] {
				continue
			}
			seen[rng] = true
			captures = append(captures, capture{node: c.Node, tag: b.query.CaptureNameForId(c.Index)})
		}
	}

	if len(captures) == 0 {
		return fallbackSlidingWindow(relPath, content, query), nil
	}

	sort.Slice(captures, func(i, j int) bool { return captures[i].node.StartByte() < captures[j].node.StartByte() })

	blocks := make([]models.Block, 0, len(captures))
	for _, c := range captures {
		start, end := c.node.StartByte(), c.node.EndByte()
		if start >= end || int(end) > len(contentBytes) {
			continue
		}
		kind := models.BlockFunction
		if c.tag == "class" {
			kind = models.BlockClass
		}
		blocks = append(blocks, models.Block{
			Kind:      kind,
			Name:      extractName(c.node, contentBytes),
			StartLine: int(c.node.StartPoint().Row),
			EndLine:   int(c.node.EndPoint().Row),
			Content:   string(contentBytes[start:end]),
		})
	}

	if len(blocks) == 0 {
		return fallbackSlidingWindow(relPath, content, query), nil
	}
	return blocks, nil
}

// extractName scans a captured node's direct children for an identifier-like
// kind, then one level of grandchildren, falling back to "anonymous".
func extractName(node *sitter.Node, content []byte) string {
	if name, ok := firstNamedChild(node, content); ok {
		return name
	}
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if name, ok := firstNamedChild(child, content); ok {
			return name
		}
	}
	return "anonymous"
}

func firstNamedChild(node *sitter.Node, content []byte) (string, bool) {
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if nameTypes[child.Type()] {
			start, end := child.StartByte(), child.EndByte()
			if int(end) <= len(content) {
				return string(content[start:end]), true
			}
		}
	}
	return "", false
}

// fallbackSlidingWindow is used when no grammar applies, parsing fails, the
// query fails to compile, or the query yields zero captures: a
// case-insensitive regex scan for query, emitting up to five +/-5-line
// windows around each match, or the first 50 lines if there are none.
func fallbackSlidingWindow(relPath, content, query string) []models.Block {
	lines := strings.Split(content, "\n")

	var blocks []models.Block
	if query != "" {
		re, err := regexp.Compile("(?i)" + query)
		if err == nil {
			for i, line := range lines {
				if !re.MatchString(line) {
					continue
				}
				start := i - fallbackWindowLines
				if start < 0 {
					start = 0
				}
				end := i + fallbackWindowLines + 1
				if end > len(lines) {
					end = len(lines)
				}
				blocks = append(blocks, models.Block{
					Kind:      models.BlockText,
					Name:      fmt.Sprintf("match at line %d", i+1),
					StartLine: start,
					EndLine:   end,
					Content:   strings.Join(lines[start:end], "\n"),
				})
				if len(blocks) >= fallbackMaxMatches {
					break
				}
			}
		}
	}

	if len(blocks) > 0 {
		return blocks
	}

	end := len(lines)
	if end > fallbackHeadLines {
		end = fallbackHeadLines
	}
	return []models.Block{{
		Kind:      models.BlockFile,
		Name:      filepath.Base(relPath),
		StartLine: 0,
		EndLine:   end,
		Content:   strings.Join(lines[:end], "\n"),
	}}
}

// Close releases parser resources.
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = make(map[string]*binding)
}
