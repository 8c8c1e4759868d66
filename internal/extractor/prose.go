package extractor

import (
	"log"
	"regexp"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

const (
	proseChunkSizeTokens = 250
	proseOverlapTokens   = 30
	proseMinChunkTokens  = 20
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

var markdownHeaderRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// proseTokenizer counts tokens the way the embedding model will see them.
// cl100k_base is the same encoding used by gpt-3.5-turbo/gpt-4 and is close
// enough to most local embedding models to size chunks sanely. If the
// encoding can't be loaded, estimateTokens falls back to a ~1.3
// tokens-per-word approximation rather than failing prose extraction.
var proseTokenizer *tiktoken.Tiktoken

func init() {
	tok, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("prose: tiktoken encoding unavailable, falling back to word-count token estimate: %v", err)
		return
	}
	proseTokenizer = tok
}

// estimateTokens counts tokens in text using the cl100k_base tokenizer, or a
// ~1.3 tokens-per-word approximation when the tokenizer failed to load.
func estimateTokens(text string) int {
	if proseTokenizer != nil {
		return len(proseTokenizer.Encode(text, nil, nil))
	}
	return int(float64(len(strings.Fields(text))) * 1.3)
}

type proseSection struct {
	headers   []string
	content   string
	startLine int
	endLine   int
}

// parseMarkdownStructure splits markdown into sections by header hierarchy,
// tracking a stack of open header titles per level and skipping header-like
// lines found inside fenced code blocks.
func parseMarkdownStructure(content string) []proseSection {
	lines := strings.Split(content, "\n")
	var sections []proseSection
	var headerStack []string
	var current []string
	currentStart := 0
	inCodeBlock := false

	flush := func(endLine int) {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			sections = append(sections, proseSection{
				headers:   append([]string(nil), headerStack...),
				content:   text,
				startLine: currentStart,
				endLine:   endLine,
			})
		}
	}

	for i, line := range lines {
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inCodeBlock = !inCodeBlock
			current = append(current, line)
			continue
		}
		if inCodeBlock {
			current = append(current, line)
			continue
		}

		if m := markdownHeaderRe.FindStringSubmatch(line); m != nil {
			flush(i - 1)

			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level-1 < len(headerStack) {
				headerStack = headerStack[:level-1]
			}
			headerStack = append(headerStack, title)

			current = nil
			currentStart = i
		} else {
			current = append(current, line)
		}
	}
	flush(len(lines) - 1)

	return sections
}

// splitTextRecursive breaks text into chunks near chunkSize tokens, trying
// each separator in order (paragraph, line, sentence, word) before falling
// back to a hard word-count split.
func splitTextRecursive(text string, chunkSize int, separators []string) []string {
	if estimateTokens(text) <= chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	for i, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}

		parts := strings.Split(text, sep)
		var chunks []string
		current := ""

		for _, part := range parts {
			candidate := part
			if current != "" {
				candidate = current + sep + part
			}
			if estimateTokens(candidate) <= chunkSize {
				current = candidate
				continue
			}
			if current != "" {
				chunks = append(chunks, current)
			}
			if estimateTokens(part) > chunkSize && i+1 < len(separators) {
				chunks = append(chunks, splitTextRecursive(part, chunkSize, separators[i+1:])...)
				current = ""
			} else {
				current = part
			}
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if len(chunks) > 0 {
			return chunks
		}
	}

	words := strings.Fields(text)
	var chunks []string
	var current []string
	for _, w := range words {
		current = append(current, w)
		if estimateTokens(strings.Join(current, " ")) >= chunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// addOverlap prepends the tail of each chunk to the next, so a reader (or
// embedder) sees a few tokens of trailing context carried forward.
func addOverlap(chunks []string, overlap int) []string {
	if len(chunks) <= 1 || overlap <= 0 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		if len(prevWords) > overlap {
			prevWords = prevWords[len(prevWords)-overlap:]
		}
		out[i] = "..." + strings.Join(prevWords, " ") + " " + chunks[i]
	}
	return out
}

// extractProse chunks a markdown or plain-text file: markdown files get
// header-hierarchy-aware sections with breadcrumb context injected into
// each chunk; other text files are split without section structure.
func extractProse(relPath, content string) []models.Block {
	ext := strings.ToLower(relPath)
	isMarkdown := strings.HasSuffix(ext, ".md") || strings.HasSuffix(ext, ".mdx") || strings.HasSuffix(ext, ".markdown")

	var blocks []models.Block

	if isMarkdown {
		for _, section := range parseMarkdownStructure(content) {
			var context string
			if len(section.headers) > 0 {
				context = strings.Join(section.headers, " > ")
			}

			chunks := addOverlap(splitTextRecursive(section.content, proseChunkSizeTokens, defaultSeparators), proseOverlapTokens)
			for _, chunk := range chunks {
				if estimateTokens(chunk) < proseMinChunkTokens {
					continue
				}

				kind := models.BlockText
				name := ""
				if len(section.headers) > 0 {
					kind = models.BlockSection
					name = section.headers[len(section.headers)-1]
				}

				text := chunk
				if context != "" {
					text = context + " | " + chunk
				}

				blocks = append(blocks, models.Block{
					Kind:      kind,
					Name:      name,
					StartLine: section.startLine,
					EndLine:   section.endLine,
					Content:   text,
				})
			}
		}
		return blocks
	}

	chunks := addOverlap(splitTextRecursive(content, proseChunkSizeTokens, defaultSeparators), proseOverlapTokens)
	line := 0
	for _, chunk := range chunks {
		if estimateTokens(chunk) < proseMinChunkTokens {
			continue
		}
		chunkLines := strings.Count(chunk, "\n") + 1
		blocks = append(blocks, models.Block{
			Kind:      models.BlockText,
			Name:      "",
			StartLine: line,
			EndLine:   line + chunkLines,
			Content:   chunk,
		})
		line += chunkLines
	}
	return blocks
}
