// Package models holds the data types shared across the indexing and
// search packages: blocks, content hashes, manifest rows, and vector
// records.
package models

import "fmt"

// BlockKind is a closed tag describing what a Block represents.
// ValidBlockKind tests membership in the closed set; the vector store does
// not call it, so a record's kind is stored as given, unchecked.
type BlockKind string

const (
	BlockFunction BlockKind = "function"
	BlockClass    BlockKind = "class"
	BlockItem     BlockKind = "item"
	BlockSection  BlockKind = "section"
	BlockText     BlockKind = "text"
	BlockFile     BlockKind = "file"
	BlockUnknown  BlockKind = "unknown"
)

// ValidBlockKind reports whether k is one of the closed set of kinds.
func ValidBlockKind(k BlockKind) bool {
	switch k {
	case BlockFunction, BlockClass, BlockItem, BlockSection, BlockText, BlockFile, BlockUnknown:
		return true
	default:
		return false
	}
}

// Block is a structurally identified span of a source file, the unit of
// embedding. It exists only during extraction; it is not persisted outside
// its derived VectorRecord and the manifest's block id list.
type Block struct {
	Kind      BlockKind
	Name      string
	StartLine int
	EndLine   int
	Content   string
}

// ID builds the BlockId string for a block found at relPath: the shape is
// "<rel_path>:<start_line>:<name>". Stable across re-indexing of an
// unchanged file; unique within one manifest except for a same-line,
// same-name collision, which collapses to one id by design.
func (b Block) ID(relPath string) string {
	return fmt.Sprintf("%s:%d:%s", relPath, b.StartLine, b.Name)
}

// ContentHash is the first 16 hex characters of SHA-256 over file bytes.
type ContentHash string

// FileEntry is one manifest row, keyed by a path relative to the index
// root.
type FileEntry struct {
	Hash   ContentHash `json:"hash"`
	Blocks []string    `json:"blocks"`
}

// CurrentManifestVersion is the schema version written by Save. Older
// versions are migrated forward on Load; see internal/manifest.
const CurrentManifestVersion = 3

// Manifest is the on-disk record of what has been embedded: a schema
// version plus rel_path -> FileEntry.
type Manifest struct {
	Version int                  `json:"version"`
	Files   map[string]FileEntry `json:"files"`
}

// VectorRecord is one row of the VectorStore: an embedding plus the
// metadata needed to render a search result without re-reading the source
// file.
type VectorRecord struct {
	ID       string
	Vector   []float32
	File     string
	Kind     BlockKind
	Name     string
	Start    int
	End      int
	Content  string
}

// SearchHit is one ranked result returned by IndexEngine.Search or
// GrepReranker.Run.
type SearchHit struct {
	File     string  `json:"file"`
	Kind     string  `json:"kind"`
	Name     string  `json:"name"`
	Line     int     `json:"line"`
	EndLine  int     `json:"end_line"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}
