package extractor

import (
	"strings"
	"testing"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

func TestExtractGoFunctionsAndTypes(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	src := `package auth

func HashPassword(p string) string {
	return p
}

type Session struct {
	Token string
}
`
	blocks, err := e.Extract("auth.go", src, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("expected blocks, got none")
	}

	var sawFunc, sawType bool
	for _, b := range blocks {
		if b.Kind == models.BlockFunction && b.Name == "HashPassword" {
			sawFunc = true
		}
		if b.Kind == models.BlockClass && b.Name == "Session" {
			sawType = true
		}
	}
	if !sawFunc {
		t.Errorf("expected a function block named HashPassword, got %+v", blocks)
	}
	if !sawType {
		t.Errorf("expected a class block named Session, got %+v", blocks)
	}
}

func TestExtractPythonFunctions(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	src := "def hash_password(p):\n    return p\n\nclass Session:\n    pass\n"
	blocks, err := e.Extract("auth.py", src, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var names []string
	for _, b := range blocks {
		names = append(names, b.Name)
	}
	if !contains(names, "hash_password") {
		t.Errorf("expected hash_password in %v", names)
	}
	if !contains(names, "Session") {
		t.Errorf("expected Session in %v", names)
	}
}

func TestExtractUnsupportedExtensionFallsBackToRegexWindow(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "filler line")
	}
	lines[10] = "TODO fix this"
	src := strings.Join(lines, "\n")

	blocks, err := e.Extract("notes.unknownext", src, "TODO")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 window block, got %d", len(blocks))
	}
	if blocks[0].Kind != models.BlockText {
		t.Errorf("expected text kind, got %s", blocks[0].Kind)
	}
	if !strings.Contains(blocks[0].Content, "TODO fix this") {
		t.Errorf("window missing match line: %q", blocks[0].Content)
	}
}

func TestExtractUnsupportedExtensionNoMatchFallsBackToHead(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	var lines []string
	for i := 0; i < 80; i++ {
		lines = append(lines, "line content")
	}
	src := strings.Join(lines, "\n")

	blocks, err := e.Extract("notes.unknownext", src, "nomatch")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Kind != models.BlockFile {
		t.Fatalf("expected single file-kind head block, got %+v", blocks)
	}
	if blocks[0].EndLine != fallbackHeadLines {
		t.Errorf("expected head capped at %d lines, got end_line %d", fallbackHeadLines, blocks[0].EndLine)
	}
}

func TestExtractMarkdownSectionsWithBreadcrumb(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	src := "# Guide\n\n## Installation\n\n" + strings.Repeat("Install the package and configure your environment. ", 40)

	blocks, err := e.Extract("README.md", src, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("expected prose blocks")
	}
	found := false
	for _, b := range blocks {
		if strings.HasPrefix(b.Content, "Guide > Installation | ") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected breadcrumb-prefixed content in %+v", blocks)
	}
}

func TestExtractDropsShortProseChunks(t *testing.T) {
	blocks := extractProse("notes.txt", "too short")
	if len(blocks) != 0 {
		t.Errorf("expected short chunk dropped, got %+v", blocks)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
