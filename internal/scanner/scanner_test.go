package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamaly87/codebase-semantic-search/pkg/ignore"
)

func TestScanMatchAll(t *testing.T) {
	tmpDir := t.TempDir()

	files := map[string]string{
		"auth.py":             "def hash_password(p):\n    return p\n",
		"src/server.go":       "func Shutdown() {}\n",
		"node_modules/lib.js": "ignored",
		"build/out.py":        "ignored",
		".git/config":         "ignored",
		"image.png":           "\x89PNG",
		"README.md":           "# hello",
	}
	for path, content := range files {
		full := filepath.Join(tmpDir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := Scan(tmpDir, ".", false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 eligible files, got %d: %v", len(got), got)
	}
	for path := range got {
		base := filepath.Base(path)
		if base == "lib.js" || base == "out.py" || base == "config" || base == "image.png" {
			t.Errorf("unexpected file scanned: %s", path)
		}
	}
}

func TestScanPatternFilter(t *testing.T) {
	tmpDir := t.TempDir()
	files := map[string]string{
		"a.py": "# TODO fix this\n",
		"b.py": "print('nothing here')\n",
	}
	for path, content := range files {
		full := filepath.Join(tmpDir, path)
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := Scan(tmpDir, "TODO", false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	for path := range got {
		if filepath.Base(path) != "a.py" {
			t.Errorf("wrong file matched: %s", path)
		}
	}
}

func TestScanInvalidRegex(t *testing.T) {
	tmpDir := t.TempDir()
	if _, err := Scan(tmpDir, "(unclosed", false); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestScanHonorsIgnoreMatcher(t *testing.T) {
	tmpDir := t.TempDir()
	files := map[string]string{
		"main.go":              "package main\n",
		"vendor/lib.go":        "package lib\n",
		"dist/generated.min.js": "ignored",
		"src/keep.go":          "package src\n",
	}
	for path, content := range files {
		full := filepath.Join(tmpDir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	m := ignore.NewMatcher([]string{"vendor/**", "**/*.min.js"})

	got, err := Scan(tmpDir, ".", false, m)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 eligible files, got %d: %v", len(got), got)
	}
	for path := range got {
		base := filepath.Base(path)
		if base == "lib.go" || base == "generated.min.js" {
			t.Errorf("unexpected file scanned despite ignore matcher: %s", path)
		}
	}
}

func TestScanWithoutMatcherUnaffected(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Scan(tmpDir, ".", false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 file with no matcher supplied, got %d", len(got))
	}
}
