package indexroot

import (
	"os"
	"path/filepath"
	"testing"
)

func mkIndex(t *testing.T, dir string) {
	t.Helper()
	idx := filepath.Join(dir, IndexDirName)
	if err := os.MkdirAll(idx, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(idx, "manifest.json"), []byte(`{"version":3,"files":{}}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestFindIndexRootWalksUp(t *testing.T) {
	root := t.TempDir()
	mkIndex(t, root)

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	foundRoot, indexDir := FindIndexRoot(sub)
	wantRoot, _ := filepath.Abs(root)
	if foundRoot != wantRoot {
		t.Errorf("root = %q, want %q", foundRoot, wantRoot)
	}
	if indexDir == "" {
		t.Error("expected non-empty index dir")
	}
}

func TestFindIndexRootNone(t *testing.T) {
	dir := t.TempDir()
	root, indexDir := FindIndexRoot(dir)
	if indexDir != "" {
		t.Errorf("expected no index dir, got %q", indexDir)
	}
	want, _ := filepath.Abs(dir)
	if root != want {
		t.Errorf("root = %q, want %q", root, want)
	}
}

func TestFindParentIndexExcludesSelf(t *testing.T) {
	root := t.TempDir()
	mkIndex(t, root)
	sub := filepath.Join(root, "child")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	foundRoot, indexDir := FindParentIndex(sub)
	wantRoot, _ := filepath.Abs(root)
	if foundRoot != wantRoot || indexDir == "" {
		t.Errorf("FindParentIndex(sub) = (%q, %q), want root %q", foundRoot, indexDir, wantRoot)
	}

	// FindParentIndex on root itself must not report root as its own parent.
	foundRoot2, indexDir2 := FindParentIndex(root)
	if foundRoot2 == wantRoot && indexDir2 != "" {
		t.Errorf("FindParentIndex(root) should not treat root as its own parent index")
	}
}

func TestFindSubdirIndexes(t *testing.T) {
	root := t.TempDir()
	sub1 := filepath.Join(root, "pkg1")
	sub2 := filepath.Join(root, "pkg2")
	if err := os.MkdirAll(sub1, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(sub2, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mkIndex(t, sub1)
	mkIndex(t, sub2)

	found := FindSubdirIndexes(root)
	if len(found) != 2 {
		t.Fatalf("expected 2 subdir indexes, got %d: %v", len(found), found)
	}
}

func TestFindSubdirIndexesExcludesSelf(t *testing.T) {
	root := t.TempDir()
	mkIndex(t, root)

	found := FindSubdirIndexes(root)
	if len(found) != 0 {
		t.Fatalf("expected self index excluded, got %v", found)
	}
}
