// Package indexroot locates the nearest index root above a search path,
// the strict-ancestor parent index that shadows a path, and the subdir
// indexes that a build should absorb via merge.
package indexroot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/manifest"
)

// IndexDirName is the hidden directory name that marks an index root.
const IndexDirName = ".hhg"

// hasManifest reports whether dir/.hhg/manifest.json exists.
func hasManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, IndexDirName, manifest.FileName))
	return err == nil
}

// FindIndexRoot walks from searchPath upward until the filesystem root,
// returning the first ancestor (inclusive of searchPath itself) containing
// .hhg/manifest.json. If none is found, it returns (searchPath made
// absolute, "").
func FindIndexRoot(searchPath string) (root string, indexDir string) {
	dir, err := filepath.Abs(searchPath)
	if err != nil {
		dir = searchPath
	}
	for {
		if hasManifest(dir) {
			return dir, filepath.Join(dir, IndexDirName)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	abs, _ := filepath.Abs(searchPath)
	return abs, ""
}

// FindParentIndex is like FindIndexRoot but starts the walk at the strict
// parent of path, so a path that is itself an index root is not returned.
func FindParentIndex(path string) (root string, indexDir string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return FindIndexRoot(filepath.Dir(abs))
}

// FindSubdirIndexes walks the subtree rooted at path and returns every
// .hhg directory found that holds a manifest.json, excluding path/.hhg
// itself and never descending into a .hhg directory or a hidden directory.
func FindSubdirIndexes(path string) []string {
	var found []string
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	selfIndexDir := filepath.Join(abs, IndexDirName)

	_ = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p == abs {
			return nil
		}
		base := filepath.Base(p)
		if strings.HasPrefix(base, ".") && base != IndexDirName {
			return filepath.SkipDir
		}
		if base == IndexDirName {
			if p != selfIndexDir && hasManifest(filepath.Dir(p)) {
				found = append(found, p)
			}
			return filepath.SkipDir
		}
		return nil
	})
	return found
}
