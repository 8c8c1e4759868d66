// Package scanner walks a directory tree and returns the eligible files
// whose content matches a pattern, applying the same denylists and safety
// checks regardless of whether the caller wants every file ("." pattern)
// or a regex-filtered subset (grep mode).
package scanner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jamaly87/codebase-semantic-search/pkg/ignore"
)

// IgnoredDirs are directory names that are never descended into.
var IgnoredDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"build":        true,
	"dist":         true,
	"venv":         true,
	"env":          true,
	".git":         true,
	".pixi":        true,
	".vscode":      true,
	".idea":        true,
	"__pycache__":  true,
}

// BinaryExtensions are file extensions skipped without reading content.
var BinaryExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".o": true, ".so": true, ".dylib": true,
	".dll": true, ".bin": true, ".exe": true, ".a": true, ".lib": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true, ".jar": true, ".war": true, ".whl": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".webp": true, ".bmp": true, ".tiff": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true, ".mkv": true,
	".db": true, ".sqlite": true, ".sqlite3": true, ".pickle": true, ".pkl": true,
	".npy": true, ".npz": true, ".onnx": true, ".pt": true, ".pth": true,
	".safetensors": true, ".lock": true,
}

// MaxFileSize is the size cap (bytes) above which a file is skipped.
const MaxFileSize = 1_000_000

// Scan walks root and returns a map of absolute path to UTF-8 content for
// every eligible file whose content matches pattern. A pattern of "."
// matches every eligible file without compiling a regex. includeHidden
// controls whether dotfiles/dotdirs are considered at all (dotdirs in
// IgnoredDirs are always skipped regardless).
//
// An optional *ignore.Matcher may be passed to layer user-configurable glob
// patterns (pkg/config's ignore list) on top of the fixed IgnoredDirs/
// BinaryExtensions denylists above; a nil or omitted matcher skips nothing
// extra.
func Scan(root, pattern string, includeHidden bool, matcher ...*ignore.Matcher) (map[string]string, error) {
	var m *ignore.Matcher
	if len(matcher) > 0 {
		m = matcher[0]
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: path is not a directory: %s", root)
	}

	matchAll := pattern == "."
	var re *regexp.Regexp
	if !matchAll {
		re, err = regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("scanner: invalid regex pattern: %w", err)
		}
	}

	results := make(map[string]string)
	visited := make(map[string]bool)

	var walk func(dir string) error
	walk = func(dir string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return nil
		}
		if visited[real] {
			return nil
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}

		for _, entry := range entries {
			name := entry.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				continue
			}

			full := filepath.Join(dir, name)
			rel, relErr := filepath.Rel(root, full)
			if relErr != nil {
				rel = full
			}

			if entry.IsDir() {
				if IgnoredDirs[name] {
					continue
				}
				if m != nil && m.ShouldIgnore(rel) {
					continue
				}
				if err := walk(full); err != nil {
					return err
				}
				continue
			}

			ext := strings.ToLower(filepath.Ext(name))
			if BinaryExtensions[ext] {
				continue
			}
			if strings.HasSuffix(name, "-lock.json") {
				continue
			}
			if m != nil && m.ShouldIgnore(rel) {
				continue
			}

			fi, err := entry.Info()
			if err != nil || fi.Size() > MaxFileSize {
				continue
			}

			raw, err := os.ReadFile(full)
			if err != nil {
				continue
			}

			probe := raw
			if len(probe) > 8192 {
				probe = probe[:8192]
			}
			if bytes.IndexByte(probe, 0) != -1 {
				continue
			}

			if !utf8.Valid(raw) {
				continue
			}
			content := string(raw)

			if matchAll || re.MatchString(content) {
				results[full] = content
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return results, nil
}
