// Package manifest loads and saves the on-disk record of what has been
// embedded: rel_path -> {content hash, block ids}, plus forward schema
// migration from older layouts.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamaly87/codebase-semantic-search/internal/models"
)

// FileName is the manifest's file name under the index directory.
const FileName = "manifest.json"

// rawV1 is the v1 on-disk shape: files map to a bare hash string.
type rawV1 struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

// rawV2 is the v2 on-disk shape: files map to {hash, blocks} keyed by
// absolute path.
type rawV2Entry struct {
	Hash   string   `json:"hash"`
	Blocks []string `json:"blocks"`
}

type rawV2 struct {
	Version int                   `json:"version"`
	Files   map[string]rawV2Entry `json:"files"`
}

// Load reads and migrates the manifest at dir/manifest.json. If the file
// does not exist, an empty current-version manifest is returned (not an
// error) — callers distinguish "no index" via the caller-level NotFound
// check against the index directory itself.
func Load(dir string, root string) (*models.Manifest, error) {
	path := filepath.Join(dir, FileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &models.Manifest{Version: models.CurrentManifestVersion, Files: map[string]models.FileEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("manifest: corrupt: %w", err)
	}

	switch probe.Version {
	case 0, 1:
		return migrateV1(raw)
	case 2:
		return migrateV2(raw, root)
	case models.CurrentManifestVersion:
		var m models.Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("manifest: corrupt: %w", err)
		}
		if m.Files == nil {
			m.Files = map[string]models.FileEntry{}
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("manifest: unknown schema version %d", probe.Version)
	}
}

// migrateV1 lifts bare hash strings to {hash, blocks: []}. v1 manifests had
// no concept of root-relative paths either, so keys are taken as-is (v1
// predates the block-id list entirely, so there is nothing to rewrite).
func migrateV1(raw []byte) (*models.Manifest, error) {
	var v1 rawV1
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("manifest: corrupt v1: %w", err)
	}
	out := &models.Manifest{Version: models.CurrentManifestVersion, Files: map[string]models.FileEntry{}}
	for path, hash := range v1.Files {
		out.Files[path] = models.FileEntry{Hash: models.ContentHash(hash), Blocks: []string{}}
	}
	return out, nil
}

// migrateV2 rewrites absolute paths to root-relative ones, including the
// root prefix embedded inside each block id.
func migrateV2(raw []byte, root string) (*models.Manifest, error) {
	var v2 rawV2
	if err := json.Unmarshal(raw, &v2); err != nil {
		return nil, fmt.Errorf("manifest: corrupt v2: %w", err)
	}
	prefix := strings.TrimSuffix(root, string(filepath.Separator)) + string(filepath.Separator)

	out := &models.Manifest{Version: models.CurrentManifestVersion, Files: map[string]models.FileEntry{}}
	for absPath, entry := range v2.Files {
		relPath := stripPrefix(absPath, prefix)
		blocks := make([]string, len(entry.Blocks))
		for i, b := range entry.Blocks {
			blocks[i] = stripPrefix(b, prefix)
		}
		out.Files[relPath] = models.FileEntry{Hash: models.ContentHash(entry.Hash), Blocks: blocks}
	}
	return out, nil
}

func stripPrefix(s, prefix string) string {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):]
	}
	return s
}

// Save writes m to dir/manifest.json using write-temp-then-rename so a
// crash mid-write never leaves a partially-written manifest in place.
func Save(dir string, m *models.Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}
	m.Version = models.CurrentManifestVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}
	return nil
}

// Get returns the entry for relPath, or false if absent.
func Get(m *models.Manifest, relPath string) (models.FileEntry, bool) {
	e, ok := m.Files[relPath]
	return e, ok
}

// Put sets or replaces the entry for relPath.
func Put(m *models.Manifest, relPath string, entry models.FileEntry) {
	if m.Files == nil {
		m.Files = map[string]models.FileEntry{}
	}
	m.Files[relPath] = entry
}

// Remove deletes the entry for relPath, if present.
func Remove(m *models.Manifest, relPath string) {
	delete(m.Files, relPath)
}

// AllBlockIDs returns the union of block ids across every manifest row,
// used by reconciliation to find orphan store ids.
func AllBlockIDs(m *models.Manifest) map[string]bool {
	ids := make(map[string]bool)
	for _, entry := range m.Files {
		for _, id := range entry.Blocks {
			ids[id] = true
		}
	}
	return ids
}
