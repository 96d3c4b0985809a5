// Package index persists the tracked file index: for every tracked path,
// the set of committed versions keyed by content hash.
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"inveni/shared/utils"

	"go.uber.org/zap"
)

// Index maps a normalized file path to its history. A path is present iff
// at least one commit happened for it.
type Index map[string]*FileHistory

// Versions returns the retained versions of path, newest first.
func (idx Index) Versions(path string) []Version {
	h, ok := idx[path]
	if !ok {
		return nil
	}
	out := make([]Version, 0, len(h.Versions))
	for hash, rec := range h.Versions {
		out = append(out, Version{Hash: hash, VersionRecord: rec})
	}
	sort.Slice(out, func(i, j int) bool { return Newer(out[i], out[j]) })
	return out
}

// Latest returns the most recent version of path.
func (idx Index) Latest(path string) (Version, bool) {
	h, ok := idx[path]
	if !ok || len(h.Versions) == 0 {
		return Version{}, false
	}
	var best Version
	found := false
	for hash, rec := range h.Versions {
		v := Version{Hash: hash, VersionRecord: rec}
		if !found || Newer(v, best) {
			best, found = v, true
		}
	}
	return best, true
}

// Record adds a version for path, creating the path entry on first commit.
func (idx Index) Record(path, hash string, rec VersionRecord) {
	h, ok := idx[path]
	if !ok {
		h = &FileHistory{Versions: make(map[string]VersionRecord)}
		idx[path] = h
	}
	if h.Versions == nil {
		h.Versions = make(map[string]VersionRecord)
	}
	h.Versions[hash] = rec
}

// Remove drops one version. The path entry stays even when it becomes empty.
func (idx Index) Remove(path, hash string) bool {
	h, ok := idx[path]
	if !ok {
		return false
	}
	if _, ok := h.Versions[hash]; !ok {
		return false
	}
	delete(h.Versions, hash)
	return true
}

// Paths returns every tracked path, sorted.
func (idx Index) Paths() []string {
	paths := make([]string, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Store reads and writes the index document.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted index. A missing file yields an empty index; a
// corrupt or unknown-shape file also yields an empty index and is logged.
func (s *Store) Load() Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("reading tracked files", zap.String("path", s.path), zap.Error(err))
		}
		return Index{}
	}

	idx, err := decode(data)
	if err != nil {
		s.logger.Error("tracked files index is corrupted", zap.String("path", s.path), zap.Error(err))
		return Index{}
	}
	return idx
}

func decode(data []byte) (Index, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	idx := Index{}
	if err := dec.Decode(&idx); err != nil {
		return nil, err
	}
	for path, h := range idx {
		if h == nil {
			return nil, fmt.Errorf("path %s has no history object", path)
		}
		if h.Versions == nil {
			h.Versions = make(map[string]VersionRecord)
		}
	}
	return idx, nil
}

// Save rewrites the whole document atomically.
func (s *Store) Save(idx Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx == nil {
		idx = Index{}
	}
	data, err := json.MarshalIndent(idx, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling tracked files: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracked_files-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp index: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

// Hash returns the sha256 hex digest of the file at path.
func Hash(path string) (string, error) {
	return utils.HashFile(path)
}

// HasChanged compares the current content hash of path with its latest
// recorded version. A path without versions counts as changed.
func HasChanged(path string, idx Index) (changed bool, currentHash, lastHash string, err error) {
	currentHash, err = Hash(path)
	if err != nil {
		return false, "", "", err
	}
	latest, ok := idx.Latest(path)
	if !ok {
		return true, currentHash, "", nil
	}
	return currentHash != latest.Hash, currentHash, latest.Hash, nil
}
