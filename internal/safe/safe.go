// Package safe is the content addressable backup store. Every committed
// version of a tracked file is kept as a gzip blob named by the sha256 of
// its raw content.
package safe

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"inveni/internal/config"
	"inveni/internal/errors"
	"inveni/internal/index"
	"inveni/shared/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrBackupNotFound = errors.NotFound("backup not found")
	ErrFileLocked     = errors.Locked("file is in use by another program")
	ErrHashMismatch   = errors.Corrupt("content hash mismatch")
)

const (
	versionsDir = "versions"
	stagingDir  = "temp_backups"
	blobExt     = ".gz"
)

// Blob describes one stored version on disk.
type Blob struct {
	Hash    string    `json:"hash"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backup is the outcome of CreateBackup.
type Backup struct {
	BlobPath string
	// Evicted lists hashes removed by retention, also pruned from the index.
	Evicted []string
}

// Options configures Safe behavior
type Options struct {
	Root string
	// Entries kept in the negative existence cache
	CacheSize int
	// Age after which pre-restore copies are purged
	StagingMaxAge time.Duration
	Compression   CompressionOptions
	// WritableCheck reports whether a restore target may be overwritten.
	// Defaults to an append-open probe.
	WritableCheck func(path string) error
	Logger        *zap.Logger
}

// Safe stores and restores file versions under a backup root.
type Safe struct {
	root          string
	logger        *zap.Logger
	missing       *lru.Cache[string, struct{}]
	cm            *compressionManager
	stagingMaxAge time.Duration
	writable      func(path string) error
	now           func() time.Time

	mu sync.Mutex
}

// New creates a new Safe instance
func New(opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(opts.Root, versionsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating versions directory: %w", err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.StagingMaxAge <= 0 {
		opts.StagingMaxAge = 24 * time.Hour
	}
	if opts.WritableCheck == nil {
		opts.WritableCheck = canWrite
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	missing, err := lru.New[string, struct{}](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{
		root:          opts.Root,
		logger:        opts.Logger,
		missing:       missing,
		cm:            cm,
		stagingMaxAge: opts.StagingMaxAge,
		writable:      opts.WritableCheck,
		now:           time.Now,
	}, nil
}

func (s *Safe) Root() string {
	return s.root
}

// CreateBackup snapshots the file at path as blob hash and enforces the
// retention policy for that path. Evicted versions are removed from idx.
func (s *Safe) CreateBackup(path, hash string, policy config.Policy, idx index.Index) (*Backup, error) {
	if policy.MaxBackups < 1 {
		return nil, errors.ValidationError("max_backups must be at least 1", policy.MaxBackups)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.forgetMissing(path)

	dir := s.blobDir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	blobPath := filepath.Join(dir, hash+blobExt)
	if err := s.writeBlob(path, hash, blobPath); err != nil {
		return nil, err
	}

	evicted, err := s.applyRetention(path, hash, policy, idx)
	if err != nil {
		s.logger.Warn("retention incomplete", zap.String("path", path), zap.Error(err))
	}

	if _, err := s.purgeStaging(); err != nil {
		s.logger.Warn("purging staged copies", zap.Error(err))
	}

	s.logger.Debug("backup created",
		zap.String("path", path),
		zap.String("hash", hash),
		zap.Int("evicted", len(evicted)),
	)
	return &Backup{BlobPath: blobPath, Evicted: evicted}, nil
}

func (s *Safe) writeBlob(path, hash, blobPath string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(blobPath), ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()

	h := sha256.New()
	_, err = s.cm.compress(tmp, io.TeeReader(src, h))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing blob: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != hash {
		os.Remove(tmpName)
		return ErrHashMismatch.Wrap(fmt.Errorf("expected %s, file now hashes to %s", hash, got))
	}

	if err := os.Rename(tmpName, blobPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("placing blob: %w", err)
	}
	// rename keeps the temp file mtime; make a recommitted blob the newest
	now := s.now()
	if err := os.Chtimes(blobPath, now, now); err != nil {
		s.logger.Debug("touching blob", zap.String("blob", blobPath), zap.Error(err))
	}
	return nil
}

// applyRetention keeps the newest policy.MaxBackups blobs for path. The blob
// just written is always kept. Individual deletion failures are skipped and
// returned together.
func (s *Safe) applyRetention(path, keep string, policy config.Policy, idx index.Index) ([]string, error) {
	blobs, err := s.listBlobs(s.blobDir(path))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(blobs, func(i, j int) bool {
		if blobs[i].Hash == keep || blobs[j].Hash == keep {
			return blobs[i].Hash == keep
		}
		return blobs[i].ModTime.After(blobs[j].ModTime)
	})

	var (
		evicted []string
		errs    error
	)
	for _, b := range blobs[min(policy.MaxBackups, len(blobs)):] {
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing old backup", zap.String("blob", b.Path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("removing %s: %w", b.Path, err))
			continue
		}
		s.missing.Add(cacheKey(path, b.Hash), struct{}{})
		if idx != nil {
			idx.Remove(path, b.Hash)
		}
		evicted = append(evicted, b.Hash)
	}
	return evicted, errs
}

// VersionContent returns the raw bytes of a stored version.
func (s *Safe) VersionContent(path, hash string) ([]byte, error) {
	blob, ok := s.find(path, hash)
	if !ok {
		return nil, ErrBackupNotFound
	}

	f, err := os.Open(blob)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	defer f.Close()

	content, err := s.cm.decompressBytes(f)
	if err != nil {
		return nil, errors.Corrupt("unreadable backup").Wrap(err)
	}
	if sum := sha256.Sum256(content); hex.EncodeToString(sum[:]) != hash {
		return nil, ErrHashMismatch
	}
	return content, nil
}

// Exists reports whether a blob for (path, hash) is stored. Negative
// answers are cached until the next backup of path.
func (s *Safe) Exists(path, hash string) bool {
	if s.missing.Contains(cacheKey(path, hash)) {
		return false
	}
	_, ok := s.find(path, hash)
	return ok
}

// find locates the blob of (path, hash), caching a miss. It waits for any
// backup in progress so a miss is never recorded after that backup's
// invalidation.
func (s *Safe) find(path, hash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(path, hash)
}

func (s *Safe) findLocked(path, hash string) (string, bool) {
	if blob, ok := s.locate(path, hash); ok {
		return blob, true
	}
	s.missing.Add(cacheKey(path, hash), struct{}{})
	return "", false
}

func (s *Safe) ClearMissingCache() {
	s.missing.Purge()
}

// BackupCount returns the number of blobs stored for path.
func (s *Safe) BackupCount(path string) int {
	blobs, err := s.Blobs(path)
	if err != nil {
		return 0
	}
	return len(blobs)
}

// Blobs lists the stored blobs of path, newest first. Blobs found only in
// the legacy layout are included.
func (s *Safe) Blobs(path string) ([]Blob, error) {
	blobs, err := s.listBlobs(s.blobDir(path))
	if err != nil {
		return nil, err
	}
	legacy, err := s.listBlobs(s.legacyDir(path))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		seen[b.Hash] = true
	}
	for _, b := range legacy {
		if !seen[b.Hash] {
			blobs = append(blobs, b)
		}
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].ModTime.After(blobs[j].ModTime) })
	return blobs, nil
}

func (s *Safe) listBlobs(dir string) ([]Blob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	blobs := make([]Blob, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		blobs = append(blobs, Blob{
			Hash:    strings.TrimSuffix(name, blobExt),
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return blobs, nil
}

// locate finds the blob in the current layout, then the legacy one.
func (s *Safe) locate(path, hash string) (string, bool) {
	if !utils.IsValidHash(hash) {
		return "", false
	}
	for _, dir := range []string{s.blobDir(path), s.legacyDir(path)} {
		p := filepath.Join(dir, hash+blobExt)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// blobDir is versions/<dirhash8>_<basename>, where dirhash8 is the first
// eight hex digits of the md5 of the containing directory.
func (s *Safe) blobDir(path string) string {
	sum := md5.Sum([]byte(filepath.Dir(path)))
	name := hex.EncodeToString(sum[:])[:8] + "_" + filepath.Base(path)
	return filepath.Join(s.root, versionsDir, name)
}

func (s *Safe) legacyDir(path string) string {
	return filepath.Join(s.root, versionsDir, filepath.Base(path))
}

func (s *Safe) forgetMissing(path string) {
	prefix := path + "|"
	for _, key := range s.missing.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.missing.Remove(key)
		}
	}
}

func cacheKey(path, hash string) string {
	return path + "|" + hash
}
