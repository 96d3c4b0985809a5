// Package vault wires the backup store, the tracked file index, the change
// detector and the activity journal into the operations users invoke.
package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"inveni/internal/config"
	"inveni/internal/diff"
	"inveni/internal/errors"
	"inveni/internal/events"
	"inveni/internal/index"
	"inveni/internal/journal"
	"inveni/internal/monitor"
	"inveni/internal/safe"
	"inveni/internal/storage"
	"inveni/shared/utils"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var (
	ErrNoChanges   = errors.NoChanges("no changes detected since the last version")
	ErrNotTracked  = errors.NotFound("file is not tracked")
	ErrFileMissing = errors.NotFound("file does not exist")
)

// Env is built once at startup and handed to every component.
type Env struct {
	Config   *config.Config
	Username string
	Logger   *zap.Logger
	Bus      *events.Bus
}

// Confirmer is asked before committing a file whose content matches its
// latest version.
type Confirmer interface {
	Confirm(path string) bool
}

type ConfirmFunc func(path string) bool

func (f ConfirmFunc) Confirm(path string) bool { return f(path) }

var (
	AlwaysConfirm Confirmer = ConfirmFunc(func(string) bool { return true })
	NeverConfirm  Confirmer = ConfirmFunc(func(string) bool { return false })
)

// Options carries the collaborators that can be swapped in tests.
type Options struct {
	// Journal database; an in-memory one is opened when nil.
	DB    *badger.DB
	Probe monitor.ClosedProbe
	// Restore target writability check passed to the store.
	WritableCheck func(path string) error
}

type Vault struct {
	env       Env
	logger    *zap.Logger
	index     *index.Store
	safe      *safe.Safe
	detector  *monitor.Detector
	restoring *monitor.RestoreCoordinator
	journal   *journal.Journal
	differ    *diff.Engine
	db        *badger.DB
	ownDB     bool

	// serializes read-modify-write cycles of the index document
	mu sync.Mutex
}

// CommitResult describes a recorded version.
type CommitResult struct {
	Path         string              `json:"path"`
	Hash         string              `json:"hash"`
	PreviousHash string              `json:"previous_hash,omitempty"`
	Evicted      []string            `json:"evicted,omitempty"`
	Record       index.VersionRecord `json:"record"`
	FirstCommit  bool                `json:"first_commit"`
}

// HistoryEntry is one version as listed to users.
type HistoryEntry struct {
	Hash string `json:"hash"`
	index.VersionRecord
	Available bool `json:"available"`
}

type Status struct {
	events.StatusChanged
	Watched   []string `json:"watched"`
	Restoring []string `json:"restoring"`
	Tracked   int      `json:"tracked"`
}

func New(env Env, opts Options) (*Vault, error) {
	if env.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Bus == nil {
		env.Bus = events.NewBus()
	}
	if env.Username == "" {
		env.Username = env.Config.Username
	}

	store, err := safe.New(safe.Options{
		Root:          env.Config.BackupRoot,
		WritableCheck: opts.WritableCheck,
		Logger:        env.Logger.Named("safe"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating backup store: %w", err)
	}

	db, ownDB := opts.DB, false
	if db == nil {
		if db, err = storage.Open("", nil); err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		ownDB = true
	}

	restoring := monitor.NewRestoreCoordinator()
	detector := monitor.NewDetector(monitor.Options{
		PollInterval: env.Config.PollInterval(),
		Cooldown:     env.Config.Cooldown(),
		Probe:        opts.Probe,
		Restoring:    restoring,
		Bus:          env.Bus,
		Logger:       env.Logger.Named("monitor"),
	})

	return &Vault{
		env:       env,
		logger:    env.Logger,
		index:     index.NewStore(env.Config.IndexPath, env.Logger.Named("index")),
		safe:      store,
		detector:  detector,
		restoring: restoring,
		journal:   journal.New(db),
		differ:    diff.NewEngine(3),
		db:        db,
		ownDB:     ownDB,
	}, nil
}

func (v *Vault) Detector() *monitor.Detector {
	return v.detector
}

func (v *Vault) Bus() *events.Bus {
	return v.env.Bus
}

// Start re-watches every indexed file that still exists, purges stale
// staged copies, prunes the journal past its retention and starts the
// detector loop.
func (v *Vault) Start() error {
	idx := v.index.Load()
	for _, path := range idx.Paths() {
		if _, err := os.Stat(path); err != nil {
			v.logger.Debug("skipping missing tracked file", zap.String("path", path))
			continue
		}
		if err := v.detector.Watch(path); err != nil {
			v.logger.Warn("watching tracked file", zap.String("path", path), zap.Error(err))
		}
	}

	if n, err := v.safe.PurgeStaging(); err != nil {
		v.logger.Warn("purging staged copies", zap.Error(err))
	} else if n > 0 {
		v.logger.Info("purged staged copies", zap.Int("count", n))
	}

	if keep := v.env.Config.JournalRetention(); keep > 0 {
		if n, err := v.journal.Prune(time.Now().Add(-keep)); err != nil {
			v.logger.Warn("pruning journal", zap.Error(err))
		} else if n > 0 {
			v.logger.Info("pruned journal", zap.Int("count", n))
		}
	}

	return v.detector.Start()
}

// Stop halts the detector and closes the journal database if the vault
// opened it.
func (v *Vault) Stop() {
	v.detector.Stop()
	if v.ownDB {
		if err := v.db.Close(); err != nil {
			v.logger.Warn("closing journal", zap.Error(err))
		}
	}
}

func (v *Vault) record(e *journal.Entry) {
	e.Username = v.env.Username
	if err := v.journal.Append(e); err != nil {
		v.logger.Warn("writing journal", zap.String("path", e.Path), zap.Error(err))
	}
}

func (v *Vault) fail(op, path string, err error) error {
	v.logger.Error(op+" failed", zap.String("path", path), zap.Error(err))
	v.record(&journal.Entry{Kind: journal.KindError, Path: path, Message: fmt.Sprintf("%s: %v", op, err)})
	return err
}

func existingFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrFileMissing.Wrap(err)
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return errors.ValidationError("path is a directory", path)
	}
	return nil
}

// Commit records the current content of path as a new version. When the
// content equals the latest version, confirm decides whether to proceed.
func (v *Vault) Commit(ctx context.Context, path, message string, confirm Confirmer) (*CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.ValidationError("commit message is required", nil)
	}
	path = utils.NormalizePath(path)
	if err := existingFile(path); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	idx := v.index.Load()
	changed, current, last, err := index.HasChanged(path, idx)
	if err != nil {
		return nil, v.fail("commit", path, err)
	}
	if !changed && (confirm == nil || !confirm.Confirm(path)) {
		return nil, ErrNoChanges
	}

	meta, err := collectMetadata(path)
	if err != nil {
		return nil, v.fail("commit", path, err)
	}

	// a confirmed re-commit replaces the latest record and keeps its parent
	var previous *string
	if latest, ok := idx.Latest(path); ok {
		if latest.Hash == current {
			previous = latest.PreviousHash
		} else {
			previous = &last
		}
	}

	_, tracked := idx[path]
	backup, err := v.safe.CreateBackup(path, current, v.env.Config.Policy(), idx)
	if err != nil {
		return nil, v.fail("commit", path, err)
	}

	rec := index.VersionRecord{
		Timestamp:     index.Now(),
		CommitMessage: message,
		Username:      v.env.Username,
		Metadata:      meta,
		PreviousHash:  previous,
	}
	idx.Record(path, current, rec)
	if err := v.index.Save(idx); err != nil {
		return nil, v.fail("commit", path, fmt.Errorf("saving index: %w", err))
	}

	v.record(&journal.Entry{Kind: journal.KindCommit, Path: path, Hash: current, Message: message})
	for _, h := range backup.Evicted {
		v.record(&journal.Entry{Kind: journal.KindEvict, Path: path, Hash: h})
	}

	res := &CommitResult{
		Path:        path,
		Hash:        current,
		Evicted:     backup.Evicted,
		Record:      rec,
		FirstCommit: !tracked,
	}
	if previous != nil {
		res.PreviousHash = *previous
	}

	v.env.Bus.Publish(events.VersionCommitted{
		Path:         path,
		Hash:         current,
		PreviousHash: res.PreviousHash,
		Evicted:      backup.Evicted,
		At:           rec.Timestamp.Time,
	})

	if !tracked {
		v.detector.AddNewFile(path)
	}
	v.detector.UpdateAfterCommit(path, current)

	v.logger.Info("version committed",
		zap.String("path", path),
		zap.String("hash", current),
		zap.Int("evicted", len(backup.Evicted)),
	)
	return res, nil
}

// Restore overwrites path with version hash without the detector reporting
// the write as an edit.
func (v *Vault) Restore(ctx context.Context, path, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !utils.IsValidHash(hash) {
		return errors.ValidationError("invalid version hash", hash)
	}
	path = utils.NormalizePath(path)

	v.restoring.Mark(path)
	if err := v.safe.Restore(path, hash); err != nil {
		v.restoring.Unmark(path)
		return v.fail("restore", path, err)
	}

	if err := v.detector.ForceReset(path); err != nil {
		v.restoring.Unmark(path)
		v.logger.Warn("resetting detector after restore", zap.String("path", path), zap.Error(err))
	}

	v.record(&journal.Entry{Kind: journal.KindRestore, Path: path, Hash: hash})
	return nil
}

// History lists the versions of path, newest first.
func (v *Vault) History(path string) ([]HistoryEntry, error) {
	path = utils.NormalizePath(path)
	idx := v.index.Load()
	if _, ok := idx[path]; !ok {
		return nil, ErrNotTracked
	}

	versions := idx.Versions(path)
	out := make([]HistoryEntry, 0, len(versions))
	for _, ver := range versions {
		out = append(out, HistoryEntry{
			Hash:          ver.Hash,
			VersionRecord: ver.VersionRecord,
			Available:     v.safe.Exists(path, ver.Hash),
		})
	}
	return out, nil
}

func (v *Vault) VersionContent(path, hash string) ([]byte, error) {
	return v.safe.VersionContent(utils.NormalizePath(path), hash)
}

func (v *Vault) BackupExists(path, hash string) bool {
	return v.safe.Exists(utils.NormalizePath(path), hash)
}

// Diff compares two versions of path. An empty to compares against the
// file as it is now.
func (v *Vault) Diff(path, from, to string) (*diff.DiffResult, error) {
	path = utils.NormalizePath(path)

	oldContent, err := v.safe.VersionContent(path, from)
	if err != nil {
		return nil, err
	}

	var (
		newContent []byte
		newName    = path
	)
	if to == "" {
		if newContent, err = os.ReadFile(path); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrFileMissing.Wrap(err)
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		if newContent, err = v.safe.VersionContent(path, to); err != nil {
			return nil, err
		}
		newName = versionName(path, to)
	}

	return v.differ.Diff(versionName(path, from), oldContent, newName, newContent)
}

func versionName(path, hash string) string {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return path + "@" + hash
}

// Journal returns recent activity for path, or across all paths when path
// is empty.
func (v *Vault) Journal(path string, limit int) ([]journal.Entry, error) {
	if path == "" {
		return v.journal.Recent(limit)
	}
	return v.journal.ForPath(utils.NormalizePath(path), limit)
}

func (v *Vault) Track(path string) error {
	path = utils.NormalizePath(path)
	if err := existingFile(path); err != nil {
		return err
	}
	return v.detector.Watch(path)
}

func (v *Vault) Untrack(path string) {
	v.detector.Unwatch(utils.NormalizePath(path))
}

// Reset re-baselines path in the detector and clears its marks.
func (v *Vault) Reset(path string) error {
	path = utils.NormalizePath(path)
	if err := existingFile(path); err != nil {
		return err
	}
	return v.detector.ForceReset(path)
}

// SetRestoring marks or unmarks path as being restored by an outside
// collaborator.
func (v *Vault) SetRestoring(path string, restoring bool) {
	path = utils.NormalizePath(path)
	if restoring {
		v.restoring.Mark(path)
	} else {
		v.restoring.Unmark(path)
	}
}

// Tracked lists every path with at least one commit.
func (v *Vault) Tracked() []string {
	return v.index.Load().Paths()
}

func (v *Vault) Status() Status {
	return Status{
		StatusChanged: v.detector.Status(),
		Watched:       v.detector.Watched(),
		Restoring:     v.restoring.Paths(),
		Tracked:       len(v.index.Load()),
	}
}

func (v *Vault) FileStatus(path string) (monitor.FileStatus, bool) {
	return v.detector.FileStatus(utils.NormalizePath(path))
}

// Blobs lists the stored blobs of path, newest first.
func (v *Vault) Blobs(path string) ([]safe.Blob, error) {
	return v.safe.Blobs(utils.NormalizePath(path))
}

func (v *Vault) BackupCount(path string) int {
	return v.safe.BackupCount(utils.NormalizePath(path))
}

// ClearPending forgets every reported change, typically after the user
// committed them all.
func (v *Vault) ClearPending() {
	v.detector.ClearPending()
}

// ClearMissingCache drops every cached "no such version" answer.
func (v *Vault) ClearMissingCache() {
	v.safe.ClearMissingCache()
}

func (v *Vault) Pause() {
	v.detector.Pause()
}

func (v *Vault) Resume() {
	v.detector.Resume()
}
