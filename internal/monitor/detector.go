// Package monitor watches tracked files by polling and reports when a file
// that was open for editing has been closed with new content.
package monitor

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"inveni/internal/events"
	"inveni/shared/utils"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("detector is already running")
	ErrNotWatched     = errors.New("path is not watched")
)

// WatchEntry is the detector's baseline for one file.
type WatchEntry struct {
	Hash      string    `json:"hash"`
	ModTime   time.Time `json:"mod_time"`
	Size      int64     `json:"size"`
	Open      bool      `json:"open"`
	LastCheck time.Time `json:"last_check"`
}

type Status struct {
	Paused       bool     `json:"paused"`
	PendingCount int      `json:"pending_count"`
	PendingPaths []string `json:"pending_paths"`
}

type FileStatus struct {
	WatchEntry
	Path      string `json:"path"`
	Restoring bool   `json:"restoring"`
	Pending   bool   `json:"pending"`
}

// Options configures a Detector
type Options struct {
	PollInterval time.Duration
	// Bound on waiting for a queued task each loop iteration
	DrainTimeout time.Duration
	// Bound on draining the queue and joining the loop in Stop
	StopTimeout time.Duration
	// Minimum gap between two change reports for the same path
	Cooldown time.Duration

	Probe     ClosedProbe
	Restoring *RestoreCoordinator
	Bus       *events.Bus
	Logger    *zap.Logger
}

// Detector polls watched files and publishes events.FileChanged once per
// edit session.
type Detector struct {
	opts      Options
	logger    *zap.Logger
	bus       *events.Bus
	probe     ClosedProbe
	restoring *RestoreCoordinator
	queue     *TaskQueue

	mu         sync.Mutex
	entries    map[string]*WatchEntry
	pending    map[string]struct{}
	lastReport map[string]time.Time

	paused   atomic.Bool
	running  atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func NewDetector(opts Options) *Detector {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 500 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.Probe == nil {
		opts.Probe = LockProbe{StableDelay: DefaultStableDelay}
	}
	if opts.Restoring == nil {
		opts.Restoring = NewRestoreCoordinator()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Detector{
		opts:       opts,
		logger:     opts.Logger,
		bus:        opts.Bus,
		probe:      opts.Probe,
		restoring:  opts.Restoring,
		queue:      NewTaskQueue(),
		entries:    make(map[string]*WatchEntry),
		pending:    make(map[string]struct{}),
		lastReport: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Restoring returns the coordinator consulted for restore-induced changes.
func (d *Detector) Restoring() *RestoreCoordinator {
	return d.restoring
}

// Start launches the polling loop.
func (d *Detector) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go d.loop()
	d.logger.Info("detector started", zap.Duration("interval", d.opts.PollInterval))
	return nil
}

// Stop ends the loop after draining queued tasks. Both steps are bounded by
// StopTimeout; a loop that does not exit in time is abandoned.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		if n := d.queue.Drain(d.opts.StopTimeout); n > 0 {
			d.logger.Debug("drained queued tasks", zap.Int("count", n))
		}
		if !d.running.Load() {
			return
		}
		select {
		case <-d.done:
		case <-time.After(d.opts.StopTimeout):
			d.logger.Warn("detector loop did not stop in time")
		}
	})
}

func (d *Detector) loop() {
	defer close(d.done)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.queue.DrainOne(d.opts.DrainTimeout)
		d.Poll()

		select {
		case <-d.stopCh:
			return
		case <-time.After(d.opts.PollInterval):
		}
	}
}

// Poll runs one detection pass over a snapshot of the watched paths. It does
// nothing while paused.
func (d *Detector) Poll() {
	if d.paused.Load() {
		return
	}

	d.mu.Lock()
	paths := make([]string, 0, len(d.entries))
	for p := range d.entries {
		paths = append(paths, p)
	}
	d.mu.Unlock()
	sort.Strings(paths)

	for _, path := range paths {
		if d.paused.Load() {
			return
		}
		if ev, changed := d.checkPath(path); changed {
			d.bus.Publish(ev)
			d.bus.Publish(d.Status())
		}
	}
}

// checkPath inspects one file under the detector lock. Errors and panics
// are logged and confined to the path.
func (d *Detector) checkPath(path string) (ev events.FileChanged, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while checking file", zap.String("path", path), zap.Any("panic", r))
			changed = false
		}
	}()

	entry, ok := d.entries[path]
	if !ok {
		return ev, false
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			delete(d.entries, path)
			delete(d.pending, path)
			return ev, false
		}
		d.logger.Debug("stat failed", zap.String("path", path), zap.Error(err))
		return ev, false
	}

	now := d.now()
	switch {
	case info.Size() != entry.Size:
		entry.Size = info.Size()
		entry.Open = true

	case !info.ModTime().Equal(entry.ModTime):
		hash, err := utils.HashFile(path)
		if err != nil {
			d.logger.Debug("hash failed", zap.String("path", path), zap.Error(err))
			return ev, false
		}
		closed := d.probe.IsClosed(path)
		if entry.Open && closed && hash != entry.Hash {
			changed = d.report(path, now)
			ev = events.FileChanged{Path: path, Closed: true, At: now}
		}
		entry.Hash = hash
		entry.ModTime = info.ModTime()
		entry.Open = !closed
	}

	entry.LastCheck = now
	return ev, changed
}

// report records a closed-with-changes transition. A restore in progress
// swallows it, as does the per-path cooldown.
func (d *Detector) report(path string, now time.Time) bool {
	if d.restoring.consume(path) {
		d.logger.Debug("change caused by restore ignored", zap.String("path", path))
		return false
	}
	if last, ok := d.lastReport[path]; ok && d.opts.Cooldown > 0 && now.Sub(last) < d.opts.Cooldown {
		return false
	}
	d.lastReport[path] = now
	d.pending[path] = struct{}{}
	d.logger.Info("file closed with changes", zap.String("path", path))
	return true
}

// baseline reads the current state of path into a fresh entry.
func baseline(path string, open bool, now time.Time) (*WatchEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	hash, err := utils.HashFile(path)
	if err != nil {
		return nil, err
	}
	return &WatchEntry{
		Hash:      hash,
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		Open:      open,
		LastCheck: now,
	}, nil
}

// submit queues fn behind earlier watch requests. Without a running loop
// the queue is drained on the caller's goroutine so order still holds.
func (d *Detector) submit(fn func()) {
	d.queue.Enqueue(fn)
	if d.looping() {
		return
	}
	d.queue.Drain(d.opts.StopTimeout)
}

func (d *Detector) looping() bool {
	if !d.running.Load() {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Watch queues monitoring of path. New entries start open so the first
// close with changes is reported. Watching an already watched path is a
// no-op.
func (d *Detector) Watch(path string) error {
	path = utils.NormalizePath(path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("watching %s: is a directory", path)
	}

	d.submit(func() { d.watch(path) })
	return nil
}

func (d *Detector) watch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[path]; ok {
		return
	}
	entry, err := baseline(path, true, d.now())
	if err != nil {
		d.logger.Warn("watching file", zap.String("path", path), zap.Error(err))
		return
	}
	d.entries[path] = entry
	d.logger.Debug("watching file", zap.String("path", path))
}

// Unwatch queues removal of path after any earlier watch requests.
func (d *Detector) Unwatch(path string) {
	path = utils.NormalizePath(path)
	d.submit(func() { d.unwatch(path) })
}

func (d *Detector) unwatch(path string) {
	d.mu.Lock()
	_, wasPending := d.pending[path]
	delete(d.entries, path)
	delete(d.pending, path)
	delete(d.lastReport, path)
	d.mu.Unlock()

	if wasPending {
		d.bus.Publish(d.Status())
	}
}

// AddNewFile queues a watch for a file committed for the first time. It
// runs on the loop, or when Stop drains the queue.
func (d *Detector) AddNewFile(path string) {
	path = utils.NormalizePath(path)
	d.queue.Enqueue(func() { d.watch(path) })
}

// ForceReset drops all state for path and re-adds it with a fresh
// baseline, as a new watch would. Used after a restore rewrote the file.
func (d *Detector) ForceReset(path string) error {
	path = utils.NormalizePath(path)

	d.mu.Lock()
	_, wasPending := d.pending[path]
	delete(d.entries, path)
	delete(d.pending, path)
	d.restoring.Unmark(path)

	entry, err := baseline(path, true, d.now())
	if err == nil {
		d.entries[path] = entry
	}
	d.mu.Unlock()

	if wasPending {
		d.bus.Publish(d.Status())
	}
	if err != nil {
		return fmt.Errorf("resetting %s: %w", path, err)
	}
	d.logger.Debug("forced reset", zap.String("path", path))
	return nil
}

// UpdateAfterCommit adopts the committed hash as the baseline and clears
// pending and restoring marks. Unwatched paths are watched.
func (d *Detector) UpdateAfterCommit(path, hash string) {
	path = utils.NormalizePath(path)
	now := d.now()

	d.mu.Lock()
	_, wasPending := d.pending[path]
	delete(d.pending, path)
	d.restoring.Unmark(path)

	if entry, ok := d.entries[path]; ok {
		entry.Hash = hash
		if info, err := os.Stat(path); err == nil {
			entry.ModTime = info.ModTime()
			entry.Size = info.Size()
		}
		entry.LastCheck = now
	} else if entry, err := baseline(path, false, now); err == nil {
		entry.Hash = hash
		d.entries[path] = entry
	} else {
		d.logger.Warn("watching committed file", zap.String("path", path), zap.Error(err))
	}
	d.mu.Unlock()

	if wasPending {
		d.bus.Publish(d.Status())
	}
}

func (d *Detector) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		d.logger.Info("monitoring paused")
		d.bus.Publish(d.Status())
	}
}

func (d *Detector) Resume() {
	if d.paused.CompareAndSwap(true, false) {
		d.logger.Info("monitoring resumed")
		d.bus.Publish(d.Status())
	}
}

func (d *Detector) IsPaused() bool {
	return d.paused.Load()
}

func (d *Detector) Status() events.StatusChanged {
	d.mu.Lock()
	defer d.mu.Unlock()

	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return events.StatusChanged{
		Paused:       d.paused.Load(),
		PendingCount: len(paths),
		PendingPaths: paths,
	}
}

func (d *Detector) FileStatus(path string) (FileStatus, bool) {
	path = utils.NormalizePath(path)

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[path]
	if !ok {
		return FileStatus{}, false
	}
	_, pending := d.pending[path]
	return FileStatus{
		WatchEntry: *entry,
		Path:       path,
		Restoring:  d.restoring.IsRestoring(path),
		Pending:    pending,
	}, true
}

func (d *Detector) Watched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.entries))
	for p := range d.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *Detector) ClearPending() {
	d.mu.Lock()
	n := len(d.pending)
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	if n > 0 {
		d.bus.Publish(d.Status())
	}
}
