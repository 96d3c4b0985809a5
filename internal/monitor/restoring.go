package monitor

import (
	"sort"
	"sync"
)

// RestoreCoordinator tracks files currently being overwritten by a restore
// so the detector does not report the restore as a user edit.
type RestoreCoordinator struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewRestoreCoordinator() *RestoreCoordinator {
	return &RestoreCoordinator{paths: make(map[string]struct{})}
}

func (r *RestoreCoordinator) Mark(path string) {
	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()
}

func (r *RestoreCoordinator) Unmark(path string) {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

func (r *RestoreCoordinator) IsRestoring(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[path]
	return ok
}

// consume clears the flag and reports whether it was set.
func (r *RestoreCoordinator) consume(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.paths[path]; !ok {
		return false
	}
	delete(r.paths, path)
	return true
}

func (r *RestoreCoordinator) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
