// Package journal keeps an append-only activity log of commits, restores,
// evictions and failures.
package journal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"inveni/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type Kind string

const (
	KindCommit  Kind = "commit"
	KindRestore Kind = "restore"
	KindEvict   Kind = "evict"
	KindError   Kind = "error"
)

const (
	entityPrefix = "journal"
	timePrefix   = "journal_time:"
	pathPrefix   = "journal_path:"
	stampWidth   = 20
)

type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash,omitempty"`
	Message   string    `json:"message,omitempty"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Entry) GetID() string { return e.ID }

type Journal struct {
	store *storage.BadgerStore
	now   func() time.Time
}

func New(db *badger.DB) *Journal {
	return &Journal{
		store: storage.NewBadgerStore(db, entityPrefix),
		now:   time.Now,
	}
}

// stamp renders t as fixed width nanoseconds so keys sort by time.
func stamp(t time.Time) string {
	return fmt.Sprintf("%0*d", stampWidth, t.UnixNano())
}

// Append stores e, assigning an ID and creation time when unset.
func (j *Journal) Append(e *Entry) error {
	if e.Kind == "" {
		return fmt.Errorf("journal entry kind is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}

	ts := stamp(e.CreatedAt)
	return j.store.Create(e,
		timePrefix+ts+":"+e.ID,
		pathPrefix+e.Path+":"+ts+":"+e.ID,
	)
}

// Recent returns up to limit entries across all paths, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	keys, err := j.store.ScanKeys(timePrefix, true, limit)
	if err != nil {
		return nil, err
	}
	return j.load(keys)
}

// ForPath returns up to limit entries for path, newest first.
func (j *Journal) ForPath(path string, limit int) ([]Entry, error) {
	// a longer path sharing this prefix would also match; keep only
	// suffixes shaped "<stamp>:<id>"
	keys, err := j.store.ScanKeys(pathPrefix+path+":", true, 0)
	if err != nil {
		return nil, err
	}

	own := keys[:0]
	for _, k := range keys {
		if isStampKey(k) {
			own = append(own, k)
			if limit > 0 && len(own) >= limit {
				break
			}
		}
	}
	return j.load(own)
}

// Prune deletes entries created before cutoff and returns how many went.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	keys, err := j.store.ScanKeys(timePrefix, false, 0)
	if err != nil {
		return 0, err
	}

	limit := stamp(cutoff)
	pruned := 0
	for _, k := range keys {
		ts, id, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		if ts >= limit {
			break
		}
		var e Entry
		if err := j.store.Get(id, &e); err != nil {
			return pruned, fmt.Errorf("loading journal entry %s: %w", id, err)
		}
		if err := j.store.Delete(id, timePrefix+k, pathPrefix+e.Path+":"+k); err != nil {
			return pruned, fmt.Errorf("pruning journal entry %s: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}

func isStampKey(k string) bool {
	ts, id, ok := strings.Cut(k, ":")
	if !ok || len(ts) != stampWidth || strings.Contains(id, ":") {
		return false
	}
	_, err := strconv.ParseInt(ts, 10, 64)
	return err == nil
}

func (j *Journal) load(keys []string) ([]Entry, error) {
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		_, id, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		var e Entry
		if err := j.store.Get(id, &e); err != nil {
			return nil, fmt.Errorf("loading journal entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, nil
}
