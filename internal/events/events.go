// Package events dispatches change and status notifications to subscribers.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSubscriberNotFound = errors.New("subscriber not found")

type Kind string

const (
	KindFileChanged      Kind = "file_changed"
	KindVersionCommitted Kind = "version_committed"
	KindStatusChanged    Kind = "status_changed"
)

type Event interface {
	Kind() Kind
}

// FileChanged is published once per open-to-closed transition of a watched
// file whose content changed.
type FileChanged struct {
	Path   string    `json:"path"`
	Closed bool      `json:"closed"`
	At     time.Time `json:"at"`
}

func (FileChanged) Kind() Kind { return KindFileChanged }

type VersionCommitted struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash,omitempty"`
	Evicted      []string  `json:"evicted,omitempty"`
	At           time.Time `json:"at"`
}

func (VersionCommitted) Kind() Kind { return KindVersionCommitted }

type StatusChanged struct {
	Paused       bool     `json:"paused"`
	PendingCount int      `json:"pending_count"`
	PendingPaths []string `json:"pending_paths"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

type Handler func(Event)

type subscriber struct {
	kinds map[Kind]bool
	fn    Handler
}

func (s subscriber) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus delivers events synchronously on the publishing goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]subscriber
	// insertion order keeps delivery deterministic
	order []string
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]subscriber)}
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given, and returns the subscription ID.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) string {
	sub := subscriber{fn: fn, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = sub
	b.order = append(b.order, id)
	b.mu.Unlock()
	return id
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	for i, o := range b.order {
		if o == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Publish calls every matching handler. Handlers run outside the bus lock
// and may subscribe or unsubscribe.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		if sub := b.subs[id]; sub.wants(ev.Kind()) {
			handlers = append(handlers, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
