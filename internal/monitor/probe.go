package monitor

import (
	"os"
	"time"
)

// ClosedProbe decides whether no other program still has a file open for
// writing.
type ClosedProbe interface {
	IsClosed(path string) bool
}

// ProbeFunc adapts a function to ClosedProbe.
type ProbeFunc func(path string) bool

func (f ProbeFunc) IsClosed(path string) bool { return f(path) }

const DefaultStableDelay = 100 * time.Millisecond

// LockProbe first tries to take exclusive access to the file. When that is
// refused it samples the size twice, StableDelay apart, and treats a stable
// size as closed.
type LockProbe struct {
	StableDelay time.Duration
}

func (p LockProbe) IsClosed(path string) bool {
	if exclusive(path) {
		return true
	}
	return p.sizeStable(path)
}

func (p LockProbe) sizeStable(path string) bool {
	delay := p.StableDelay
	if delay <= 0 {
		delay = DefaultStableDelay
	}

	before, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(delay)
	after, err := os.Stat(path)
	if err != nil {
		return false
	}
	return before.Size() == after.Size()
}
