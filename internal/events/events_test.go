package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFiltersByKind(t *testing.T) {
	bus := NewBus()

	var changed, all []Event
	bus.Subscribe(func(ev Event) { changed = append(changed, ev) }, KindFileChanged)
	bus.Subscribe(func(ev Event) { all = append(all, ev) })

	bus.Publish(FileChanged{Path: "/a", Closed: true})
	bus.Publish(StatusChanged{Paused: true})

	require.Len(t, changed, 1)
	assert.Equal(t, "/a", changed[0].(FileChanged).Path)
	assert.Len(t, all, 2)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	id := bus.Subscribe(func(Event) { calls++ })
	bus.Publish(VersionCommitted{Path: "/a", Hash: "h"})
	require.NoError(t, bus.Unsubscribe(id))
	bus.Publish(VersionCommitted{Path: "/a", Hash: "h"})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriberNotFound)
}

func TestBus_HandlerMaySubscribe(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(Event) {
		bus.Subscribe(func(Event) {})
	})

	assert.NotPanics(t, func() { bus.Publish(StatusChanged{}) })
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(StatusChanged{}) })
}
