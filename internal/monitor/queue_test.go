package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueue(t *testing.T) {
	t.Run("runs in order", func(t *testing.T) {
		q := NewTaskQueue()
		var got []int
		for i := 0; i < 3; i++ {
			i := i
			q.Enqueue(func() { got = append(got, i) })
		}

		assert.True(t, q.DrainOne(time.Millisecond))
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, 2, q.Drain(time.Second))
		assert.Equal(t, []int{0, 1, 2}, got)
	})

	t.Run("drain one times out when empty", func(t *testing.T) {
		q := NewTaskQueue()
		start := time.Now()
		assert.False(t, q.DrainOne(20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("drain one wakes on enqueue", func(t *testing.T) {
		q := NewTaskQueue()
		ran := make(chan struct{})
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Enqueue(func() { close(ran) })
		}()

		assert.True(t, q.DrainOne(time.Second))
		<-ran
	})

	t.Run("nil task ignored", func(t *testing.T) {
		q := NewTaskQueue()
		q.Enqueue(nil)
		assert.Zero(t, q.Len())
	})
}
