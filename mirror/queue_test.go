package mirror

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestQueueDropOldest(t *testing.T) {
	capacity := 100
	queue := newDeliveryQueue(capacity)

	n := 150
	for i := 1; i <= n; i += 1 {
		queue.add([]byte(fmt.Sprintf("m%d", i)))
		expectedSize := i
		if capacity < expectedSize {
			expectedSize = capacity
		}
		assert.Equal(t, queue.size(), expectedSize)
	}

	assert.Equal(t, queue.size(), capacity)
	assert.Equal(t, queue.evictions(), int64(n-capacity))

	// the retained frames are the most recent `capacity`, oldest first
	for i := n - capacity + 1; i <= n; i += 1 {
		frame := queue.removeFirst()
		assert.Equal(t, string(frame), fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, queue.size(), 0)
	assert.Equal(t, queue.removeFirst(), nil)
}

func TestQueueAddFirst(t *testing.T) {
	queue := newDeliveryQueue(10)
	queue.add([]byte("b"))
	queue.add([]byte("c"))
	queue.addFirst([]byte("a"))

	assert.Equal(t, string(queue.removeFirst()), "a")
	assert.Equal(t, string(queue.removeFirst()), "b")
	assert.Equal(t, string(queue.removeFirst()), "c")
}

func TestQueueAddFirstFullDropsAndCounts(t *testing.T) {
	queue := newDeliveryQueue(2)
	queue.add([]byte("a"))
	queue.add([]byte("b"))
	queue.addFirst([]byte("z"))

	assert.Equal(t, queue.size(), 2)
	assert.Equal(t, queue.evictions(), int64(1))
	assert.Equal(t, string(queue.removeFirst()), "a")
}

func TestQueueClear(t *testing.T) {
	queue := newDeliveryQueue(10)
	for i := 0; i < 5; i += 1 {
		queue.add([]byte("x"))
	}
	assert.Equal(t, queue.clear(), 5)
	assert.Equal(t, queue.size(), 0)
	assert.Equal(t, queue.evictions(), int64(0))
}
