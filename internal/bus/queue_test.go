package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue[int](8)
	got := make(chan int, 8)

	ctx, cancel := context.WithCancel(t.Context())
	go q.Run(ctx, func(v int) { got <- v })

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	for i := 1; i <= 3; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	cancel()
}

func TestQueueFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))
	assert.ErrorIs(t, q.TryPublish(2), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue[int](1)
	q.Close()
	q.Close() // double close is safe
	assert.ErrorIs(t, q.TryPublish(1), ErrQueueClosed)
}

func TestQueueDrainsOnClose(t *testing.T) {
	q := NewQueue[int](8)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	q.Close()

	var got []int
	q.Run(t.Context(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2}, got)
}

func TestTopicFanOut(t *testing.T) {
	topic := NewTopic[string]()
	a, cancelA := topic.Subscribe(4)
	b, cancelB := topic.Subscribe(4)
	defer cancelB()

	topic.Publish("x")
	assert.Equal(t, "x", <-a)
	assert.Equal(t, "x", <-b)

	cancelA()
	topic.Publish("y")
	assert.Equal(t, "y", <-b)
}

func TestTopicDropsOnFullSubscriber(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(1)
	defer cancel()

	topic.Publish(1)
	topic.Publish(2) // dropped, the subscriber is not draining
	assert.Equal(t, 1, <-ch)

	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}
