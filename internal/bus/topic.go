package bus

import "sync"

// Topic is a typed fan-out channel for notifications. Subscribers that
// fall behind lose events rather than blocking the publisher.
type Topic[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan T
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a buffered subscriber channel. The returned
// cancel function removes the subscription and closes the channel.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (t *Topic[T]) Publish(e T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
