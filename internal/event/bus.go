package event

import "sync"

// Bus fan-outs events to subscriber channels. Sends never block: a subscriber
// whose buffer is full misses the event, so observers that must not miss
// updates should size their buffers generously.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer size and
// returns its id and receive channel.
func (b *Bus) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextID
	b.nextID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers evt to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions (for logging).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
