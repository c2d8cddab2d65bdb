// Package bus is a small in-process event bus used for observability wiring.
// Delivery is FIFO per topic; ordering across distinct topics is not
// guaranteed. Emitting never blocks: slow subscribers drop messages.
package bus

import "sync"

// Topics emitted by this module.
const (
	TopicRelayConnected    = "relay:connected"
	TopicRelayDisconnected = "relay:disconnected"
	TopicRelayError        = "relay:error"
	TopicSyncCompleted     = "sync:completed"
	TopicSyncFailed        = "sync:failed"
	TopicStoreEvicted      = "store:evicted"
)

// RelayConnected is the payload for TopicRelayConnected and TopicRelayDisconnected.
type RelayConnected struct {
	URL string
}

// RelayError is the payload for TopicRelayError.
type RelayError struct {
	URL string
	Err error
}

// SyncCompleted is the payload for TopicSyncCompleted.
type SyncCompleted struct {
	Total int
	Saved int
}

// SyncFailed is the payload for TopicSyncFailed.
type SyncFailed struct {
	Err error
}

// StoreEvicted is the payload for TopicStoreEvicted.
type StoreEvicted struct {
	Evicted int
}

// Message is one occurrence on one topic.
type Message struct {
	Topic   string
	Payload any
}

type subscriber struct {
	topics map[string]bool // nil means all topics
	ch     chan Message
}

// Bus fans emitted messages out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving messages for the given topics (all
// topics when none are given) and a cancel function that releases it.
func (b *Bus) Subscribe(topics ...string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, 64)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Emit delivers to every matching subscriber. Holding the lock across the
// sends is what makes delivery FIFO per topic; sends are non-blocking so a
// stuck subscriber only loses its own messages.
func (b *Bus) Emit(topic string, payload any) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- Message{Topic: topic, Payload: payload}:
		default:
		}
	}
}
