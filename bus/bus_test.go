package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesInOrder(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicSyncCompleted)
	defer cancel()

	b.Emit(TopicSyncCompleted, SyncCompleted{Total: 1, Saved: 1})
	b.Emit(TopicSyncCompleted, SyncCompleted{Total: 2, Saved: 0})
	b.Emit(TopicRelayError, RelayError{URL: "wss://x"}) // different topic, filtered out

	first := <-ch
	second := <-ch
	assert.Equal(t, SyncCompleted{Total: 1, Saved: 1}, first.Payload)
	assert.Equal(t, SyncCompleted{Total: 2, Saved: 0}, second.Payload)

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestSubscribeAllTopics(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(TopicRelayConnected, RelayConnected{URL: "wss://a"})
	b.Emit(TopicStoreEvicted, StoreEvicted{Evicted: 10})

	assert.Equal(t, TopicRelayConnected, (<-ch).Topic)
	assert.Equal(t, TopicStoreEvicted, (<-ch).Topic)
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicSyncFailed)

	cancel()
	cancel() // idempotent

	_, open := <-ch
	require.False(t, open)

	// emitting after cancel must not panic or deliver
	b.Emit(TopicSyncFailed, SyncFailed{})
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() {
		b.Emit(TopicSyncCompleted, SyncCompleted{})
	})
}

func TestSlowSubscriberLosesOnlyItsOwn(t *testing.T) {
	b := New()
	slow, cancelSlow := b.Subscribe(TopicSyncCompleted)
	defer cancelSlow()

	// fill the slow subscriber's buffer and then some
	for i := 0; i < 70; i++ {
		b.Emit(TopicSyncCompleted, SyncCompleted{Total: i})
	}

	healthy, cancelHealthy := b.Subscribe(TopicSyncCompleted)
	defer cancelHealthy()

	b.Emit(TopicSyncCompleted, SyncCompleted{Total: 999})
	assert.Equal(t, SyncCompleted{Total: 999}, (<-healthy).Payload)

	// the slow one kept the first 64 and dropped the rest
	assert.Equal(t, SyncCompleted{Total: 0}, (<-slow).Payload)
}
