package nostrcache_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinehq/nostrcache"
)

func TestRelayStatusTransitions(t *testing.T) {
	fr := &fakeRelay{}
	fn := fakeNet{"wss://r.example": fr}

	var mu sync.Mutex
	var transitions []nostrcache.Status
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{
		Dialer: fn.dial,
		OnStatus: func(url string, status nostrcache.Status, err error) {
			mu.Lock()
			transitions = append(transitions, status)
			mu.Unlock()
		},
	})

	assert.Equal(t, nostrcache.StatusDisconnected, r.Status())

	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, nostrcache.StatusConnected, r.Status())
	assert.True(t, r.IsConnected())

	// the transport dying flips the relay back to disconnected
	fr.mu.Lock()
	conn := fr.conn
	fr.mu.Unlock()
	conn.Close("network blip")

	assert.Eventually(t, func() bool {
		return r.Status() == nostrcache.StatusDisconnected
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []nostrcache.Status{
		nostrcache.StatusConnecting,
		nostrcache.StatusConnected,
		nostrcache.StatusDisconnected,
	}, transitions)
}

func TestRelayConnectFailure(t *testing.T) {
	boom := errors.New("connection refused")
	fn := fakeNet{"wss://r.example": {dialErr: boom}}

	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{Dialer: fn.dial})
	err := r.Connect(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Equal(t, nostrcache.StatusError, r.Status())
	assert.ErrorIs(t, r.LastError(), boom)
}

func TestSubscriptionDropsNonMatchingEvents(t *testing.T) {
	fr := &fakeRelay{}
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{Dialer: fakeNet{"wss://r.example": fr}.dial})
	require.NoError(t, r.Connect(context.Background()))

	sub, err := r.Subscribe(context.Background(), nostrcache.Filters{{Kinds: []nostrcache.Kind{nostrcache.KindTextNote}}}, nostrcache.SubscriptionOptions{Label: "strict"})
	require.NoError(t, err)
	defer sub.Unsub()

	<-sub.EndOfStoredEvents

	// a misbehaving relay sends a reaction on a text-note subscription
	fr.push(nostrcache.Event{ID: "bad", Kind: nostrcache.KindReaction, CreatedAt: 100})
	fr.push(nostrcache.Event{ID: "good", Kind: nostrcache.KindTextNote, CreatedAt: 200})

	evt := <-sub.Events
	assert.Equal(t, "good", evt.ID, "non-matching events are dropped")
}

func TestSubscribeRequiresConnection(t *testing.T) {
	fr := &fakeRelay{}
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{Dialer: fakeNet{"wss://r.example": fr}.dial})

	_, err := r.Subscribe(context.Background(), nostrcache.Filters{{}}, nostrcache.SubscriptionOptions{})
	require.Error(t, err)

	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.Close())

	_, err = r.Subscribe(context.Background(), nostrcache.Filters{{}}, nostrcache.SubscriptionOptions{})
	assert.Error(t, err, "a closed relay accepts no new subscriptions")
}

func TestSubscriptionClosedByRelay(t *testing.T) {
	fr := &fakeRelay{reject: "auth-required: paid relay"}
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{Dialer: fakeNet{"wss://r.example": fr}.dial})
	require.NoError(t, r.Connect(context.Background()))

	sub, err := r.Subscribe(context.Background(), nostrcache.Filters{{}}, nostrcache.SubscriptionOptions{})
	require.NoError(t, err)

	reason := <-sub.ClosedReason
	assert.Equal(t, "auth-required: paid relay", reason)
}

func TestProbeMeasuresRoundTrip(t *testing.T) {
	fr := &fakeRelay{}
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{Dialer: fakeNet{"wss://r.example": fr}.dial})

	rtt, err := r.Probe(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Equal(t, rtt, r.Latency())
}

func TestRelayNoticeHandler(t *testing.T) {
	fr := &fakeRelay{}
	notices := make(chan string, 1)
	r := nostrcache.NewRelay("wss://r.example", nostrcache.RelayOptions{
		Dialer:        fakeNet{"wss://r.example": fr}.dial,
		NoticeHandler: func(notice string) { notices <- notice },
	})
	require.NoError(t, r.Connect(context.Background()))

	fr.mu.Lock()
	conn := fr.conn
	fr.mu.Unlock()

	frame, _ := json.Marshal([]any{"NOTICE", "slow down"})
	conn.onMessage(frame)

	assert.Equal(t, "slow down", <-notices)
}
