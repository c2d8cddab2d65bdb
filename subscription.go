package nostrcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

var subscriptionIDCounter atomic.Int64

// Subscription is one live query on one relay. Events are delivered on the
// Events channel; EndOfStoredEvents is closed when the relay signals that all
// stored events were sent; ClosedReason receives the reason if the relay
// closes the subscription on its side.
type Subscription struct {
	Relay   *Relay
	Filters Filters

	Events            chan Event
	EndOfStoredEvents chan struct{}
	ClosedReason      chan string

	id      string
	counter int64

	context context.Context
	cancel  context.CancelCauseFunc

	// dispatchMu serializes event delivery against teardown so that no
	// delivery happens after Unsub returns
	dispatchMu sync.Mutex
	live       atomic.Bool
	eosed      atomic.Bool

	checkDuplicate func(id string, relay string) bool
}

// SubscriptionOptions customizes a single Subscribe call.
type SubscriptionOptions struct {
	// Label is embedded in the wire subscription id, useful in relay logs.
	Label string

	// CheckDuplicate, when given, is called with every incoming event id
	// before parsing; returning true drops the event. The pool uses this for
	// cross-relay dedup.
	CheckDuplicate func(id string, relay string) bool
}

// ID returns the wire subscription id.
func (sub *Subscription) ID() string { return sub.id }

// Context is canceled when the subscription ends, for whatever reason.
func (sub *Subscription) Context() context.Context { return sub.context }

func newSubscription(r *Relay, ctx context.Context, filters Filters, opts SubscriptionOptions) *Subscription {
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.WithCancelCause(ctx)

	sub := &Subscription{
		Relay:             r,
		Filters:           filters,
		Events:            make(chan Event),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		counter:           current,
		context:           ctx,
		cancel:            cancel,
		checkDuplicate:    opts.CheckDuplicate,
	}
	sub.live.Store(true)

	id := strconv.FormatInt(current, 10)
	if opts.Label != "" {
		id += ":" + opts.Label
	}
	sub.id = id

	go sub.waitForEnd()

	return sub
}

// fire sends the REQ frame.
func (sub *Subscription) fire() error {
	reqb, _ := json.Marshal(ReqEnvelope{SubscriptionID: sub.id, Filters: sub.Filters})
	if err := sub.Relay.write(sub.context, reqb); err != nil {
		sub.cancel(err)
		return err
	}
	return nil
}

// Unsub closes the subscription: a CLOSE frame is sent (best-effort) and no
// event is delivered after this returns. Safe to call concurrently with
// in-flight delivery and more than once.
func (sub *Subscription) Unsub() {
	sub.unsub(errors.New("Unsub() called"))
}

func (sub *Subscription) unsub(reason error) {
	// cancel first: it unblocks an in-flight dispatch, so taking dispatchMu
	// right after is what guarantees no delivery after this returns
	sub.cancel(reason)

	sub.dispatchMu.Lock()
	wasLive := sub.live.Swap(false)
	sub.dispatchMu.Unlock()

	if wasLive {
		closeb, _ := json.Marshal(CloseEnvelope(sub.id))
		// the write is best-effort: the relay may already be gone
		_ = sub.Relay.write(context.Background(), closeb)
	}
}

// waitForEnd detaches the subscription from the relay when it ends.
func (sub *Subscription) waitForEnd() {
	<-sub.context.Done()
	sub.Relay.subscriptions.Delete(sub.counter)

	sub.dispatchMu.Lock()
	sub.live.Store(false)
	close(sub.Events)
	sub.dispatchMu.Unlock()
}

func (sub *Subscription) dispatchEvent(evt Event) {
	sub.dispatchMu.Lock()
	defer sub.dispatchMu.Unlock()

	if !sub.live.Load() {
		return
	}

	select {
	case sub.Events <- evt:
	case <-sub.context.Done():
	}
}

func (sub *Subscription) dispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		close(sub.EndOfStoredEvents)
	}
}

func (sub *Subscription) handleClosed(reason string) {
	select {
	case sub.ClosedReason <- reason:
	default:
	}
	sub.unsub(errors.New("relay sent CLOSED: " + reason))
}
