package nostrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Status is the connection state of one relay endpoint.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// RelayOptions customizes relays created directly or through a pool.
type RelayOptions struct {
	// Dialer opens the underlying transport. Defaults to DialWebsocket.
	Dialer Dialer

	// Logger, when given, receives connection lifecycle and protocol noise.
	Logger *zerolog.Logger

	// NoticeHandler takes NOTICE messages; defaults to logging them.
	NoticeHandler func(notice string)

	// OnStatus observes every state transition of this endpoint.
	OnStatus func(url string, status Status, err error)
}

// Relay represents one relay endpoint and its live connection state.
// State transitions: disconnected -> connecting -> connected, connected ->
// disconnected on socket close, connecting|connected -> error on failure.
// Reconnection is caller-driven; a Relay never retries on its own.
type Relay struct {
	URL string

	opts RelayOptions
	log  zerolog.Logger

	closeMutex sync.Mutex
	conn       Conn
	connCtx    context.Context
	connCancel context.CancelCauseFunc

	status  atomic.Int32
	lastErr atomic.Pointer[error]
	latency atomic.Int64 // nanoseconds, 0 = unknown

	subscriptions *xsync.MapOf[int64, *Subscription]
	okCallbacks   *xsync.MapOf[string, func(bool, string)]
}

// NewRelay returns a relay in the disconnected state. Call Connect to bring
// it up.
func NewRelay(url string, opts RelayOptions) *Relay {
	if opts.Dialer == nil {
		opts.Dialer = DialWebsocket
	}
	return &Relay{
		URL:           NormalizeURL(url),
		opts:          opts,
		log:           loggerOrNop(opts.Logger),
		subscriptions: xsync.NewMapOf[int64, *Subscription](),
		okCallbacks:   xsync.NewMapOf[string, func(bool, string)](),
	}
}

func (r *Relay) String() string { return r.URL }

// Status returns the current connection state.
func (r *Relay) Status() Status { return Status(r.status.Load()) }

// IsConnected returns true if the connection to this relay seems to be active.
func (r *Relay) IsConnected() bool { return r.Status() == StatusConnected }

// LastError returns the last connection-level failure, if any.
func (r *Relay) LastError() error {
	if p := r.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Latency returns the last observed round-trip time, or zero if never probed.
func (r *Relay) Latency() time.Duration { return time.Duration(r.latency.Load()) }

func (r *Relay) setStatus(s Status, err error) {
	r.status.Store(int32(s))
	if err != nil {
		r.lastErr.Store(&err)
	}
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(r.URL, s, err)
	}
}

// Connect establishes the transport. The context only bounds the connection
// attempt; the established connection lives until Close or a socket failure.
func (r *Relay) Connect(ctx context.Context) error {
	if r.URL == "" {
		return fmt.Errorf("invalid relay URL '%s'", r.URL)
	}

	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()

	if r.conn != nil && r.IsConnected() {
		return nil
	}

	r.setStatus(StatusConnecting, nil)
	started := time.Now()

	connCtx, cancel := context.WithCancelCause(context.Background())
	conn, err := r.opts.Dialer(ctx, r.URL, r.handleMessage, func(cause error) {
		cancel(cause)
		r.teardownSubscriptions(cause)
		r.setStatus(StatusDisconnected, nil)
		r.log.Debug().Str("relay", r.URL).AnErr("cause", cause).Msg("disconnected")
	})
	if err != nil {
		cancel(err)
		r.setStatus(StatusError, err)
		return fmt.Errorf("error opening connection to '%s': %w", r.URL, err)
	}

	r.conn = conn
	r.connCtx = connCtx
	r.connCancel = cancel
	r.latency.Store(int64(time.Since(started)))
	r.setStatus(StatusConnected, nil)

	return nil
}

func (r *Relay) teardownSubscriptions(cause error) {
	r.subscriptions.Range(func(_ int64, sub *Subscription) bool {
		sub.cancel(fmt.Errorf("connection lost: %w", cause))
		return true
	})
}

// write hands a frame to the transport.
func (r *Relay) write(ctx context.Context, msg []byte) error {
	r.closeMutex.Lock()
	conn := r.conn
	r.closeMutex.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected to %s", r.URL)
	}
	return conn.Write(ctx, msg)
}

func (r *Relay) handleMessage(message []byte) {
	// preparse EVENT frames so duplicates are dropped before the full parse
	if isEventMessage(message) {
		subid := extractSubID(message)
		if sub, ok := r.subscriptions.Load(subIDToSerial(subid)); ok && sub.checkDuplicate != nil {
			if sub.checkDuplicate(extractEventID(message), r.URL) {
				return
			}
		}
	}

	envelope, err := ParseMessage(message)
	if err != nil {
		if !errors.Is(err, ErrUnknownLabel) {
			r.log.Debug().Str("relay", r.URL).Err(err).Msg("skipping malformed message")
		}
		return
	}

	switch env := envelope.(type) {
	case *NoticeEnvelope:
		if r.opts.NoticeHandler != nil {
			r.opts.NoticeHandler(string(*env))
		} else {
			r.log.Info().Str("relay", r.URL).Str("notice", string(*env)).Msg("NOTICE")
		}
	case *EventEnvelope:
		sub, ok := r.subscriptions.Load(subIDToSerial(env.SubscriptionID))
		if !ok {
			return
		}
		// events that don't match the subscription's own filters are relay
		// misbehavior; drop them
		if !sub.Filters.Match(env.Event) {
			r.log.Debug().Str("relay", r.URL).Str("id", env.Event.ID).Msg("event does not match subscription filters")
			return
		}
		sub.dispatchEvent(env.Event)
	case *EOSEEnvelope:
		if sub, ok := r.subscriptions.Load(subIDToSerial(string(*env))); ok {
			sub.dispatchEose()
		}
	case *ClosedEnvelope:
		if sub, ok := r.subscriptions.Load(subIDToSerial(env.SubscriptionID)); ok {
			sub.handleClosed(env.Reason)
		}
	case *OKEnvelope:
		if okCallback, exists := r.okCallbacks.Load(env.EventID); exists {
			okCallback(env.OK, env.Reason)
		}
	}
}

// Subscribe sends a REQ and returns the live subscription. The subscription
// ends when ctx is canceled, Unsub is called, or the connection drops.
func (r *Relay) Subscribe(ctx context.Context, filters Filters, opts SubscriptionOptions) (*Subscription, error) {
	r.closeMutex.Lock()
	connected := r.conn != nil
	r.closeMutex.Unlock()
	if !connected {
		return nil, fmt.Errorf("not connected to %s", r.URL)
	}

	sub := newSubscription(r, ctx, filters, opts)
	r.subscriptions.Store(sub.counter, sub)

	if err := sub.fire(); err != nil {
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", filters, r.URL, err)
	}

	return sub, nil
}

// Publish sends an event and waits for the relay's OK response.
func (r *Relay) Publish(ctx context.Context, evt Event) error {
	var err error
	var cancel context.CancelFunc

	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeoutCause(ctx, dialTimeout, errors.New("given up waiting for an OK"))
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	gotOk := false
	r.okCallbacks.Store(evt.ID, func(ok bool, reason string) {
		gotOk = true
		if !ok {
			err = fmt.Errorf("msg: %s", reason)
		}
		cancel()
	})
	defer r.okCallbacks.Delete(evt.ID)

	envb, _ := json.Marshal(EventEnvelope{Event: evt})
	if werr := r.write(ctx, envb); werr != nil {
		return werr
	}

	<-ctx.Done()
	if gotOk {
		return err
	}
	return fmt.Errorf("publish: %w", context.Cause(ctx))
}

// Probe measures a full round trip by subscribing to an id that cannot exist
// and waiting for the EOSE. The observed latency is recorded on the relay.
func (r *Relay) Probe(ctx context.Context) (time.Duration, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, dialTimeout, errors.New("probe took too long"))
		defer cancel()
	}

	started := time.Now()

	if !r.IsConnected() {
		if err := r.Connect(ctx); err != nil {
			return 0, err
		}
		// connect latency was recorded already; still do the round trip
	}

	probe := Filters{{IDs: []string{probeEventID}, Limit: 1}}
	sub, err := r.Subscribe(ctx, probe, SubscriptionOptions{Label: "probe"})
	if err != nil {
		return 0, err
	}
	defer sub.Unsub()

	select {
	case <-sub.EndOfStoredEvents:
		rtt := time.Since(started)
		r.latency.Store(int64(rtt))
		return rtt, nil
	case reason := <-sub.ClosedReason:
		return 0, fmt.Errorf("probe rejected by %s: %s", r.URL, reason)
	case <-ctx.Done():
		return 0, context.Cause(ctx)
	}
}

// probeEventID is a syntactically valid id no event can have.
const probeEventID = "0000000000000000000000000000000000000000000000000000000000000000"

// Close closes the relay connection and cancels all its subscriptions.
// Calling it on an already-closed or never-connected relay is a no-op.
func (r *Relay) Close() error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()

	if r.conn == nil {
		return nil
	}
	r.conn.Close("Close() called")
	r.conn = nil
	return nil
}

func subIDToSerial(subID string) int64 {
	var serial int64
	for _, c := range []byte(subID) {
		if c < '0' || c > '9' {
			break
		}
		serial = serial*10 + int64(c-'0')
	}
	return serial
}
