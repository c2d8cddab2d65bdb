package nostrcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache/bus"
)

// ErrNoRelays is returned by pool operations when the pool is empty.
var ErrNoRelays = errors.New("no relays configured")

// AllRelaysFailedError is returned by Query when every relay in the pool
// failed; per-relay causes are available in Errors.
type AllRelaysFailedError struct {
	Errors map[string]error
}

func (e *AllRelaysFailedError) Error() string {
	return fmt.Sprintf("all %d relays failed", len(e.Errors))
}

func (e *AllRelaysFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for url, err := range e.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", url, err))
	}
	return errs
}

// RelayEvent couples an event with the relay that delivered it.
type RelayEvent struct {
	Event
	Relay *Relay
}

func (ie RelayEvent) String() string { return fmt.Sprintf("[%s] >> %s", ie.Relay.URL, ie.Event) }

// PoolOptions configures a Pool.
type PoolOptions struct {
	// RelayOptions are passed to every relay instantiated by this pool.
	RelayOptions RelayOptions

	// Logger receives pool-level noise; defaults to a nop logger.
	Logger *zerolog.Logger

	// Bus, when given, receives relay:connected / relay:disconnected /
	// relay:error occurrences.
	Bus *bus.Bus

	// QueryTimeout bounds Query calls that don't set their own. Defaults to 7s.
	QueryTimeout time.Duration

	// MaxRetries bounds reconnection attempts for live subscription legs.
	// Zero means 3.
	MaxRetries int
}

// QueryOptions customizes a single Query call.
type QueryOptions struct {
	// Timeout for the whole call, across all relays. Zero uses the pool default.
	Timeout time.Duration

	// Limit stops the aggregation once this many deduplicated events were
	// collected. Zero means unlimited.
	Limit int
}

// Pool manages connections to multiple relays and coordinates parallel
// queries and live subscriptions over them.
type Pool struct {
	relays *xsync.MapOf[string, *Relay]

	ctx    context.Context
	cancel context.CancelCauseFunc

	opts PoolOptions
	log  zerolog.Logger
}

// NewPool creates an empty pool. Add relays with AddRelays.
func NewPool(opts PoolOptions) *Pool {
	ctx, cancel := context.WithCancelCause(context.Background())

	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = dialTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	p := &Pool{
		relays: xsync.NewMapOf[string, *Relay](),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		log:    loggerOrNop(opts.Logger),
	}

	if p.opts.RelayOptions.OnStatus == nil {
		p.opts.RelayOptions.OnStatus = p.emitStatus
	}
	if p.opts.RelayOptions.Logger == nil {
		p.opts.RelayOptions.Logger = opts.Logger
	}

	return p
}

func (p *Pool) emitStatus(url string, status Status, err error) {
	switch status {
	case StatusConnected:
		p.opts.Bus.Emit(bus.TopicRelayConnected, bus.RelayConnected{URL: url})
	case StatusDisconnected:
		p.opts.Bus.Emit(bus.TopicRelayDisconnected, bus.RelayConnected{URL: url})
	case StatusError:
		p.opts.Bus.Emit(bus.TopicRelayError, bus.RelayError{URL: url, Err: err})
	}
}

// AddRelays registers endpoints with the pool. Adding an endpoint that is
// already present is a no-op. Connections are established lazily, on first use.
func (p *Pool) AddRelays(urls ...string) {
	for _, url := range urls {
		nm := NormalizeURL(url)
		if nm == "" {
			continue
		}
		p.relays.LoadOrCompute(nm, func() *Relay {
			return NewRelay(nm, p.opts.RelayOptions)
		})
	}
}

// RemoveRelays drops endpoints from the pool, closing their connections and
// any subscriptions open on them. Other relays are untouched.
func (p *Pool) RemoveRelays(urls ...string) {
	for _, url := range urls {
		if relay, ok := p.relays.LoadAndDelete(NormalizeURL(url)); ok {
			relay.Close()
		}
	}
}

// URLs returns the normalized addresses currently in the pool.
func (p *Pool) URLs() []string {
	urls := make([]string, 0, p.relays.Size())
	p.relays.Range(func(url string, _ *Relay) bool {
		urls = append(urls, url)
		return true
	})
	sort.Strings(urls)
	return urls
}

// Relay returns the pool's relay for the given address, if present.
func (p *Pool) Relay(url string) (*Relay, bool) {
	return p.relays.Load(NormalizeURL(url))
}

// ensureRelay returns a connected relay for the url, connecting if needed.
func (p *Pool) ensureRelay(ctx context.Context, url string) (*Relay, error) {
	relay, ok := p.relays.Load(url)
	if !ok {
		return nil, fmt.Errorf("relay %s not in pool", url)
	}

	if relay.IsConnected() {
		return relay, nil
	}

	if err := relay.Connect(ctx); err != nil {
		return nil, err
	}
	return relay, nil
}

// Query opens transient subscriptions on every relay in parallel and collects
// events until every relay reported end-of-stored-events, the timeout
// elapsed, or the limit was reached. Results are deduplicated by id and
// sorted newest-first. Individual relay failures only reduce the result set;
// Query errors only when every relay failed.
func (p *Pool) Query(ctx context.Context, filters Filters, opts QueryOptions) ([]Event, error) {
	urls := p.URLs()
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = p.opts.QueryTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errors.New("query timeout"))
	defer cancel()
	ctx, stop := context.WithCancelCause(ctx)

	seen := xsync.NewMapOf[string, struct{}]()
	checkDuplicate := func(id string, _ string) bool {
		_, exists := seen.LoadOrStore(id, struct{}{})
		return exists
	}

	var mu sync.Mutex
	var results []Event
	errs := make(map[string]error)

	recordError := func(url string, err error) {
		mu.Lock()
		errs[url] = err
		mu.Unlock()
		p.opts.Bus.Emit(bus.TopicRelayError, bus.RelayError{URL: url, Err: err})
	}

	wg := sync.WaitGroup{}
	wg.Add(len(urls))

	for _, url := range urls {
		go func(nm string) {
			defer wg.Done()

			relay, err := p.ensureRelay(ctx, nm)
			if err != nil {
				p.log.Debug().Str("relay", nm).Err(err).Msg("query: connect failed")
				recordError(nm, err)
				return
			}

			sub, err := relay.Subscribe(ctx, filters, SubscriptionOptions{
				Label:          "query",
				CheckDuplicate: checkDuplicate,
			})
			if err != nil {
				p.log.Debug().Str("relay", nm).Err(err).Msg("query: subscribe failed")
				recordError(nm, err)
				return
			}
			defer sub.Unsub()

			for {
				select {
				case <-ctx.Done():
					return
				case <-sub.EndOfStoredEvents:
					return
				case reason := <-sub.ClosedReason:
					recordError(nm, fmt.Errorf("subscription closed: %s", reason))
					return
				case evt, more := <-sub.Events:
					if !more {
						// the channel also closes when the query context
						// expires; only a live context means the relay
						// actually dropped us
						if ctx.Err() == nil {
							recordError(nm, ErrDisconnected)
						}
						return
					}

					mu.Lock()
					results = append(results, evt)
					full := opts.Limit > 0 && len(results) >= opts.Limit
					mu.Unlock()

					if full {
						stop(errors.New("limit reached"))
						return
					}
				}
			}
		}(url)
	}

	wg.Wait()
	stop(errors.New("all relays finished"))

	if len(errs) == len(urls) && len(results) == 0 {
		return nil, &AllRelaysFailedError{Errors: errs}
	}

	slices.SortFunc(results, CompareEventReverse)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// PoolSubscription is a live subscription fanned out over every relay in the
// pool, with cross-relay dedup for its whole lifetime.
type PoolSubscription struct {
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Close tears down every underlying relay subscription. It only returns once
// no further onEvent invocation can happen. Safe to call more than once, and
// a no-op on relays that are already gone.
func (ps *PoolSubscription) Close() {
	ps.once.Do(func() {
		if ps.cancel != nil {
			ps.cancel(errors.New("Close() called"))
		}
	})
	ps.wg.Wait()
}

// Subscribe opens a live subscription on every relay currently in the pool
// and invokes onEvent for every newly seen event id. Relay legs that drop are
// retried a bounded number of times with the filter's since-cursor bumped so
// only new events flow after a gap.
func (p *Pool) Subscribe(ctx context.Context, filters Filters, onEvent func(RelayEvent)) (*PoolSubscription, error) {
	urls := p.URLs()
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}

	ctx, cancel := context.WithCancelCause(ctx)
	ps := &PoolSubscription{cancel: cancel}

	seen := xsync.NewMapOf[string, struct{}]()
	checkDuplicate := func(id string, _ string) bool {
		_, exists := seen.LoadOrStore(id, struct{}{})
		return exists
	}

	// onEvent runs on the leg goroutines, so waiting for wg in Close is what
	// guarantees no invocation after Close returns
	ps.wg.Add(len(urls))
	for _, url := range urls {
		go func(nm string) {
			defer ps.wg.Done()
			p.runSubscriptionLeg(ctx, nm, filters.Clone(), checkDuplicate, onEvent)
		}(url)
	}

	// stop the whole subscription when the pool dies
	go func() {
		select {
		case <-p.ctx.Done():
			cancel(context.Cause(p.ctx))
		case <-ctx.Done():
		}
	}()

	return ps, nil
}

// Clone deep-copies a filter group.
func (ff Filters) Clone() Filters {
	clone := make(Filters, len(ff))
	for i, f := range ff {
		clone[i] = f.Clone()
	}
	return clone
}

func (p *Pool) runSubscriptionLeg(
	ctx context.Context,
	nm string,
	filters Filters,
	checkDuplicate func(id, relay string) bool,
	onEvent func(RelayEvent),
) {
	retries := 0
	interval := 3 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relay, err := p.ensureRelay(ctx, nm)
		if err != nil {
			p.log.Debug().Str("relay", nm).Err(err).Msg("subscribe: connect failed")
			goto retry
		}

		if sub, err := relay.Subscribe(ctx, filters, SubscriptionOptions{
			Label:          "live",
			CheckDuplicate: checkDuplicate,
		}); err != nil {
			p.log.Debug().Str("relay", nm).Err(err).Msg("subscribe: REQ failed")
			goto retry
		} else {
			retries = 0
			interval = 3 * time.Second

			for {
				select {
				case <-ctx.Done():
					sub.Unsub()
					return
				case reason := <-sub.ClosedReason:
					p.log.Debug().Str("relay", nm).Str("reason", reason).Msg("subscribe: CLOSED by relay")
					return
				case evt, more := <-sub.Events:
					if !more {
						// connection broke; pick up only what we haven't seen
						for i := range filters {
							filters[i].Since = Now()
						}
						goto retry
					}
					onEvent(RelayEvent{Event: evt, Relay: relay})
				}
			}
		}

	retry:
		retries++
		if retries > p.opts.MaxRetries {
			p.opts.Bus.Emit(bus.TopicRelayError, bus.RelayError{
				URL: nm,
				Err: fmt.Errorf("giving up after %d attempts", retries-1),
			})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = min(time.Minute, interval*17/10)
	}
}

// PublishResult is the outcome of publishing to one relay.
type PublishResult struct {
	RelayURL string
	Error    error
}

// Publish sends the event to every relay in the pool and returns a channel of
// per-relay results, closed when all attempts finished.
func (p *Pool) Publish(ctx context.Context, evt Event) chan PublishResult {
	urls := p.URLs()
	ch := make(chan PublishResult, len(urls))

	wg := sync.WaitGroup{}
	wg.Add(len(urls))
	for _, url := range urls {
		go func(nm string) {
			defer wg.Done()

			relay, err := p.ensureRelay(ctx, nm)
			if err != nil {
				ch <- PublishResult{RelayURL: nm, Error: err}
				return
			}
			ch <- PublishResult{RelayURL: nm, Error: relay.Publish(ctx, evt)}
		}(url)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	return ch
}

// RelayLatency is one entry of a FastestRelays ranking.
type RelayLatency struct {
	URL     string
	Latency time.Duration
	Err     error
}

// FastestRelays probes every relay concurrently and returns them ranked by
// observed round-trip latency, failed probes last. It never blocks other pool
// operations.
func (p *Pool) FastestRelays(ctx context.Context) []RelayLatency {
	urls := p.URLs()
	ranking := make([]RelayLatency, len(urls))

	wg := sync.WaitGroup{}
	wg.Add(len(urls))
	for i, url := range urls {
		go func(i int, nm string) {
			defer wg.Done()

			relay, err := p.ensureRelay(ctx, nm)
			if err != nil {
				ranking[i] = RelayLatency{URL: nm, Err: err}
				return
			}
			rtt, err := relay.Probe(ctx)
			ranking[i] = RelayLatency{URL: nm, Latency: rtt, Err: err}
		}(i, url)
	}
	wg.Wait()

	slices.SortStableFunc(ranking, func(a, b RelayLatency) int {
		switch {
		case a.Err == nil && b.Err != nil:
			return -1
		case a.Err != nil && b.Err == nil:
			return 1
		default:
			return int(a.Latency - b.Latency)
		}
	})

	return ranking
}

// Close closes the pool: every relay connection is torn down and every
// subscription opened through the pool ends.
func (p *Pool) Close(reason string) {
	p.cancel(fmt.Errorf("pool closed: %s", reason))
	p.relays.Range(func(_ string, relay *Relay) bool {
		relay.Close()
		return true
	})
}
