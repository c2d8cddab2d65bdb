// Package syncer coordinates the relay pool and the local store: one-shot
// sync runs, a recurring auto-sync loop, and live ingestion that persists
// events as they arrive while fanning them out to listeners.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/bus"
	"github.com/offlinehq/nostrcache/store"
)

// Network is the slice of the relay pool the coordinator needs. *nostrcache.Pool
// satisfies it; tests drive the coordinator with in-process fakes.
type Network interface {
	Query(ctx context.Context, filters nostrcache.Filters, opts nostrcache.QueryOptions) ([]nostrcache.Event, error)
	Subscribe(ctx context.Context, filters nostrcache.Filters, onEvent func(nostrcache.RelayEvent)) (*nostrcache.PoolSubscription, error)
}

var _ Network = (*nostrcache.Pool)(nil)

// Result summarizes one sync run.
type Result struct {
	// Total is how many deduplicated events the network returned.
	Total int

	// Saved is how many of those were new to the store.
	Saved int
}

// Options configures a Coordinator.
type Options struct {
	Store   store.Store
	Network Network

	// Bus, when given, receives sync:completed / sync:failed occurrences.
	Bus *bus.Bus

	Logger *zerolog.Logger
}

// Coordinator runs sync operations against one store and one network.
type Coordinator struct {
	store   store.Store
	network Network
	bus     *bus.Bus
	log     zerolog.Logger

	// syncing is set for the duration of a run so overlapping auto-sync
	// ticks can be skipped instead of queued
	syncing atomic.Bool

	// runCtx scopes auto-sync runs to the coordinator's lifetime, not to the
	// ticker loop's: disabling the loop must not abort a run already in flight
	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	autoStop context.CancelFunc
	autoWg   sync.WaitGroup
}

func New(opts Options) *Coordinator {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     opts.Store,
		network:   opts.Network,
		bus:       opts.Bus,
		log:       log,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Sync queries the network once and persists what came back. Partial relay
// failures reduce the result set silently; only a total network failure is an
// error. Store-side row failures are the store's to log, never Sync's to
// propagate.
func (c *Coordinator) Sync(ctx context.Context, filters nostrcache.Filters) (Result, error) {
	c.syncing.Store(true)
	defer c.syncing.Store(false)

	events, err := c.network.Query(ctx, filters, nostrcache.QueryOptions{})
	if err != nil {
		c.log.Warn().Err(err).Msg("sync: query failed")
		c.bus.Emit(bus.TopicSyncFailed, bus.SyncFailed{Err: err})
		return Result{}, fmt.Errorf("sync query failed: %w", err)
	}

	saved, err := c.store.SaveEvents(ctx, events)
	if err != nil {
		c.log.Warn().Err(err).Msg("sync: save failed")
		c.bus.Emit(bus.TopicSyncFailed, bus.SyncFailed{Err: err})
		return Result{Total: len(events)}, fmt.Errorf("sync save failed: %w", err)
	}

	res := Result{Total: len(events), Saved: saved}
	c.log.Debug().Int("total", res.Total).Int("saved", res.Saved).Msg("sync completed")
	c.bus.Emit(bus.TopicSyncCompleted, bus.SyncCompleted{Total: res.Total, Saved: res.Saved})
	return res, nil
}

// SetAutoSync turns the recurring sync loop on or off. A tick that fires
// while a run is still in flight is skipped, not queued. Disabling cancels
// future ticks but lets an in-flight run finish.
func (c *Coordinator) SetAutoSync(enabled bool, interval time.Duration, filters nostrcache.Filters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoStop != nil {
		c.autoStop()
		c.autoStop = nil
	}
	if !enabled {
		return
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	c.autoStop = cancel

	c.autoWg.Add(1)
	go func() {
		defer c.autoWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if c.syncing.Load() {
					c.log.Debug().Msg("autosync: previous run still in flight, skipping tick")
					continue
				}
				// runs ride on runCtx, not tickCtx, so disabling the loop
				// lets this run finish
				if _, err := c.Sync(c.runCtx, filters); err != nil {
					c.log.Warn().Err(err).Msg("autosync: run failed")
				}
			}
		}
	}()
}

// Live is a running live-ingestion session. Close stops it; pending
// persistence is drained first.
type Live struct {
	sub    *nostrcache.PoolSubscription
	ingest chan nostrcache.Event
	done   chan struct{}
	once   sync.Once
}

// Close tears down the subscription and waits for the persistence queue to
// drain. Safe to call more than once.
func (l *Live) Close() {
	l.once.Do(func() {
		// sub.Close returns only after the last onEvent, so closing the
		// ingest channel afterwards cannot race a send
		l.sub.Close()
		close(l.ingest)
	})
	<-l.done
}

// StartLive opens a live subscription and, for every newly seen event,
// persists it and hands it to each listener. Persistence runs on its own
// goroutine so a slow disk never blocks listener delivery; its failures are
// logged and reported on the bus, never surfaced to listeners.
func (c *Coordinator) StartLive(ctx context.Context, filters nostrcache.Filters, listeners ...func(nostrcache.Event)) (*Live, error) {
	ingest := make(chan nostrcache.Event, 256)
	done := make(chan struct{})

	sub, err := c.network.Subscribe(ctx, filters, func(ie nostrcache.RelayEvent) {
		select {
		case ingest <- ie.Event:
		default:
			c.log.Warn().Str("id", ie.ID).Msg("live: persistence queue full, dropping write")
		}
		for _, listener := range listeners {
			listener(ie.Event)
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(done)
		for evt := range ingest {
			if _, err := c.store.SaveEvents(context.Background(), []nostrcache.Event{evt}); err != nil {
				c.log.Warn().Str("id", evt.ID).Err(err).Msg("live: persist failed")
				c.bus.Emit(bus.TopicSyncFailed, bus.SyncFailed{Err: err})
			}
		}
	}()

	live := &Live{sub: sub, ingest: ingest, done: done}

	// follow the caller's context so abandoning it doesn't leak the writer
	go func() {
		select {
		case <-ctx.Done():
			live.Close()
		case <-done:
		}
	}()

	return live, nil
}

// Close stops the auto-sync loop, aborts any in-flight auto-sync run and
// waits for it to unwind.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.autoStop != nil {
		c.autoStop()
		c.autoStop = nil
	}
	c.mu.Unlock()

	c.runCancel()
	c.autoWg.Wait()
}
