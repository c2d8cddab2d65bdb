// Package memstore is the keyed in-memory backend: an ordered index of known
// ids over a slice kept sorted newest-first. It is the simplest backend and
// the one everything else falls back to.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/store"
)

var _ store.Store = (*Backend)(nil)

type Backend struct {
	// MaxEvents caps how many events are kept. On overflow the oldest ~10%
	// are evicted and the write retried once. Zero means unlimited.
	MaxEvents int

	// OnEvict, when given, is told how many events an eviction dropped.
	OnEvict func(evicted int)

	Logger *zerolog.Logger

	mu        sync.RWMutex
	events    []nostrcache.Event // sorted newest-first
	ids       map[string]struct{}
	sizeBytes int64
	log       zerolog.Logger
}

func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ids == nil {
		b.events = make([]nostrcache.Event, 0, 512)
		b.ids = make(map[string]struct{}, 512)
	}
	if b.Logger != nil {
		b.log = *b.Logger
	} else {
		b.log = zerolog.Nop()
	}
	return nil
}

func (b *Backend) Close() {}

func (b *Backend) SaveEvents(ctx context.Context, events []nostrcache.Event) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	saved := 0
	for _, evt := range events {
		switch err := b.saveOne(evt); err {
		case nil:
			saved++
		case store.ErrDupEvent:
			// re-saving an existing id is a no-op, not a failure
		}
	}
	return saved, nil
}

func (b *Backend) saveOne(evt nostrcache.Event) error {
	if _, dup := b.ids[evt.ID]; dup {
		return store.ErrDupEvent
	}

	if b.MaxEvents > 0 && len(b.events) >= b.MaxEvents {
		b.evictOldest()
	}

	idx, _ := slices.BinarySearchFunc(b.events, evt, nostrcache.CompareEventReverse)
	b.events = slices.Insert(b.events, idx, evt)
	b.ids[evt.ID] = struct{}{}
	b.sizeBytes += evt.EstimateSize()
	return nil
}

// evictOldest drops the oldest ~10% of events (at least one). The slice is
// sorted newest-first, so the victims are at the tail.
func (b *Backend) evictOldest() {
	n := max(1, b.MaxEvents/10)
	if n > len(b.events) {
		n = len(b.events)
	}

	for _, victim := range b.events[len(b.events)-n:] {
		delete(b.ids, victim.ID)
		b.sizeBytes -= victim.EstimateSize()
	}
	b.events = b.events[:len(b.events)-n]

	b.log.Debug().Int("evicted", n).Msg("store over capacity")
	if b.OnEvict != nil {
		b.OnEvict(n)
	}
}

func (b *Backend) QueryEvents(ctx context.Context, filters nostrcache.Filters) ([]nostrcache.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]nostrcache.Event, 0, 32)
	for _, evt := range b.events {
		if filters.Match(evt) {
			results = append(results, evt)
		}
	}

	// already sorted and id-unique; Finalize only applies the group limit
	return store.Finalize(results, filters), nil
}

func (b *Backend) DeleteEvents(ctx context.Context, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := b.ids[id]; !ok {
			continue
		}

		idx := slices.IndexFunc(b.events, func(evt nostrcache.Event) bool { return evt.ID == id })
		if idx >= 0 {
			b.sizeBytes -= b.events[idx].EstimateSize()
			b.events = slices.Delete(b.events, idx, idx+1)
		}
		delete(b.ids, id)
		removed++
	}
	return removed, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = b.events[:0]
	b.ids = make(map[string]struct{}, 512)
	b.sizeBytes = 0
	return nil
}

func (b *Backend) Stats(ctx context.Context) (store.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := store.Stats{
		EventCount:      int64(len(b.events)),
		ApproxSizeBytes: b.sizeBytes,
	}
	if len(b.events) > 0 {
		st.Newest = b.events[0].CreatedAt
		st.Oldest = b.events[len(b.events)-1].CreatedAt
	}
	return st, nil
}

// All returns every stored event, newest first. The file backend snapshots
// through this.
func (b *Backend) All() []nostrcache.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.events)
}
