// Package store defines the local event store contract shared by all
// backends. Backends are interchangeable: identical inputs must produce
// identical query results regardless of how a backend indexes its data.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/offlinehq/nostrcache"
)

// ErrDupEvent signals that an event with the same id is already stored.
// Backends use it internally; SaveEvents absorbs it (a re-save is a no-op,
// never a failure, never double-counted).
var ErrDupEvent = errors.New("duplicate: event already exists")

// InitError wraps a backend initialization failure. Callers should fall back
// to a simpler backend when they see one.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("store %s: init failed: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Stats is an approximate description of a store's contents. Size may be
// estimated; none of it requires a full scan.
type Stats struct {
	EventCount      int64
	ApproxSizeBytes int64

	// Oldest and Newest are zero when the store is empty.
	Oldest nostrcache.Timestamp
	Newest nostrcache.Timestamp
}

// Store is the persistence contract every backend implements.
type Store interface {
	// Init prepares backend resources (schema creation, index load). It is
	// idempotent. A failure is returned as *InitError so the caller can fall
	// back to a simpler backend.
	Init(ctx context.Context) error

	// Close releases backend resources.
	Close()

	// SaveEvents upserts events by id and returns how many were actually
	// persisted. Events already present are skipped silently and not
	// counted. Individual row failures are skipped and logged; only a total
	// failure returns an error.
	SaveEvents(ctx context.Context, events []nostrcache.Event) (int, error)

	// QueryEvents returns all stored events matching the group, sorted by
	// created_at descending, deduplicated by id, with the group-level limit
	// applied after the sort. An empty group returns everything.
	QueryEvents(ctx context.Context, filters nostrcache.Filters) ([]nostrcache.Event, error)

	// DeleteEvents removes events by id, ignoring unknown ids, and returns
	// how many were actually removed.
	DeleteEvents(ctx context.Context, ids []string) (int, error)

	// Clear removes all events and tag-derived indexes. Idempotent.
	Clear(ctx context.Context) error

	// Stats describes the store's contents approximately.
	Stats(ctx context.Context) (Stats, error)
}

// GroupLimit resolves the group-level limit of a filter group: the maximum of
// the per-filter limits, or zero (unlimited) when no filter carries one.
func GroupLimit(filters nostrcache.Filters) int {
	limit := 0
	for _, f := range filters {
		if f.Limit > limit {
			limit = f.Limit
		}
	}
	return limit
}

// Finalize dedups by id, sorts newest-first and applies the group limit.
// Backends that gather per-filter result sets share this last step so their
// outputs are identical.
func Finalize(events []nostrcache.Event, filters nostrcache.Filters) []nostrcache.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, evt := range events {
		if _, dup := seen[evt.ID]; dup {
			continue
		}
		seen[evt.ID] = struct{}{}
		out = append(out, evt)
	}

	slices.SortFunc(out, nostrcache.CompareEventReverse)

	if limit := GroupLimit(filters); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
