// Package test holds the conformance suite every store backend must pass.
// Backend packages call RunSuite from their own tests with a factory for a
// fresh, initialized store.
package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/store"
)

// Factory returns a fresh empty store. The suite calls Init and Close itself.
type Factory func(t *testing.T) store.Store

func event(id string, pubkey string, kind nostrcache.Kind, createdAt int64, tags nostrcache.Tags) nostrcache.Event {
	return nostrcache.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: nostrcache.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   "content of " + id,
		Sig:       "sig",
	}
}

// RunSuite exercises the full Store contract against a backend.
func RunSuite(t *testing.T, factory Factory) {
	t.Run("SaveIsIdempotent", func(t *testing.T) { testSaveIsIdempotent(t, factory) })
	t.Run("QuerySortAndLimit", func(t *testing.T) { testQuerySortAndLimit(t, factory) })
	t.Run("QueryFilterGroupOR", func(t *testing.T) { testQueryFilterGroupOR(t, factory) })
	t.Run("QueryByTag", func(t *testing.T) { testQueryByTag(t, factory) })
	t.Run("QueryTimeWindow", func(t *testing.T) { testQueryTimeWindow(t, factory) })
	t.Run("EmptyGroupReturnsAll", func(t *testing.T) { testEmptyGroupReturnsAll(t, factory) })
	t.Run("DeleteAndClear", func(t *testing.T) { testDeleteAndClear(t, factory) })
	t.Run("Stats", func(t *testing.T) { testStats(t, factory) })
}

func open(t *testing.T, factory Factory) store.Store {
	t.Helper()
	s := factory(t)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func testSaveIsIdempotent(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	evt := event("a1", "alice", nostrcache.KindTextNote, 100, nil)

	saved, err := s.SaveEvents(ctx, []nostrcache.Event{evt})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// same id again, plus a fresh one
	saved, err = s.SaveEvents(ctx, []nostrcache.Event{evt, event("a2", "alice", nostrcache.KindTextNote, 101, nil)})
	require.NoError(t, err)
	assert.Equal(t, 1, saved, "re-saving an existing id must not count")

	results, err := s.QueryEvents(ctx, nostrcache.Filters{{}})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func testQuerySortAndLimit(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	var events []nostrcache.Event
	for i := 0; i < 10; i++ {
		events = append(events, event(fmt.Sprintf("e%02d", i), "alice", nostrcache.KindTextNote, int64(100+i), nil))
	}
	_, err := s.SaveEvents(ctx, events)
	require.NoError(t, err)

	results, err := s.QueryEvents(ctx, nostrcache.Filters{{Authors: []string{"alice"}, Limit: 3}})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// newest first, and the limit keeps the newest three
	assert.Equal(t, "e09", results[0].ID)
	assert.Equal(t, "e08", results[1].ID)
	assert.Equal(t, "e07", results[2].ID)
}

func testQueryFilterGroupOR(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	_, err := s.SaveEvents(ctx, []nostrcache.Event{
		event("note", "alice", nostrcache.KindTextNote, 100, nil),
		event("react", "bob", nostrcache.KindReaction, 200, nil),
		event("profile", "carol", nostrcache.KindProfileMetadata, 300, nil),
	})
	require.NoError(t, err)

	// two filters, disjunctive: notes OR reactions
	results, err := s.QueryEvents(ctx, nostrcache.Filters{
		{Kinds: []nostrcache.Kind{nostrcache.KindTextNote}},
		{Kinds: []nostrcache.Kind{nostrcache.KindReaction}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "react", results[0].ID)
	assert.Equal(t, "note", results[1].ID)
}

func testQueryByTag(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	_, err := s.SaveEvents(ctx, []nostrcache.Event{
		event("t1", "alice", nostrcache.KindTextNote, 100, nostrcache.Tags{{"e", "root"}, {"p", "bob"}}),
		event("t2", "alice", nostrcache.KindTextNote, 200, nostrcache.Tags{{"p", "carol"}}),
		event("t3", "alice", nostrcache.KindTextNote, 300, nil),
	})
	require.NoError(t, err)

	results, err := s.QueryEvents(ctx, nostrcache.Filters{
		{Tags: nostrcache.TagMap{"p": {"bob", "carol"}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "t2", results[0].ID)
	assert.Equal(t, "t1", results[1].ID)

	results, err = s.QueryEvents(ctx, nostrcache.Filters{
		{Tags: nostrcache.TagMap{"e": {"root"}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ID)

	// a present-but-empty value set accepts nothing
	results, err = s.QueryEvents(ctx, nostrcache.Filters{
		{Tags: nostrcache.TagMap{"p": {}}},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// a nil value set imposes no constraint
	results, err = s.QueryEvents(ctx, nostrcache.Filters{
		{Tags: nostrcache.TagMap{"p": nil}},
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func testQueryTimeWindow(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	_, err := s.SaveEvents(ctx, []nostrcache.Event{
		event("w1", "alice", nostrcache.KindTextNote, 100, nil),
		event("w2", "alice", nostrcache.KindTextNote, 200, nil),
		event("w3", "alice", nostrcache.KindTextNote, 300, nil),
	})
	require.NoError(t, err)

	// both bounds inclusive
	results, err := s.QueryEvents(ctx, nostrcache.Filters{{Since: 100, Until: 200}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "w2", results[0].ID)
	assert.Equal(t, "w1", results[1].ID)
}

func testEmptyGroupReturnsAll(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	_, err := s.SaveEvents(ctx, []nostrcache.Event{
		event("x1", "alice", nostrcache.KindTextNote, 100, nil),
		event("x2", "bob", nostrcache.KindReaction, 200, nil),
	})
	require.NoError(t, err)

	results, err := s.QueryEvents(ctx, nostrcache.Filters{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func testDeleteAndClear(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	_, err := s.SaveEvents(ctx, []nostrcache.Event{
		event("d1", "alice", nostrcache.KindTextNote, 100, nil),
		event("d2", "alice", nostrcache.KindTextNote, 200, nil),
	})
	require.NoError(t, err)

	removed, err := s.DeleteEvents(ctx, []string{"d1", "never-existed"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "unknown ids are ignored")

	results, err := s.QueryEvents(ctx, nostrcache.Filters{{}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].ID)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx)) // idempotent

	results, err = s.QueryEvents(ctx, nostrcache.Filters{{}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testStats(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.EventCount)

	_, err = s.SaveEvents(ctx, []nostrcache.Event{
		event("s1", "alice", nostrcache.KindTextNote, 100, nil),
		event("s2", "alice", nostrcache.KindTextNote, 300, nil),
		event("s3", "bob", nostrcache.KindTextNote, 200, nil),
	})
	require.NoError(t, err)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.EventCount)
	assert.EqualValues(t, 100, st.Oldest)
	assert.EqualValues(t, 300, st.Newest)
}
