package sqlstore_test

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/store"
	"github.com/offlinehq/nostrcache/store/memstore"
	"github.com/offlinehq/nostrcache/store/sqlstore"
	storetest "github.com/offlinehq/nostrcache/store/test"
)

func TestSqlstoreConformance(t *testing.T) {
	storetest.RunSuite(t, func(t *testing.T) store.Store {
		return &sqlstore.Backend{Path: filepath.Join(t.TempDir(), "events.db")}
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	b := &sqlstore.Backend{Path: path}
	require.NoError(t, b.Init(ctx))

	_, err := b.SaveEvents(ctx, []nostrcache.Event{
		{ID: "persist", PubKey: "alice", Kind: nostrcache.KindTextNote, CreatedAt: 100, Tags: nostrcache.Tags{{"p", "bob"}}},
	})
	require.NoError(t, err)
	b.Close()

	b = &sqlstore.Backend{Path: path}
	require.NoError(t, b.Init(ctx))
	defer b.Close()

	results, err := b.QueryEvents(ctx, nostrcache.Filters{{Tags: nostrcache.TagMap{"p": {"bob"}}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persist", results[0].ID)
	assert.Equal(t, nostrcache.Tags{{"p", "bob"}}, results[0].Tags)

	st, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.EventCount, "counter is rebuilt on init")
}

// TestBackendEquivalence throws the same random events and filters at the
// sqlite and memory backends and requires identical answers.
func TestBackendEquivalence(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	sq := &sqlstore.Backend{Path: filepath.Join(t.TempDir(), "events.db")}
	require.NoError(t, sq.Init(ctx))
	defer sq.Close()

	mem := &memstore.Backend{}
	require.NoError(t, mem.Init(ctx))

	authors := []string{"alice", "bob", "carol"}
	kinds := []nostrcache.Kind{nostrcache.KindTextNote, nostrcache.KindReaction, nostrcache.KindProfileMetadata}

	var events []nostrcache.Event
	for i := 0; i < 200; i++ {
		evt := nostrcache.Event{
			ID:        fmt.Sprintf("ev%04d", i),
			PubKey:    authors[rng.Intn(len(authors))],
			Kind:      kinds[rng.Intn(len(kinds))],
			CreatedAt: nostrcache.Timestamp(1000 + rng.Int63n(5000)),
			Content:   fmt.Sprintf("event %d", i),
		}
		if rng.Intn(2) == 0 {
			evt.Tags = nostrcache.Tags{{"p", authors[rng.Intn(len(authors))]}}
		}
		events = append(events, evt)
	}

	n1, err := sq.SaveEvents(ctx, events)
	require.NoError(t, err)
	n2, err := mem.SaveEvents(ctx, events)
	require.NoError(t, err)
	require.Equal(t, n2, n1)

	groups := []nostrcache.Filters{
		{{}},
		{{Authors: []string{"alice"}}},
		{{Kinds: []nostrcache.Kind{nostrcache.KindTextNote}, Limit: 17}},
		{{Since: 2000, Until: 4000}},
		{{Authors: []string{"bob"}, Kinds: []nostrcache.Kind{nostrcache.KindReaction}}},
		{{Tags: nostrcache.TagMap{"p": {"carol"}}}},
		{{Tags: nostrcache.TagMap{"p": {}}}},
		{{Tags: nostrcache.TagMap{"p": nil}}},
		{
			{Kinds: []nostrcache.Kind{nostrcache.KindTextNote}, Limit: 10},
			{Kinds: []nostrcache.Kind{nostrcache.KindReaction}, Limit: 25},
		},
	}

	for i, group := range groups {
		want, err := mem.QueryEvents(ctx, group)
		require.NoError(t, err)
		got, err := sq.QueryEvents(ctx, group)
		require.NoError(t, err)
		assert.Equal(t, ids(want), ids(got), "group %d: %s", i, group)
	}
}

func ids(events []nostrcache.Event) []string {
	out := make([]string, len(events))
	for i, evt := range events {
		out[i] = evt.ID
	}
	return out
}
