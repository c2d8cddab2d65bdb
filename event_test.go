package nostrcache

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	raw := `{"id":"dc90c95f","pubkey":"3bf0c63f","created_at":1644271588,"kind":1,` +
		`"tags":[["e","root"],["p","f7234bd4"]],"content":"hi","sig":"230e9d8f"}`

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))

	assert.Equal(t, "dc90c95f", evt.ID)
	assert.Equal(t, "3bf0c63f", evt.PubKey)
	assert.EqualValues(t, 1644271588, evt.CreatedAt)
	assert.Equal(t, KindTextNote, evt.Kind)
	assert.Equal(t, Tags{{"e", "root"}, {"p", "f7234bd4"}}, evt.Tags)

	out, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestCompareEventReverse(t *testing.T) {
	events := []Event{
		{ID: "b", CreatedAt: 100},
		{ID: "c", CreatedAt: 300},
		{ID: "a", CreatedAt: 200},
		{ID: "z", CreatedAt: 200},
	}
	slices.SortFunc(events, CompareEventReverse)

	got := make([]string, len(events))
	for i, evt := range events {
		got[i] = evt.ID
	}

	// newest first, created_at ties broken by id descending
	assert.Equal(t, []string{"c", "z", "a", "b"}, got)
}

func TestEstimateSizeGrowsWithContent(t *testing.T) {
	small := Event{ID: "x", Content: "hi"}
	big := Event{ID: "x", Content: "hi", Tags: Tags{{"e", "some-long-reference"}}}
	assert.Greater(t, big.EstimateSize(), small.EstimateSize())
}

func TestTagsHelpers(t *testing.T) {
	tags := Tags{
		{"e", "root", "wss://relay.example"},
		{"p", "bob"},
		{"t"},
	}

	assert.True(t, tags.Has("t"))
	assert.False(t, tags.Has("x"))

	assert.Equal(t, Tag{"p", "bob"}, tags.Find("p"))
	assert.Nil(t, tags.Find("t"), "Find requires a value")

	assert.Equal(t, Tag{"e", "root", "wss://relay.example"}, tags.FindWithValue("e", "root"))
	assert.Nil(t, tags.FindWithValue("e", "other"))

	assert.True(t, tags.ContainsAny("p", []string{"carol", "bob"}))
	assert.False(t, tags.ContainsAny("p", []string{"carol"}))
	assert.False(t, tags.ContainsAny("t", []string{""}), "valueless tags never satisfy the predicate")
}
