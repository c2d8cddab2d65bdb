package nostrcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	evt := Event{
		ID:        "abc",
		PubKey:    "alice",
		CreatedAt: 1000,
		Kind:      KindTextNote,
		Tags:      Tags{{"e", "root", "wss://relay.example"}, {"p", "bob"}},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"id match", Filter{IDs: []string{"abc"}}, true},
		{"id miss", Filter{IDs: []string{"xyz"}}, false},
		{"kind match", Filter{Kinds: []Kind{KindTextNote, KindReaction}}, true},
		{"kind miss", Filter{Kinds: []Kind{KindReaction}}, false},
		{"author match", Filter{Authors: []string{"alice"}}, true},
		{"author miss", Filter{Authors: []string{"bob"}}, false},
		{"tag match", Filter{Tags: TagMap{"p": {"bob", "carol"}}}, true},
		{"tag value miss", Filter{Tags: TagMap{"p": {"carol"}}}, false},
		{"tag name miss", Filter{Tags: TagMap{"t": {"bob"}}}, false},
		{"since inclusive", Filter{Since: 1000}, true},
		{"since excludes older", Filter{Since: 1001}, false},
		{"until inclusive", Filter{Until: 1000}, true},
		{"until excludes newer", Filter{Until: 999}, false},
		{"conjunction", Filter{Authors: []string{"alice"}, Kinds: []Kind{KindReaction}}, false},
		{"all conjuncts hold", Filter{Authors: []string{"alice"}, Kinds: []Kind{KindTextNote}, Since: 500, Until: 1500}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(evt))
		})
	}
}

func TestFiltersGroupIsDisjunctive(t *testing.T) {
	textNote := Event{ID: "1", Kind: KindTextNote}
	reaction := Event{ID: "2", Kind: KindReaction}
	profile := Event{ID: "3", Kind: KindProfileMetadata}

	group := Filters{
		{Kinds: []Kind{KindTextNote}},
		{Kinds: []Kind{KindReaction}},
	}

	assert.True(t, group.Match(textNote))
	assert.True(t, group.Match(reaction))
	assert.False(t, group.Match(profile))

	assert.True(t, Filters{}.Match(profile), "empty group matches everything")
}

func TestFilterEqual(t *testing.T) {
	a := Filter{Kinds: []Kind{KindTextNote, KindReaction}, Authors: []string{"x", "y"}, Tags: TagMap{"p": {"a", "b"}}}
	b := Filter{Kinds: []Kind{KindReaction, KindTextNote}, Authors: []string{"y", "x"}, Tags: TagMap{"p": {"b", "a"}}}

	assert.True(t, FilterEqual(a, b), "order of set members is irrelevant")

	b.Limit = 5
	assert.False(t, FilterEqual(a, b))
}

func TestFilterClone(t *testing.T) {
	orig := Filter{Authors: []string{"alice"}, Tags: TagMap{"p": {"bob"}}, Since: 100}
	clone := orig.Clone()

	clone.Authors[0] = "mallory"
	clone.Tags["p"][0] = "mallory"

	assert.Equal(t, "alice", orig.Authors[0])
	assert.Equal(t, "bob", orig.Tags["p"][0])
}

func TestFilterJSONRoundTrip(t *testing.T) {
	f := Filter{
		Kinds:   []Kind{KindTextNote},
		Authors: []string{"alice"},
		Tags:    TagMap{"e": {"root"}, "p": {"bob"}},
		Since:   100,
		Until:   200,
		Limit:   10,
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	// tag predicates go on the wire as "#name" keys
	assert.Contains(t, string(data), `"#e":["root"]`)
	assert.Contains(t, string(data), `"#p":["bob"]`)
	assert.NotContains(t, string(data), `"Tags"`)

	var back Filter
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, FilterEqual(f, back))
}

func TestFilterUnmarshalIgnoresUnknownKeys(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"kinds":[1],"search":"whatever","limit":3}`), &f))
	assert.Equal(t, []Kind{KindTextNote}, f.Kinds)
	assert.Equal(t, 3, f.Limit)
}
