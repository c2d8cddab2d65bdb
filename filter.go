package nostrcache

import (
	"fmt"
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Filter is a conjunctive predicate over event fields: all present fields must
// match, absent fields impose no constraint. An empty Filter matches every
// event.
type Filter struct {
	IDs     []string
	Kinds   []Kind
	Authors []string
	Tags    TagMap
	Since   Timestamp // inclusive; zero means unset
	Until   Timestamp // inclusive; zero means unset
	Limit   int
}

// TagMap maps a tag name to the set of accepted values. On the wire the keys
// are prefixed with '#' ("#e", "#p", ...).
type TagMap map[string][]string

// Filters is a disjunction: an event matches the group if it matches at least
// one member. The empty group matches everything ("fetch all").
type Filters []Filter

func (ff Filters) String() string {
	j, _ := json.Marshal(ff)
	return string(j)
}

// Match returns true if the event matches any filter in the group. An empty
// group matches every event.
func (ff Filters) Match(event Event) bool {
	if len(ff) == 0 {
		return true
	}
	for _, f := range ff {
		if f.Matches(event) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	j, _ := json.Marshal(f)
	return string(j)
}

func (f Filter) Matches(event Event) bool {
	if !f.MatchesIgnoringTimestampConstraints(event) {
		return false
	}

	if f.Since != 0 && event.CreatedAt < f.Since {
		return false
	}

	if f.Until != 0 && event.CreatedAt > f.Until {
		return false
	}

	return true
}

func (f Filter) MatchesIgnoringTimestampConstraints(event Event) bool {
	if f.IDs != nil && !slices.Contains(f.IDs, event.ID) {
		return false
	}

	if f.Kinds != nil && !slices.Contains(f.Kinds, event.Kind) {
		return false
	}

	if f.Authors != nil && !slices.Contains(f.Authors, event.PubKey) {
		return false
	}

	for name, values := range f.Tags {
		if values != nil && !event.Tags.ContainsAny(name, values) {
			return false
		}
	}

	return true
}

func FilterEqual(a Filter, b Filter) bool {
	if !similar(a.IDs, b.IDs) || !similar(a.Kinds, b.Kinds) || !similar(a.Authors, b.Authors) {
		return false
	}

	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for name, av := range a.Tags {
		bv, ok := b.Tags[name]
		if !ok || !similar(av, bv) {
			return false
		}
	}

	return a.Since == b.Since && a.Until == b.Until && a.Limit == b.Limit
}

// similar is an order-insensitive set comparison.
func similar[E comparable](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}
	for _, a := range as {
		if !slices.Contains(bs, a) {
			return false
		}
	}
	return true
}

func (f Filter) Clone() Filter {
	clone := Filter{
		IDs:     slices.Clone(f.IDs),
		Kinds:   slices.Clone(f.Kinds),
		Authors: slices.Clone(f.Authors),
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
	}

	if f.Tags != nil {
		clone.Tags = make(TagMap, len(f.Tags))
		for name, values := range f.Tags {
			clone.Tags[name] = slices.Clone(values)
		}
	}

	return clone
}

// MarshalJSON emits the wire form, with tag predicates flattened into
// "#<name>" keys next to the regular fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, 7+len(f.Tags))
	if f.IDs != nil {
		raw["ids"] = f.IDs
	}
	if f.Kinds != nil {
		raw["kinds"] = f.Kinds
	}
	if f.Authors != nil {
		raw["authors"] = f.Authors
	}
	if f.Since != 0 {
		raw["since"] = f.Since
	}
	if f.Until != 0 {
		raw["until"] = f.Until
	}
	if f.Limit != 0 {
		raw["limit"] = f.Limit
	}
	for name, values := range f.Tags {
		raw["#"+name] = values
	}
	return json.Marshal(raw)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter is not a json object: %w", err)
	}

	for key, value := range raw {
		var err error
		switch key {
		case "ids":
			err = json.Unmarshal(value, &f.IDs)
		case "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case "authors":
			err = json.Unmarshal(value, &f.Authors)
		case "since":
			err = json.Unmarshal(value, &f.Since)
		case "until":
			err = json.Unmarshal(value, &f.Until)
		case "limit":
			err = json.Unmarshal(value, &f.Limit)
		default:
			if strings.HasPrefix(key, "#") {
				if f.Tags == nil {
					f.Tags = make(TagMap)
				}
				var values []string
				if err = json.Unmarshal(value, &values); err == nil {
					f.Tags[key[1:]] = values
				}
			}
			// unknown keys are ignored
		}
		if err != nil {
			return fmt.Errorf("invalid filter key %q: %w", key, err)
		}
	}

	return nil
}
