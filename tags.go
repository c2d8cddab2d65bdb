package nostrcache

import "slices"

// Tag is an ordered sequence of strings. The first item is the tag name, the
// second (when present) is its primary value.
type Tag []string

type Tags []Tag

// Has returns true if a tag exists with the given name (whether or not it has a value).
func (tags Tags) Has(name string) bool {
	for _, v := range tags {
		if len(v) >= 1 && v[0] == name {
			return true
		}
	}
	return false
}

// Find returns the first tag with the given name that also has a value (i.e. at least 2 items).
func (tags Tags) Find(name string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == name {
			return v
		}
	}
	return nil
}

// FindWithValue is like Find, but also checks that the value (the second item) matches.
func (tags Tags) FindWithValue(name, value string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[1] == value && v[0] == name {
			return v
		}
	}
	return nil
}

// ContainsAny returns true if the event has at least one tag with the given
// name whose value is in the given set. This is the predicate filters use.
func (tags Tags) ContainsAny(name string, values []string) bool {
	for _, tag := range tags {
		if len(tag) < 2 {
			continue
		}

		if tag[0] != name {
			continue
		}

		if slices.Contains(values, tag[1]) {
			return true
		}
	}

	return false
}

// Clone creates a new array with these tags inside.
func (tags Tags) Clone() Tags {
	newArr := make(Tags, len(tags))
	copy(newArr, tags)
	return newArr
}

// Clone creates a new array with these tag items inside.
func (tag Tag) Clone() Tag {
	newArr := make(Tag, len(tag))
	copy(newArr, tag)
	return newArr
}
