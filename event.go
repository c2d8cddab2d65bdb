package nostrcache

import (
	"cmp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is an immutable signed message. The id is content-derived and globally
// unique: two events with the same id are the same logical event regardless of
// which relay delivered them. Events are never mutated after creation; an
// "update" is a new event with a new id.
//
// Signing and id derivation happen in an external signer capability, this
// package only stores and transmits already-signed events.
type Event struct {
	ID        string    `json:"id"`
	PubKey    string    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      Kind      `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

func (evt Event) String() string {
	j, _ := json.Marshal(evt)
	return string(j)
}

// EstimateSize returns a rough serialized size of the event in bytes,
// good enough for quota accounting.
func (evt Event) EstimateSize() int64 {
	size := len(evt.ID) + len(evt.PubKey) + len(evt.Content) + len(evt.Sig) + 64
	for _, tag := range evt.Tags {
		for _, item := range tag {
			size += len(item) + 4
		}
	}
	return int64(size)
}

// CompareEventReverse orders events newest-first, breaking created_at ties by
// id so sorts are deterministic.
func CompareEventReverse(a, b Event) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
