package nostrcache

import (
	"time"
)

// Timestamp is a unix timestamp in seconds, as used in event "created_at" fields.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// Time converts the timestamp into a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// Kind is the integer category of an event.
type Kind uint16

const (
	KindProfileMetadata Kind = 0
	KindTextNote        Kind = 1
	KindFollowList      Kind = 3
	KindDeletion        Kind = 5
	KindRepost          Kind = 6
	KindReaction        Kind = 7
	KindRelayListMeta   Kind = 10002
)
