// Package signer defines the signing capability the engine consumes. Key
// management and the signature scheme itself live with the embedding
// application; the engine only needs something that can stamp an event with
// an id, pubkey and sig before it is published.
package signer

import (
	"context"

	"github.com/offlinehq/nostrcache"
)

// User is anything that has a public key.
type User interface {
	GetPublicKey(ctx context.Context) (string, error)
}

// Signer is a User that can also sign events. SignEvent fills the event's
// ID, PubKey and Sig fields in place.
type Signer interface {
	User
	SignEvent(ctx context.Context, evt *nostrcache.Event) error
}
