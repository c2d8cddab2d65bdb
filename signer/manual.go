package signer

import (
	"context"

	"github.com/offlinehq/nostrcache"
)

var _ Signer = (*ManualSigner)(nil)

// ManualSigner is a signer that delegates all operations to user-provided
// functions. It can be used when an app wants to ask the user or some custom
// server to provide a signed event by copy-and-paste, for example, or when
// the app wants to implement custom signing logic.
type ManualSigner struct {
	// ManualGetPublicKey is called when the public key is needed
	ManualGetPublicKey func(context.Context) (string, error)

	// ManualSignEvent is called when an event needs to be signed
	ManualSignEvent func(context.Context, *nostrcache.Event) error
}

// SignEvent delegates event signing to the ManualSignEvent function.
func (ms ManualSigner) SignEvent(ctx context.Context, evt *nostrcache.Event) error {
	return ms.ManualSignEvent(ctx, evt)
}

// GetPublicKey delegates public key retrieval to the ManualGetPublicKey function.
func (ms ManualSigner) GetPublicKey(ctx context.Context) (string, error) {
	return ms.ManualGetPublicKey(ctx)
}
