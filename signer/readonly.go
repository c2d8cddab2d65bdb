package signer

import (
	"context"
	"fmt"

	"github.com/offlinehq/nostrcache"
)

var (
	_ User   = (*ReadOnlyUser)(nil)
	_ Signer = (*ReadOnlySigner)(nil)
)

// ReadOnlyUser is a User that has this public key
type ReadOnlyUser struct {
	pk string
}

func NewReadOnlyUser(pk string) ReadOnlyUser {
	return ReadOnlyUser{pk}
}

// GetPublicKey returns the public key associated with this user.
func (rou ReadOnlyUser) GetPublicKey(context.Context) (string, error) {
	return rou.pk, nil
}

// ReadOnlySigner is like a ReadOnlyUser, but satisfies Signer with a
// SignEvent that always fails.
type ReadOnlySigner struct {
	pk string
}

func NewReadOnlySigner(pk string) ReadOnlySigner {
	return ReadOnlySigner{pk}
}

// SignEvent returns an error.
func (ros ReadOnlySigner) SignEvent(context.Context, *nostrcache.Event) error {
	return fmt.Errorf("read-only, we don't have the secret key, cannot sign")
}

// GetPublicKey returns the public key associated with this signer.
func (ros ReadOnlySigner) GetPublicKey(context.Context) (string, error) {
	return ros.pk, nil
}
