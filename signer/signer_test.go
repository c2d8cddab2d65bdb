package signer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/signer"
)

func TestManualSignerDelegates(t *testing.T) {
	ms := signer.ManualSigner{
		ManualGetPublicKey: func(context.Context) (string, error) {
			return "alice-pk", nil
		},
		ManualSignEvent: func(_ context.Context, evt *nostrcache.Event) error {
			evt.ID = "signed-id"
			evt.PubKey = "alice-pk"
			evt.Sig = "signature"
			return nil
		},
	}

	pk, err := ms.GetPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-pk", pk)

	evt := nostrcache.Event{Kind: nostrcache.KindTextNote, Content: "hello"}
	require.NoError(t, ms.SignEvent(context.Background(), &evt))
	assert.Equal(t, "signed-id", evt.ID)
	assert.Equal(t, "signature", evt.Sig)
}

func TestReadOnlySignerCannotSign(t *testing.T) {
	ros := signer.NewReadOnlySigner("bob-pk")

	pk, err := ros.GetPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob-pk", pk)

	evt := nostrcache.Event{}
	assert.Error(t, ros.SignEvent(context.Background(), &evt))
}
