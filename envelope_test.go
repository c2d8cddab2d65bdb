package nostrcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, env Envelope)
	}{
		{
			name:  "EVENT",
			frame: `["EVENT","1:query",{"id":"abc","pubkey":"alice","created_at":100,"kind":1,"tags":[],"content":"hi","sig":"s"}]`,
			check: func(t *testing.T, env Envelope) {
				ee, ok := env.(*EventEnvelope)
				require.True(t, ok)
				assert.Equal(t, "1:query", ee.SubscriptionID)
				assert.Equal(t, "abc", ee.Event.ID)
			},
		},
		{
			name:  "EOSE",
			frame: `["EOSE","1:query"]`,
			check: func(t *testing.T, env Envelope) {
				eose, ok := env.(*EOSEEnvelope)
				require.True(t, ok)
				assert.Equal(t, "1:query", string(*eose))
			},
		},
		{
			name:  "CLOSED",
			frame: `["CLOSED","1:query","auth-required: do the dance"]`,
			check: func(t *testing.T, env Envelope) {
				ce, ok := env.(*ClosedEnvelope)
				require.True(t, ok)
				assert.Equal(t, "1:query", ce.SubscriptionID)
				assert.Equal(t, "auth-required: do the dance", ce.Reason)
			},
		},
		{
			name:  "NOTICE",
			frame: `["NOTICE","rate limited"]`,
			check: func(t *testing.T, env Envelope) {
				ne, ok := env.(*NoticeEnvelope)
				require.True(t, ok)
				assert.Equal(t, "rate limited", string(*ne))
			},
		},
		{
			name:  "OK",
			frame: `["OK","abc",false,"blocked: spam"]`,
			check: func(t *testing.T, env Envelope) {
				oe, ok := env.(*OKEnvelope)
				require.True(t, ok)
				assert.Equal(t, "abc", oe.EventID)
				assert.False(t, oe.OK)
				assert.Equal(t, "blocked: spam", oe.Reason)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseMessage([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, env)
		})
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	_, err := ParseMessage([]byte(`{"not":"an array"}`))
	assert.Error(t, err)

	_, err = ParseMessage([]byte(`["AUTH","challenge"]`))
	assert.ErrorIs(t, err, ErrUnknownLabel)

	_, err = ParseMessage([]byte(`["EVENT","sub"]`))
	assert.Error(t, err, "EVENT frame without an event")
}

func TestEventEnvelopeMarshal(t *testing.T) {
	evt := Event{ID: "abc", PubKey: "alice", CreatedAt: 100, Kind: KindTextNote}

	withSub, err := json.Marshal(EventEnvelope{SubscriptionID: "9:live", Event: evt})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(withSub), `["EVENT","9:live",`))

	// the publish form carries no subscription id
	published, err := json.Marshal(EventEnvelope{Event: evt})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(published), `["EVENT",{`))
}

func TestReqEnvelopeMarshal(t *testing.T) {
	out, err := json.Marshal(ReqEnvelope{
		SubscriptionID: "3:query",
		Filters:        Filters{{Kinds: []Kind{KindTextNote}, Limit: 5}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["REQ","3:query",{"kinds":[1],"limit":5}]`, string(out))

	// an empty group still puts one unconstrained filter on the wire
	out, err = json.Marshal(ReqEnvelope{SubscriptionID: "4:query"})
	require.NoError(t, err)
	assert.JSONEq(t, `["REQ","4:query",{}]`, string(out))
}

func TestFramePreparsing(t *testing.T) {
	frame := []byte(`["EVENT","7:live",{"id":"deadbeef","kind":1}]`)
	assert.True(t, isEventMessage(frame))
	assert.Equal(t, "7:live", extractSubID(frame))
	assert.Equal(t, "deadbeef", extractEventID(frame))

	assert.False(t, isEventMessage([]byte(`["EOSE","7:live"]`)))
}
