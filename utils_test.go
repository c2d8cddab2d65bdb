package nostrcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"wss://relay.example", "wss://relay.example"},
		{"wss://relay.example/", "wss://relay.example"},
		{"WSS://Relay.Example/", "wss://relay.example"},
		{"relay.example", "wss://relay.example"},
		{"relay.example/path/", "wss://relay.example/path"},
		{"https://relay.example", "wss://relay.example"},
		{"http://relay.example", "ws://relay.example"},
		{"localhost:7447", "ws://localhost:7447"},
		{"127.0.0.1:7447", "ws://127.0.0.1:7447"},
		{"  wss://relay.example  ", "wss://relay.example"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestSubIDToSerial(t *testing.T) {
	assert.EqualValues(t, 42, subIDToSerial("42:query"))
	assert.EqualValues(t, 7, subIDToSerial("7"))
	assert.EqualValues(t, 0, subIDToSerial("query"))
	assert.EqualValues(t, 0, subIDToSerial(""))
}
