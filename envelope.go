package nostrcache

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

// ErrUnknownLabel is returned by ParseMessage for frames whose first element
// is not one of the labels this client consumes.
var ErrUnknownLabel = errors.New("unknown envelope label")

// Envelope is one wire frame exchanged with a relay. Only the frames a client
// consumes or produces are modeled here.
type Envelope interface {
	Label() string
}

// ParseMessage parses a relay->client frame.
func ParseMessage(message []byte) (Envelope, error) {
	firstComma := gjson.GetBytes(message, "0")
	if firstComma.Type != gjson.String {
		return nil, fmt.Errorf("malformed frame: %.80s", message)
	}

	var arr []jsoniter.RawMessage
	if err := json.Unmarshal(message, &arr); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch label := firstComma.Str; label {
	case "EVENT":
		if len(arr) < 3 {
			return nil, fmt.Errorf("EVENT frame missing items")
		}
		env := &EventEnvelope{}
		if err := json.Unmarshal(arr[1], &env.SubscriptionID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &env.Event); err != nil {
			return nil, err
		}
		return env, nil
	case "EOSE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("EOSE frame missing items")
		}
		var env EOSEEnvelope
		if err := json.Unmarshal(arr[1], (*string)(&env)); err != nil {
			return nil, err
		}
		return &env, nil
	case "CLOSED":
		if len(arr) < 3 {
			return nil, fmt.Errorf("CLOSED frame missing items")
		}
		env := &ClosedEnvelope{}
		if err := json.Unmarshal(arr[1], &env.SubscriptionID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &env.Reason); err != nil {
			return nil, err
		}
		return env, nil
	case "NOTICE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("NOTICE frame missing items")
		}
		var env NoticeEnvelope
		if err := json.Unmarshal(arr[1], (*string)(&env)); err != nil {
			return nil, err
		}
		return &env, nil
	case "OK":
		if len(arr) < 4 {
			return nil, fmt.Errorf("OK frame missing items")
		}
		env := &OKEnvelope{}
		if err := json.Unmarshal(arr[1], &env.EventID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &env.OK); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[3], &env.Reason); err != nil {
			return nil, err
		}
		return env, nil
	default:
		return nil, ErrUnknownLabel
	}
}

// extractSubID cheaply pulls the subscription id out of an EVENT frame so
// duplicates can be dropped before a full parse.
func extractSubID(message []byte) string {
	return gjson.GetBytes(message, "1").Str
}

// extractEventID cheaply pulls the event id out of an EVENT frame.
func extractEventID(message []byte) string {
	return gjson.GetBytes(message, "2.id").Str
}

// isEventMessage reports whether the frame is an EVENT without parsing it.
func isEventMessage(message []byte) bool {
	return gjson.GetBytes(message, "0").Str == "EVENT"
}

// EventEnvelope is an "EVENT" frame. SubscriptionID is empty for the
// client->relay publication form.
type EventEnvelope struct {
	SubscriptionID string
	Event          Event
}

func (EventEnvelope) Label() string { return "EVENT" }

func (env EventEnvelope) MarshalJSON() ([]byte, error) {
	if env.SubscriptionID == "" {
		return json.Marshal([]any{"EVENT", env.Event})
	}
	return json.Marshal([]any{"EVENT", env.SubscriptionID, env.Event})
}

// EOSEEnvelope is the end-of-stored-events marker for a subscription id.
type EOSEEnvelope string

func (EOSEEnvelope) Label() string { return "EOSE" }

// ClosedEnvelope tells the client a subscription was closed by the relay.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (ClosedEnvelope) Label() string { return "CLOSED" }

// NoticeEnvelope is a human-readable message from the relay.
type NoticeEnvelope string

func (NoticeEnvelope) Label() string { return "NOTICE" }

// OKEnvelope is the relay's response to a published event.
type OKEnvelope struct {
	EventID string
	OK      bool
	Reason  string
}

func (OKEnvelope) Label() string { return "OK" }

// ReqEnvelope opens a subscription.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        Filters
}

func (ReqEnvelope) Label() string { return "REQ" }

func (env ReqEnvelope) MarshalJSON() ([]byte, error) {
	arr := make([]any, 0, 2+len(env.Filters))
	arr = append(arr, "REQ", env.SubscriptionID)
	if len(env.Filters) == 0 {
		// an empty group means "everything", which on the wire is one
		// unconstrained filter
		arr = append(arr, Filter{})
	}
	for _, f := range env.Filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

// CloseEnvelope tears down a subscription.
type CloseEnvelope string

func (CloseEnvelope) Label() string { return "CLOSE" }

func (env CloseEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"CLOSE", string(env)})
}
