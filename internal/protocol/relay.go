package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/ctxbridge/internal/endpoint"
)

// RelayMessage is what travels on the shared relay: either a listening probe
// or a delivery wrapping one envelope.
type RelayMessage struct {
	Cmd     RelayCommand     `json:"cmd"`
	Scope   string           `json:"scope"`
	Context endpoint.Context `json:"context"`
	Payload *Envelope        `json:"payload,omitempty"`
}

// NewProbe asks whether a listener of scope in another context exists.
func NewProbe(scope string, from endpoint.Context) RelayMessage {
	return RelayMessage{
		Cmd:     CmdVerifyListening,
		Scope:   scope,
		Context: from,
	}
}

// NewDelivery wraps env for the relay.
func NewDelivery(scope string, from endpoint.Context, env Envelope) RelayMessage {
	payload := env.Clone()
	return RelayMessage{
		Cmd:     CmdRouteMessage,
		Scope:   scope,
		Context: from,
		Payload: &payload,
	}
}

func (m RelayMessage) Validate() error {
	switch m.Cmd {
	case CmdVerifyListening:
	case CmdRouteMessage:
		if m.Payload == nil {
			return fmt.Errorf("%w: route-message without payload", ErrInvalidRelayMessage)
		}
		if err := m.Payload.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRelayMessage, err)
		}
	default:
		return fmt.Errorf("%w: unknown cmd %q", ErrInvalidRelayMessage, m.Cmd)
	}
	if strings.TrimSpace(m.Scope) == "" {
		return fmt.Errorf("%w: missing scope", ErrInvalidRelayMessage)
	}
	if !m.Context.Valid() {
		return fmt.Errorf("%w: unknown context %q", ErrInvalidRelayMessage, m.Context)
	}
	return nil
}

// ParseRelayMessage turns a raw relay payload into a validated relay message.
// Relays are shared with unrelated traffic, so anything that is not shaped
// like a relay message yields ErrNotRelayMessage.
func ParseRelayMessage(raw any) (RelayMessage, error) {
	var msg RelayMessage
	switch v := raw.(type) {
	case RelayMessage:
		msg = v
	case *RelayMessage:
		if v == nil {
			return RelayMessage{}, ErrNotRelayMessage
		}
		msg = *v
	case []byte:
		if err := json.Unmarshal(v, &msg); err != nil {
			return RelayMessage{}, fmt.Errorf("%w: %v", ErrNotRelayMessage, err)
		}
	case string:
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return RelayMessage{}, fmt.Errorf("%w: %v", ErrNotRelayMessage, err)
		}
	case map[string]any:
		if _, ok := v["cmd"]; !ok {
			return RelayMessage{}, ErrNotRelayMessage
		}
		b, err := json.Marshal(v)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("%w: %v", ErrNotRelayMessage, err)
		}
		if err := json.Unmarshal(b, &msg); err != nil {
			return RelayMessage{}, fmt.Errorf("%w: %v", ErrNotRelayMessage, err)
		}
	default:
		return RelayMessage{}, ErrNotRelayMessage
	}
	if msg.Cmd == "" {
		return RelayMessage{}, ErrNotRelayMessage
	}
	if err := msg.Validate(); err != nil {
		return RelayMessage{}, err
	}
	return msg, nil
}
