package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
)

func TestProbeAndDeliveryValidate(t *testing.T) {
	testlog.Start(t)
	probe := NewProbe("app", endpoint.Window)
	if err := probe.Validate(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	env := NewMessage("ping", nil, endpoint.New(endpoint.Window), nil)
	delivery := NewDelivery("app", endpoint.Window, env)
	if err := delivery.Validate(); err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if delivery.Payload.TransactionID != env.TransactionID {
		t.Fatalf("payload mismatch")
	}
}

func TestRelayValidateRejects(t *testing.T) {
	testlog.Start(t)
	cases := []RelayMessage{
		{Cmd: "hello", Scope: "app", Context: endpoint.Window},
		{Cmd: CmdVerifyListening, Scope: "", Context: endpoint.Window},
		{Cmd: CmdVerifyListening, Scope: "app", Context: "tab"},
		{Cmd: CmdRouteMessage, Scope: "app", Context: endpoint.Window},
	}
	for i, msg := range cases {
		if err := msg.Validate(); !errors.Is(err, ErrInvalidRelayMessage) {
			t.Fatalf("case %d: expected ErrInvalidRelayMessage, got %v", i, err)
		}
	}
}

func TestParseRelayMessageForms(t *testing.T) {
	testlog.Start(t)
	env := NewMessage("ping", map[string]any{"n": 1}, endpoint.New(endpoint.ContentScript), nil)
	msg := NewDelivery("app", endpoint.ContentScript, env)
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for name, raw := range map[string]any{"typed": msg, "pointer": &msg, "bytes": b, "string": string(b), "map": generic} {
		got, err := ParseRelayMessage(raw)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.Cmd != CmdRouteMessage || got.Payload == nil || got.Payload.TransactionID != env.TransactionID {
			t.Fatalf("%s: unexpected message: %+v", name, got)
		}
	}
}

func TestParseRelayMessageIgnoresForeignTraffic(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []any{nil, 42, "hello", map[string]any{"type": "other"}, []byte("{}")} {
		if _, err := ParseRelayMessage(raw); !errors.Is(err, ErrNotRelayMessage) {
			t.Fatalf("raw %#v: expected ErrNotRelayMessage, got %v", raw, err)
		}
	}
}
