package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/protocol/errwire"
	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
)

func TestNewMessageShape(t *testing.T) {
	testlog.Start(t)
	dest := endpoint.MustParse("window@3")
	env := NewMessage("ping", map[string]any{"n": 1}, endpoint.New(endpoint.Background), &dest)
	if env.TransactionID == "" || env.MessageType != TypeMessage {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Hops == nil || len(env.Hops) != 0 {
		t.Fatalf("expected empty hop trail, got %#v", env.Hops)
	}
	dest.TabID = 9
	if env.Destination.TabID != 3 {
		t.Fatalf("destination aliases caller value")
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	other := NewMessage("ping", nil, endpoint.New(endpoint.Background), nil)
	if other.TransactionID == env.TransactionID {
		t.Fatalf("transaction ids must not repeat")
	}
}

func TestWithHopDoesNotMutateInput(t *testing.T) {
	testlog.Start(t)
	env := NewMessage("ping", nil, endpoint.New(endpoint.Popup), nil)
	stepped := env.WithHop("popup::a")
	if len(env.Hops) != 0 {
		t.Fatalf("input hops mutated: %v", env.Hops)
	}
	if !stepped.Visited("popup::a") || env.Visited("popup::a") {
		t.Fatalf("unexpected visited state")
	}
	again := stepped.WithHop("popup::a")
	if len(again.Hops) != 1 {
		t.Fatalf("identity appended twice: %v", again.Hops)
	}
	next := stepped.WithHop("background::b")
	if len(next.Hops) != 2 || next.Hops[0] != "popup::a" || next.Hops[1] != "background::b" {
		t.Fatalf("unexpected hop order: %v", next.Hops)
	}
	if len(stepped.Hops) != 1 {
		t.Fatalf("sibling step mutated previous value: %v", stepped.Hops)
	}
}

func TestWithDestination(t *testing.T) {
	testlog.Start(t)
	dest := endpoint.MustParse("content-script@1")
	env := NewMessage("ping", nil, endpoint.New(endpoint.Background), &dest)
	local := env.WithDestination(nil)
	if local.Destination != nil {
		t.Fatalf("expected cleared destination")
	}
	if env.Destination == nil {
		t.Fatalf("input destination cleared")
	}
}

func TestNewReply(t *testing.T) {
	testlog.Start(t)
	req := NewMessage("ping", "hi", endpoint.MustParse("content-script@4"), endpoint.New(endpoint.Background).Ptr())
	req = req.WithHop("content-script::x").WithHop("background::y")
	local := endpoint.New(endpoint.Background)

	ok := NewReply(req, local, "pong", nil)
	if ok.TransactionID != req.TransactionID || ok.MessageType != TypeReply {
		t.Fatalf("unexpected reply: %+v", ok)
	}
	if !ok.Origin.Same(local) || ok.Destination == nil || !ok.Destination.Same(req.Origin) {
		t.Fatalf("unexpected reply addressing: %+v", ok)
	}
	if len(ok.Hops) != 0 {
		t.Fatalf("reply must start a fresh hop trail: %v", ok.Hops)
	}
	if ok.Data != "pong" || ok.Failed() {
		t.Fatalf("unexpected success payload: %+v", ok)
	}

	failed := NewReply(req, local, "ignored", errwire.Serialize(errors.New("boom")))
	if !failed.Failed() || failed.Data != nil {
		t.Fatalf("failed reply must carry only err: %+v", failed)
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	base := NewMessage("ping", nil, endpoint.New(endpoint.Background), nil)
	cases := map[string]func(*Envelope){
		"missing tx":      func(e *Envelope) { e.TransactionID = "" },
		"missing id":      func(e *Envelope) { e.MessageID = " " },
		"bad type":        func(e *Envelope) { e.MessageType = "event" },
		"bad origin":      func(e *Envelope) { e.Origin = endpoint.Endpoint{Context: "sidebar"} },
		"bad destination": func(e *Envelope) { e.Destination = &endpoint.Endpoint{Context: "x"} },
		"err on message":  func(e *Envelope) { e.Err = &errwire.Record{Name: "Error"} },
	}
	for name, mutate := range cases {
		env := base.Clone()
		mutate(&env)
		if err := env.Validate(); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", name, err)
		}
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	testlog.Start(t)
	env := NewMessage("ping", map[string]any{"n": 1}, endpoint.MustParse("window@2"), nil)
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"transactionId", "messageID", "messageType", "origin", "destination", "data", "hops", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing wire field %q in %s", key, b)
		}
	}
	if raw["destination"] != nil {
		t.Fatalf("expected null destination, got %#v", raw["destination"])
	}
	origin := raw["origin"].(map[string]any)
	if origin["context"] != "window" || origin["tabId"] != float64(2) {
		t.Fatalf("unexpected origin: %#v", origin)
	}
}

func TestEnvelopeCBORRoundTrip(t *testing.T) {
	testlog.Start(t)
	dest := endpoint.MustParse("content-script@5")
	in := NewMessage("ping", map[string]any{"n": 1}, endpoint.New(endpoint.Background), &dest).WithHop("background::a")
	var out Envelope
	if err := codec.Clone(codec.CBOR(), in, &out); err != nil {
		t.Fatalf("clone: %v", err)
	}
	if out.TransactionID != in.TransactionID || !out.Destination.Same(dest) || !out.Visited("background::a") {
		t.Fatalf("unexpected clone: %+v", out)
	}
	data := out.Data.(map[string]any)
	if data["n"] != uint64(1) {
		t.Fatalf("unexpected data: %#v", out.Data)
	}
}
