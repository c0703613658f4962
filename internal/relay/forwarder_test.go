package relay

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
)

func testEnvelope() protocol.Envelope {
	dest := endpoint.New(endpoint.Background)
	return protocol.NewMessage("ping", map[string]any{"n": 1}, endpoint.MustParse("content-script@1"), &dest)
}

func TestForwardRequiresScope(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	f, err := NewForwarder(tr, Config{Context: endpoint.ContentScript})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if err := f.Forward(context.Background(), testEnvelope()); !errors.Is(err, ErrScopeRequired) {
		t.Fatalf("expected ErrScopeRequired, got %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("nothing may be sent without a scope, got %d", len(tr.sent))
	}
}

func TestNewForwarderValidates(t *testing.T) {
	testlog.Start(t)
	if _, err := NewForwarder(nil, Config{Context: endpoint.Popup}); !errors.Is(err, ErrTransportRequired) {
		t.Fatalf("expected ErrTransportRequired, got %v", err)
	}
	if _, err := NewForwarder(newFakeTransport(), Config{Scope: "s"}); !errors.Is(err, ErrContextRequired) {
		t.Fatalf("expected ErrContextRequired, got %v", err)
	}
}

func TestForwardDeliversAfterAck(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	tr.answerProbes()
	f, err := NewForwarder(tr, Config{Scope: "ext", Context: endpoint.ContentScript, HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	env := testEnvelope()
	if err := f.Forward(context.Background(), env); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := tr.count(protocol.CmdVerifyListening); got != 1 {
		t.Fatalf("expected 1 probe, got %d", got)
	}
	if got := tr.count(protocol.CmdRouteMessage); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	last := tr.sent[len(tr.sent)-1]
	if last.Scope != "ext" || last.Context != endpoint.ContentScript || last.Payload.TransactionID != env.TransactionID {
		t.Fatalf("unexpected delivery: %+v", last)
	}
}

func TestForwardRetriesAfterTimeoutWithSingleDelivery(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	tr.dropProbes = 1
	tr.answerProbes()
	f, err := NewForwarder(tr, Config{Scope: "ext", Context: endpoint.ContentScript, HandshakeTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if err := f.Forward(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := tr.count(protocol.CmdVerifyListening); got != 2 {
		t.Fatalf("expected 2 probes, got %d", got)
	}
	if got := tr.count(protocol.CmdRouteMessage); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}
}

func TestForwardMaxAttempts(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	f, err := NewForwarder(tr, Config{
		Scope:            "ext",
		Context:          endpoint.Window,
		HandshakeTimeout: 5 * time.Millisecond,
		MaxAttempts:      3,
	})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	if err := f.Forward(context.Background(), testEnvelope()); !errors.Is(err, ErrHandshakeExhausted) {
		t.Fatalf("expected ErrHandshakeExhausted, got %v", err)
	}
	if got := tr.count(protocol.CmdVerifyListening); got != 3 {
		t.Fatalf("expected 3 probes, got %d", got)
	}
	if got := tr.count(protocol.CmdRouteMessage); got != 0 {
		t.Fatalf("expected no delivery, got %d", got)
	}
}

func TestForwardStopsWhenContextEnds(t *testing.T) {
	testlog.Start(t)
	tr := newFakeTransport()
	f, err := NewForwarder(tr, Config{
		Scope:            "ext",
		Context:          endpoint.Window,
		HandshakeTimeout: 5 * time.Millisecond,
		RetryBackoff:     BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := f.Forward(ctx, testEnvelope()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if tr.count(protocol.CmdVerifyListening) < 2 {
		t.Fatalf("expected repeated probes before cancellation")
	}
	if tr.count(protocol.CmdRouteMessage) != 0 {
		t.Fatalf("unexpected delivery")
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1: %v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3: %v", got)
	}
	if got := NextBackoffDelay(cfg, 9, nil); got != 5*time.Second {
		t.Fatalf("attempt9: %v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config should not pause: %v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: true}
	got := NextBackoffDelay(cfg, 2, rand.New(rand.NewSource(7)))
	if got < 100*time.Millisecond || got > 300*time.Millisecond {
		t.Fatalf("jittered delay out of range: %v", got)
	}
}
