package relay

import (
	"context"
	"sync"

	"github.com/danmuck/ctxbridge/internal/bridge"
	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/google/uuid"
)

type fakeChannel struct {
	id     string
	acks   chan bool
	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) ID() string        { return c.id }
func (c *fakeChannel) Acks() <-chan bool { return c.acks }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePort struct{ ch *fakeChannel }

func (p fakePort) Post(_ context.Context, ack bool) error {
	p.ch.mu.Lock()
	defer p.ch.mu.Unlock()
	if p.ch.closed {
		return ErrClosed
	}
	select {
	case p.ch.acks <- ack:
	default:
	}
	return nil
}

// fakeTransport fans broadcasts out to subscribers on their own goroutines.
// The first dropProbes probes are lost.
type fakeTransport struct {
	mu         sync.Mutex
	subs       map[int]func(Inbound)
	next       int
	sent       []protocol.RelayMessage
	dropProbes int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[int]func(Inbound))}
}

func (t *fakeTransport) OpenChannel(context.Context) (Channel, error) {
	return &fakeChannel{id: uuid.NewString(), acks: make(chan bool, 1)}, nil
}

func (t *fakeTransport) Broadcast(_ context.Context, msg protocol.RelayMessage, ch Channel) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	if msg.Cmd == protocol.CmdVerifyListening && t.dropProbes > 0 {
		t.dropProbes--
		t.mu.Unlock()
		return nil
	}
	subs := make([]func(Inbound), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	in := Inbound{Message: msg}
	if fc, ok := ch.(*fakeChannel); ok {
		in.Ports = []Port{fakePort{ch: fc}}
	}
	for _, fn := range subs {
		go fn(in)
	}
	return nil
}

func (t *fakeTransport) Subscribe(fn func(Inbound)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}, nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) count(cmd protocol.RelayCommand) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, msg := range t.sent {
		if msg.Cmd == cmd {
			n++
		}
	}
	return n
}

// answerProbes subscribes a bare peer that acknowledges every probe.
func (t *fakeTransport) answerProbes() {
	_, _ = t.Subscribe(func(in Inbound) {
		msg, ok := in.Message.(protocol.RelayMessage)
		if !ok || msg.Cmd != protocol.CmdVerifyListening {
			return
		}
		for _, p := range in.Ports {
			_ = p.Post(context.Background(), true)
		}
	})
}

type routed struct {
	env protocol.Envelope
}

type stubRouter struct {
	local      endpoint.Endpoint
	forwarders map[endpoint.Context]bridge.Forwarder
	routeErr   error
	routes     chan routed
	faults     chan error
}

func newStubRouter(raw string) *stubRouter {
	return &stubRouter{
		local:      endpoint.MustParse(raw),
		forwarders: make(map[endpoint.Context]bridge.Forwarder),
		routes:     make(chan routed, 8),
		faults:     make(chan error, 8),
	}
}

func (r *stubRouter) Local() endpoint.Endpoint { return r.local }

func (r *stubRouter) Route(_ context.Context, env protocol.Envelope) error {
	r.routes <- routed{env: env}
	return r.routeErr
}

func (r *stubRouter) Forwarder(c endpoint.Context) (bridge.Forwarder, bool) {
	f, ok := r.forwarders[c]
	return f, ok
}

// nopForwarder stands in for a forwarder into another relay segment.
var nopForwarder = bridge.ForwarderFunc(func(context.Context, protocol.Envelope) error { return nil })

func (r *stubRouter) ReportFault(_ protocol.Envelope, err error) { r.faults <- err }
