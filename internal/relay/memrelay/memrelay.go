// Package memrelay is an in-process relay backed by an event bus.
//
// Every attached subscriber receives each broadcast, the sender included.
// Messages are structurally cloned through a codec on the way, so receivers
// see decoded maps rather than the sender's values.
package memrelay

import (
	"context"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	memberTopicPrefix = "ctxbridge:member:"
	portTopicPrefix   = "ctxbridge:port:"
)

// Bus is one shared relay. Contexts attach to it to obtain a Transport.
type Bus struct {
	bus   evbus.Bus
	codec codec.Codec
	log   zerolog.Logger

	mu      sync.RWMutex
	members map[string]struct{}
}

// New returns an empty relay cloning messages through c (JSON when nil).
func New(c codec.Codec) *Bus {
	if c == nil {
		c = codec.JSON()
	}
	return &Bus{
		bus:     evbus.New(),
		codec:   c,
		log:     logging.Component("memrelay"),
		members: make(map[string]struct{}),
	}
}

// Attach returns a Transport on this relay.
func (b *Bus) Attach() *Transport {
	return &Transport{
		bus:  b,
		subs: make(map[string]func([]byte, []string)),
	}
}

// Wait blocks until in-flight deliveries have been handed to subscribers.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// Members is the number of live subscriptions.
func (b *Bus) Members() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

func (b *Bus) publish(payload []byte, ports []string) {
	b.mu.RLock()
	topics := make([]string, 0, len(b.members))
	for id := range b.members {
		topics = append(topics, memberTopicPrefix+id)
	}
	b.mu.RUnlock()
	for _, topic := range topics {
		b.bus.Publish(topic, payload, ports)
	}
}

// Transport is one context's view of a Bus.
type Transport struct {
	bus *Bus

	mu     sync.Mutex
	closed bool
	subs   map[string]func([]byte, []string)
}

func (t *Transport) OpenChannel(ctx context.Context) (relay.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.isClosed() {
		return nil, relay.ErrClosed
	}
	ch := &channel{
		bus:  t.bus,
		id:   uuid.NewString(),
		acks: make(chan bool, 1),
	}
	ch.handler = func(ack bool) {
		select {
		case ch.acks <- ack:
		default:
		}
	}
	if err := t.bus.bus.SubscribeAsync(portTopicPrefix+ch.id, ch.handler, false); err != nil {
		return nil, err
	}
	return ch, nil
}

func (t *Transport) Broadcast(ctx context.Context, msg protocol.RelayMessage, ch relay.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return relay.ErrClosed
	}
	payload, err := t.bus.codec.Marshal(msg)
	if err != nil {
		return err
	}
	ports := []string{}
	if ch != nil {
		ports = append(ports, ch.ID())
	}
	t.bus.publish(payload, ports)
	return nil
}

func (t *Transport) Subscribe(fn func(relay.Inbound)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, relay.ErrClosed
	}
	id := uuid.NewString()
	handler := func(payload []byte, portIDs []string) {
		var decoded any
		if err := t.bus.codec.Unmarshal(payload, &decoded); err != nil {
			t.bus.log.Debug().Err(err).Msg("memrelay.Transport.Subscribe undecodable payload dropped")
			return
		}
		in := relay.Inbound{Message: decoded}
		for _, pid := range portIDs {
			in.Ports = append(in.Ports, port{bus: t.bus, id: pid})
		}
		fn(in)
	}
	if err := t.bus.bus.SubscribeAsync(memberTopicPrefix+id, handler, false); err != nil {
		return nil, err
	}
	t.subs[id] = handler
	t.bus.mu.Lock()
	t.bus.members[id] = struct{}{}
	t.bus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.unsubscribeLocked(id)
		})
	}, nil
}

func (t *Transport) unsubscribeLocked(id string) {
	handler, ok := t.subs[id]
	if !ok {
		return
	}
	delete(t.subs, id)
	t.bus.mu.Lock()
	delete(t.bus.members, id)
	t.bus.mu.Unlock()
	_ = t.bus.bus.Unsubscribe(memberTopicPrefix+id, handler)
}

// Close detaches every subscription made through t.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for id := range t.subs {
		t.unsubscribeLocked(id)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type channel struct {
	bus     *Bus
	id      string
	acks    chan bool
	handler func(bool)
	once    sync.Once
}

func (c *channel) ID() string        { return c.id }
func (c *channel) Acks() <-chan bool { return c.acks }

func (c *channel) Close() error {
	c.once.Do(func() {
		_ = c.bus.bus.Unsubscribe(portTopicPrefix+c.id, c.handler)
	})
	return nil
}

type port struct {
	bus *Bus
	id  string
}

// Post answers on the opener's channel. A closed channel yields relay.ErrClosed.
func (p port) Post(ctx context.Context, ack bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := portTopicPrefix + p.id
	if !p.bus.bus.HasCallback(topic) {
		return relay.ErrClosed
	}
	p.bus.bus.Publish(topic, ack)
	return nil
}
