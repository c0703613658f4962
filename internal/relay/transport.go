package relay

import (
	"context"

	"github.com/danmuck/ctxbridge/internal/protocol"
)

// Channel is the opening side of a private two-way signaling channel.
// Acknowledgments posted on the far end arrive on Acks.
type Channel interface {
	ID() string
	Acks() <-chan bool
	Close() error
}

// Port is the far end of a Channel as seen by a receiver of a broadcast.
type Port interface {
	Post(ctx context.Context, ack bool) error
}

// Inbound is one relay message as delivered to subscribers. Message is the
// raw decoded payload and may be unrelated traffic sharing the relay.
type Inbound struct {
	Message any
	Ports   []Port
}

// Transport is a broadcast relay shared by several contexts.
type Transport interface {
	// OpenChannel creates a private channel whose port can be attached to a broadcast.
	OpenChannel(ctx context.Context) (Channel, error)
	// Broadcast sends msg to every subscriber, attaching the port of ch when ch is non-nil.
	Broadcast(ctx context.Context, msg protocol.RelayMessage, ch Channel) error
	// Subscribe registers fn for every inbound relay message and returns the
	// function that removes it.
	Subscribe(fn func(Inbound)) (func(), error)
	Close() error
}
