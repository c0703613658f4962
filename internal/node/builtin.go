package node

import (
	"context"
	"time"

	"github.com/danmuck/ctxbridge/internal/bridge"
)

const (
	MessagePing   = "bridge.ping"
	MessageStatus = "bridge.status"
)

// Pong is the reply to bridge.ping.
type Pong struct {
	Pong      bool      `json:"pong" cbor:"pong"`
	Endpoint  string    `json:"endpoint" cbor:"endpoint"`
	From      string    `json:"from" cbor:"from"`
	Data      any       `json:"data,omitempty" cbor:"data,omitempty"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// Status is the reply to bridge.status and the body of GET /ready.
type Status struct {
	NodeID    string   `json:"node_id" cbor:"node_id"`
	Endpoint  string   `json:"endpoint" cbor:"endpoint"`
	Identity  string   `json:"identity" cbor:"identity"`
	Scope     string   `json:"scope" cbor:"scope"`
	Relay     string   `json:"relay" cbor:"relay"`
	Ready     bool     `json:"ready" cbor:"ready"`
	Listeners []string `json:"listeners" cbor:"listeners"`
	Pending   int      `json:"pending" cbor:"pending"`
	Faults    uint64   `json:"faults" cbor:"faults"`
	Uptime    string   `json:"uptime" cbor:"uptime"`
}

func (s *Service) registerBuiltins() error {
	if err := s.router.OnMessage(MessagePing, s.ping); err != nil {
		return err
	}
	return s.router.OnMessage(MessageStatus, func(context.Context, bridge.Message) (any, error) {
		return s.Status(), nil
	})
}

func (s *Service) ping(_ context.Context, msg bridge.Message) (any, error) {
	return Pong{
		Pong:      true,
		Endpoint:  s.local.String(),
		From:      msg.Sender.String(),
		Data:      msg.Data,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *Service) Status() Status {
	return Status{
		NodeID:    s.cfg.NodeID,
		Endpoint:  s.local.String(),
		Identity:  s.router.Identity(),
		Scope:     s.cfg.Scope,
		Relay:     string(s.cfg.Relay.Kind),
		Ready:     s.ready.Load(),
		Listeners: s.router.Listeners().IDs(),
		Pending:   s.router.Transactions().Len(),
		Faults:    s.faults.Load(),
		Uptime:    time.Since(s.appeared).Round(time.Second).String(),
	}
}
