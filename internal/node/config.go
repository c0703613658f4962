package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/danmuck/ctxbridge/internal/relay/redisrelay"
	"github.com/danmuck/ctxbridge/internal/relay/wsrelay"
)

var (
	ErrNodeIDRequired           = errors.New("node: node id required")
	ErrInvalidHeartbeatInterval = errors.New("node: invalid heartbeat interval")
	ErrUnknownRelayKind         = errors.New("node: unknown relay kind")
	ErrInvalidPeer              = errors.New("node: invalid peer context")
	ErrNotStarted               = errors.New("node: service not started")
)

// RelayKind selects the relay transport.
type RelayKind string

// RelayMemory dials a private in-process bus. A node started from config with
// it reaches only its own context; peers sharing a bus must be built with
// NewServiceWithTransport over one memrelay.Bus.
const (
	RelayMemory    RelayKind = "memory"
	RelayWebsocket RelayKind = "websocket"
	RelayRedis     RelayKind = "redis"
)

// RelayConfig selects and configures the relay transport.
type RelayConfig struct {
	Kind  RelayKind
	Codec string

	// websocket
	URL string
	TLS *wsrelay.ClientTLS

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// ServiceConfig configures one bridge node.
type ServiceConfig struct {
	NodeID string
	// Endpoint is the local address, context[@tabId].
	Endpoint string
	// Scope is the relay namespace shared with peers.
	Scope string
	// Peers are the contexts reached through the relay.
	Peers []string
	Relay RelayConfig

	HandshakeTimeout time.Duration
	MaxAttempts      int
	RetryBackoff     relay.BackoffConfig

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	AdminListenAddr   string
	CORSOrigins       []string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:   "bridge.local",
		Endpoint: string(endpoint.Background),
		Scope:    "",
		Peers:    []string{},
		Relay: RelayConfig{
			Kind:        RelayMemory,
			Codec:       "json",
			RedisPrefix: redisrelay.DefaultPrefix,
		},
		HandshakeTimeout:  relay.DefaultHandshakeTimeout,
		MaxAttempts:       0,
		RequestTimeout:    10 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		AdminListenAddr:   "",
		CORSOrigins:       []string{"http://localhost:3000"},
	}
}

// Validate checks static configuration. An empty scope is accepted here and
// reported by the forwarder when the first message crosses the relay.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return ErrNodeIDRequired
	}
	if _, err := endpoint.Parse(c.Endpoint); err != nil {
		return err
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if _, err := c.peerContexts(); err != nil {
		return err
	}
	if _, err := codec.Default().Lookup(c.Relay.Codec); err != nil {
		return err
	}
	switch c.Relay.Kind {
	case RelayMemory:
	case RelayWebsocket:
		if strings.TrimSpace(c.Relay.URL) == "" {
			return wsrelay.ErrURLRequired
		}
		if c.Relay.TLS != nil {
			if err := c.Relay.TLS.Validate(); err != nil {
				return err
			}
		}
	case RelayRedis:
		if strings.TrimSpace(c.Relay.RedisAddr) == "" {
			return redisrelay.ErrAddrRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRelayKind, c.Relay.Kind)
	}
	return nil
}

func (c ServiceConfig) peerContexts() ([]endpoint.Context, error) {
	out := make([]endpoint.Context, 0, len(c.Peers))
	for _, raw := range c.Peers {
		pc, err := endpoint.ParseContext(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPeer, err)
		}
		out = append(out, pc)
	}
	return out, nil
}
