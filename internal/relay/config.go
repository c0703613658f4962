package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
)

const DefaultHandshakeTimeout = 100 * time.Millisecond

// Config is shared by the Forwarder and Listener of one context.
type Config struct {
	// Scope is the namespace shared by every party on the relay.
	Scope string
	// Context is the local context kind; probes and deliveries carrying it are ignored.
	Context          endpoint.Context
	HandshakeTimeout time.Duration
	// MaxAttempts caps handshake attempts per forward; zero retries until ctx ends.
	MaxAttempts  int
	RetryBackoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

func (c Config) withDefaults() Config {
	c.Scope = strings.TrimSpace(c.Scope)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

func (c Config) validate() error {
	if !c.Context.Valid() {
		return fmt.Errorf("%w: %q", ErrContextRequired, c.Context)
	}
	return nil
}
