package relay

import "errors"

var (
	ErrScopeRequired      = errors.New("relay: scope required")
	ErrContextRequired    = errors.New("relay: local context required")
	ErrTransportRequired  = errors.New("relay: transport required")
	ErrRouterRequired     = errors.New("relay: router required")
	ErrHandshakeExhausted = errors.New("relay: handshake attempts exhausted")
	ErrClosed             = errors.New("relay: transport closed")
	ErrAlreadyStarted     = errors.New("relay: listener already started")
)
