package protocol

import "errors"

var (
	ErrInvalidEnvelope     = errors.New("protocol: invalid envelope")
	ErrInvalidRelayMessage = errors.New("protocol: invalid relay message")
	ErrNotRelayMessage     = errors.New("protocol: not a relay message")
)
