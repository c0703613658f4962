package bridge

import "errors"

var (
	ErrLocalEndpointRequired = errors.New("bridge: local endpoint required")
	ErrNoRoute               = errors.New("bridge: no route to destination")
	ErrInvalidMessageID      = errors.New("bridge: invalid message id")
	ErrNilHandler            = errors.New("bridge: nil handler")
	ErrDuplicateTransaction  = errors.New("bridge: duplicate transaction id")
	ErrInvalidTransactionID  = errors.New("bridge: invalid transaction id")
	ErrHandlerPanic          = errors.New("bridge: handler panic")
)
