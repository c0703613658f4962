package wsrelay

import "errors"

var (
	ErrURLRequired  = errors.New("wsrelay: url required")
	ErrSlowConsumer = errors.New("wsrelay: client send queue full")
)
