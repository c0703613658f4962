package protocol

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol/errwire"
	"github.com/google/uuid"
)

// Envelope is the unit routed between contexts.
//
// Envelope values are treated as immutable once built: the routing step
// produces a new value per hop instead of editing hops or destination.
type Envelope struct {
	TransactionID string             `json:"transactionId"`
	MessageID     string             `json:"messageID"`
	MessageType   MessageType        `json:"messageType"`
	Origin        endpoint.Endpoint  `json:"origin"`
	Destination   *endpoint.Endpoint `json:"destination"`
	Data          any                `json:"data,omitempty"`
	Err           *errwire.Record    `json:"err,omitempty"`
	Hops          []string           `json:"hops"`
	Timestamp     int64              `json:"timestamp"`
}

// NewTransactionID returns a fresh globally unique transaction id.
func NewTransactionID() string {
	return uuid.NewString()
}

// NewMessage builds a request envelope with a fresh transaction id and empty hop trail.
func NewMessage(messageID string, data any, origin endpoint.Endpoint, destination *endpoint.Endpoint) Envelope {
	return Envelope{
		TransactionID: NewTransactionID(),
		MessageID:     messageID,
		MessageType:   TypeMessage,
		Origin:        origin,
		Destination:   cloneEndpoint(destination),
		Data:          data,
		Hops:          []string{},
		Timestamp:     time.Now().UnixMilli(),
	}
}

// NewReply answers req from local. A non-nil rec marks the reply as failed and
// drops data. The reply starts a new hop trail.
func NewReply(req Envelope, local endpoint.Endpoint, data any, rec *errwire.Record) Envelope {
	out := Envelope{
		TransactionID: req.TransactionID,
		MessageID:     req.MessageID,
		MessageType:   TypeReply,
		Origin:        local,
		Destination:   req.Origin.Ptr(),
		Hops:          []string{},
		Timestamp:     time.Now().UnixMilli(),
	}
	if rec != nil {
		out.Err = rec
	} else {
		out.Data = data
	}
	return out
}

// Visited reports whether identity already handled this envelope.
func (e Envelope) Visited(identity string) bool {
	return slices.Contains(e.Hops, identity)
}

// WithHop returns a copy with identity appended to the hop trail.
// An identity already present is not appended twice.
func (e Envelope) WithHop(identity string) Envelope {
	out := e.Clone()
	if !out.Visited(identity) {
		out.Hops = append(out.Hops, identity)
	}
	return out
}

// WithDestination returns a copy addressed to dest; nil marks the local
// context as the final recipient.
func (e Envelope) WithDestination(dest *endpoint.Endpoint) Envelope {
	out := e.Clone()
	out.Destination = cloneEndpoint(dest)
	return out
}

// Clone copies routing metadata. Data and Err are shared.
func (e Envelope) Clone() Envelope {
	out := e
	out.Hops = make([]string, len(e.Hops), len(e.Hops)+1)
	copy(out.Hops, e.Hops)
	out.Destination = cloneEndpoint(e.Destination)
	return out
}

func (e Envelope) IsReply() bool {
	return e.MessageType == TypeReply
}

// Failed reports whether a reply carries an error.
func (e Envelope) Failed() bool {
	return e.IsReply() && e.Err != nil
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.TransactionID) == "" {
		return fmt.Errorf("%w: missing transactionId", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: missing messageID", ErrInvalidEnvelope)
	}
	if !e.MessageType.Valid() {
		return fmt.Errorf("%w: invalid messageType %q", ErrInvalidEnvelope, e.MessageType)
	}
	if err := e.Origin.Validate(); err != nil {
		return fmt.Errorf("%w: origin: %v", ErrInvalidEnvelope, err)
	}
	if e.Destination != nil {
		if err := e.Destination.Validate(); err != nil {
			return fmt.Errorf("%w: destination: %v", ErrInvalidEnvelope, err)
		}
	}
	if e.Err != nil && e.MessageType != TypeReply {
		return fmt.Errorf("%w: err set on non-reply envelope", ErrInvalidEnvelope)
	}
	return nil
}

func cloneEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	if ep == nil {
		return nil
	}
	c := *ep
	return &c
}
