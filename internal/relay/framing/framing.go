// Package framing encodes relay traffic for byte transports: one frame per
// record, with the payload encoded by the codec named in the frame header.
package framing

import (
	"errors"
	"fmt"

	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/protocol/frame"
)

var ErrInvalidRecord = errors.New("framing: invalid record")

// Record is the payload of one frame.
//
// For broadcasts Message carries the relay message and Port the id of an
// attached channel, if any. Port frames carry only Port and, for acks, Ack.
type Record struct {
	Port    string `json:"port,omitempty"`
	Ack     bool   `json:"ack,omitempty"`
	Message any    `json:"message,omitempty"`
}

func Encode(c codec.Codec, kind frame.Kind, rec Record, limits frame.Limits) ([]byte, error) {
	payload, err := c.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var flags uint16
	if kind == frame.KindBroadcast && rec.Port != "" {
		flags |= frame.FlagPortAttached
	}
	return frame.Marshal(frame.New(kind, uint8(c.ID()), flags, payload), limits)
}

// Decode reads one frame using the codec its header names.
func Decode(reg *codec.Registry, data []byte, limits frame.Limits) (frame.Header, Record, error) {
	f, err := frame.Unmarshal(data, limits)
	if err != nil {
		return frame.Header{}, Record{}, err
	}
	c, err := reg.ByID(codec.ID(f.Header.Codec))
	if err != nil {
		return frame.Header{}, Record{}, err
	}
	var rec Record
	if err := c.Unmarshal(f.Payload, &rec); err != nil {
		return frame.Header{}, Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if f.Header.Kind != frame.KindBroadcast && rec.Port == "" {
		return frame.Header{}, Record{}, fmt.Errorf("%w: port frame without port id", ErrInvalidRecord)
	}
	return f.Header, rec, nil
}

// Attached reports whether a broadcast carries a port.
func Attached(h frame.Header, rec Record) bool {
	return h.Kind == frame.KindBroadcast && h.Flags&frame.FlagPortAttached != 0 && rec.Port != ""
}
