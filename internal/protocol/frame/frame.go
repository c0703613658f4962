// Package frame owns the byte framing used by networked relays.
//
// One frame carries one relay record: a fixed header naming the codec and
// record kind, followed by the codec-encoded payload.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0xC7B1D6E1
	Version        uint16 = 1
	FixedHeaderLen uint16 = 20

	FlagPortAttached uint16 = 0x01
)

// Kind is the relay record carried by a frame.
type Kind uint8

const (
	KindBroadcast Kind = 1
	KindPortOpen  Kind = 2
	KindPortAck   Kind = 3
	KindPortClose Kind = 4
)

func (k Kind) Valid() bool {
	return k >= KindBroadcast && k <= KindPortClose
}

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrUnsupportedVer    = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrInvalidKind       = errors.New("frame: invalid kind")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrTrailingBytes     = errors.New("frame: trailing bytes after payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Codec      uint8
	Kind       Kind
	Flags      uint16
	PayloadLen uint64
}

// Frame is one complete relay record.
type Frame struct {
	Header  Header
	Payload []byte
}

// New builds a frame with the current magic and version.
func New(kind Kind, codecID uint8, flags uint16, payload []byte) Frame {
	return Frame{
		Header: Header{
			Magic:   Magic,
			Version: Version,
			Codec:   codecID,
			Kind:    kind,
			Flags:   flags,
		},
		Payload: payload,
	}
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if !h.Kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidKind, h.Kind)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	// Extension bytes between the fixed header and payload are skipped.
	if ext := int64(h.HeaderLen - FixedHeaderLen); ext > 0 {
		if _, err := io.CopyN(io.Discard, r, ext); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	if !f.Header.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, f.Header.Kind)
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns f as one byte slice, for message-oriented transports.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(FixedHeaderLen) + len(f.Payload))
	if err := WriteFrame(&buf, f, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses exactly one frame from b.
func Unmarshal(b []byte, limits Limits) (Frame, error) {
	r := bytes.NewReader(b)
	f, err := ReadFrame(r, limits)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, ErrTrailingBytes
	}
	return f, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	buf[8] = h.Codec
	buf[9] = uint8(h.Kind)
	binary.BigEndian.PutUint16(buf[10:12], h.Flags)
	binary.BigEndian.PutUint64(buf[12:20], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Codec:      b[8],
		Kind:       Kind(b[9]),
		Flags:      binary.BigEndian.Uint16(b[10:12]),
		PayloadLen: binary.BigEndian.Uint64(b[12:20]),
	}, nil
}
