package codec

import (
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	mapStringAny = reflect.TypeOf(map[string]any(nil))
	cborDefault  = mustCBOR()
)

// CBOR returns the shared canonical CBOR codec (RFC 8949 core profile).
// Maps decode as map[string]any so payloads look the same as JSON ones.
func CBOR() Codec { return cborDefault }

func newCBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: mapStringAny,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func mustCBOR() Codec {
	c, err := newCBOR()
	if err != nil {
		panic(err)
	}
	return c
}

func (cborCodec) ID() ID                               { return IDCBOR }
func (cborCodec) ContentType() string                  { return ContentCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
