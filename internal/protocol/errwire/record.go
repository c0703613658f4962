// Package errwire owns error marshalling across context boundaries.
//
// A thrown error travels as a flat structured record holding its name, its
// message and every extra field. The receiving side rebuilds an equivalent
// error through an explicit name -> factory registry.
package errwire

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	cbor "github.com/fxamacker/cbor/v2"
)

const (
	keyName    = "name"
	keyMessage = "message"

	// GenericName is used when an error does not name itself.
	GenericName = "Error"
)

var ErrInvalidRecord = errors.New("errwire: invalid error record")

// Record is the transport-safe form of an error.
type Record struct {
	Name    string
	Message string
	Fields  map[string]any
}

func (r Record) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	return nil
}

func (r Record) flat() map[string]any {
	out := make(map[string]any, len(r.Fields)+2)
	maps.Copy(out, r.Fields)
	out[keyName] = r.Name
	out[keyMessage] = r.Message
	return out
}

func (r *Record) fromFlat(m map[string]any) error {
	name, _ := m[keyName].(string)
	msg, _ := m[keyMessage].(string)
	if _, ok := m[keyName]; ok && name == "" {
		return fmt.Errorf("%w: name is not a string", ErrInvalidRecord)
	}
	r.Name = name
	r.Message = msg
	r.Fields = nil
	for k, v := range m {
		if k == keyName || k == keyMessage {
			continue
		}
		if r.Fields == nil {
			r.Fields = make(map[string]any, len(m))
		}
		r.Fields[k] = v
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.flat())
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return r.fromFlat(m)
}

func (r Record) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.flat())
}

func (r *Record) UnmarshalCBOR(b []byte) error {
	var m map[string]any
	if err := cbor.Unmarshal(b, &m); err != nil {
		return err
	}
	return r.fromFlat(m)
}
