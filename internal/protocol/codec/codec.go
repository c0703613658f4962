package codec

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownCodec = errors.New("codec: unknown codec")

// ID is the one-byte codec tag carried in frame headers.
type ID uint8

const (
	IDJSON ID = 1
	IDCBOR ID = 2
)

const (
	ContentJSON = "application/json"
	ContentCBOR = "application/cbor"
)

// Codec marshals relay records for cross-context exchange.
type Codec interface {
	ID() ID
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps names, content types and wire ids to codecs.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Codec
	byID   map[ID]Codec
}

// NewRegistry returns a registry preloaded with JSON and CBOR.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[string]Codec),
		byID:   make(map[ID]Codec),
	}
	r.Register(JSON())
	r.Register(CBOR())
	return r
}

var defaultRegistry = NewRegistry()

// Default is the shared process registry.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[c.ContentType()] = c
	r.byID[c.ID()] = c
}

func (r *Registry) ByID(id ID) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrUnknownCodec, id)
	}
	return c, nil
}

// Lookup resolves a short name ("json", "cbor") or a content type.
func (r *Registry) Lookup(name string) (Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "json":
		key = ContentJSON
	case "cbor":
		key = ContentCBOR
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Clone copies v into out through c, the way a structured clone crosses a
// context boundary.
func Clone(c Codec, v any, out any) error {
	data, err := c.Marshal(v)
	if err != nil {
		return err
	}
	return c.Unmarshal(data, out)
}
