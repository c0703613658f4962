// Package endpoint owns logical addresses of execution contexts.
//
// An endpoint is written as context[@tabId]. The tab id selects one instance
// of a context kind; when omitted the endpoint addresses any instance.
package endpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("endpoint: invalid endpoint")

// Context is one logical execution environment kind.
type Context string

const (
	Background    Context = "background"
	ContentScript Context = "content-script"
	Devtools      Context = "devtools"
	Popup         Context = "popup"
	Options       Context = "options"
	Window        Context = "window"
)

var contexts = []Context{Background, ContentScript, Devtools, Popup, Options, Window}

// Contexts returns the fixed context enumeration in declaration order.
func Contexts() []Context {
	out := make([]Context, len(contexts))
	copy(out, contexts)
	return out
}

func (c Context) Valid() bool {
	for _, known := range contexts {
		if c == known {
			return true
		}
	}
	return false
}

func (c Context) String() string {
	return string(c)
}

// ParseContext normalizes and validates a context kind.
func ParseContext(raw string) (Context, error) {
	c := Context(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" {
		return "", fmt.Errorf("%w: missing context", ErrInvalidEndpoint)
	}
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown context %q", ErrInvalidEndpoint, raw)
	}
	return c, nil
}

// Endpoint is a context kind plus an optional instance id.
// TabID zero means the instance is unspecified.
type Endpoint struct {
	Context Context `json:"context"`
	TabID   int     `json:"tabId,omitempty"`
}

// New builds an endpoint for any instance of c.
func New(c Context) Endpoint {
	return Endpoint{Context: c}
}

// Parse reads the context[@tabId] form.
func Parse(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	name, tab, hasTab := strings.Cut(raw, "@")
	c, err := ParseContext(name)
	if err != nil {
		return Endpoint{}, err
	}
	out := Endpoint{Context: c}
	if !hasTab {
		return out, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(tab))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: invalid tab id %q", ErrInvalidEndpoint, tab)
	}
	if id <= 0 {
		return Endpoint{}, fmt.Errorf("%w: tab id must be positive, got %d", ErrInvalidEndpoint, id)
	}
	out.TabID = id
	return out, nil
}

// MustParse is Parse for static addresses; it panics on error.
func MustParse(raw string) Endpoint {
	ep, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ep
}

func (e Endpoint) String() string {
	if e.TabID == 0 {
		return string(e.Context)
	}
	return string(e.Context) + "@" + strconv.Itoa(e.TabID)
}

func (e Endpoint) IsZero() bool {
	return e.Context == "" && e.TabID == 0
}

func (e Endpoint) Validate() error {
	if !e.Context.Valid() {
		return fmt.Errorf("%w: unknown context %q", ErrInvalidEndpoint, e.Context)
	}
	if e.TabID < 0 {
		return fmt.Errorf("%w: negative tab id %d", ErrInvalidEndpoint, e.TabID)
	}
	return nil
}

// Same reports whether both endpoints name the same logical peer.
func (e Endpoint) Same(other Endpoint) bool {
	return e.Context == other.Context && e.TabID == other.TabID
}

// Addresses reports whether e, used as a destination, selects local.
// A destination of the same kind but a different instance does not.
func (e Endpoint) Addresses(local Endpoint) bool {
	if e.Context != local.Context {
		return false
	}
	return e.TabID == 0 || e.TabID == local.TabID
}

// Ptr returns a copy of e suitable for nullable envelope fields.
func (e Endpoint) Ptr() *Endpoint {
	return &e
}
