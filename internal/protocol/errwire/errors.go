package errwire

import (
	"errors"
	"fmt"
	"maps"
)

// Named errors choose the name carried across the boundary.
type Named interface {
	ErrorName() string
}

// Fielded errors expose extra fields to carry across the boundary.
type Fielded interface {
	ErrorFields() map[string]any
}

// FieldSetter errors accept fields copied from a record after construction.
type FieldSetter interface {
	SetErrorField(key string, value any)
}

// RemoteError is the generic reconstruction of a failure raised in another context.
type RemoteError struct {
	Name    string
	Message string
	Fields  map[string]any
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) ErrorName() string {
	if e.Name == "" {
		return GenericName
	}
	return e.Name
}

func (e *RemoteError) ErrorFields() map[string]any {
	if len(e.Fields) == 0 {
		return nil
	}
	return maps.Clone(e.Fields)
}

func (e *RemoteError) SetErrorField(key string, value any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
}

// ErrNoHandler matches NoHandlerError through errors.Is.
var ErrNoHandler = errors.New("errwire: no handler registered")

const NoHandlerName = "NoHandlerError"

// NoHandlerError reports a message kind with no subscriber in the receiving context.
type NoHandlerError struct {
	MessageID string `json:"messageID"`
	Context   string `json:"context"`
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for message %q in context %q", e.MessageID, e.Context)
}

func (e *NoHandlerError) ErrorName() string {
	return NoHandlerName
}

func (e *NoHandlerError) Is(target error) bool {
	return target == ErrNoHandler
}

func (e *NoHandlerError) ErrorFields() map[string]any {
	return map[string]any{"messageID": e.MessageID, "context": e.Context}
}

func (e *NoHandlerError) SetErrorField(key string, value any) {
	s, _ := value.(string)
	switch key {
	case "messageID":
		e.MessageID = s
	case "context":
		e.Context = s
	}
}
