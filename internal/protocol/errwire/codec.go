package errwire

import (
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh error of one named kind from its message.
type Factory func(message string) error

// Registry maps error names to factories. Unknown names fall back to RemoteError.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the generic kinds preloaded.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, name := range []string{GenericName, "TypeError", "RangeError"} {
		r.Register(name, remoteFactory(name))
	}
	r.Register(NoHandlerName, func(string) error { return &NoHandlerError{} })
	return r
}

var defaultRegistry = NewRegistry()

// Default is the process registry used when a caller does not inject one.
func Default() *Registry {
	return defaultRegistry
}

func remoteFactory(name string) Factory {
	return func(message string) error {
		return &RemoteError{Name: name, Message: message}
	}
}

// Register installs f for name; a later registration replaces an earlier one.
func (r *Registry) Register(name string, f Factory) {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Serialize converts err into a record. A nil error yields a nil record.
func Serialize(err error) *Record {
	if err == nil {
		return nil
	}
	rec := &Record{
		Name:    typeName(err),
		Message: err.Error(),
	}
	var named Named
	if errors.As(err, &named) {
		if n := strings.TrimSpace(named.ErrorName()); n != "" {
			rec.Name = n
		}
	}
	var fielded Fielded
	if errors.As(err, &fielded) {
		rec.Fields = withoutReserved(fielded.ErrorFields())
	} else {
		rec.Fields = exportedFields(err)
	}
	return rec
}

// Deserialize rebuilds an error from rec using the registry.
func (r *Registry) Deserialize(rec *Record) error {
	if rec == nil {
		return nil
	}
	r.mu.RLock()
	f, ok := r.factories[rec.Name]
	r.mu.RUnlock()

	var out error
	if ok {
		out = f(rec.Message)
	}
	if out == nil {
		out = &RemoteError{Name: rec.Name, Message: rec.Message}
	}
	if re, ok := out.(*RemoteError); ok {
		re.Name = rec.Name
		re.Message = rec.Message
	}
	copyFields(out, rec.Fields)
	return out
}

// Deserialize uses the default registry.
func Deserialize(rec *Record) error {
	return defaultRegistry.Deserialize(rec)
}

func copyFields(dst error, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	if setter, ok := dst.(FieldSetter); ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			setter.SetErrorField(k, fields[k])
		}
		return
	}
	// Struct errors without a setter receive fields by their json names.
	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}

// typeName reports the concrete type name of err with any pointer stripped.
// Errors built by the errors and fmt packages carry no useful name and map to
// GenericName.
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "errors", "fmt":
		return GenericName
	}
	if n := t.Name(); n != "" {
		return n
	}
	return GenericName
}

func exportedFields(err error) map[string]any {
	b, mErr := json.Marshal(err)
	if mErr != nil || len(b) == 0 || b[0] != '{' {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return nil
	}
	return withoutReserved(m)
}

func withoutReserved(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := maps.Clone(in)
	delete(out, keyName)
	delete(out, keyMessage)
	if len(out) == 0 {
		return nil
	}
	return out
}
