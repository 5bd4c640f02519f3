// Package envelope reads and writes the request/response envelope exchanged
// between client and server:
//
//	{"zarafa": {moduleName: {moduleId: {actionType: actionData, ...}}, "error": ...}}
//
// Object key order is significant on both sides, so decoding walks the raw
// JSON with gjson and encoding appends keys with sjson.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Key is the top-level envelope member.
const Key = "zarafa"

// ErrorKey is the member inside Key carrying a request-wide error.
const ErrorKey = "error"

var ErrMalformed = errors.New("envelope: malformed payload")

// Action is one action inside a module payload.
type Action struct {
	Type string
	Data json.RawMessage
}

// Decode unmarshals the action data into v.
func (a Action) Decode(v any) error {
	if len(a.Data) == 0 {
		return nil
	}
	return json.Unmarshal(a.Data, v)
}

// Module is the payload addressed to one (name, id) pair. When the payload
// is not a JSON object, Actions is empty and Raw holds the scalar.
type Module struct {
	Name    string
	ID      string
	Actions []Action
	Raw     json.RawMessage
}

// IsObject reports whether the payload was a mapping of actions.
func (m Module) IsObject() bool {
	return gjson.ParseBytes(m.Raw).IsObject()
}

// Envelope is a decoded request or response in encounter order.
type Envelope struct {
	Modules []Module
	// Error is the raw request-wide error, empty when absent.
	Error json.RawMessage
}

// HasError reports whether the envelope carries a non-empty request-wide error.
func (e *Envelope) HasError() bool {
	if len(e.Error) == 0 {
		return false
	}
	r := gjson.ParseBytes(e.Error)
	switch {
	case r.Type == gjson.Null:
		return false
	case r.Type == gjson.String:
		return r.Str != ""
	case r.IsArray():
		return len(r.Array()) > 0
	default:
		return true
	}
}

// Decode parses body, preserving module, id and action order.
func Decode(body []byte) (*Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformed
	}
	root := gjson.GetBytes(body, Key)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: missing %q object", ErrMalformed, Key)
	}

	env := &Envelope{}
	var err error
	root.ForEach(func(name, modules gjson.Result) bool {
		if name.String() == ErrorKey {
			env.Error = json.RawMessage(modules.Raw)
			return true
		}
		if !modules.IsObject() {
			err = fmt.Errorf("%w: module %q is not an object", ErrMalformed, name.String())
			return false
		}
		modules.ForEach(func(id, data gjson.Result) bool {
			m := Module{
				Name: name.String(),
				ID:   id.String(),
				Raw:  json.RawMessage(data.Raw),
			}
			if data.IsObject() {
				data.ForEach(func(actionType, actionData gjson.Result) bool {
					m.Actions = append(m.Actions, Action{
						Type: actionType.String(),
						Data: json.RawMessage(actionData.Raw),
					})
					return true
				})
			}
			env.Modules = append(env.Modules, m)
			return true
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Builder assembles an envelope, keeping insertion order.
type Builder struct {
	buf     []byte
	err     error
	modules map[[2]string]bool
}

func NewBuilder() *Builder {
	return &Builder{
		buf:     []byte(`{"` + Key + `":{}}`),
		modules: make(map[[2]string]bool),
	}
}

// Add sets actionType of module (name, id) to data. Adding the same
// action twice overwrites the earlier value in place.
func (b *Builder) Add(name, id, actionType string, data any) {
	b.modules[[2]string{name, id}] = true
	b.set(path(Key, name, id, actionType), data)
}

// AddModule ensures an (initially empty) payload exists for (name, id).
func (b *Builder) AddModule(name, id string) {
	k := [2]string{name, id}
	if b.modules[k] {
		return
	}
	b.modules[k] = true
	b.setRaw(path(Key, name, id), []byte(`{}`))
}

// SetError sets the request-wide error.
func (b *Builder) SetError(data any) {
	b.set(path(Key, ErrorKey), data)
}

func (b *Builder) set(p string, data any) {
	if b.err != nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		b.err = err
		return
	}
	b.setRaw(p, raw)
}

func (b *Builder) setRaw(p string, raw []byte) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetRawBytes(b.buf, p, raw)
}

// Bytes returns the encoded envelope or the first encoding error.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// path joins components into an sjson path, escaping path syntax and
// forcing numeric components to be object keys.
func path(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = escape(p)
	}
	return strings.Join(out, ".")
}

func escape(s string) string {
	var b strings.Builder
	numeric := s != ""
	for _, r := range s {
		if r < '0' || r > '9' {
			numeric = false
		}
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	if numeric {
		return ":" + b.String()
	}
	return b.String()
}
