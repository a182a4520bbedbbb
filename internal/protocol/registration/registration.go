// Package registration holds the compiled per-protocol descriptors: modules,
// registration entries and the values they encode.
package registration

import (
	"errors"
	"fmt"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/pkg/buffer"
)

const (
	// MaxProtocolNum bounds protocol ids to [0, MaxProtocolNum).
	MaxProtocolNum = 32767
	// MaxModuleNum bounds module ids to [0, MaxModuleNum).
	MaxModuleNum = 127

	DefaultModuleID   int8 = 0
	DefaultModuleName      = "default"
)

var (
	ErrNilMessage          = errors.New("registration: nil message")
	ErrMessageTypeMismatch = errors.New("registration: message type mismatch")
	ErrUnboundValue        = errors.New("registration: value has no binding")
	ErrFieldCount          = errors.New("registration: field count mismatch")
)

// Module is a named group of protocols.
type Module struct {
	ID   int8   `json:"id"`
	Name string `json:"name"`
}

// DefaultModule returns the module installed at id 0.
func DefaultModule() *Module {
	return &Module{ID: DefaultModuleID, Name: DefaultModuleName}
}

// Field is one declared field of a protocol.
type Field struct {
	Name string
	Type *field.Type
}

// Message is the value of a protocol that has no Binding.
type Message struct {
	Type   string
	Fields []any
}

func (m *Message) ProtocolName() string { return m.Type }

// Binding converts between a Go value and its ordered field values.
type Binding struct {
	Values func(v any) ([]any, error)
	New    func(values []any) (any, error)
}

// FieldError wraps a codec failure with the protocol and field name.
type FieldError struct {
	Protocol string
	Field    string
	Err      error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("registration: %s.%s: %v", e.Protocol, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Registration is the compiled entry for one protocol. It is read-only once
// built and safe for concurrent use.
type Registration struct {
	id      int16
	module  int8
	name    string
	fields  []Field
	binding *Binding
}

func New(id int16, module int8, name string, fields []Field, binding *Binding) *Registration {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return &Registration{id: id, module: module, name: name, fields: cp, binding: binding}
}

func (r *Registration) ID() int16 { return r.id }

// Module returns the owning module id.
func (r *Registration) Module() int8 { return r.module }

func (r *Registration) Name() string { return r.name }

// Fields returns the declared fields in wire order. Callers must not modify it.
func (r *Registration) Fields() []Field { return r.fields }

func (r *Registration) Bound() bool { return r.binding != nil }

// Write encodes the field payload of v. The protocol id is not written.
func (r *Registration) Write(buf *buffer.Buffer, v any) error {
	return r.WriteDepth(buf, v, 0)
}

// WriteDepth encodes v as a payload nested inside depth objects.
func (r *Registration) WriteDepth(buf *buffer.Buffer, v any, depth int) error {
	values, err := r.values(v)
	if err != nil {
		return err
	}
	if len(values) != len(r.fields) {
		return fmt.Errorf("%w: %s has %d fields, got %d", ErrFieldCount, r.name, len(r.fields), len(values))
	}
	for i, f := range r.fields {
		if err := field.WriteDepth(buf, f.Type, values[i], depth); err != nil {
			return &FieldError{Protocol: r.name, Field: f.Name, Err: err}
		}
	}
	return nil
}

// Read decodes a field payload. Bound protocols return the bound Go value;
// the others return a *Message.
func (r *Registration) Read(buf *buffer.Buffer) (any, error) {
	return r.ReadDepth(buf, 0)
}

// ReadDepth decodes a payload nested inside depth objects.
func (r *Registration) ReadDepth(buf *buffer.Buffer, depth int) (any, error) {
	values := make([]any, len(r.fields))
	for i, f := range r.fields {
		v, err := field.ReadDepth(buf, f.Type, depth)
		if err != nil {
			return nil, &FieldError{Protocol: r.name, Field: f.Name, Err: err}
		}
		values[i] = v
	}
	if r.binding != nil && r.binding.New != nil {
		return r.binding.New(values)
	}
	return &Message{Type: r.name, Fields: values}, nil
}

func (r *Registration) values(v any) ([]any, error) {
	switch m := v.(type) {
	case *Message:
		if m == nil {
			return nil, ErrNilMessage
		}
		if m.Type != r.name {
			return nil, fmt.Errorf("%w: %s written as %s", ErrMessageTypeMismatch, m.Type, r.name)
		}
		return m.Fields, nil
	case Message:
		return r.values(&m)
	}
	if r.binding != nil && r.binding.Values != nil {
		return r.binding.Values(v)
	}
	return nil, fmt.Errorf("%w: %s cannot encode %T", ErrUnboundValue, r.name, v)
}
