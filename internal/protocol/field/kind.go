// Package field holds the per-field-type codecs.
//
// Field types form a closed set of kinds. A Type carries the kind plus the
// data composite kinds need (element, key and nested protocol), and the
// read/write logic is selected from a table indexed by kind.
package field

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/protoreg/pkg/buffer"
)

// Kind is the wire shape of one field.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindByte
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
	KindBytes
	KindList
	KindMap
	KindObject

	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindByte:    "byte",
	KindShort:   "short",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindString:  "string",
	KindBytes:   "bytes",
	KindList:    "list",
	KindMap:     "map",
	KindObject:  "object",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindBool; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Scalar reports whether k is encoded without nested types.
func (k Kind) Scalar() bool {
	return k >= KindBool && k <= KindBytes
}

// Comparable reports whether k can be used as a map key.
func (k Kind) Comparable() bool {
	return k.Scalar() && k != KindBytes
}

var (
	ErrInvalidType = errors.New("field: invalid type expression")
	ErrMapKey      = errors.New("field: map key must be a comparable scalar")
	ErrUnresolved  = errors.New("field: object type not resolved")
	ErrTooDeep     = errors.New("field: object nesting too deep")
	ErrNaNKey      = buffer.ErrNaNKey
)

// MaxDepth bounds how many objects may nest inside one frame.
const MaxDepth = 64

// Nested is the payload codec of a referenced protocol.
type Nested interface {
	ID() int16
	Name() string
	// depth counts the objects enclosing this payload.
	WriteDepth(buf *buffer.Buffer, v any, depth int) error
	ReadDepth(buf *buffer.Buffer, depth int) (any, error)
}

// Type describes one field's wire type.
type Type struct {
	Kind Kind
	// Elem is the list element or the map value type.
	Elem *Type
	// Key is the map key type.
	Key *Type
	// Protocol names the referenced protocol of an object field.
	Protocol string
	// Nested is bound during analysis.
	Nested Nested
}

func Scalar(k Kind) *Type { return &Type{Kind: k} }

func List(elem *Type) *Type { return &Type{Kind: KindList, Elem: elem} }

func Map(key, value *Type) *Type { return &Type{Kind: KindMap, Key: key, Elem: value} }

func Object(protocol string) *Type { return &Type{Kind: KindObject, Protocol: protocol} }

// String returns the canonical type expression.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindList:
		return "list<" + t.Elem.String() + ">"
	case KindMap:
		return "map<" + t.Key.String() + "," + t.Elem.String() + ">"
	case KindObject:
		return t.Protocol
	default:
		return t.Kind.String()
	}
}

// Walk calls fn for t and every type nested inside it, outermost first.
func (t *Type) Walk(fn func(*Type) error) error {
	if t == nil {
		return nil
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := t.Key.Walk(fn); err != nil {
		return err
	}
	return t.Elem.Walk(fn)
}

var scalarKeywords = map[string]Kind{
	"bool":    KindBool,
	"boolean": KindBool,
	"byte":    KindByte,
	"short":   KindShort,
	"int":     KindInt,
	"long":    KindLong,
	"float":   KindFloat,
	"double":  KindDouble,
	"string":  KindString,
	"bytes":   KindBytes,
}

// ParseType parses a type expression such as "short", "list<string>",
// "map<int,list<Item>>" or a protocol name. Protocol names are returned as
// unresolved object types.
func ParseType(expr string) (*Type, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidType)
	}
	if k, ok := scalarKeywords[expr]; ok {
		return Scalar(k), nil
	}
	if inner, ok := generic(expr, "list"); ok {
		elem, err := ParseType(inner)
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}
	if inner, ok := generic(expr, "map"); ok {
		keyExpr, valueExpr, ok := splitPair(inner)
		if !ok {
			return nil, fmt.Errorf("%w: %q needs key and value", ErrInvalidType, expr)
		}
		key, err := ParseType(keyExpr)
		if err != nil {
			return nil, err
		}
		if !key.Kind.Comparable() {
			return nil, fmt.Errorf("%w: %q", ErrMapKey, expr)
		}
		value, err := ParseType(valueExpr)
		if err != nil {
			return nil, err
		}
		return Map(key, value), nil
	}
	if !isIdentifier(expr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, expr)
	}
	return Object(expr), nil
}

func generic(expr, name string) (string, bool) {
	if !strings.HasPrefix(expr, name+"<") || !strings.HasSuffix(expr, ">") {
		return "", false
	}
	return expr[len(name)+1 : len(expr)-1], true
}

// splitPair splits "K,V" at the top-level comma.
func splitPair(s string) (string, string, bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		digit := c >= '0' && c <= '9'
		if i == 0 && !letter {
			return false
		}
		if !letter && !digit && c != '.' {
			return false
		}
	}
	return s[len(s)-1] != '.'
}
