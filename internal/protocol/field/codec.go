package field

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/danmuck/protoreg/pkg/buffer"
)

// TypeMismatchError reports a value whose Go type does not match the field kind.
type TypeMismatchError struct {
	Kind  Kind
	Value any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field: %s expects %s, got %T", e.Kind, goType(e.Kind), e.Value)
}

// UnsupportedKindError is returned for a kind without a codec.
type UnsupportedKindError struct {
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("field: no codec for kind %s", e.Kind)
}

func goType(k Kind) string {
	switch k {
	case KindBool:
		return "bool"
	case KindByte:
		return "int8"
	case KindShort:
		return "int16"
	case KindInt:
		return "int32"
	case KindLong:
		return "int64"
	case KindFloat:
		return "float32"
	case KindDouble:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "[]byte"
	case KindList:
		return "[]any"
	case KindMap:
		return "map[any]any"
	case KindObject:
		return "registered value"
	default:
		return "nothing"
	}
}

// codec functions receive the object nesting depth of the value.
type codec struct {
	write func(buf *buffer.Buffer, t *Type, v any, depth int) error
	read  func(buf *buffer.Buffer, t *Type, depth int) (any, error)
}

var codecs [kindCount]codec

func init() {
	codecs = [kindCount]codec{
		KindBool:   {write: writeBool, read: readBool},
		KindByte:   {write: writeByte, read: readByte},
		KindShort:  {write: writeShort, read: readShort},
		KindInt:    {write: writeInt, read: readInt},
		KindLong:   {write: writeLong, read: readLong},
		KindFloat:  {write: writeFloat, read: readFloat},
		KindDouble: {write: writeDouble, read: readDouble},
		KindString: {write: writeString, read: readString},
		KindBytes:  {write: writeBytes, read: readBytes},
		KindList:   {write: writeList, read: readList},
		KindMap:    {write: writeMap, read: readMap},
		KindObject: {write: writeObject, read: readObject},
	}
}

func lookup(t *Type) (codec, error) {
	if t == nil {
		return codec{}, &UnsupportedKindError{Kind: KindInvalid}
	}
	if t.Kind >= kindCount || codecs[t.Kind].write == nil {
		return codec{}, &UnsupportedKindError{Kind: t.Kind}
	}
	return codecs[t.Kind], nil
}

// Write encodes v as a field of type t.
func Write(buf *buffer.Buffer, t *Type, v any) error {
	return WriteDepth(buf, t, v, 0)
}

// WriteDepth encodes v as a field of a payload nested depth objects deep.
func WriteDepth(buf *buffer.Buffer, t *Type, v any, depth int) error {
	c, err := lookup(t)
	if err != nil {
		return err
	}
	return c.write(buf, t, v, depth)
}

// Read decodes one field of type t.
func Read(buf *buffer.Buffer, t *Type) (any, error) {
	return ReadDepth(buf, t, 0)
}

// ReadDepth decodes one field of a payload nested depth objects deep.
func ReadDepth(buf *buffer.Buffer, t *Type, depth int) (any, error) {
	c, err := lookup(t)
	if err != nil {
		return nil, err
	}
	return c.read(buf, t, depth)
}

func writeBool(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(bool)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteBool(x)
}

func readBool(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadBool() }

func writeByte(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(int8)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteInt8(x)
}

func readByte(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadInt8() }

func writeShort(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(int16)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteInt16(x)
}

func readShort(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadInt16() }

func writeInt(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(int32)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteInt32(x)
}

func readInt(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadInt32() }

func writeLong(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(int64)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteInt64(x)
}

func readLong(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadInt64() }

func writeFloat(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(float32)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteFloat32(x)
}

func readFloat(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadFloat32() }

func writeDouble(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(float64)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteFloat64(x)
}

func readDouble(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadFloat64() }

func writeString(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.(string)
	if !ok {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteString(x)
}

func readString(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadString() }

func writeBytes(buf *buffer.Buffer, t *Type, v any, _ int) error {
	x, ok := v.([]byte)
	if !ok && v != nil {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	return buf.WriteBytes(x)
}

func readBytes(buf *buffer.Buffer, _ *Type, _ int) (any, error) { return buf.ReadBytes() }

// Nil lists and maps encode as empty.
func writeList(buf *buffer.Buffer, t *Type, v any, depth int) error {
	xs, ok := v.([]any)
	if !ok && v != nil {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	if err := buf.WriteLen(len(xs)); err != nil {
		return err
	}
	for i, x := range xs {
		if err := WriteDepth(buf, t.Elem, x, depth); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

func readList(buf *buffer.Buffer, t *Type, depth int) (any, error) {
	n, err := buf.ReadLen()
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		x, err := ReadDepth(buf, t.Elem, depth)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, x)
	}
	return out, nil
}

func writeMap(buf *buffer.Buffer, t *Type, v any, depth int) error {
	m, ok := v.(map[any]any)
	if !ok && v != nil {
		return &TypeMismatchError{Kind: t.Kind, Value: v}
	}
	keys := make([]any, 0, len(m))
	for k := range m {
		if isNaN(k) {
			return ErrNaNKey
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	if err := buf.WriteLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := WriteDepth(buf, t.Key, k, depth); err != nil {
			return fmt.Errorf("key %v: %w", k, err)
		}
		if err := WriteDepth(buf, t.Elem, m[k], depth); err != nil {
			return fmt.Errorf("[%v]: %w", k, err)
		}
	}
	return nil
}

func readMap(buf *buffer.Buffer, t *Type, depth int) (any, error) {
	n, err := buf.ReadLen()
	if err != nil {
		return nil, err
	}
	out := make(map[any]any, n)
	for i := 0; i < n; i++ {
		k, err := ReadDepth(buf, t.Key, depth)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		v, err := ReadDepth(buf, t.Elem, depth)
		if err != nil {
			return nil, fmt.Errorf("[%v]: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// NaN keys have no place in a total order and cannot be looked up again.
func isNaN(k any) bool {
	switch x := k.(type) {
	case float32:
		return math.IsNaN(float64(x))
	case float64:
		return math.IsNaN(x)
	}
	return false
}

// lessKey orders map keys of one scalar kind. Keys of mismatched Go types
// fall back to their type name so the order stays total; Write rejects them
// afterwards.
func lessKey(a, b any) bool {
	switch x := a.(type) {
	case bool:
		if y, ok := b.(bool); ok {
			return !x && y
		}
	case int8:
		if y, ok := b.(int8); ok {
			return x < y
		}
	case int16:
		if y, ok := b.(int16); ok {
			return x < y
		}
	case int32:
		if y, ok := b.(int32); ok {
			return x < y
		}
	case int64:
		if y, ok := b.(int64); ok {
			return x < y
		}
	case float32:
		if y, ok := b.(float32); ok {
			return x < y
		}
	case float64:
		if y, ok := b.(float64); ok {
			return x < y
		}
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)) < 0
}

func writeObject(buf *buffer.Buffer, t *Type, v any, depth int) error {
	if v == nil {
		return buf.WriteBool(false)
	}
	if t.Nested == nil {
		return fmt.Errorf("%w: %s", ErrUnresolved, t.Protocol)
	}
	if depth >= MaxDepth {
		return fmt.Errorf("%w: %s", ErrTooDeep, t.Protocol)
	}
	if err := buf.WriteBool(true); err != nil {
		return err
	}
	return t.Nested.WriteDepth(buf, v, depth+1)
}

func readObject(buf *buffer.Buffer, t *Type, depth int) (any, error) {
	present, err := buf.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	if t.Nested == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, t.Protocol)
	}
	if depth >= MaxDepth {
		return nil, fmt.Errorf("%w: %s", ErrTooDeep, t.Protocol)
	}
	return t.Nested.ReadDepth(buf, depth+1)
}
