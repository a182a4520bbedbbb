package codegen

import (
	_ "embed"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
)

//go:embed runtime/ByteBuffer.gd
var gdRuntime []byte

// gdReserved are the members every generated script declares.
var gdReserved = []string{"MODULE_ID", "PROTOCOL_ID", "protocolId", "read", "write"}

// GDScript emits one class_name script per protocol, reading and writing
// through the ByteBuffer runtime script.
type GDScript struct{}

func (GDScript) Name() string      { return "gdscript" }
func (GDScript) Extension() string { return ".gd" }
func (GDScript) Indent() string    { return "\t" }

func (GDScript) Emitters() EmitterTable { return gdEmitters }

func (GDScript) FileName(r *registration.Registration) string {
	return TypeName(r.Name()) + ".gd"
}

func (GDScript) Runtime() []File {
	return []File{{Language: "gdscript", Path: "ByteBuffer.gd", Content: gdRuntime}}
}

func (GDScript) Protocol(c *Context, r *registration.Registration) error {
	name := TypeName(r.Name())
	fields := r.Fields()
	if err := checkNames("gdscript", r, nil, gdReserved...); err != nil {
		return err
	}

	c.Line(0, "# %s", generatedBy)
	c.Line(0, "class_name %s", name)
	c.Blank()
	c.Line(0, "const PROTOCOL_ID = %d", r.ID())
	c.Line(0, "const MODULE_ID = %d", r.Module())
	c.Blank()
	for _, f := range fields {
		c.Line(0, "var %s: %s", f.Name, gdType(f.Type))
	}
	if len(fields) > 0 {
		c.Blank()
	}
	c.Line(0, "func protocolId() -> int:")
	c.Line(1, "return PROTOCOL_ID")
	c.Blank()

	c.Line(0, "static func write(buffer: ByteBuffer, packet: %s) -> void:", name)
	if len(fields) == 0 {
		c.Line(1, "pass")
	}
	for _, f := range fields {
		if err := c.Write("packet."+f.Name, 1, f.Type); err != nil {
			return err
		}
	}
	c.Blank()

	c.Line(0, "static func read(buffer: ByteBuffer) -> %s:", name)
	results := make([]string, 0, len(fields))
	for _, f := range fields {
		res, err := c.Read(1, f.Type)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	c.Line(1, "var packet = %s.new()", name)
	for i, f := range fields {
		c.Line(1, "packet.%s = %s", f.Name, results[i])
	}
	c.Line(1, "return packet")
	return nil
}

func gdType(t *field.Type) string {
	switch t.Kind {
	case field.KindBool:
		return "bool"
	case field.KindByte, field.KindShort, field.KindInt, field.KindLong:
		return "int"
	case field.KindFloat, field.KindDouble:
		return "float"
	case field.KindString:
		return "String"
	case field.KindBytes:
		return "PackedByteArray"
	case field.KindList:
		return "Array"
	case field.KindMap:
		return "Dictionary"
	case field.KindObject:
		return TypeName(t.Protocol)
	default:
		return "Variant"
	}
}

var gdEmitters = EmitterTable{
	field.KindBool:   gdScalar{method: "Bool"},
	field.KindByte:   gdScalar{method: "Byte"},
	field.KindShort:  gdShort{},
	field.KindInt:    gdScalar{method: "Int"},
	field.KindLong:   gdScalar{method: "Long"},
	field.KindFloat:  gdScalar{method: "Float"},
	field.KindDouble: gdScalar{method: "Double"},
	field.KindString: gdScalar{method: "String"},
	field.KindBytes:  gdScalar{method: "Bytes"},
	field.KindList:   gdList{},
	field.KindMap:    gdMap{},
	field.KindObject: gdObject{},
}

// gdShort serializes a 16-bit signed integer.
type gdShort struct{}

func (gdShort) WriteObject(c *Context, value string, depth int, _ *field.Type) error {
	c.Line(depth, "buffer.writeShort(%s)", value)
	return nil
}

func (gdShort) ReadObject(c *Context, depth int, _ *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "var %s = buffer.readShort()", result)
	return result, nil
}

type gdScalar struct {
	method string
}

func (e gdScalar) WriteObject(c *Context, value string, depth int, _ *field.Type) error {
	c.Line(depth, "buffer.write%s(%s)", e.method, value)
	return nil
}

func (e gdScalar) ReadObject(c *Context, depth int, _ *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "var %s = buffer.read%s()", result, e.method)
	return result, nil
}

type gdList struct{}

func (gdList) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	element := c.Next("element")
	c.Line(depth, "buffer.writeInt(%s.size())", value)
	c.Line(depth, "for %s in %s:", element, value)
	return c.Write(element, depth+1, t.Elem)
}

func (gdList) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	size := c.Next("size")
	index := c.Next("index")
	c.Line(depth, "var %s = []", result)
	c.Line(depth, "var %s = buffer.readInt()", size)
	c.Line(depth, "for %s in range(%s):", index, size)
	elem, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s.append(%s)", result, elem)
	return result, nil
}

type gdMap struct{}

func (gdMap) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	keys := c.Next("keys")
	key := c.Next("key")
	c.Line(depth, "buffer.writeInt(%s.size())", value)
	c.Line(depth, "var %s = %s.keys()", keys, value)
	c.Line(depth, "%s.sort()", keys)
	c.Line(depth, "for %s in %s:", key, keys)
	if err := c.Write(key, depth+1, t.Key); err != nil {
		return err
	}
	return c.Write(value+"["+key+"]", depth+1, t.Elem)
}

func (gdMap) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	size := c.Next("size")
	index := c.Next("index")
	c.Line(depth, "var %s = {}", result)
	c.Line(depth, "var %s = buffer.readInt()", size)
	c.Line(depth, "for %s in range(%s):", index, size)
	key, err := c.Read(depth+1, t.Key)
	if err != nil {
		return "", err
	}
	val, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s[%s] = %s", result, key, val)
	return result, nil
}

type gdObject struct{}

func (gdObject) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	c.Line(depth, "if %s == null:", value)
	c.Line(depth+1, "buffer.writeBool(false)")
	c.Line(depth, "else:")
	c.Line(depth+1, "buffer.writeBool(true)")
	c.Line(depth+1, "%s.write(buffer, %s)", TypeName(t.Protocol), value)
	return nil
}

func (gdObject) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "var %s = null", result)
	c.Line(depth, "if buffer.readBool():")
	c.Line(depth+1, "%s = %s.read(buffer)", result, TypeName(t.Protocol))
	return result, nil
}
