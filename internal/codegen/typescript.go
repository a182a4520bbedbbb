package codegen

import (
	_ "embed"
	"sort"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
)

//go:embed runtime/ByteBuffer.ts
var tsRuntime []byte

const tsRuntimePath = "ByteBuffer.ts"

// tsReserved are instance member names a field cannot take.
var tsReserved = []string{"constructor", "protocolId"}

// TypeScript emits one default-exported class per protocol. long fields map
// to bigint.
type TypeScript struct{}

func (TypeScript) Name() string      { return "typescript" }
func (TypeScript) Extension() string { return ".ts" }
func (TypeScript) Indent() string    { return "    " }

func (TypeScript) Emitters() EmitterTable { return tsEmitters }

func (TypeScript) FileName(r *registration.Registration) string {
	return TypeName(r.Name()) + ".ts"
}

func (TypeScript) Runtime() []File {
	return []File{{Language: "typescript", Path: tsRuntimePath, Content: tsRuntime}}
}

func (TypeScript) Protocol(c *Context, r *registration.Registration) error {
	name := TypeName(r.Name())
	fields := r.Fields()
	if err := checkNames("typescript", r, nil, tsReserved...); err != nil {
		return err
	}

	c.Line(0, "// %s", generatedBy)
	c.Line(0, "import ByteBuffer from '%s';", relImport(c.Path(), tsRuntimePath))
	for _, ref := range referencedProtocols(r) {
		p, ok := c.PathOf(ref)
		if !ok {
			return &UnsupportedError{Backend: "typescript", Protocol: r.Name(), Kind: field.KindObject}
		}
		c.Line(0, "import %s from '%s';", TypeName(ref), relImport(c.Path(), p))
	}
	c.Blank()
	c.Line(0, "export default class %s {", name)
	c.Line(1, "static readonly PROTOCOL_ID: number = %d;", r.ID())
	c.Line(1, "static readonly MODULE_ID: number = %d;", r.Module())
	c.Blank()
	for _, f := range fields {
		c.Line(1, "%s: %s = %s;", f.Name, tsType(f.Type), tsZero(f.Type))
	}
	if len(fields) > 0 {
		c.Blank()
	}
	c.Line(1, "protocolId(): number {")
	c.Line(2, "return %s.PROTOCOL_ID;", name)
	c.Line(1, "}")
	c.Blank()

	c.Line(1, "static write(buffer: ByteBuffer, packet: %s): void {", name)
	for _, f := range fields {
		if err := c.Write("packet."+f.Name, 2, f.Type); err != nil {
			return err
		}
	}
	c.Line(1, "}")
	c.Blank()

	c.Line(1, "static read(buffer: ByteBuffer): %s {", name)
	results := make([]string, 0, len(fields))
	for _, f := range fields {
		res, err := c.Read(2, f.Type)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	c.Line(2, "const packet = new %s();", name)
	for i, f := range fields {
		c.Line(2, "packet.%s = %s;", f.Name, results[i])
	}
	c.Line(2, "return packet;")
	c.Line(1, "}")
	c.Line(0, "}")
	return nil
}

// referencedProtocols returns the other protocols r's fields refer to, sorted.
func referencedProtocols(r *registration.Registration) []string {
	seen := map[string]struct{}{}
	for _, f := range r.Fields() {
		_ = f.Type.Walk(func(t *field.Type) error {
			if t.Kind == field.KindObject && t.Protocol != r.Name() {
				seen[t.Protocol] = struct{}{}
			}
			return nil
		})
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func tsType(t *field.Type) string {
	switch t.Kind {
	case field.KindBool:
		return "boolean"
	case field.KindByte, field.KindShort, field.KindInt, field.KindFloat, field.KindDouble:
		return "number"
	case field.KindLong:
		return "bigint"
	case field.KindString:
		return "string"
	case field.KindBytes:
		return "Uint8Array"
	case field.KindList:
		return "Array<" + tsType(t.Elem) + ">"
	case field.KindMap:
		return "Map<" + tsType(t.Key) + ", " + tsType(t.Elem) + ">"
	case field.KindObject:
		return TypeName(t.Protocol) + " | null"
	default:
		return "unknown"
	}
}

func tsZero(t *field.Type) string {
	switch t.Kind {
	case field.KindBool:
		return "false"
	case field.KindLong:
		return "0n"
	case field.KindString:
		return "''"
	case field.KindBytes:
		return "new Uint8Array(0)"
	case field.KindList:
		return "[]"
	case field.KindMap:
		return "new Map()"
	case field.KindObject:
		return "null"
	default:
		return "0"
	}
}

var tsEmitters = EmitterTable{
	field.KindBool:   tsScalar{method: "Bool"},
	field.KindByte:   tsScalar{method: "Byte"},
	field.KindShort:  tsScalar{method: "Short"},
	field.KindInt:    tsScalar{method: "Int"},
	field.KindLong:   tsScalar{method: "Long"},
	field.KindFloat:  tsScalar{method: "Float"},
	field.KindDouble: tsScalar{method: "Double"},
	field.KindString: tsScalar{method: "String"},
	field.KindBytes:  tsScalar{method: "Bytes"},
	field.KindList:   tsList{},
	field.KindMap:    tsMap{},
	field.KindObject: tsObject{},
}

type tsScalar struct {
	method string
}

func (e tsScalar) WriteObject(c *Context, value string, depth int, _ *field.Type) error {
	c.Line(depth, "buffer.write%s(%s);", e.method, value)
	return nil
}

func (e tsScalar) ReadObject(c *Context, depth int, _ *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "const %s = buffer.read%s();", result, e.method)
	return result, nil
}

type tsList struct{}

func (tsList) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	element := c.Next("element")
	c.Line(depth, "buffer.writeInt(%s.length);", value)
	c.Line(depth, "for (const %s of %s) {", element, value)
	if err := c.Write(element, depth+1, t.Elem); err != nil {
		return err
	}
	c.Line(depth, "}")
	return nil
}

func (tsList) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	size := c.Next("size")
	index := c.Next("index")
	c.Line(depth, "const %s: %s = [];", result, tsType(t))
	c.Line(depth, "const %s = buffer.readInt();", size)
	c.Line(depth, "for (let %s = 0; %s < %s; %s++) {", index, index, size, index)
	elem, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s.push(%s);", result, elem)
	c.Line(depth, "}")
	return result, nil
}

type tsMap struct{}

func (tsMap) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	key := c.Next("key")
	val := c.Next("value")
	c.Line(depth, "buffer.writeInt(%s.size);", value)
	c.Line(depth, "for (const %s of ByteBuffer.sortedKeys(%s)) {", key, value)
	c.Line(depth+1, "const %s = %s.get(%s)!;", val, value, key)
	if err := c.Write(key, depth+1, t.Key); err != nil {
		return err
	}
	if err := c.Write(val, depth+1, t.Elem); err != nil {
		return err
	}
	c.Line(depth, "}")
	return nil
}

func (tsMap) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	size := c.Next("size")
	index := c.Next("index")
	c.Line(depth, "const %s: %s = new Map();", result, tsType(t))
	c.Line(depth, "const %s = buffer.readInt();", size)
	c.Line(depth, "for (let %s = 0; %s < %s; %s++) {", index, index, size, index)
	key, err := c.Read(depth+1, t.Key)
	if err != nil {
		return "", err
	}
	val, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s.set(%s, %s);", result, key, val)
	c.Line(depth, "}")
	return result, nil
}

type tsObject struct{}

func (tsObject) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	c.Line(depth, "if (%s === null) {", value)
	c.Line(depth+1, "buffer.writeBool(false);")
	c.Line(depth, "} else {")
	c.Line(depth+1, "buffer.writeBool(true);")
	c.Line(depth+1, "%s.write(buffer, %s);", TypeName(t.Protocol), value)
	c.Line(depth, "}")
	return nil
}

func (tsObject) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "let %s: %s = null;", result, tsType(t))
	c.Line(depth, "if (buffer.readBool()) {")
	c.Line(depth+1, "%s = %s.read(buffer);", result, TypeName(t.Protocol))
	c.Line(depth, "}")
	return result, nil
}
