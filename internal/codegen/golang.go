package codegen

import (
	"go/format"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
)

const (
	defaultGoPackage      = "protocol"
	defaultGoBufferImport = "github.com/danmuck/protoreg/pkg/buffer"
)

// goReserved are the methods every generated struct declares.
var goReserved = []string{"ProtocolID", "ProtocolName", "Write"}

// Golang emits one struct per protocol with Write and Read functions over
// pkg/buffer. All files share one package, so module folding is ignored.
type Golang struct{}

func (Golang) Name() string      { return "go" }
func (Golang) Extension() string { return ".go" }
func (Golang) Indent() string    { return "\t" }

func (Golang) Emitters() EmitterTable { return goEmitters }

func (Golang) FileName(r *registration.Registration) string {
	return snake(TypeName(r.Name())) + ".go"
}

func (Golang) Format(src []byte) ([]byte, error) { return format.Source(src) }

func (Golang) flat() {}

func (Golang) Protocol(c *Context, r *registration.Registration) error {
	opts := c.Options()
	pkg := opts.GoPackage
	if pkg == "" {
		pkg = defaultGoPackage
	}
	imp := opts.GoBufferImport
	if imp == "" {
		imp = defaultGoBufferImport
	}
	name := TypeName(r.Name())
	fields := r.Fields()
	if err := checkNames("go", r, ExportName, goReserved...); err != nil {
		return err
	}

	c.Line(0, "// %s", generatedBy)
	c.Blank()
	c.Line(0, "package %s", pkg)
	c.Blank()
	c.Line(0, "import buffer %q", imp)
	c.Blank()
	c.Line(0, "const (")
	c.Line(1, "%sProtocolID int16 = %d", name, r.ID())
	c.Line(1, "%sModuleID int8 = %d", name, r.Module())
	c.Line(0, ")")
	c.Blank()
	c.Line(0, "type %s struct {", name)
	for _, f := range fields {
		c.Line(1, "%s %s", ExportName(f.Name), goType(f.Type))
	}
	c.Line(0, "}")
	c.Blank()
	c.Line(0, "func (*%s) ProtocolID() int16 { return %sProtocolID }", name, name)
	c.Blank()
	c.Line(0, "func (*%s) ProtocolName() string { return %q }", name, r.Name())
	c.Blank()

	c.Line(0, "func (p *%s) Write(buf *buffer.Buffer) error {", name)
	for _, f := range fields {
		if err := c.Write("p."+ExportName(f.Name), 1, f.Type); err != nil {
			return err
		}
	}
	c.Line(1, "return nil")
	c.Line(0, "}")
	c.Blank()

	c.Line(0, "func Read%s(buf *buffer.Buffer) (*%s, error) {", name, name)
	results := make([]string, 0, len(fields))
	for _, f := range fields {
		res, err := c.Read(1, f.Type)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	c.Line(1, "return &%s{", name)
	for i, f := range fields {
		c.Line(2, "%s: %s,", ExportName(f.Name), results[i])
	}
	c.Line(1, "}, nil")
	c.Line(0, "}")
	return nil
}

func goType(t *field.Type) string {
	switch t.Kind {
	case field.KindBool:
		return "bool"
	case field.KindByte:
		return "int8"
	case field.KindShort:
		return "int16"
	case field.KindInt:
		return "int32"
	case field.KindLong:
		return "int64"
	case field.KindFloat:
		return "float32"
	case field.KindDouble:
		return "float64"
	case field.KindString:
		return "string"
	case field.KindBytes:
		return "[]byte"
	case field.KindList:
		return "[]" + goType(t.Elem)
	case field.KindMap:
		return "map[" + goType(t.Key) + "]" + goType(t.Elem)
	case field.KindObject:
		return "*" + TypeName(t.Protocol)
	default:
		return "any"
	}
}

var goEmitters = EmitterTable{
	field.KindBool:   goScalar{method: "Bool"},
	field.KindByte:   goScalar{method: "Int8"},
	field.KindShort:  goScalar{method: "Int16"},
	field.KindInt:    goScalar{method: "Int32"},
	field.KindLong:   goScalar{method: "Int64"},
	field.KindFloat:  goScalar{method: "Float32"},
	field.KindDouble: goScalar{method: "Float64"},
	field.KindString: goScalar{method: "String"},
	field.KindBytes:  goScalar{method: "Bytes"},
	field.KindList:   goList{},
	field.KindMap:    goMap{},
	field.KindObject: goObject{},
}

func goCheck(c *Context, depth int, call string) {
	c.Line(depth, "if err := %s; err != nil {", call)
	c.Line(depth+1, "return err")
	c.Line(depth, "}")
}

func goReadErr(c *Context, depth int) {
	c.Line(depth, "if err != nil {")
	c.Line(depth+1, "return nil, err")
	c.Line(depth, "}")
}

type goScalar struct {
	method string
}

func (e goScalar) WriteObject(c *Context, value string, depth int, _ *field.Type) error {
	goCheck(c, depth, "buf.Write"+e.method+"("+value+")")
	return nil
}

func (e goScalar) ReadObject(c *Context, depth int, _ *field.Type) (string, error) {
	result := c.Result()
	c.Line(depth, "%s, err := buf.Read%s()", result, e.method)
	goReadErr(c, depth)
	return result, nil
}

type goList struct{}

func (goList) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	element := c.Next("element")
	goCheck(c, depth, "buf.WriteLen(len("+value+"))")
	c.Line(depth, "for _, %s := range %s {", element, value)
	if err := c.Write(element, depth+1, t.Elem); err != nil {
		return err
	}
	c.Line(depth, "}")
	return nil
}

func (goList) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	size := c.Next("size")
	result := c.Result()
	index := c.Next("index")
	c.Line(depth, "%s, err := buf.ReadLen()", size)
	goReadErr(c, depth)
	c.Line(depth, "%s := make(%s, 0, %s)", result, goType(t), size)
	c.Line(depth, "for %s := 0; %s < %s; %s++ {", index, index, size, index)
	elem, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s = append(%s, %s)", result, result, elem)
	c.Line(depth, "}")
	return result, nil
}

type goMap struct{}

func (goMap) WriteObject(c *Context, value string, depth int, t *field.Type) error {
	keys := c.Next("keys")
	key := c.Next("key")
	val := c.Next("value")
	c.Line(depth, "%s, err := buffer.SortedKeys(%s)", keys, value)
	c.Line(depth, "if err != nil {")
	c.Line(depth+1, "return err")
	c.Line(depth, "}")
	goCheck(c, depth, "buf.WriteLen(len("+keys+"))")
	c.Line(depth, "for _, %s := range %s {", key, keys)
	c.Line(depth+1, "%s := %s[%s]", val, value, key)
	if err := c.Write(key, depth+1, t.Key); err != nil {
		return err
	}
	if err := c.Write(val, depth+1, t.Elem); err != nil {
		return err
	}
	c.Line(depth, "}")
	return nil
}

func (goMap) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	size := c.Next("size")
	result := c.Result()
	index := c.Next("index")
	c.Line(depth, "%s, err := buf.ReadLen()", size)
	goReadErr(c, depth)
	c.Line(depth, "%s := make(%s, %s)", result, goType(t), size)
	c.Line(depth, "for %s := 0; %s < %s; %s++ {", index, index, size, index)
	key, err := c.Read(depth+1, t.Key)
	if err != nil {
		return "", err
	}
	val, err := c.Read(depth+1, t.Elem)
	if err != nil {
		return "", err
	}
	c.Line(depth+1, "%s[%s] = %s", result, key, val)
	c.Line(depth, "}")
	return result, nil
}

type goObject struct{}

func (goObject) WriteObject(c *Context, value string, depth int, _ *field.Type) error {
	goCheck(c, depth, "buf.WriteBool("+value+" != nil)")
	c.Line(depth, "if %s != nil {", value)
	goCheck(c, depth+1, value+".Write(buf)")
	c.Line(depth, "}")
	return nil
}

func (goObject) ReadObject(c *Context, depth int, t *field.Type) (string, error) {
	present := c.Next("present")
	result := c.Result()
	c.Line(depth, "%s, err := buf.ReadBool()", present)
	goReadErr(c, depth)
	c.Line(depth, "var %s %s", result, goType(t))
	c.Line(depth, "if %s {", present)
	c.Line(depth+1, "%s, err = Read%s(buf)", result, TypeName(t.Protocol))
	goReadErr(c, depth+1)
	c.Line(depth, "}")
	return result, nil
}
