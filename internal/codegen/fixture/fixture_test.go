package fixture

import (
	"bytes"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/protoreg/internal/codegen"
	"github.com/danmuck/protoreg/internal/protocol"
	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/internal/protocol/schema"
	"github.com/danmuck/protoreg/internal/testutil/testlog"
	"github.com/danmuck/protoreg/pkg/buffer"
)

func fixtureSet() schema.Set {
	return schema.Set{
		Modules: []schema.ModuleDef{{ID: 1, Name: "demo"}},
		Protocols: []schema.ProtocolDef{
			{Name: "Point", Module: "demo", ID: 60, Fields: []schema.FieldDef{
				{Name: "x", Type: "int"},
				{Name: "y", Type: "int"},
			}},
			{Name: "Sample", Module: "demo", ID: 61, Fields: []schema.FieldDef{
				{Name: "flag", Type: "bool"},
				{Name: "ratio", Type: "double"},
				{Name: "blob", Type: "bytes"},
				{Name: "grid", Type: "list<list<string>>"},
				{Name: "points", Type: "map<int,Point>"},
				{Name: "origin", Type: "Point"},
				{Name: "extra", Type: "Point"},
			}},
		},
	}
}

func newRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	r := protocol.NewRegistry()
	if _, err := r.InitProtocol(fixtureSet(), analysis.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func sample() *Sample {
	return &Sample{
		Flag:  true,
		Ratio: -2.5,
		Blob:  []byte{0, 1, 0xff},
		Grid:  [][]string{{"a", "bc"}, {}, {"é"}},
		Points: map[int32]*Point{
			7:  {X: 5, Y: 6},
			-3: nil,
			0:  {X: -1, Y: 1 << 30},
		},
		Origin: &Point{X: 9, Y: -9},
	}
}

func point(x, y int32) *registration.Message {
	return &registration.Message{Type: "Point", Fields: []any{x, y}}
}

func sampleMessage() *registration.Message {
	return &registration.Message{Type: "Sample", Fields: []any{
		true,
		-2.5,
		[]byte{0, 1, 0xff},
		[]any{[]any{"a", "bc"}, []any{}, []any{"é"}},
		map[any]any{int32(7): point(5, 6), int32(-3): nil, int32(0): point(-1, 1<<30)},
		point(9, -9),
		nil,
	}}
}

func generatedFrame(t *testing.T, s *Sample) []byte {
	t.Helper()
	buf := buffer.New(0)
	if err := buf.WriteInt16(SampleProtocolID); err != nil {
		t.Fatalf("write id: %v", err)
	}
	if err := s.Write(buf); err != nil {
		t.Fatalf("generated write: %v", err)
	}
	return buf.Bytes()
}

func TestGeneratedWriteMatchesRuntimeRead(t *testing.T) {
	testlog.Start(t)
	r := newRegistry(t)
	frame := generatedFrame(t, sample())

	got, err := r.Read(buffer.Wrap(frame))
	if err != nil {
		t.Fatalf("runtime read: %v", err)
	}
	if !reflect.DeepEqual(got, sampleMessage()) {
		t.Fatalf("runtime decode: got=%+v want=%+v", got, sampleMessage())
	}

	again := buffer.New(0)
	if err := r.Write(again, got); err != nil {
		t.Fatalf("runtime write: %v", err)
	}
	if !bytes.Equal(again.Bytes(), frame) {
		t.Fatalf("runtime bytes differ:\n got=%x\nwant=%x", again.Bytes(), frame)
	}
}

func TestRuntimeWriteMatchesGeneratedRead(t *testing.T) {
	testlog.Start(t)
	r := newRegistry(t)
	buf := buffer.New(0)
	if err := r.Write(buf, sampleMessage()); err != nil {
		t.Fatalf("runtime write: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), generatedFrame(t, sample())) {
		t.Fatalf("generated bytes differ from runtime bytes")
	}

	id, err := buf.ReadInt16()
	if err != nil || id != SampleProtocolID {
		t.Fatalf("protocol id: %d %v", id, err)
	}
	got, err := ReadSample(buf)
	if err != nil {
		t.Fatalf("generated read: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Fatalf("generated decode: got=%+v want=%+v", got, sample())
	}
	if buf.Len() != 0 {
		t.Fatalf("generated read left %d bytes", buf.Len())
	}
}

func TestGeneratedIdentityMatchesRegistry(t *testing.T) {
	testlog.Start(t)
	r := newRegistry(t)
	for _, v := range []interface {
		ProtocolID() int16
		ProtocolName() string
	}{&Point{}, &Sample{}} {
		entry := r.GetProtocol(v.ProtocolID())
		if entry == nil || entry.Name() != v.ProtocolName() || entry.Module() != SampleModuleID {
			t.Fatalf("%s: registry entry %+v", v.ProtocolName(), entry)
		}
	}

	buf := buffer.New(0)
	if err := r.Write(buf, &registration.Message{Type: "Point", Fields: []any{int32(3), int32(4)}}); err != nil {
		t.Fatalf("write point: %v", err)
	}
	if _, err := buf.ReadInt16(); err != nil {
		t.Fatalf("read id: %v", err)
	}
	p, err := ReadPoint(buf)
	if err != nil || p.X != 3 || p.Y != 4 {
		t.Fatalf("generated point: %+v %v", p, err)
	}
}

func squash(b []byte) string { return strings.Join(strings.Fields(string(b)), " ") }

func TestCheckedInSourceIsCurrent(t *testing.T) {
	testlog.Start(t)
	res, err := analysis.Analyze(fixtureSet(), analysis.Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	files, err := codegen.Generate(codegen.Golang{}, res.Registrations, nil, codegen.Options{GoPackage: "fixture"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("generated %d files", len(files))
	}
	for _, f := range files {
		current, err := os.ReadFile(f.Path)
		if err != nil {
			t.Fatalf("read %s: %v", f.Path, err)
		}
		if squash(current) != squash(f.Content) {
			t.Fatalf("%s is stale, regenerate it:\n%s", f.Path, f.Content)
		}
	}
}
