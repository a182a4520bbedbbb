package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/internal/protocol/schema"
	"github.com/danmuck/protoreg/internal/testutil/testlog"
	"github.com/danmuck/protoreg/pkg/buffer"
)

func pingSet() schema.Set {
	return schema.Set{
		Modules: []schema.ModuleDef{{ID: 1, Name: "chat"}},
		Protocols: []schema.ProtocolDef{
			{Name: "Ping", Module: "chat", Fields: []schema.FieldDef{
				{Name: "id", Type: "short"},
				{Name: "name", Type: "string"},
			}},
		},
	}
}

func newPingRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if _, err := r.InitProtocol(pingSet(), analysis.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func TestPingEndToEndLayout(t *testing.T) {
	testlog.Start(t)
	r := newPingRegistry(t)
	id := analysis.DeriveID("Ping")

	buf := buffer.New(0)
	in := &registration.Message{Type: "Ping", Fields: []any{int16(42), "ping"}}
	if err := r.Write(buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := binary.BigEndian.AppendUint16(nil, uint16(id))
	want = append(want, 0x00, 0x2a, 0x00, 0x00, 0x00, 0x04, 'p', 'i', 'n', 'g')
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("frame layout: got=%x want=%x", buf.Bytes(), want)
	}

	out, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip: got=%+v want=%+v", out, in)
	}
	if buf.Len() != 0 {
		t.Fatalf("read left %d bytes", buf.Len())
	}
}

func TestReadUnknownOrCorruptIDs(t *testing.T) {
	testlog.Start(t)
	r := newPingRegistry(t)
	unused := analysis.DeriveID("Ping") + 1
	frames := [][]byte{
		binary.BigEndian.AppendUint16(nil, uint16(unused)),
		{0x7f, 0xff},
		{0xff, 0xff},
		{0x80, 0x00},
	}
	for _, frame := range frames {
		_, err := r.Read(buffer.Wrap(frame))
		var de *DecodeError
		if !errors.As(err, &de) || !errors.Is(err, ErrUnknownProtocol) {
			t.Fatalf("frame %x: expected unknown protocol DecodeError, got %v", frame, err)
		}
		if de.Reason() != "unknown_protocol" {
			t.Fatalf("reason: %s", de.Reason())
		}
	}

	_, err := r.Read(buffer.Wrap([]byte{0x01}))
	if !errors.Is(err, buffer.ErrTruncated) {
		t.Fatalf("expected truncated id, got %v", err)
	}
	frame := binary.BigEndian.AppendUint16(nil, uint16(analysis.DeriveID("Ping")))
	_, err = r.Read(buffer.Wrap(append(frame, 0x00, 0x2a, 0x00)))
	var de *DecodeError
	if !errors.As(err, &de) || de.Protocol != "Ping" || de.Reason() != "truncated" {
		t.Fatalf("expected truncated Ping payload, got %v", err)
	}

	// The registry still serves traffic after failures.
	buf := buffer.New(0)
	if err := r.Write(buf, &registration.Message{Type: "Ping", Fields: []any{int16(1), ""}}); err != nil {
		t.Fatalf("write after failures: %v", err)
	}
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read after failures: %v", err)
	}
}

func TestModuleLookups(t *testing.T) {
	testlog.Start(t)
	fresh := NewRegistry()
	if m, ok := fresh.ModuleByModuleName("default"); !ok || m.ID != 0 {
		t.Fatalf("default module must exist before init: %v %v", m, ok)
	}

	r := newPingRegistry(t)
	if m, ok := r.ModuleByModuleName("default"); !ok || m.ID != registration.DefaultModuleID {
		t.Fatalf("default module: %v %v", m, ok)
	}
	if _, ok := r.ModuleByModuleName("Default"); ok {
		t.Fatalf("name lookup must be exact")
	}
	if _, ok := r.ModuleByModuleName("nope"); ok {
		t.Fatalf("unregistered module name found")
	}
	if m, ok := r.ModuleByProtocolID(analysis.DeriveID("Ping")); !ok || m.Name != "chat" {
		t.Fatalf("module by protocol id: %v %v", m, ok)
	}
	if _, ok := r.ModuleByProtocolID(-1); ok {
		t.Fatalf("negative protocol id resolved")
	}
	if _, ok := r.ModuleByModuleID(-3); ok {
		t.Fatalf("negative module id resolved")
	}
	if m, ok := r.ModuleByModuleID(1); !ok || m.Name != "chat" {
		t.Fatalf("module by id: %v %v", m, ok)
	}
	if got := len(r.Modules()); got != 2 {
		t.Fatalf("modules: %d", got)
	}
	if ps := r.Protocols(); len(ps) != 1 || ps[0].Name() != "Ping" {
		t.Fatalf("protocols: %+v", ps)
	}
	if r.GetProtocol(MaxProtocolNum-1) != nil || r.GetProtocol(-7) != nil {
		t.Fatalf("empty or invalid slots must be nil")
	}
}

func TestInitProtocolRules(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	bad := pingSet()
	bad.Protocols = append(bad.Protocols, schema.ProtocolDef{Name: "Pong", ID: analysis.DeriveID("Ping")})
	_, err := r.InitProtocol(bad, analysis.Options{})
	if !errors.Is(err, analysis.ErrDuplicateProtocolID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	if r.Initialized() || r.GetProtocol(analysis.DeriveID("Ping")) != nil {
		t.Fatalf("failed init must leave registry empty")
	}

	res, err := r.InitProtocol(pingSet(), analysis.Options{})
	if err != nil {
		t.Fatalf("init after failure: %v", err)
	}
	if r.Fingerprint() == "" || r.Fingerprint() != res.Fingerprint {
		t.Fatalf("fingerprint not recorded")
	}
	if _, err := r.InitProtocol(pingSet(), analysis.Options{}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if err := r.SetObserver(nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("observer after init: %v", err)
	}
}

type unknownValue struct{}

type strayValue struct{}

func (strayValue) ProtocolID() int16 { return 9 }

func TestWriteInvariantViolations(t *testing.T) {
	testlog.Start(t)
	r := newPingRegistry(t)
	var inv *InvariantError
	for _, v := range []any{nil, unknownValue{}, strayValue{}, &registration.Message{Type: "Missing"}} {
		if err := r.Write(buffer.New(0), v); !errors.As(err, &inv) {
			t.Fatalf("%T: expected InvariantError, got %v", v, err)
		}
	}
	if _, err := r.ProtocolID("Missing"); !errors.As(err, &inv) {
		t.Fatalf("ProtocolID of unknown name: %v", err)
	}
}

func TestWriteBufferFull(t *testing.T) {
	testlog.Start(t)
	r := newPingRegistry(t)
	err := r.Write(buffer.NewWithLimit(0, 6), &registration.Message{Type: "Ping", Fields: []any{int16(1), "long name"}})
	if !errors.Is(err, buffer.ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestWriteFailureLeavesNoPartialFrame(t *testing.T) {
	testlog.Start(t)
	r := newPingRegistry(t)
	buf := buffer.New(0)
	if err := r.Write(buf, &registration.Message{Type: "Ping", Fields: []any{int16(1), "a"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	mark := buf.Written()

	err := r.Write(buf, &registration.Message{Type: "Ping", Fields: []any{int16(2), int32(3)}})
	var fe *registration.FieldError
	if !errors.As(err, &fe) || fe.Field != "name" {
		t.Fatalf("expected FieldError on name, got %v", err)
	}
	if buf.Written() != mark {
		t.Fatalf("partial frame kept: written=%d want=%d", buf.Written(), mark)
	}

	limited := buffer.NewWithLimit(0, 6)
	_ = r.Write(limited, &registration.Message{Type: "Ping", Fields: []any{int16(1), "long name"}})
	if limited.Written() != 0 {
		t.Fatalf("buffer full left %d bytes", limited.Written())
	}

	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("trailing bytes after rollback: %x", buf.Bytes())
	}
}

func nodeSet() schema.Set {
	return schema.Set{
		Modules: []schema.ModuleDef{{ID: 1, Name: "graph"}},
		Protocols: []schema.ProtocolDef{
			{Name: "Node", Module: "graph", Fields: []schema.FieldDef{
				{Name: "next", Type: "Node"},
			}},
		},
	}
}

func TestReadRejectsOverDeepFrame(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	obs := &countingObserver{}
	if err := r.SetObserver(obs); err != nil {
		t.Fatalf("observer: %v", err)
	}
	if _, err := r.InitProtocol(nodeSet(), analysis.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	id := analysis.DeriveID("Node")

	frame := binary.BigEndian.AppendUint16(nil, uint16(id))
	frame = append(frame, bytes.Repeat([]byte{1}, 1<<20)...)
	frame = append(frame, 0)
	_, err := r.Read(buffer.Wrap(frame))
	var de *DecodeError
	if !errors.As(err, &de) || !errors.Is(err, field.ErrTooDeep) {
		t.Fatalf("expected too deep DecodeError, got %v", err)
	}
	if de.Protocol != "Node" || de.Reason() != "too_deep" {
		t.Fatalf("decode error: %+v reason=%s", de, de.Reason())
	}
	if obs.failed.Load() != 1 {
		t.Fatalf("decode failures observed: %d", obs.failed.Load())
	}

	var deep any
	for i := 0; i <= field.MaxDepth; i++ {
		deep = &registration.Message{Type: "Node", Fields: []any{deep}}
	}
	buf := buffer.New(0)
	if err := r.Write(buf, deep); err != nil {
		t.Fatalf("write at max depth: %v", err)
	}
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read at max depth: %v", err)
	}
	mark := buf.Written()
	tooDeep := &registration.Message{Type: "Node", Fields: []any{deep}}
	if err := r.Write(buf, tooDeep); !errors.Is(err, field.ErrTooDeep) {
		t.Fatalf("expected ErrTooDeep on write, got %v", err)
	}
	if buf.Written() != mark {
		t.Fatalf("over deep write left %d bytes", buf.Written()-mark)
	}
}

type chatPing struct {
	ID   int16
	Name string
}

var chatPingID int16

func (*chatPing) ProtocolID() int16 { return chatPingID }

func TestBoundStructRoundTrip(t *testing.T) {
	testlog.Start(t)
	set := pingSet()
	err := set.Bind("Ping", &registration.Binding{
		Values: func(v any) ([]any, error) {
			p := v.(*chatPing)
			return []any{p.ID, p.Name}, nil
		},
		New: func(values []any) (any, error) {
			return &chatPing{ID: values[0].(int16), Name: values[1].(string)}, nil
		},
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	r := NewRegistry()
	if _, err := r.InitProtocol(set, analysis.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	chatPingID = analysis.DeriveID("Ping")

	buf := buffer.New(0)
	if err := r.Write(buf, &chatPing{ID: 42, Name: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p, ok := out.(*chatPing); !ok || p.ID != 42 || p.Name != "ping" {
		t.Fatalf("bound read: %#v", out)
	}
}

type countingObserver struct {
	written, read, failed atomic.Int64
}

func (o *countingObserver) FrameWritten(int16, int) { o.written.Add(1) }
func (o *countingObserver) FrameRead(int16, int)    { o.read.Add(1) }
func (o *countingObserver) DecodeFailed(string)     { o.failed.Add(1) }

func TestConcurrentTraffic(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	obs := &countingObserver{}
	if err := r.SetObserver(obs); err != nil {
		t.Fatalf("observer: %v", err)
	}
	if _, err := r.InitProtocol(pingSet(), analysis.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	want := analysis.DeriveID("Ping")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := r.ProtocolID("Ping")
				if err != nil || id != want {
					errs <- err
					return
				}
				buf := buffer.New(16)
				msg := &registration.Message{Type: "Ping", Fields: []any{int16(w), "x"}}
				if err := r.Write(buf, msg); err != nil {
					errs <- err
					return
				}
				if _, err := r.Read(buf); err != nil {
					errs <- err
					return
				}
				_, _ = r.Read(buffer.Wrap([]byte{0x7f, 0x00}))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker failed: %v", err)
	}
	if obs.written.Load() != workers*50 || obs.read.Load() != workers*50 || obs.failed.Load() != workers*50 {
		t.Fatalf("observer counts: w=%d r=%d f=%d", obs.written.Load(), obs.read.Load(), obs.failed.Load())
	}
}
