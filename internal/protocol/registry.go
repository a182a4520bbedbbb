package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/internal/protocol/schema"
	"github.com/danmuck/protoreg/pkg/buffer"
	"github.com/rs/zerolog/log"
)

const (
	MaxProtocolNum = registration.MaxProtocolNum
	MaxModuleNum   = registration.MaxModuleNum
)

// Observer receives per-frame events. Implementations must be safe for
// concurrent use.
type Observer interface {
	FrameWritten(id int16, size int)
	FrameRead(id int16, size int)
	DecodeFailed(reason string)
}

type nopObserver struct{}

func (nopObserver) FrameWritten(int16, int) {}
func (nopObserver) FrameRead(int16, int)    {}
func (nopObserver) DecodeFailed(string)     {}

// Registry is the runtime protocol index.
type Registry struct {
	protocols [MaxProtocolNum]*registration.Registration
	modules   [MaxModuleNum]*registration.Module
	ordered   []*registration.Registration

	initMu      sync.Mutex
	initialized atomic.Bool
	fingerprint string
	observer    Observer

	// ids caches protocol name to id. Inserts copy the map under cacheMu.
	ids     atomic.Pointer[map[string]int16]
	cacheMu sync.Mutex
}

// NewRegistry returns an empty registry holding only the default module.
func NewRegistry() *Registry {
	r := &Registry{observer: nopObserver{}}
	r.modules[registration.DefaultModuleID] = registration.DefaultModule()
	empty := map[string]int16{}
	r.ids.Store(&empty)
	return r
}

// SetObserver installs o. It must be called before InitProtocol.
func (r *Registry) SetObserver(o Observer) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
	return nil
}

// InitProtocol analyzes set and installs the result. It may succeed at most
// once per registry; redefining protocols means building a new Registry.
func (r *Registry) InitProtocol(set schema.Set, opts analysis.Options) (*analysis.Result, error) {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.initialized.Load() {
		return nil, ErrAlreadyInitialized
	}
	res, err := analysis.Analyze(set, opts)
	if err != nil {
		return nil, err
	}
	if err := r.install(res); err != nil {
		return nil, err
	}
	r.initialized.Store(true)
	log.Info().
		Int("modules", len(res.Modules)).
		Int("protocols", len(res.Registrations)).
		Str("fingerprint", res.Fingerprint).
		Msg("protocol registry initialized")
	return res, nil
}

func (r *Registry) install(res *analysis.Result) error {
	var protocols [MaxProtocolNum]*registration.Registration
	modules := r.modules
	for _, m := range res.Modules {
		if m.ID < 0 || int(m.ID) >= MaxModuleNum {
			return &InvariantError{Reason: fmt.Sprintf("module %s id %d out of range", m.Name, m.ID)}
		}
		if prev := modules[m.ID]; prev != nil && prev.Name != m.Name {
			return fmt.Errorf("%w: %d (%s, %s)", ErrDuplicateModule, m.ID, prev.Name, m.Name)
		}
		modules[m.ID] = m
	}
	for _, e := range res.Registrations {
		id := e.ID()
		if id < 0 || int(id) >= MaxProtocolNum {
			return &InvariantError{Reason: fmt.Sprintf("protocol %s id %d out of range", e.Name(), id)}
		}
		if prev := protocols[id]; prev != nil {
			return fmt.Errorf("%w: %d (%s, %s)", ErrDuplicateProtocol, id, prev.Name(), e.Name())
		}
		if modules[e.Module()] == nil {
			return &InvariantError{Reason: fmt.Sprintf("protocol %s names missing module %d", e.Name(), e.Module())}
		}
		protocols[id] = e
	}
	r.protocols = protocols
	r.modules = modules
	r.ordered = res.Registrations
	r.fingerprint = res.Fingerprint
	return nil
}

func (r *Registry) Initialized() bool { return r.initialized.Load() }

// Fingerprint identifies the installed protocol set. Empty before init.
func (r *Registry) Fingerprint() string { return r.fingerprint }

// Write writes the protocol id of v followed by its field payload. v must
// have a ProtocolID() int16 or ProtocolName() string method. On error buf
// holds nothing of the frame.
func (r *Registry) Write(buf *buffer.Buffer, v any) error {
	id, err := r.resolve(v)
	if err != nil {
		return err
	}
	entry := r.GetProtocol(id)
	if entry == nil {
		return &InvariantError{Reason: fmt.Sprintf("write of unregistered protocol id %d (%T)", id, v)}
	}
	start := buf.Written()
	if err := buf.WriteInt16(id); err != nil {
		return err
	}
	if err := entry.Write(buf, v); err != nil {
		buf.Truncate(start)
		return err
	}
	r.observer.FrameWritten(id, buf.Written()-start)
	return nil
}

func (r *Registry) resolve(v any) (int16, error) {
	switch x := v.(type) {
	case interface{ ProtocolID() int16 }:
		return x.ProtocolID(), nil
	case interface{ ProtocolName() string }:
		return r.ProtocolID(x.ProtocolName())
	case nil:
		return 0, &InvariantError{Reason: "write of nil value"}
	}
	return 0, &InvariantError{Reason: fmt.Sprintf("%T has no protocol identity", v)}
}

// Read decodes one frame. Failures are returned as *DecodeError.
func (r *Registry) Read(buf *buffer.Buffer) (any, error) {
	start := buf.Len()
	id, err := buf.ReadInt16()
	if err != nil {
		return nil, r.decodeFailed(&DecodeError{ID: -1, Err: err})
	}
	entry := r.GetProtocol(id)
	if entry == nil {
		return nil, r.decodeFailed(&DecodeError{ID: id, Err: ErrUnknownProtocol})
	}
	v, err := entry.Read(buf)
	if err != nil {
		return nil, r.decodeFailed(&DecodeError{ID: id, Protocol: entry.Name(), Err: err})
	}
	r.observer.FrameRead(id, start-buf.Len())
	return v, nil
}

func (r *Registry) decodeFailed(err *DecodeError) error {
	r.observer.DecodeFailed(err.Reason())
	log.Debug().Int16("protocol_id", err.ID).Err(err.Err).Msg("frame decode failed")
	return err
}

// GetProtocol returns the registration for id, or nil.
func (r *Registry) GetProtocol(id int16) *registration.Registration {
	if id < 0 || int(id) >= MaxProtocolNum {
		return nil
	}
	return r.protocols[id]
}

func (r *Registry) ModuleByProtocolID(id int16) (*registration.Module, bool) {
	entry := r.GetProtocol(id)
	if entry == nil {
		return nil, false
	}
	return r.ModuleByModuleID(entry.Module())
}

func (r *Registry) ModuleByModuleID(id int8) (*registration.Module, bool) {
	if id < 0 || int(id) >= MaxModuleNum {
		return nil, false
	}
	m := r.modules[id]
	return m, m != nil
}

// ModuleByModuleName scans the module table. Module counts are small.
func (r *Registry) ModuleByModuleName(name string) (*registration.Module, bool) {
	for _, m := range r.modules {
		if m != nil && m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the installed modules in id order.
func (r *Registry) Modules() []*registration.Module {
	var out []*registration.Module
	for _, m := range r.modules {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Protocols returns the installed registrations in id order.
func (r *Registry) Protocols() []*registration.Registration {
	out := make([]*registration.Registration, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ProtocolID returns the id registered for a protocol name. The first
// lookup of a name scans the installed set and caches the answer; later
// lookups do not lock. Concurrent first lookups may both scan.
func (r *Registry) ProtocolID(name string) (int16, error) {
	if id, ok := (*r.ids.Load())[name]; ok {
		return id, nil
	}
	var found *registration.Registration
	for _, e := range r.ordered {
		if e.Name() == name {
			found = e
			break
		}
	}
	if found == nil {
		return 0, &InvariantError{Reason: fmt.Sprintf("protocol %q is not registered", name)}
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	current := *r.ids.Load()
	if id, ok := current[name]; ok {
		return id, nil
	}
	next := make(map[string]int16, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = found.ID()
	r.ids.Store(&next)
	return found.ID(), nil
}
