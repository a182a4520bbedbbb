// Package analysis compiles protocol definitions into registrations.
//
// Analysis assigns module and protocol ids, resolves every field type to a
// codec, links object fields to the registrations they reference and, when
// asked, runs the code generators. It is deterministic: the same definitions
// always yield the same ids, fingerprint and generated files.
package analysis

import (
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/protoreg/internal/codegen"
	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidModuleID       = errors.New("analysis: module id out of range")
	ErrReservedModule        = errors.New("analysis: module is reserved")
	ErrDuplicateModuleID     = errors.New("analysis: duplicate module id")
	ErrDuplicateModuleName   = errors.New("analysis: duplicate module name")
	ErrUnknownModule         = errors.New("analysis: unknown module")
	ErrInvalidProtocolID     = errors.New("analysis: protocol id out of range")
	ErrDuplicateProtocolID   = errors.New("analysis: duplicate protocol id")
	ErrDuplicateProtocolName = errors.New("analysis: duplicate protocol name")
	ErrInvalidFieldName      = errors.New("analysis: invalid field name")
)

// ConfigError is a fatal problem in the protocol definitions.
type ConfigError struct {
	Err    error
	Detail string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.Detail) }

func (e *ConfigError) Unwrap() error { return e.Err }

// UnsupportedFieldError names a field whose type has no codec.
type UnsupportedFieldError struct {
	Protocol string
	Field    string
	Type     string
	Err      error
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("analysis: unsupported field type %q for %s.%s: %v", e.Type, e.Protocol, e.Field, e.Err)
}

func (e *UnsupportedFieldError) Unwrap() error { return e.Err }

var errUndeclaredProtocol = errors.New("not a declared protocol")

type Options struct {
	// Languages names the codegen backends to run.
	Languages []string
	// OutputDir receives generated files, one sub-directory per language.
	// Files are only kept in memory when empty.
	OutputDir      string
	Fold           bool
	GoPackage      string
	GoBufferImport string
}

type Result struct {
	// Modules is sorted by id and starts with the default module.
	Modules []*registration.Module
	// Registrations is sorted by protocol id.
	Registrations []*registration.Registration
	// Files holds generated files keyed by backend name.
	Files       map[string][]codegen.File
	Fingerprint string
}

// DeriveID is the protocol id of a protocol declared without one: 1 plus
// the 32-bit FNV-1a hash of its name modulo MaxProtocolNum-1. Derived ids
// are part of the wire contract and must never change.
func DeriveID(name string) int16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int16(1 + h.Sum32()%(registration.MaxProtocolNum-1))
}

func Analyze(set schema.Set, opts Options) (*Result, error) {
	if err := schema.Validate(set); err != nil {
		return nil, err
	}
	modules, byName, err := analyzeModules(set.Modules)
	if err != nil {
		return nil, err
	}

	regs := make(map[string]*registration.Registration, len(set.Protocols))
	idOwner := make(map[int16]string, len(set.Protocols))
	declared := make(map[string]struct{}, len(set.Protocols))
	for _, p := range set.Protocols {
		if _, dup := declared[p.Name]; dup {
			return nil, &ConfigError{Err: ErrDuplicateProtocolName, Detail: p.Name}
		}
		declared[p.Name] = struct{}{}
	}

	ordered := make([]*registration.Registration, 0, len(set.Protocols))
	for _, p := range set.Protocols {
		moduleID, err := moduleOf(p, byName)
		if err != nil {
			return nil, err
		}
		id, err := protocolID(p)
		if err != nil {
			return nil, err
		}
		if owner, dup := idOwner[id]; dup {
			return nil, &ConfigError{
				Err:    ErrDuplicateProtocolID,
				Detail: fmt.Sprintf("%s and %s both resolve to %d", owner, p.Name, id),
			}
		}
		idOwner[id] = p.Name

		fields, err := buildFields(p, declared)
		if err != nil {
			return nil, err
		}
		r := registration.New(id, moduleID, p.Name, fields, p.Binding)
		regs[p.Name] = r
		ordered = append(ordered, r)
	}

	for _, r := range ordered {
		for _, f := range r.Fields() {
			_ = f.Type.Walk(func(t *field.Type) error {
				if t.Kind == field.KindObject {
					t.Nested = regs[t.Protocol]
				}
				return nil
			})
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })

	fp, err := registration.Fingerprint(ordered)
	if err != nil {
		return nil, fmt.Errorf("analysis: fingerprint: %w", err)
	}
	res := &Result{Modules: modules, Registrations: ordered, Fingerprint: fp}
	if err := generate(res, opts); err != nil {
		return nil, err
	}
	log.Info().
		Int("modules", len(modules)).
		Int("protocols", len(ordered)).
		Str("fingerprint", fp).
		Msg("protocol analysis complete")
	return res, nil
}

func analyzeModules(defs []schema.ModuleDef) ([]*registration.Module, map[string]int8, error) {
	modules := []*registration.Module{registration.DefaultModule()}
	byName := map[string]int8{registration.DefaultModuleName: registration.DefaultModuleID}
	byID := map[int8]string{registration.DefaultModuleID: registration.DefaultModuleName}
	for _, m := range defs {
		if m.Name == registration.DefaultModuleName {
			return nil, nil, &ConfigError{Err: ErrReservedModule, Detail: m.Name}
		}
		if m.ID < 1 || int(m.ID) >= registration.MaxModuleNum {
			return nil, nil, &ConfigError{Err: ErrInvalidModuleID, Detail: fmt.Sprintf("%s id=%d", m.Name, m.ID)}
		}
		if owner, dup := byID[m.ID]; dup {
			return nil, nil, &ConfigError{
				Err:    ErrDuplicateModuleID,
				Detail: fmt.Sprintf("%s and %s both use %d", owner, m.Name, m.ID),
			}
		}
		if _, dup := byName[m.Name]; dup {
			return nil, nil, &ConfigError{Err: ErrDuplicateModuleName, Detail: m.Name}
		}
		byID[m.ID] = m.Name
		byName[m.Name] = m.ID
		modules = append(modules, &registration.Module{ID: m.ID, Name: m.Name})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })
	return modules, byName, nil
}

func moduleOf(p schema.ProtocolDef, byName map[string]int8) (int8, error) {
	name := strings.TrimSpace(p.Module)
	if name == "" {
		return registration.DefaultModuleID, nil
	}
	id, ok := byName[name]
	if !ok {
		return 0, &ConfigError{Err: ErrUnknownModule, Detail: fmt.Sprintf("%s references %s", p.Name, name)}
	}
	return id, nil
}

func protocolID(p schema.ProtocolDef) (int16, error) {
	if p.ID == 0 {
		return DeriveID(p.Name), nil
	}
	if p.ID < 1 || int(p.ID) >= registration.MaxProtocolNum {
		return 0, &ConfigError{Err: ErrInvalidProtocolID, Detail: fmt.Sprintf("%s id=%d", p.Name, p.ID)}
	}
	return p.ID, nil
}

func buildFields(p schema.ProtocolDef, declared map[string]struct{}) ([]registration.Field, error) {
	fields := make([]registration.Field, 0, len(p.Fields))
	for _, f := range p.Fields {
		if !validFieldName(f.Name) {
			return nil, &ConfigError{Err: ErrInvalidFieldName, Detail: fmt.Sprintf("%s.%s", p.Name, f.Name)}
		}
		typ, err := field.ParseType(f.Type)
		if err != nil {
			return nil, &UnsupportedFieldError{Protocol: p.Name, Field: f.Name, Type: f.Type, Err: err}
		}
		err = typ.Walk(func(t *field.Type) error {
			if t.Kind != field.KindObject {
				return nil
			}
			if _, ok := declared[t.Protocol]; !ok {
				return fmt.Errorf("%w: %s", errUndeclaredProtocol, t.Protocol)
			}
			return nil
		})
		if err != nil {
			return nil, &UnsupportedFieldError{Protocol: p.Name, Field: f.Name, Type: f.Type, Err: err}
		}
		fields = append(fields, registration.Field{Name: f.Name, Type: typ})
	}
	return fields, nil
}

func validFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		if !letter && (i == 0 || c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func generate(res *Result, opts Options) error {
	if len(opts.Languages) == 0 {
		return nil
	}
	names := make(map[int8]string, len(res.Modules))
	for _, m := range res.Modules {
		names[m.ID] = m.Name
	}
	genOpts := codegen.Options{Fold: opts.Fold, GoPackage: opts.GoPackage, GoBufferImport: opts.GoBufferImport}
	res.Files = make(map[string][]codegen.File, len(opts.Languages))
	for _, lang := range opts.Languages {
		b, err := codegen.Lookup(lang)
		if err != nil {
			return err
		}
		files, err := codegen.Generate(b, res.Registrations, func(id int8) string { return names[id] }, genOpts)
		if err != nil {
			return err
		}
		res.Files[b.Name()] = files
		if opts.OutputDir != "" {
			if err := codegen.WriteFiles(filepath.Join(opts.OutputDir, b.Name()), files); err != nil {
				return err
			}
		}
	}
	return nil
}
