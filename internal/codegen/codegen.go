// Package codegen emits serializer source for protocol registrations.
//
// A Backend is one target language. It owns an EmitterTable with one Emitter
// per field kind, and every Emitter in every backend produces code for the
// same wire format as the runtime field codecs. Adding a language means
// adding a Backend; analysis and the registry do not change.
package codegen

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/rs/zerolog/log"
)

const generatedBy = "Code generated by protoreg. DO NOT EDIT."

var ErrUnknownBackend = errors.New("codegen: unknown backend")

// UnsupportedError reports a field kind the backend has no emitter for.
type UnsupportedError struct {
	Backend  string
	Protocol string
	Kind     field.Kind
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("codegen: %s has no emitter for %s (protocol %s)", e.Backend, e.Kind, e.Protocol)
}

// NameConflictError reports a generated identifier that is already taken by
// another field, another protocol or a generated member.
type NameConflictError struct {
	Backend  string
	Protocol string
	Field    string
	Name     string
}

func (e *NameConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("codegen: %s: protocol %s generates type %s, which is already taken", e.Backend, e.Protocol, e.Name)
	}
	return fmt.Sprintf("codegen: %s: field %s of %s generates %s, which is already taken", e.Backend, e.Field, e.Protocol, e.Name)
}

// checkNames rejects fields of r whose identifier, after ident, repeats or
// matches a reserved member. A nil ident keeps field names as declared.
func checkNames(backend string, r *registration.Registration, ident func(string) string, reserved ...string) error {
	taken := make(map[string]bool, len(reserved)+len(r.Fields()))
	for _, name := range reserved {
		taken[name] = true
	}
	for _, f := range r.Fields() {
		name := f.Name
		if ident != nil {
			name = ident(name)
		}
		if taken[name] {
			return &NameConflictError{Backend: backend, Protocol: r.Name(), Field: f.Name, Name: name}
		}
		taken[name] = true
	}
	return nil
}

// Emitter writes source for one field kind. WriteObject emits statements
// that serialize the expression value. ReadObject emits statements that
// deserialize one value and returns the name of the local binding holding it.
type Emitter interface {
	WriteObject(c *Context, value string, depth int, t *field.Type) error
	ReadObject(c *Context, depth int, t *field.Type) (string, error)
}

type EmitterTable map[field.Kind]Emitter

// Backend is one target language.
type Backend interface {
	Name() string
	Extension() string
	Indent() string
	Emitters() EmitterTable
	FileName(r *registration.Registration) string
	// Protocol emits the complete file for r.
	Protocol(c *Context, r *registration.Registration) error
}

// Formatter is implemented by backends that normalize their output.
type Formatter interface {
	Format(src []byte) ([]byte, error)
}

// RuntimeProvider is implemented by backends whose output depends on
// support files shipped next to the generated protocols.
type RuntimeProvider interface {
	Runtime() []File
}

// flat is implemented by backends that ignore module folding.
type flat interface {
	flat()
}

type Options struct {
	// Fold writes each module's protocols into a sub-directory named after
	// the module.
	Fold           bool
	GoPackage      string
	GoBufferImport string
}

// File is one generated source file. Path is slash separated and relative
// to the output directory. Protocol is empty for runtime support files.
type File struct {
	Language string
	Path     string
	Protocol string
	Content  []byte
}

// Context carries the state of one generation pass. A pass emits one file,
// and the binding counter is scoped to it.
type Context struct {
	b       strings.Builder
	backend Backend
	opts    Options
	entry   *registration.Registration
	path    string
	paths   map[string]string
	counter int
}

func (c *Context) Backend() Backend { return c.backend }

func (c *Context) Options() Options { return c.opts }

// Path returns the path of the file being generated.
func (c *Context) Path() string { return c.path }

// PathOf returns the generated path of the named protocol.
func (c *Context) PathOf(protocol string) (string, bool) {
	p, ok := c.paths[protocol]
	return p, ok
}

// Next returns a fresh local name with the given prefix.
func (c *Context) Next(prefix string) string {
	c.counter++
	return fmt.Sprintf("%s%d", prefix, c.counter)
}

// Result returns a fresh result binding name.
func (c *Context) Result() string { return c.Next("result") }

// Line writes one indented line.
func (c *Context) Line(depth int, format string, args ...any) {
	c.b.WriteString(strings.Repeat(c.backend.Indent(), depth))
	fmt.Fprintf(&c.b, format, args...)
	c.b.WriteByte('\n')
}

func (c *Context) Blank() { c.b.WriteByte('\n') }

// Write dispatches to the emitter for t.
func (c *Context) Write(value string, depth int, t *field.Type) error {
	e, err := c.emitter(t)
	if err != nil {
		return err
	}
	return e.WriteObject(c, value, depth, t)
}

// Read dispatches to the emitter for t.
func (c *Context) Read(depth int, t *field.Type) (string, error) {
	e, err := c.emitter(t)
	if err != nil {
		return "", err
	}
	return e.ReadObject(c, depth, t)
}

func (c *Context) emitter(t *field.Type) (Emitter, error) {
	kind := field.KindInvalid
	if t != nil {
		kind = t.Kind
	}
	e, ok := c.backend.Emitters()[kind]
	if !ok || e == nil {
		return nil, &UnsupportedError{Backend: c.backend.Name(), Protocol: c.entry.Name(), Kind: kind}
	}
	return e, nil
}

func (c *Context) String() string { return c.b.String() }

// Generate emits one file per entry, in protocol id order, followed by the
// backend's runtime files. moduleName resolves the folder of a module id
// when folding.
func Generate(b Backend, entries []*registration.Registration, moduleName func(int8) string, opts Options) ([]File, error) {
	sorted := make([]*registration.Registration, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	types := make(map[string]bool, len(sorted))
	for _, r := range sorted {
		name := TypeName(r.Name())
		if types[name] {
			return nil, &NameConflictError{Backend: b.Name(), Protocol: r.Name(), Name: name}
		}
		types[name] = true
	}

	_, isFlat := b.(flat)
	paths := make(map[string]string, len(sorted))
	for _, r := range sorted {
		p := b.FileName(r)
		if opts.Fold && !isFlat {
			dir := registration.DefaultModuleName
			if moduleName != nil {
				if name := moduleName(r.Module()); name != "" {
					dir = name
				}
			}
			p = path.Join(dir, p)
		}
		paths[r.Name()] = p
	}

	files := make([]File, 0, len(sorted)+1)
	for _, r := range sorted {
		c := &Context{backend: b, opts: opts, entry: r, path: paths[r.Name()], paths: paths}
		if err := b.Protocol(c, r); err != nil {
			return nil, err
		}
		content := []byte(c.String())
		if f, ok := b.(Formatter); ok {
			formatted, err := f.Format(content)
			if err != nil {
				return nil, fmt.Errorf("codegen: format %s: %w", c.path, err)
			}
			content = formatted
		}
		files = append(files, File{Language: b.Name(), Path: c.path, Protocol: r.Name(), Content: content})
	}
	if rp, ok := b.(RuntimeProvider); ok && len(sorted) > 0 {
		files = append(files, rp.Runtime()...)
	}
	log.Debug().Str("backend", b.Name()).Int("files", len(files)).Msg("codegen generated")
	return files, nil
}

// WriteFiles writes generated files under dir, creating directories as
// needed.
func WriteFiles(dir string, files []File) error {
	for _, f := range files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("codegen: create %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, f.Content, 0o644); err != nil {
			return fmt.Errorf("codegen: write %s: %w", target, err)
		}
	}
	log.Info().Str("dir", dir).Int("files", len(files)).Msg("codegen wrote files")
	return nil
}
