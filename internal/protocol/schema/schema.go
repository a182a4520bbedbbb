// Package schema holds language-neutral protocol definitions: the input of
// protocol analysis. Definitions are plain data and can be loaded from TOML:
//
//	[[modules]]
//	id = 1
//	name = "chat"
//
//	[[protocols]]
//	name = "Ping"
//	module = "chat"
//	id = 42
//
//	[[protocols.fields]]
//	name = "id"
//	type = "short"
//
// Field order is the wire order.
package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

var ErrUnknownProtocol = errors.New("schema: unknown protocol")

// Set is one protocol definition set.
type Set struct {
	Modules   []ModuleDef   `toml:"modules"`
	Protocols []ProtocolDef `toml:"protocols"`
}

type ModuleDef struct {
	ID   int8   `toml:"id"`
	Name string `toml:"name"`
}

// ProtocolDef declares one message type. An empty Module means the default
// module and a zero ID means the id is derived from the name.
type ProtocolDef struct {
	Name    string                `toml:"name"`
	Module  string                `toml:"module"`
	ID      int16                 `toml:"id"`
	Fields  []FieldDef            `toml:"fields"`
	Binding *registration.Binding `toml:"-"`
}

type FieldDef struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type ValidationError struct {
	Protocol string
	Field    string
	Reason   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: protocol=%s: %s", e.Protocol, e.Reason)
	}
	return fmt.Sprintf("schema: protocol=%s field=%s: %s", e.Protocol, e.Field, e.Reason)
}

// Load reads and validates a TOML definition file.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("schema load failed (%s): %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return Set{}, fmt.Errorf("schema parse failed (%s): %w", path, err)
	}
	return set, nil
}

func Parse(data []byte) (Set, error) {
	var set Set
	if err := toml.Unmarshal(data, &set); err != nil {
		return Set{}, err
	}
	if err := Validate(set); err != nil {
		return Set{}, err
	}
	log.Debug().Int("modules", len(set.Modules)).Int("protocols", len(set.Protocols)).Msg("schema parsed")
	return set, nil
}

// Validate checks the shape of each definition. Cross-protocol rules (ids,
// module membership, type resolution) belong to analysis.
func Validate(set Set) error {
	for i, m := range set.Modules {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("schema: module[%d] missing name", i)
		}
	}
	for i, p := range set.Protocols {
		if strings.TrimSpace(p.Name) == "" {
			return ValidationError{Protocol: fmt.Sprintf("[%d]", i), Reason: "missing name"}
		}
		seen := make(map[string]struct{}, len(p.Fields))
		for j, f := range p.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return ValidationError{Protocol: p.Name, Field: fmt.Sprintf("[%d]", j), Reason: "missing name"}
			}
			if strings.TrimSpace(f.Type) == "" {
				return ValidationError{Protocol: p.Name, Field: f.Name, Reason: "missing type"}
			}
			if _, dup := seen[f.Name]; dup {
				return ValidationError{Protocol: p.Name, Field: f.Name, Reason: "duplicate field"}
			}
			seen[f.Name] = struct{}{}
		}
	}
	return nil
}

// Merge concatenates sets in argument order.
func Merge(sets ...Set) Set {
	var out Set
	for _, s := range sets {
		out.Modules = append(out.Modules, s.Modules...)
		out.Protocols = append(out.Protocols, s.Protocols...)
	}
	return out
}

// Bind attaches a Go binding to the named protocol.
func (s *Set) Bind(name string, b *registration.Binding) error {
	for i := range s.Protocols {
		if s.Protocols[i].Name == name {
			s.Protocols[i].Binding = b
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
}
