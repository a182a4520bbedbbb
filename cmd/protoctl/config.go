package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/schema"
)

const defaultBufferImport = "github.com/danmuck/protoreg/pkg/buffer"

// genConfig is the resolved protogen.toml.
type genConfig struct {
	Protocols      []string
	Languages      []string
	Output         string
	Fold           bool
	GoPackage      string
	GoBufferImport string
}

type fileConfig struct {
	Protocols      []string `toml:"protocols"`
	Languages      []string `toml:"languages"`
	Output         string   `toml:"output"`
	Fold           bool     `toml:"fold"`
	GoPackage      string   `toml:"go_package"`
	GoBufferImport string   `toml:"go_buffer_import"`
}

func defaultGenConfig() genConfig {
	return genConfig{
		Languages:      []string{"gdscript", "go", "typescript"},
		Output:         "generated",
		GoPackage:      "protocol",
		GoBufferImport: defaultBufferImport,
	}
}

// loadGenConfig reads path over the defaults. Relative protocol and output
// paths resolve against the config file's directory.
func loadGenConfig(path string) (genConfig, error) {
	cfg := defaultGenConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return genConfig{}, fmt.Errorf("load protogen config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return genConfig{}, fmt.Errorf("load protogen config: unknown key %s", undecoded[0])
	}
	base := filepath.Dir(path)

	if meta.IsDefined("protocols") {
		cfg.Protocols = resolvePaths(base, raw.Protocols)
	}
	if meta.IsDefined("languages") {
		cfg.Languages = normalizeList(raw.Languages)
	}
	if meta.IsDefined("output") {
		if out := strings.TrimSpace(raw.Output); out != "" {
			cfg.Output = out
		}
	}
	if !filepath.IsAbs(cfg.Output) {
		cfg.Output = filepath.Join(base, cfg.Output)
	}
	if meta.IsDefined("fold") {
		cfg.Fold = raw.Fold
	}
	if meta.IsDefined("go_package") {
		cfg.GoPackage = strings.TrimSpace(raw.GoPackage)
	}
	if meta.IsDefined("go_buffer_import") {
		cfg.GoBufferImport = strings.TrimSpace(raw.GoBufferImport)
	}

	if len(cfg.Protocols) == 0 {
		return genConfig{}, fmt.Errorf("load protogen config: protocols is required")
	}
	return cfg, nil
}

func (c genConfig) analysisOptions() analysis.Options {
	return analysis.Options{
		Languages:      c.Languages,
		OutputDir:      c.Output,
		Fold:           c.Fold,
		GoPackage:      c.GoPackage,
		GoBufferImport: c.GoBufferImport,
	}
}

// loadSchemas parses and merges protocol definition files in order.
func loadSchemas(paths []string) (schema.Set, error) {
	if len(paths) == 0 {
		return schema.Set{}, fmt.Errorf("no protocol files given")
	}
	sets := make([]schema.Set, 0, len(paths))
	for _, p := range paths {
		set, err := schema.Load(p)
		if err != nil {
			return schema.Set{}, fmt.Errorf("%s: %w", p, err)
		}
		sets = append(sets, set)
	}
	return schema.Merge(sets...), nil
}

func resolvePaths(base string, in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range normalizeList(in) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, p)
	}
	return out
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func splitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}
