// Command protoctl validates protocol definitions, generates client code,
// decodes captured frames and runs an admin node.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/danmuck/protoreg/internal/codegen"
	"github.com/danmuck/protoreg/internal/config"
	"github.com/danmuck/protoreg/internal/discovery"
	"github.com/danmuck/protoreg/internal/observability"
	"github.com/danmuck/protoreg/internal/protocol"
	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/frame"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/internal/server"
	"github.com/danmuck/protoreg/pkg/buffer"
	"github.com/rs/zerolog/log"
)

const usage = `usage: protoctl <command> [flags]

commands:
  init      write a config template (protocols|net|protogen)
  validate  analyze protocol files and print the fingerprint
  gen       generate client code from protogen.toml
  decode    decode hex or length-prefixed frames
  serve     run the admin server for a net.toml node
  lookup    query a running admin server
`

func main() {
	observability.InitLogger("protoctl")
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "protoctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(rest, out)
	case "validate":
		return runValidate(rest, out)
	case "gen":
		return runGen(rest, out)
	case "decode":
		return runDecode(rest, in, out)
	case "serve":
		return runServe(ctx, rest)
	case "lookup":
		return runLookup(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	kind := fs.String("kind", config.KindProtocols, "config kind: protocols|net|protogen")
	output := fs.String("output", "", "output path (defaults to <kind>.toml)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := *output
	if target == "" {
		target = strings.ToLower(strings.TrimSpace(*kind)) + ".toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s template to %s\n", *kind, target)
	return nil
}

// protocolFlags resolves protocol files from -config or -protocols.
type protocolFlags struct {
	config    *string
	protocols *string
}

func addProtocolFlags(fs *flag.FlagSet) protocolFlags {
	return protocolFlags{
		config:    fs.String("config", "", "protogen.toml listing protocol files"),
		protocols: fs.String("protocols", "", "comma separated protocol files (overrides -config)"),
	}
}

func (p protocolFlags) paths() ([]string, error) {
	if list := splitList(*p.protocols); len(list) > 0 {
		return list, nil
	}
	path := *p.config
	if path == "" {
		path = "protogen.toml"
	}
	cfg, err := loadGenConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Protocols, nil
}

func (p protocolFlags) registry() (*protocol.Registry, error) {
	paths, err := p.paths()
	if err != nil {
		return nil, err
	}
	set, err := loadSchemas(paths)
	if err != nil {
		return nil, err
	}
	reg := protocol.NewRegistry()
	if _, err := reg.InitProtocol(set, analysis.Options{}); err != nil {
		return nil, err
	}
	return reg, nil
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	pf := addProtocolFlags(fs)
	describe := fs.Bool("describe", false, "print protocol descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths, err := pf.paths()
	if err != nil {
		return err
	}
	set, err := loadSchemas(paths)
	if err != nil {
		return err
	}
	res, err := analysis.Analyze(set, analysis.Options{})
	if err != nil {
		return err
	}
	if *describe {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(registration.Describe(res.Registrations))
	}
	fmt.Fprintf(out, "modules=%d protocols=%d fingerprint=%s\n", len(res.Modules), len(res.Registrations), res.Fingerprint)
	return nil
}

func runGen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	cfgPath := fs.String("config", "protogen.toml", "protogen.toml path")
	langs := fs.String("lang", "", "comma separated languages (overrides config): "+strings.Join(codegen.Names(), "|"))
	output := fs.String("output", "", "output directory (overrides config)")
	fold := fs.Bool("fold", false, "group files by module (overrides config when set)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadGenConfig(*cfgPath)
	if err != nil {
		return err
	}
	if list := splitList(*langs); len(list) > 0 {
		cfg.Languages = list
	}
	if *output != "" {
		cfg.Output = *output
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "fold" {
			cfg.Fold = *fold
		}
	})

	set, err := loadSchemas(cfg.Protocols)
	if err != nil {
		return err
	}
	res, err := analysis.Analyze(set, cfg.analysisOptions())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(res.Files))
	for name := range res.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s: %d files in %s\n", name, len(res.Files[name]), filepath.Join(cfg.Output, name))
	}
	fmt.Fprintf(out, "fingerprint=%s\n", res.Fingerprint)
	return nil
}

type decodedFrame struct {
	ID       int16  `json:"id"`
	Protocol string `json:"protocol"`
	Value    any    `json:"value"`
}

func runDecode(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	pf := addProtocolFlags(fs)
	hexFrame := fs.String("hex", "", "hex encoded frame")
	file := fs.String("file", "", "read input from file instead of stdin")
	stream := fs.Bool("stream", false, "input is binary length-prefixed frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := pf.registry()
	if err != nil {
		return err
	}

	src := in
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	enc := json.NewEncoder(out)

	if *stream {
		r := bufio.NewReader(src)
		limits := frame.DefaultLimits()
		for {
			raw, err := frame.ReadFrame(r, limits)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			d, err := decodeFrame(reg, raw)
			if err != nil {
				return err
			}
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
	}

	text := *hexFrame
	if text == "" {
		data, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		text = string(data)
	}
	for _, line := range strings.Fields(text) {
		raw, err := hex.DecodeString(line)
		if err != nil {
			return fmt.Errorf("decode hex: %w", err)
		}
		d, err := decodeFrame(reg, raw)
		if err != nil {
			return err
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func decodeFrame(reg *protocol.Registry, raw []byte) (decodedFrame, error) {
	buf := buffer.Wrap(raw)
	v, err := reg.Read(buf)
	if err != nil {
		return decodedFrame{}, err
	}
	if buf.Len() != 0 {
		return decodedFrame{}, fmt.Errorf("%w: %d", frame.ErrTrailingBytes, buf.Len())
	}
	id := int16(uint16(raw[0])<<8 | uint16(raw[1]))
	d := decodedFrame{ID: id, Value: server.Render(v)}
	if entry := reg.GetProtocol(id); entry != nil {
		d.Protocol = entry.Name()
	}
	return d, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	netPath := fs.String("net", "net.toml", "node network config")
	addr := fs.String("addr", "", "admin listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadNetConfig(*netPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Admin.Addr = *addr
	}

	set, err := loadSchemas(resolvePaths(filepath.Dir(*netPath), cfg.Protocols))
	if err != nil {
		return err
	}
	reg := protocol.NewRegistry()
	if err := reg.SetObserver(observability.CodecObserver{Node: cfg.Node}); err != nil {
		return err
	}
	if _, err := reg.InitProtocol(set, analysis.Options{}); err != nil {
		return err
	}

	store, err := discovery.NewRegistry(cfg.Registry)
	if err != nil {
		return err
	}
	mgr := discovery.NewManager(cfg, store)
	if err := mgr.InitRegistry(ctx, reg); err != nil {
		_ = store.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ttl, err := cfg.Registry.TTLDuration()
	if err != nil {
		return err
	}
	go func() {
		if err := mgr.Keepalive(ctx, ttl/3); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("discovery keepalive stopped")
		}
	}()

	srv := server.New(cfg.Node, cfg.Admin.Addr, cfg.Admin.CorsOrigins, reg, mgr)
	runErr := srv.Run(ctx)
	closeErr := mgr.Close(context.Background())
	return errors.Join(runErr, closeErr)
}

func runLookup(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	admin := fs.String("admin", "http://localhost:9400", "admin server base URL")
	consumer := fs.String("consumer", "", "resolve providers for a consumer")
	fingerprint := fs.Bool("fingerprint", false, "print the server fingerprint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client := server.NewClient(*admin)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch {
	case *fingerprint:
		reply, err := client.Fingerprint(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(reply)
	case *consumer != "":
		reply, err := client.Resolve(ctx, *consumer)
		if err != nil {
			return err
		}
		return enc.Encode(reply)
	case fs.NArg() == 1:
		reply, err := client.Lookup(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return enc.Encode(reply)
	default:
		return errors.New("lookup: give a protocol id or name, -consumer or -fingerprint")
	}
}
