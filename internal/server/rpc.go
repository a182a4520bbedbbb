package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/protoreg/internal/discovery"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/danmuck/protoreg/pkg/buffer"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// RPCService is registered as "registry"; methods are called as
// "registry.Lookup" and so on.
const RPCService = "registry"

func newRPCServer(s *Server) *rpc.Server {
	srv := rpc.NewServer()
	srv.RegisterCodec(json2.NewCodec(), "application/json")
	// Registration only fails for malformed service types.
	if err := srv.RegisterService(&RegistryService{server: s}, RPCService); err != nil {
		panic(err)
	}
	return srv
}

// RegistryService exposes registry lookups over JSON-RPC 2.0.
type RegistryService struct {
	server *Server
}

type LookupArgs struct {
	// Key is a protocol id or a protocol name.
	Key string `json:"key"`
}

type LookupReply struct {
	Protocol registration.Descriptor `json:"protocol"`
	Module   registration.Module     `json:"module"`
}

func (r *RegistryService) Lookup(_ *http.Request, args *LookupArgs, reply *LookupReply) error {
	desc, err := r.server.LookupProtocol(strings.TrimSpace(args.Key))
	if err != nil {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: fmt.Sprintf("%s: %s", err, args.Key)}
	}
	reply.Protocol = desc
	if mod, ok := r.server.Registry.ModuleByProtocolID(desc.ID); ok {
		reply.Module = *mod
	}
	return nil
}

type FingerprintArgs struct{}

type FingerprintReply struct {
	Fingerprint string `json:"fingerprint"`
	Protocols   int    `json:"protocols"`
}

func (r *RegistryService) Fingerprint(_ *http.Request, _ *FingerprintArgs, reply *FingerprintReply) error {
	reply.Fingerprint = r.server.Registry.Fingerprint()
	reply.Protocols = len(r.server.Registry.Protocols())
	return nil
}

type DecodeArgs struct {
	// Frame is a hex encoded registry frame.
	Frame string `json:"frame"`
}

type DecodeReply struct {
	ID       int16  `json:"id"`
	Protocol string `json:"protocol"`
	Value    any    `json:"value"`
}

func (r *RegistryService) Decode(_ *http.Request, args *DecodeArgs, reply *DecodeReply) error {
	raw, err := hex.DecodeString(strings.TrimSpace(args.Frame))
	if err != nil {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "frame is not hex: " + err.Error()}
	}
	buf := buffer.Wrap(raw)
	v, err := r.server.Registry.Read(buf)
	if err != nil {
		return err
	}
	id := int16(uint16(raw[0])<<8 | uint16(raw[1]))
	reply.ID = id
	if entry := r.server.Registry.GetProtocol(id); entry != nil {
		reply.Protocol = entry.Name()
	}
	reply.Value = Render(v)
	return nil
}

type ResolveArgs struct {
	Consumer string `json:"consumer"`
}

type ResolveReply struct {
	Providers []discovery.Provider `json:"providers"`
}

func (r *RegistryService) Resolve(req *http.Request, args *ResolveArgs, reply *ResolveReply) error {
	providers, err := r.server.Resolve(req.Context(), args.Consumer)
	if err != nil {
		return err
	}
	reply.Providers = providers
	return nil
}
