package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/protoreg/internal/config"
	"github.com/danmuck/protoreg/internal/protocol"
	"github.com/danmuck/protoreg/internal/protocol/analysis"
	"github.com/danmuck/protoreg/internal/protocol/schema"
	"github.com/danmuck/protoreg/internal/testutil/testlog"
	"github.com/redis/go-redis/v9"
)

func chatRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	set := schema.Set{
		Modules: []schema.ModuleDef{{ID: 1, Name: "chat"}, {ID: 2, Name: "match"}},
		Protocols: []schema.ProtocolDef{
			{Name: "Ping", Module: "chat", Fields: []schema.FieldDef{{Name: "id", Type: "short"}}},
			{Name: "Queue", Module: "match", Fields: []schema.FieldDef{{Name: "size", Type: "int"}}},
		},
	}
	r := protocol.NewRegistry()
	if _, err := r.InitProtocol(set, analysis.Options{}); err != nil {
		t.Fatalf("init protocol: %v", err)
	}
	return r
}

func baseConfig() config.NetConfig {
	cfg := config.NetConfig{
		Node: "node-a",
		Providers: []config.ProviderConfig{
			{Provider: "chat-b", Module: "chat", Address: "10.0.0.2:7000"},
			{Provider: "chat-a", Module: "chat", Address: "10.0.0.1:7000"},
			{Provider: "match-a", Module: "match", Address: "10.0.0.3:7100"},
		},
		Consumers: []config.ConsumerConfig{
			{Consumer: "gateway", Module: "chat"},
			{Consumer: "lobby", Module: "match"},
		},
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func TestInitRegistryBindsModules(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := NewManager(baseConfig(), NewMemoryRegistry())
	if err := m.InitRegistry(ctx, chatRegistry(t)); err != nil {
		t.Fatalf("init: %v", err)
	}
	providers := m.Providers()
	if len(providers) != 3 || providers[0].ModuleID != 1 || providers[2].ModuleID != 2 {
		t.Fatalf("providers: %+v", providers)
	}
	consumers := m.Consumers()
	if len(consumers) != 2 || consumers[1].Module != "match" || consumers[1].ModuleID != 2 {
		t.Fatalf("consumers: %+v", consumers)
	}

	resolved, err := m.Resolve(ctx, "gateway")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 || resolved[0].Name != "chat-a" || resolved[1].Address != "10.0.0.2:7000" {
		t.Fatalf("resolved: %+v", resolved)
	}
	if _, err := m.Resolve(ctx, "nobody"); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}
	if err := m.InitRegistry(ctx, chatRegistry(t)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitRegistryRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		edit func(*config.NetConfig)
		want error
	}{
		{"provider module", func(c *config.NetConfig) { c.Providers[0].Module = "nope" }, ErrUnknownModule},
		{"consumer module", func(c *config.NetConfig) { c.Consumers[0].Module = "nope" }, ErrUnknownModule},
		{"duplicate provider", func(c *config.NetConfig) { c.Providers[1].Provider = "chat-b" }, ErrDuplicateProvider},
		{"duplicate consumer", func(c *config.NetConfig) { c.Consumers[1].Consumer = "gateway" }, ErrDuplicateConsumer},
		{"duplicate consumption", func(c *config.NetConfig) { c.Consumers[1].Module = "chat" }, ErrDuplicateConsumption},
	}
	resolver := chatRegistry(t)
	for _, tc := range cases {
		cfg := baseConfig()
		tc.edit(&cfg)
		reg := NewMemoryRegistry()
		m := NewManager(cfg, reg)
		err := m.InitRegistry(context.Background(), resolver)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
		if len(m.Providers()) != 0 {
			t.Fatalf("%s: failed init kept providers", tc.name)
		}
		if got, _ := reg.Providers(context.Background(), "chat"); len(got) != 0 {
			t.Fatalf("%s: failed init published providers: %+v", tc.name, got)
		}
	}
}

func TestResolveBeforeInit(t *testing.T) {
	testlog.Start(t)
	m := NewManager(baseConfig(), NewMemoryRegistry())
	if _, err := m.Resolve(context.Background(), "gateway"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

// flakyRegistry fails the Register call numbered failAt.
type flakyRegistry struct {
	*MemoryRegistry
	calls  int
	failAt int
}

var errRegisterDown = errors.New("register unavailable")

func (r *flakyRegistry) Register(ctx context.Context, p Provider) error {
	r.calls++
	if r.calls == r.failAt {
		return errRegisterDown
	}
	return r.MemoryRegistry.Register(ctx, p)
}

func TestInitRegistryWithdrawsOnRegisterFailure(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	reg := &flakyRegistry{MemoryRegistry: NewMemoryRegistry(), failAt: 2}
	m := NewManager(baseConfig(), reg)
	if err := m.InitRegistry(ctx, chatRegistry(t)); !errors.Is(err, errRegisterDown) {
		t.Fatalf("expected register failure, got %v", err)
	}
	for _, module := range []string{"chat", "match"} {
		if got, _ := reg.Providers(ctx, module); len(got) != 0 {
			t.Fatalf("%s providers left published: %+v", module, got)
		}
	}
	if len(m.Providers()) != 0 {
		t.Fatalf("manager kept providers: %+v", m.Providers())
	}
	if _, err := m.Resolve(ctx, "gateway"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	reg.failAt = 0
	if err := m.InitRegistry(ctx, chatRegistry(t)); err != nil {
		t.Fatalf("retry init: %v", err)
	}
	if got, _ := reg.Providers(ctx, "chat"); len(got) != 2 {
		t.Fatalf("providers after retry: %+v", got)
	}
}

func TestCloseWithdrawsProviders(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	reg := NewMemoryRegistry()
	m := NewManager(baseConfig(), reg)
	if err := m.InitRegistry(ctx, chatRegistry(t)); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, _ := reg.Providers(ctx, "chat"); len(got) != 0 {
		t.Fatalf("providers left after close: %+v", got)
	}
}

func TestKeepaliveStopsWithContext(t *testing.T) {
	testlog.Start(t)
	m := NewManager(baseConfig(), NewMemoryRegistry())
	if err := m.InitRegistry(context.Background(), chatRegistry(t)); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Keepalive(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := m.Keepalive(ctx, 0); err != nil {
		t.Fatalf("zero interval: %v", err)
	}
}

func TestNewRegistryKinds(t *testing.T) {
	testlog.Start(t)
	reg, err := NewRegistry(config.RegistryConfig{Kind: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := reg.(*MemoryRegistry); !ok {
		t.Fatalf("expected memory registry, got %T", reg)
	}
	reg, err = NewRegistry(config.RegistryConfig{Kind: "redis", Address: "127.0.0.1:1", Prefix: "p", TTL: "5s"})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	rr, ok := reg.(*RedisRegistry)
	if !ok || rr.ttl != 5*time.Second {
		t.Fatalf("unexpected redis registry: %#v", reg)
	}
	_ = rr.Close()
	if _, err := NewRegistry(config.RegistryConfig{Kind: "etcd"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestRedisRegistryKeysAndErrors(t *testing.T) {
	testlog.Start(t)
	cli := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	r := NewRedisRegistryWithClient(cli, "", time.Second)
	defer r.Close()
	if got := r.key("chat"); got != "protoreg:providers:chat" {
		t.Fatalf("key: %s", got)
	}
	ctx := context.Background()
	if err := r.Register(ctx, Provider{Name: "p", Module: "chat"}); err == nil {
		t.Fatalf("expected register to fail without a server")
	}
	if _, err := r.Providers(ctx, "chat"); err == nil {
		t.Fatalf("expected lookup to fail without a server")
	}
}
