// Package discovery binds configured providers and consumers to protocol
// modules and publishes providers to a discovery registry.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/protoreg/internal/config"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownModule        = errors.New("discovery: unknown module")
	ErrDuplicateProvider    = errors.New("discovery: duplicate provider")
	ErrDuplicateConsumer    = errors.New("discovery: duplicate consumer")
	ErrDuplicateConsumption = errors.New("discovery: module consumed more than once")
	ErrUnknownConsumer      = errors.New("discovery: unknown consumer")
	ErrNotInitialized       = errors.New("discovery: registry not initialized")
	ErrAlreadyInitialized   = errors.New("discovery: registry already initialized")
)

// ModuleResolver looks up protocol modules by name.
type ModuleResolver interface {
	ModuleByModuleName(name string) (*registration.Module, bool)
}

type Provider struct {
	Name     string `json:"provider"`
	Module   string `json:"module"`
	ModuleID int8   `json:"module_id"`
	Address  string `json:"address"`
}

type Consumer struct {
	Name     string `json:"consumer"`
	Module   string `json:"module"`
	ModuleID int8   `json:"module_id"`
}

// Registry stores provider records.
type Registry interface {
	Register(ctx context.Context, p Provider) error
	Deregister(ctx context.Context, p Provider) error
	Providers(ctx context.Context, module string) ([]Provider, error)
	Close() error
}

// NewRegistry builds the registry selected by cfg.
func NewRegistry(cfg config.RegistryConfig) (Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", config.RegistryMemory:
		return NewMemoryRegistry(), nil
	case config.RegistryRedis:
		ttl, err := cfg.TTLDuration()
		if err != nil {
			return nil, err
		}
		return NewRedisRegistry(cfg.Address, cfg.DB, cfg.Prefix, ttl), nil
	default:
		return nil, fmt.Errorf("discovery: unknown registry kind: %s", cfg.Kind)
	}
}

// Manager validates the network configuration against the protocol
// registry and keeps the bound providers and consumers.
type Manager struct {
	cfg      config.NetConfig
	registry Registry

	mu          sync.RWMutex
	initialized bool
	providers   []Provider
	consumers   []Consumer
}

func NewManager(cfg config.NetConfig, registry Registry) *Manager {
	return &Manager{cfg: cfg, registry: registry}
}

// InitRegistry binds every configured entry to its module and publishes the
// providers. Any configuration error is fatal and leaves the manager
// uninitialized.
func (m *Manager) InitRegistry(ctx context.Context, resolver ModuleResolver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return ErrAlreadyInitialized
	}

	providers := make([]Provider, 0, len(m.cfg.Providers))
	seenProviders := make(map[string]struct{}, len(m.cfg.Providers))
	for _, pc := range m.cfg.Providers {
		if _, dup := seenProviders[pc.Provider]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, pc.Provider)
		}
		seenProviders[pc.Provider] = struct{}{}
		mod, ok := resolver.ModuleByModuleName(pc.Module)
		if !ok {
			return fmt.Errorf("%w: provider %s references %s", ErrUnknownModule, pc.Provider, pc.Module)
		}
		providers = append(providers, Provider{Name: pc.Provider, Module: mod.Name, ModuleID: mod.ID, Address: pc.Address})
	}

	consumers := make([]Consumer, 0, len(m.cfg.Consumers))
	seenConsumers := make(map[string]struct{}, len(m.cfg.Consumers))
	consumedBy := make(map[string]string, len(m.cfg.Consumers))
	for _, cc := range m.cfg.Consumers {
		if _, dup := seenConsumers[cc.Consumer]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateConsumer, cc.Consumer)
		}
		seenConsumers[cc.Consumer] = struct{}{}
		mod, ok := resolver.ModuleByModuleName(cc.Module)
		if !ok {
			return fmt.Errorf("%w: consumer %s references %s", ErrUnknownModule, cc.Consumer, cc.Module)
		}
		if owner, dup := consumedBy[mod.Name]; dup {
			return fmt.Errorf("%w: %s by %s and %s", ErrDuplicateConsumption, mod.Name, owner, cc.Consumer)
		}
		consumedBy[mod.Name] = cc.Consumer
		consumers = append(consumers, Consumer{Name: cc.Consumer, Module: mod.Name, ModuleID: mod.ID})
	}

	for i, p := range providers {
		if err := m.registry.Register(ctx, p); err != nil {
			err = fmt.Errorf("discovery: register %s: %w", p.Name, err)
			return errors.Join(err, m.withdraw(ctx, providers[:i]))
		}
	}
	m.providers = providers
	m.consumers = consumers
	m.initialized = true
	log.Info().
		Str("node", m.cfg.Node).
		Int("providers", len(providers)).
		Int("consumers", len(consumers)).
		Msg("discovery registry initialized")
	return nil
}

func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, len(m.providers))
	copy(out, m.providers)
	return out
}

func (m *Manager) Consumers() []Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Consumer, len(m.consumers))
	copy(out, m.consumers)
	return out
}

// Resolve returns the providers of the module the named consumer consumes.
func (m *Manager) Resolve(ctx context.Context, consumer string) ([]Provider, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	var module string
	for _, c := range m.consumers {
		if c.Name == consumer {
			module = c.Module
			break
		}
	}
	m.mu.RUnlock()
	if module == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConsumer, consumer)
	}
	providers, err := m.registry.Providers(ctx, module)
	if err != nil {
		return nil, err
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	return providers, nil
}

// Keepalive re-publishes the providers every interval until ctx is done, so
// records with a TTL do not expire while the node is up.
func (m *Manager) Keepalive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, p := range m.Providers() {
				if err := m.registry.Register(ctx, p); err != nil {
					log.Warn().Err(err).Str("provider", p.Name).Msg("discovery keepalive failed")
				}
			}
		}
	}
}

// withdraw deregisters providers published by a failed InitRegistry.
func (m *Manager) withdraw(ctx context.Context, providers []Provider) error {
	var errs []error
	for _, p := range providers {
		if err := m.registry.Deregister(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("discovery: withdraw %s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close withdraws the providers and closes the registry.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, p := range m.providers {
		if err := m.registry.Deregister(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	m.providers = nil
	m.consumers = nil
	m.initialized = false
	errs = append(errs, m.registry.Close())
	return errors.Join(errs...)
}
