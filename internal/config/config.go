package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// NetConfig binds provider and consumer services to protocol modules.
type NetConfig struct {
	Node      string           `toml:"node"`
	Protocols []string         `toml:"protocols"`
	Admin     AdminConfig      `toml:"admin"`
	Registry  RegistryConfig   `toml:"registry"`
	Providers []ProviderConfig `toml:"providers"`
	Consumers []ConsumerConfig `toml:"consumers"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// RegistryConfig selects the discovery registry. TTL is a Go duration
// string and applies to provider records in redis.
type RegistryConfig struct {
	Kind    string `toml:"kind"`
	Address string `toml:"address"`
	DB      int    `toml:"db"`
	Prefix  string `toml:"prefix"`
	TTL     string `toml:"ttl"`
}

type ProviderConfig struct {
	Provider string `toml:"provider"`
	Module   string `toml:"module"`
	Address  string `toml:"address"`
}

type ConsumerConfig struct {
	Consumer string `toml:"consumer"`
	Module   string `toml:"module"`
}

func LoadNetConfig(path string) (NetConfig, error) {
	var cfg NetConfig
	if err := loadToml(path, &cfg); err != nil {
		return NetConfig{}, err
	}
	ApplyDefaults(&cfg)
	if err := ValidateNetConfig(cfg); err != nil {
		return NetConfig{}, err
	}
	return cfg, nil
}

func ApplyDefaults(cfg *NetConfig) {
	if cfg.Node == "" {
		cfg.Node = "protoreg"
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = ":9400"
	}
	if cfg.Registry.Kind == "" {
		cfg.Registry.Kind = RegistryMemory
	}
	if cfg.Registry.Prefix == "" {
		cfg.Registry.Prefix = "protoreg"
	}
	if cfg.Registry.TTL == "" {
		cfg.Registry.TTL = "30s"
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateNetConfig checks entry shape. Name uniqueness and module
// existence are checked against the registry by discovery.
func ValidateNetConfig(cfg NetConfig) error {
	if strings.TrimSpace(cfg.Node) == "" {
		return fmt.Errorf("net config missing node")
	}
	if err := ValidateRegistry(cfg.Registry); err != nil {
		return fmt.Errorf("registry invalid: %w", err)
	}
	for i, p := range cfg.Providers {
		if err := ValidateProvider(p); err != nil {
			return fmt.Errorf("provider[%d] invalid: %w", i, err)
		}
	}
	for i, c := range cfg.Consumers {
		if err := ValidateConsumer(c); err != nil {
			return fmt.Errorf("consumer[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateRegistry(cfg RegistryConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case RegistryMemory:
	case RegistryRedis:
		if strings.TrimSpace(cfg.Address) == "" {
			return fmt.Errorf("address is required for redis")
		}
	default:
		return fmt.Errorf("unknown kind: %s", cfg.Kind)
	}
	if _, err := cfg.TTLDuration(); err != nil {
		return err
	}
	return nil
}

func (c RegistryConfig) TTLDuration() (time.Duration, error) {
	if strings.TrimSpace(c.TTL) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("ttl invalid: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("ttl must not be negative")
	}
	return d, nil
}

func ValidateProvider(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(cfg.Module) == "" {
		return fmt.Errorf("module is required")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

func ValidateConsumer(cfg ConsumerConfig) error {
	if strings.TrimSpace(cfg.Consumer) == "" {
		return fmt.Errorf("consumer is required")
	}
	if strings.TrimSpace(cfg.Module) == "" {
		return fmt.Errorf("module is required")
	}
	return nil
}
