package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores providers in one hash per module,
// <prefix>:providers:<module>, keyed by provider name. The hash expires
// after ttl unless providers are re-registered.
type RedisRegistry struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(addr string, db int, prefix string, ttl time.Duration) *RedisRegistry {
	cli := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return NewRedisRegistryWithClient(cli, prefix, ttl)
}

func NewRedisRegistryWithClient(cli *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "protoreg"
	}
	return &RedisRegistry{cli: cli, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) key(module string) string {
	return r.prefix + ":providers:" + module
}

func (r *RedisRegistry) Register(ctx context.Context, p Provider) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := r.key(p.Module)
	_, err = r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, p.Name, payload)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *RedisRegistry) Deregister(ctx context.Context, p Provider) error {
	return r.cli.HDel(ctx, r.key(p.Module), p.Name).Err()
}

func (r *RedisRegistry) Providers(ctx context.Context, module string) ([]Provider, error) {
	raw, err := r.cli.HGetAll(ctx, r.key(module)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Provider, 0, len(raw))
	for name, data := range raw {
		var p Provider
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("discovery: provider %s in %s: %w", name, module, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error { return r.cli.Close() }
