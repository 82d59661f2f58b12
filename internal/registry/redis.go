package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearmarket/chat-relay/pkg/log"
)

// RedisConfig holds connection settings for the Redis-backed registry.
type RedisConfig struct {
	Address           string        `mapstructure:"address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	Prefix            string        `mapstructure:"prefix"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// RedisRegistry mirrors user registrations into Redis with a TTL so
// operators (and any future multi-instance dispatcher) can see which
// relay instance a user is attached to. Delivery decisions stay on the
// local maps; Redis being down degrades visibility, not correctness.
type RedisRegistry struct {
	local             *MemoryRegistry
	client            *redis.Client
	advertiseAddress  string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration

	mu          sync.RWMutex
	managedKeys map[string]string // redis key -> value
	cancel      context.CancelFunc
}

func NewRedisRegistry(cfg RedisConfig, advertiseAddress string) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "chat:registry"
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = 30 * time.Second
	}
	interval := cfg.HeartbeatInterval
	if interval == 0 {
		interval = 10 * time.Second
	}

	r := &RedisRegistry{
		local:             NewMemoryRegistry(),
		client:            client,
		advertiseAddress:  advertiseAddress,
		prefix:            prefix,
		keyTTL:            keyTTL,
		heartbeatInterval: interval,
		managedKeys:       make(map[string]string),
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	r.cancel = hbCancel
	go r.heartbeatLoop(hbCtx)

	return r, nil
}

func (r *RedisRegistry) keyFor(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func (r *RedisRegistry) Register(ctx context.Context, userID, connID string) error {
	if err := r.local.Register(ctx, userID, connID); err != nil {
		return err
	}

	key := r.keyFor(userID)
	value := connID + "@" + r.advertiseAddress

	r.mu.Lock()
	r.managedKeys[key] = value
	r.mu.Unlock()

	if err := r.client.Set(ctx, key, value, r.keyTTL).Err(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to mirror registration to redis")
	}
	return nil
}

func (r *RedisRegistry) DeregisterConn(ctx context.Context, connID string) error {
	// Find the user this connection held before touching local state.
	r.local.mu.RLock()
	userID, held := r.local.byConn[connID]
	owner := held && r.local.byUser[userID] == connID
	r.local.mu.RUnlock()

	if err := r.local.DeregisterConn(ctx, connID); err != nil {
		return err
	}
	if !owner {
		return nil
	}

	key := r.keyFor(userID)
	r.mu.Lock()
	delete(r.managedKeys, key)
	r.mu.Unlock()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to remove registration from redis")
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, userID string) (string, bool) {
	return r.local.Lookup(ctx, userID)
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make(map[string]string, len(r.managedKeys))
	for k, v := range r.managedKeys {
		keys[k] = v
	}
	r.mu.RUnlock()

	for key, value := range keys {
		if err := r.client.Set(ctx, key, value, r.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str("key", key).Err(err).Msg("failed to refresh registry key")
		}
	}
}

func (r *RedisRegistry) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.client.Close()
}
