package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// Config holds the Redis connection and lease settings.
type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	Address           string        `mapstructure:"address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	RegistryPrefix    string        `mapstructure:"registry_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

// releaseScript deletes the key only while it still names this instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only while the key still names this
// instance.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type lease struct {
	kind   string
	roomID string
}

// RedisRegistry leases room ownership with SET NX keys that this instance
// refreshes until the room is released.
type RedisRegistry struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]lease
	lostHandlers      map[string]func(roomID string)
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

func NewRedisRegistry(cfg Config, instanceID string) (*RedisRegistry, error) {
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

	return NewRedisRegistryWithClient(client, cfg, instanceID), nil
}

// NewRedisRegistryWithClient wraps an existing client.
func NewRedisRegistryWithClient(client *redis.Client, cfg Config, instanceID string) *RedisRegistry {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.KeyTTL / 3
	}
	if cfg.RegistryPrefix == "" {
		cfg.RegistryPrefix = "collab"
	}
	return &RedisRegistry{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.RegistryPrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]lease),
		lostHandlers:      make(map[string]func(string)),
	}
}

func (r *RedisRegistry) keyFor(kind, roomID string) string {
	return fmt.Sprintf("%s:%s:room:%s", r.prefix, kind, roomID)
}

func (r *RedisRegistry) Claim(ctx context.Context, kind, roomID string) error {
	key := r.keyFor(kind, roomID)

	ok, err := r.client.SetNX(ctx, key, r.instanceID, r.keyTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to claim room: %w", err)
	}
	if !ok {
		owner, err := r.client.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// Expired between SETNX and GET; try once more.
			if ok, err = r.client.SetNX(ctx, key, r.instanceID, r.keyTTL).Result(); err != nil {
				return fmt.Errorf("failed to claim room: %w", err)
			}
			if !ok {
				return ErrOwnedElsewhere
			}
		case err != nil:
			return fmt.Errorf("failed to read room owner: %w", err)
		case owner != r.instanceID:
			return ErrOwnedElsewhere
		default:
			n, err := refreshScript.Run(ctx, r.client, []string{key}, r.instanceID, r.keyTTL.Milliseconds()).Int()
			if err != nil {
				return fmt.Errorf("failed to refresh room claim: %w", err)
			}
			if n != 1 {
				return ErrOwnedElsewhere
			}
		}
	}

	r.mu.Lock()
	r.managedKeys[key] = lease{kind: kind, roomID: roomID}
	r.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldRoomKind, kind).Str(log.FieldRoomID, roomID).Str("instance_id", r.instanceID).Msg("claimed room")
	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, kind, roomID string) error {
	key := r.keyFor(kind, roomID)

	r.mu.Lock()
	delete(r.managedKeys, key)
	r.mu.Unlock()

	if err := releaseScript.Run(ctx, r.client, []string{key}, r.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release room: %w", err)
	}

	l := log.L()
	l.Info().Str(log.FieldRoomKind, kind).Str(log.FieldRoomID, roomID).Msg("released room")
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, kind, roomID string) (string, error) {
	owner, err := r.client.Get(ctx, r.keyFor(kind, roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup room: %w", err)
	}
	return owner, nil
}

func (r *RedisRegistry) OnLost(kind string, fn func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lostHandlers[kind] = fn
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("registry heartbeat started")
	return nil
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

// Refresh extends every lease this instance holds. A lease that expired or
// was taken over is dropped and reported to the OnLost handler of its kind.
func (r *RedisRegistry) Refresh(ctx context.Context) {
	r.refreshKeys(ctx)
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make(map[string]lease, len(r.managedKeys))
	for k, v := range r.managedKeys {
		keys[k] = v
	}
	r.mu.RUnlock()

	l := log.L()
	for key, ls := range keys {
		n, err := refreshScript.Run(ctx, r.client, []string{key}, r.instanceID, r.keyTTL.Milliseconds()).Int()
		if err != nil {
			l.Error().Str("key", key).Err(err).Msg("failed to refresh key")
			continue
		}
		if n == 1 {
			continue
		}
		r.lose(key, ls)
	}
}

func (r *RedisRegistry) lose(key string, ls lease) {
	r.mu.Lock()
	_, managed := r.managedKeys[key]
	delete(r.managedKeys, key)
	fn := r.lostHandlers[ls.kind]
	r.mu.Unlock()

	// Released while the refresh was in flight.
	if !managed {
		return
	}

	l := log.L()
	l.Warn().Str(log.FieldRoomKind, ls.kind).Str(log.FieldRoomID, ls.roomID).Str("instance_id", r.instanceID).Msg("room lease lost")
	if fn != nil {
		fn(ls.roomID)
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()
	return r.client.Close()
}
