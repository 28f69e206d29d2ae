package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/collab-service/internal/cassandra"
	"github.com/weiawesome/wes-io-live/collab-service/internal/hub"
	"github.com/weiawesome/wes-io-live/collab-service/internal/ratelimit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
	"github.com/weiawesome/wes-io-live/collab-service/internal/stream"
	pkgconfig "github.com/weiawesome/wes-io-live/collab-service/pkg/config"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/database"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

const (
	PersistenceSQL       = "sql"
	PersistenceCassandra = "cassandra"
)

type Config struct {
	Server      ServerConfig
	WebSocket   hub.Config       `mapstructure:"websocket"`
	RateLimit   ratelimit.Config `mapstructure:"rate_limit"`
	Cache       CacheConfig
	Chat        ChatConfig
	Room        room.Config
	Whiteboard  WhiteboardConfig
	IDs         IDsConfig `mapstructure:"ids"`
	Persistence PersistenceConfig
	Database    database.Config
	Cassandra   cassandra.Config
	Redis       registry.Config
	Kafka       stream.Config
	Log         log.Config
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type ChatConfig struct {
	DefaultLimit     int `mapstructure:"default_limit"`
	MaxLimit         int `mapstructure:"max_limit"`
	MaxContentLength int `mapstructure:"max_content_length"`
	MaxBatchSize     int `mapstructure:"max_batch_size"`
}

type WhiteboardConfig struct {
	Palette []string
}

type IDsConfig struct {
	Message string
	User    string
}

type PersistenceConfig struct {
	Driver string
}

// Load reads ./config/config.yaml (if present) and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = fmt.Sprintf("%s:%d", pkgconfig.GetEnv("HOSTNAME", "localhost"), cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max", 30)
	v.SetDefault("rate_limit.sweep_probability", 0.01)

	v.SetDefault("cache.ttl", "5s")

	v.SetDefault("chat.default_limit", 50)
	v.SetDefault("chat.max_limit", 100)
	v.SetDefault("chat.max_content_length", 2000)
	v.SetDefault("chat.max_batch_size", 50)

	v.SetDefault("room.idle_timeout", "60s")
	v.SetDefault("room.sweep_interval", "15s")
	v.SetDefault("room.mailbox_size", 256)

	v.SetDefault("whiteboard.palette", room.DefaultPalette)

	v.SetDefault("ids.message", "ulid")
	v.SetDefault("ids.user", "nanoid")

	v.SetDefault("persistence.driver", PersistenceSQL)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "collab")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "collab.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "collab")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.username", "")
	v.SetDefault("cassandra.password", "")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("cassandra.max_prepared_stmt", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.registry_prefix", "collab:registry")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "collab-messages")
	v.SetDefault("kafka.partitions", 8)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "collab-service")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("persistence.driver", "PERSISTENCE_DRIVER")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Persistence.Driver) {
	case PersistenceSQL, PersistenceCassandra:
	default:
		return fmt.Errorf("unsupported persistence driver %q", c.Persistence.Driver)
	}
	if c.Chat.DefaultLimit <= 0 || c.Chat.MaxLimit < c.Chat.DefaultLimit {
		return fmt.Errorf("invalid chat limits: default %d, max %d", c.Chat.DefaultLimit, c.Chat.MaxLimit)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("invalid rate limit: %d per %s", c.RateLimit.Max, c.RateLimit.Window)
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= 0 {
		return fmt.Errorf("websocket ping_interval and pong_wait must be positive, got %s and %s",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket ping_interval %s must be shorter than pong_wait %s",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if len(c.Whiteboard.Palette) == 0 {
		return fmt.Errorf("whiteboard palette must not be empty")
	}
	return nil
}
