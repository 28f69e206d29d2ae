package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/config"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 30, cfg.RateLimit.Max)
	assert.InDelta(t, 0.01, cfg.RateLimit.SweepProbability, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Chat.DefaultLimit)
	assert.Equal(t, 100, cfg.Chat.MaxLimit)
	assert.Equal(t, 2000, cfg.Chat.MaxContentLength)
	assert.Equal(t, time.Minute, cfg.Room.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Room.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, room.DefaultPalette, cfg.Whiteboard.Palette)
	assert.Equal(t, "ulid", cfg.IDs.Message)
	assert.Equal(t, config.PersistenceSQL, cfg.Persistence.Driver)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"localhost"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 10*time.Second, cfg.Redis.HeartbeatInterval)
	assert.False(t, cfg.Kafka.Enabled)
	assert.NotEmpty(t, cfg.Server.InstanceID)
}

func TestFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("INSTANCE_ID", "node-7")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "node-7", cfg.Server.InstanceID)
	assert.True(t, cfg.Redis.Enabled)
}

func TestFromViper_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown persistence driver", "persistence.driver", "mongo"},
		{"max below default", "chat.max_limit", 10},
		{"zero rate limit", "rate_limit.max", 0},
		{"zero ping interval", "websocket.ping_interval", "0s"},
		{"zero pong wait", "websocket.pong_wait", "0s"},
		{"ping slower than pong wait", "websocket.ping_interval", "90s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := config.FromViper(v)
			assert.Error(t, err)
		})
	}
}
