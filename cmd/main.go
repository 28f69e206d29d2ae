package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/collab-service/internal/cassandra"
	"github.com/weiawesome/wes-io-live/collab-service/internal/config"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/handler"
	"github.com/weiawesome/wes-io-live/collab-service/internal/hub"
	"github.com/weiawesome/wes-io-live/collab-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/internal/repository"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
	"github.com/weiawesome/wes-io-live/collab-service/internal/stream"
	pkgconfig "github.com/weiawesome/wes-io-live/collab-service/pkg/config"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/database"
	pkglog "github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

const serviceName = "collab-service"

func main() {
	// Startup logger until the configured one is available
	boot := pkglog.New(pkglog.Config{Level: "info", ServiceName: serviceName})

	// Load configuration
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	if pkgconfig.Watch(v, func(v *viper.Viper, e fsnotify.Event) {
		level := v.GetString("log.level")
		pkglog.SetLevel(level)
		l := pkglog.L()
		l.Info().Str("file", e.Name).Str("level", level).Msg("config reloaded")
	}) {
		logger.Info().Str("file", v.ConfigFileUsed()).Msg("watching config file")
	}

	// Message store
	repo, err := newRepository(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Persistence.Driver).Msg("failed to open message store")
	}
	defer repo.Close()

	// Room ownership
	var reg registry.Registry
	if cfg.Redis.Enabled {
		redisReg, err := registry.NewRedisRegistry(cfg.Redis, cfg.Server.InstanceID)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		reg = redisReg
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis registry connected")
	} else {
		reg = registry.NewLocalRegistry(cfg.Server.InstanceID)
	}
	defer reg.Close()
	if err := reg.StartHeartbeat(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start registry heartbeat")
	}
	defer reg.StopHeartbeat()

	// Message events
	var publisher stream.Publisher = stream.NopPublisher{}
	if cfg.Kafka.Enabled {
		p, err := stream.NewConfluentPublisher(cfg.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		publisher = p
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher ready")
	}
	defer publisher.Close()

	messageIDs, err := idgen.New(cfg.IDs.Message)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid message id generator")
	}
	userIDs, err := idgen.New(cfg.IDs.User)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid user id generator")
	}

	// Rooms
	h := hub.NewHub()
	chat := room.NewManager(room.KindChat, cfg.Room, room.NewChatFactory(room.ChatDeps{
		Repo:      repo,
		IDs:       messageIDs,
		Publisher: publisher,
		RateLimit: cfg.RateLimit,
		CacheTTL:  cfg.Cache.TTL,
		Limits: domain.Limits{
			MaxContentLength: cfg.Chat.MaxContentLength,
			MaxBatchSize:     cfg.Chat.MaxBatchSize,
		},
	}), h, reg)
	whiteboard := room.NewManager(room.KindWhiteboard, cfg.Room, room.NewWhiteboardFactory(room.WhiteboardDeps{
		UserIDs: userIDs,
		Palette: cfg.Whiteboard.Palette,
	}), h, reg)
	chat.Start()
	whiteboard.Start()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	handler.NewHandler(chat, whiteboard, h, cfg.WebSocket, handler.ReadLimits{
		Default: cfg.Chat.DefaultLimit,
		Max:     cfg.Chat.MaxLimit,
	}).RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("instance_id", cfg.Server.InstanceID).
			Str("persistence", cfg.Persistence.Driver).
			Bool("redis", cfg.Redis.Enabled).
			Bool("kafka", cfg.Kafka.Enabled).
			Msg("collab-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down collab-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Shutdown does not track hijacked websocket connections. Close them so
	// their leaves reach the rooms before the actors stop.
	closed := h.CloseAll()
	for h.Count() > 0 && shutdownCtx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	logger.Info().Int("closed", closed).Int("remaining", h.Count()).Msg("websocket connections closed")

	chat.Stop()
	whiteboard.Stop()

	logger.Info().Msg("collab-service stopped")
}

func newRepository(cfg *config.Config) (repository.MessageRepository, error) {
	switch strings.ToLower(cfg.Persistence.Driver) {
	case config.PersistenceCassandra:
		client, err := cassandra.NewClient(cfg.Cassandra)
		if err != nil {
			return nil, err
		}
		if err := client.Session().Query(repository.CassandraSchema).Exec(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to apply cassandra schema: %w", err)
		}
		return repository.NewCassandraMessageRepository(client), nil
	default:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormMessageRepository(db)
		if err := repo.Migrate(); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		return repo, nil
	}
}
