package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/cache"
	"github.com/BuddyCodez/SpeakSpace/internal/config"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/handler"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/relay"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
	"github.com/BuddyCodez/SpeakSpace/internal/service"
	"github.com/BuddyCodez/SpeakSpace/pkg/database"
	"github.com/BuddyCodez/SpeakSpace/pkg/jwt"
	pkglog "github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/middleware"
	"github.com/BuddyCodez/SpeakSpace/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "speakspace",
	})
	logger := pkglog.L()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	// Initialize history cache
	var historyCache cache.HistoryCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisHistoryCache(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, "speakspace")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		historyCache = redisCache
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis history cache connected")
	} else {
		historyCache = cache.NewNoopHistoryCache()
	}
	defer historyCache.Close()

	// Initialize media storage
	media, err := mediaStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize media storage")
	}
	logger.Info().Str("backend", cfg.Storage.Backend).Msg("media storage ready")

	// Event bus and presence tracker
	eventBus := bus.New()

	tracker := presence.NewTracker(eventBus,
		presence.WithTTL(cfg.Presence.TTL),
		presence.WithSweepInterval(cfg.Presence.SweepInterval),
	)
	trackerCtx, stopTracker := context.WithCancel(context.Background())
	defer stopTracker()
	go tracker.Run(trackerCtx)

	// Initialize services
	membershipService := service.NewMembershipService(store, eventBus)
	sessionService := service.NewSessionService(store, eventBus, membershipService)
	messageService := service.NewMessageService(store, eventBus, tracker, historyCache, cfg.History.CacheTTL, media, membershipService)
	moderationService := service.NewModerationService(store, eventBus, membershipService, messageService)

	// Initialize auth middleware
	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessDuration)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, func(c *gin.Context, claims *jwt.Claims) {
		// Mirror the verified identity so rosters can resolve profiles.
		user := &domain.User{
			ID:          claims.UserID,
			DisplayName: claims.DisplayName,
			AvatarURL:   claims.AvatarURL,
		}
		if err := store.Users().Upsert(c.Request.Context(), user); err != nil {
			logger.Warn().Err(err).Str("user_id", claims.UserID).Msg("failed to mirror user profile")
		}
	})

	// Initialize handlers
	httpHandler := handler.NewHandler(sessionService, membershipService, moderationService, messageService, tracker, media, authMiddleware)
	wsHandler := handler.NewWSHandler(eventBus, tracker, membershipService, messageService, jwtManager, cfg.WebSocket)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Register routes
	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Optional Kafka relay for downstream consumers
	if cfg.Kafka.Enabled {
		kafkaRelay, err := relay.NewKafkaRelay(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka relay")
		}
		kafkaRelay.Attach(eventBus)
		defer func() {
			if err := kafkaRelay.Close(); err != nil {
				logger.Warn().Err(err).Msg("kafka relay close failed")
			}
		}()
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka relay attached")
	}

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Str("message_store", cfg.Messages.Store).Msg("speakspace starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	stopTracker()

	logger.Info().Msg("server exited")
}

// buildStore opens the configured persistence backend: in-memory for local
// development, GORM otherwise, with the message repository optionally moved
// to Cassandra.
func buildStore(cfg *config.Config, logger *zerolog.Logger) (repository.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Info().Msg("using in-memory store, data will not survive a restart")
		return repository.NewMemoryStore(), nil
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var storeOpts []repository.GormStoreOption
	if cfg.Messages.Store == "cassandra" {
		cassRepo, err := repository.NewCassandraMessageRepository(repository.CassandraConfig{
			Hosts:          cfg.Messages.Cassandra.Hosts,
			Keyspace:       cfg.Messages.Cassandra.Keyspace,
			Consistency:    cfg.Messages.Cassandra.Consistency,
			ConnectTimeout: cfg.Messages.Cassandra.ConnectTimeout,
			Timeout:        cfg.Messages.Cassandra.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cassandra: %w", err)
		}
		storeOpts = append(storeOpts, repository.WithMessageRepository(cassRepo))
		logger.Info().Strs("hosts", cfg.Messages.Cassandra.Hosts).Msg("cassandra message store connected")
	}

	gormStore := repository.NewGormStore(db, storeOpts...)
	if err := gormStore.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}
	logger.Info().Msg("database migration completed")
	return gormStore, nil
}

// mediaStorage builds the configured media storage backend.
func mediaStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3Storage(ctx, cfg.Storage.S3)
	case "local", "":
		return storage.NewLocalStorage(cfg.Storage.Local)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
