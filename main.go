package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trading-assistant/config"
	"trading-assistant/internal/access"
	"trading-assistant/internal/api"
	"trading-assistant/internal/auth"
	"trading-assistant/internal/database"
	"trading-assistant/internal/events"
	"trading-assistant/internal/logging"
	"trading-assistant/internal/ocr"
	"trading-assistant/internal/runner"
	"trading-assistant/internal/secrets"
	"trading-assistant/internal/session"
	signalengine "trading-assistant/internal/signal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repository
	repo := database.NewRepository(db)

	// Redis holds live session snapshots and the latest market frame per
	// user; everything degrades to in-memory caches when it is absent.
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		logger.Info("Redis client initialized", "address", cfg.RedisConfig.Address)
	} else {
		logger.Info("Redis disabled, using in-memory session state")
	}
	stateRepo := database.NewRedisSessionStateRepository(redisClient)

	// Broker API tokens live in Vault, or in the in-memory cache when Vault
	// is disabled
	secretStore, err := secrets.NewStore(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize secret store: %v", err)
	}
	logger.Info("Secret store initialized", "vault_enabled", cfg.VaultConfig.Enabled)

	// Access roster
	gate := access.NewGate(cfg.AccessConfig.RosterPath)
	logger.Info("Access gate initialized", "roster", cfg.AccessConfig.RosterPath)

	// Authentication
	var jwtManager *auth.JWTManager
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		if cfg.AuthConfig.JWTSecret == "" {
			log.Fatal("AUTH_JWT_SECRET must be set when authentication is enabled")
		}
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration, cfg.AuthConfig.RefreshTokenDuration)
		authService = auth.NewService(gate, jwtManager)
		logger.Info("JWT authentication enabled")
	} else {
		logger.Warn("Token auth disabled, session routes use roster-checked user_id identity")
	}

	// Trading sessions
	policy := session.PolicyFromName(cfg.SessionConfig.SizingPolicy, cfg.SessionConfig.MartingaleFactor, cfg.SessionConfig.MartingaleCap)
	machine := session.NewMachine(policy)
	sessions := session.NewService(repo, stateRepo, secretStore, machine, eventBus, cfg.SessionConfig.MaxConsecutiveLosses)
	logger.Info("Session service initialized",
		"sizing_policy", cfg.SessionConfig.SizingPolicy,
		"max_consecutive_losses", cfg.SessionConfig.MaxConsecutiveLosses)

	// Signal engine
	engine := signalengine.NewEngine(cfg.SignalConfig.ShortWindow, cfg.SignalConfig.LongWindow)
	logger.Info("Signal engine initialized",
		"short_window", cfg.SignalConfig.ShortWindow,
		"long_window", cfg.SignalConfig.LongWindow)

	// Balance extraction
	extractor := ocr.NewExtractor(ocr.NewTesseractRecognizer(ocr.TesseractConfig{
		TessdataPrefix: cfg.OCRConfig.TessdataPrefix,
		Language:       cfg.OCRConfig.Language,
		Whitelist:      cfg.OCRConfig.Whitelist,
	}))
	logger.Info("Balance extractor initialized", "language", cfg.OCRConfig.Language)

	// Per-session polling loops
	loopLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	loops := runner.New(sessions, engine, stateRepo, repo, eventBus, cfg.SessionConfig.PollInterval, loopLogger)
	if err := loops.Resume(ctx, repo); err != nil {
		logger.Error("Failed to resume running sessions", "error", err)
	}
	logger.Info("Session runner initialized", "poll_interval", cfg.SessionConfig.PollInterval.String())

	// HTTP API server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: parseOrigins(cfg.ServerConfig.AllowedOrigins),
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, api.Deps{
		Health:      db,
		History:     repo,
		StateRepo:   stateRepo,
		EventBus:    eventBus,
		AuthService: authService,
		JWTManager:  jwtManager,
		Gate:        gate,
		Engine:      engine,
		Extractor:   extractor,
		Sessions:    sessions,
		Loops:       loops,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	logger.Info("Server started", "host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	loops.Shutdown()

	logger.Info("Shutdown complete")
}

// parseOrigins splits the configured CORS origins. "*" or an empty value
// means all origins are allowed.
func parseOrigins(origins string) []string {
	origins = strings.TrimSpace(origins)
	if origins == "" || origins == "*" {
		return nil
	}

	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
