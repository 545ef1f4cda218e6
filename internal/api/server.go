package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-assistant/internal/access"
	"trading-assistant/internal/auth"
	"trading-assistant/internal/database"
	"trading-assistant/internal/events"
	"trading-assistant/internal/ocr"
	"trading-assistant/internal/session"
	"trading-assistant/internal/signal"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// HealthChecker reports storage health for the /health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HistorySink records analysis results for later inspection
type HistorySink interface {
	RecordSignalDecision(ctx context.Context, userID, signal string, confidence float64, sampleCount int) error
	RecordBalanceReading(ctx context.Context, userID string, balance *float64) error
}

// LoopManager controls the per-session polling loops
type LoopManager interface {
	StartLoop(userID string)
	StopLoop(userID string)
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	health      HealthChecker
	history     HistorySink
	stateRepo   *database.RedisSessionStateRepository
	eventBus    *events.EventBus
	config      ServerConfig
	authService *auth.Service
	jwtManager  *auth.JWTManager
	gate        *access.Gate
	engine      *signal.Engine
	extractor   *ocr.Extractor
	sessions    *session.Service
	loops       LoopManager
	rateLimiter *RateLimiter
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ProductionMode bool
}

// Deps bundles the collaborators a server needs. health, history, stateRepo,
// and loops may be nil; the corresponding features degrade gracefully.
type Deps struct {
	Health      HealthChecker
	History     HistorySink
	StateRepo   *database.RedisSessionStateRepository
	EventBus    *events.EventBus
	AuthService *auth.Service
	JWTManager  *auth.JWTManager
	Gate        *access.Gate
	Engine      *signal.Engine
	Extractor   *ocr.Extractor
	Sessions    *session.Service
	Loops       LoopManager
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	if !corsConfig.AllowAllOrigins {
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		health:      deps.Health,
		history:     deps.History,
		stateRepo:   deps.StateRepo,
		eventBus:    deps.EventBus,
		config:      config,
		authService: deps.AuthService,
		jwtManager:  deps.JWTManager,
		gate:        deps.Gate,
		engine:      deps.Engine,
		extractor:   deps.Extractor,
		sessions:    deps.Sessions,
		loops:       deps.Loops,
		rateLimiter: NewRateLimiter(120, time.Minute),
	}

	server.setupRoutes()

	// Initialize the WebSocket hub for real-time event broadcasting
	if deps.EventBus != nil {
		InitWebSocket(deps.EventBus)
	}

	return server
}

// rateLimitMiddleware rate limits the analysis endpoints, which carry image
// payloads and drive the recognition engine.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint. Please slow down.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// rosterIdentityMiddleware stands in for the JWT middleware when token auth
// is disabled. The caller supplies its identifier via the user_id query
// parameter or the X-User-ID header; the roster gates it like the analysis
// endpoints.
func (s *Server) rosterIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "user_id is required when token auth is disabled",
			})
			return
		}

		if s.gate != nil {
			if err := s.gate.Check(userID); err != nil {
				var denied *access.DeniedError
				if errors.As(err, &denied) {
					c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
						"status":  "access_denied",
						"message": "User not authorized",
					})
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   true,
					"message": "authorization check failed",
				})
				return
			}
		}

		c.Set(auth.ContextKeyUserID, userID)
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Prometheus metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Analysis endpoints. These predate the token flow: the dashboard client
	// sends its user identifier in the payload and the roster decides access.
	analysis := s.router.Group("/")
	analysis.Use(s.rateLimitMiddleware())
	{
		analysis.POST("/analyze-chart", s.handleAnalyzeChart)
		analysis.POST("/analyze-balance", s.handleAnalyzeBalance)
	}

	// Auth routes (public)
	if s.authService != nil {
		s.router.POST("/api/auth/login", s.authService.HandleLogin)
	}

	// WebSocket endpoint (user ID attached when a token is presented)
	s.router.GET("/ws", s.handleWebSocket)

	// Session control routes. JWT protected; when token auth is disabled the
	// caller names itself and the roster decides access.
	api := s.router.Group("/api")
	if s.jwtManager != nil {
		api.Use(auth.Middleware(s.jwtManager))
	} else {
		api.Use(s.rosterIdentityMiddleware())
	}
	{
		api.GET("/session", s.handleSessionStatus)
		api.GET("/session/logs", s.handleSessionLogs)
		api.POST("/session/start", s.handleSessionStart)
		api.POST("/session/stop", s.handleSessionStop)
		api.POST("/session/trade/open", s.handleTradeOpen)
		api.POST("/session/trade/outcome", s.handleTradeOutcome)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Check database health
	dbHealthy := true
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			dbHealthy = false
		}
	}

	if !dbHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"uptime":   time.Now().Format(time.RFC3339),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// getUserID returns the authenticated user ID from the context
func (s *Server) getUserID(c *gin.Context) string {
	return auth.GetUserID(c)
}

// getUserIDRequired returns the user ID and sends an error if missing
func (s *Server) getUserIDRequired(c *gin.Context) (string, bool) {
	userID := s.getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "UNAUTHORIZED",
			"message": "authentication required",
		})
		return "", false
	}
	return userID, true
}
