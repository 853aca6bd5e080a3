package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memoryvault/memoryvault/internal/logging"
	"github.com/memoryvault/memoryvault/internal/ratelimit"
	"github.com/memoryvault/memoryvault/internal/repository"
	"github.com/memoryvault/memoryvault/pkg/config"
)

// HealthChecker is implemented by internal/embedding.Service; kept as a
// narrow interface here so this package doesn't need to import the
// provider chain directly.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Server is the HTTP transport over the Memory API's six operations
// (§6): store_memory, get_memory, update_memory, delete_memory,
// search_memory, get_statistics, plus /health and /metrics.
type Server struct {
	router     *gin.Engine
	repo       *repository.Repository
	embedder   HealthChecker
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer wires the repository, rate limiter, and CORS/auth middleware
// into a gin router the way the reference corpus's own REST transport
// assembles its middleware chain.
func NewServer(repo *repository.Repository, embedder HealthChecker, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing HTTP server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	switch {
	case len(cfg.Server.AllowOrigins) > 0 && cfg.Server.AllowOrigins[0] != "*":
		corsConfig.AllowOrigins = cfg.Server.AllowOrigins
	case cfg.Server.APIKey != "":
		corsConfig.AllowOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
			"https://localhost:*",
			"https://127.0.0.1:*",
		}
		corsConfig.AllowWildcard = true
	default:
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	if cfg.Server.APIKey != "" {
		log.Info("API key authentication enabled")
		router.Use(APIKeyAuthMiddleware(cfg.Server.APIKey))
	}

	if cfg.RateLimit.Enabled {
		log.Info("rate limiting enabled")
		rlCfg := &ratelimit.Config{
			Enabled: cfg.RateLimit.Enabled,
			Global: ratelimit.LimitConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.BurstSize,
			},
		}
		for _, op := range cfg.RateLimit.Operations {
			rlCfg.Operations = append(rlCfg.Operations, ratelimit.OperationLimit{
				Name:              op.Name,
				RequestsPerSecond: op.RequestsPerSecond,
				BurstSize:         op.BurstSize,
			})
		}
		limiter := ratelimit.NewLimiter(rlCfg)
		router.Use(RateLimitMiddleware(limiter))
	}

	router.Use(MaxBodySizeMiddleware(DefaultBodyLimit))

	s := &Server{
		router:   router,
		repo:     repo,
		embedder: embedder,
		config:   cfg,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/memories", s.storeMemory)
		v1.GET("/memories/:id", s.getMemory)
		v1.PUT("/memories/:id", s.updateMemory)
		v1.PATCH("/memories/:id", s.updateMemory)
		v1.DELETE("/memories/:id", s.deleteMemory)

		v1.GET("/memories/search", s.searchMemory)
		v1.POST("/memories/search", s.searchMemory)

		v1.GET("/stats", s.getStatistics)
	}
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.log.Info("starting HTTP server", "address", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithContext runs the server and blocks until ctx is cancelled or
// the server errors, performing a graceful shutdown within
// shutdownTimeout on cancellation (shutdown.deadline).
func (s *Server) StartWithContext(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping HTTP server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown error", "error", err)
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin engine, for tests that issue
// requests directly via httptest without binding a socket.
func (s *Server) Router() *gin.Engine {
	return s.router
}
