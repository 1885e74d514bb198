package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/victoralfred/um_tracker/internal/config"
	"github.com/victoralfred/um_tracker/internal/services"
)

// Server interface
type Server interface {
	Setup()
	Start(ctx context.Context) error
	Router() *gin.Engine
}

// HTTPServer exposes health, debug and queue endpoints of a running tracker
type HTTPServer struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	tracker  *services.AnalyticsService
	gatherer prometheus.Gatherer
}

// New creates a new server instance. gatherer may be nil when metrics are
// not exposed.
func New(cfg *config.Config, tracker *services.AnalyticsService, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		config:   cfg,
		tracker:  tracker,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Setup builds the router
func (s *HTTPServer) Setup() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestID())
	s.router.Use(RequestLogger(s.logger))

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           s.config.CORS.MaxAge,
	}))
}

func (s *HTTPServer) setupRoutes() {
	v1 := s.router.Group("/v1")
	v1.GET("/health", s.healthCheck)
	v1.GET("/info", s.apiInfo)

	debug := v1.Group("/debug")
	{
		debug.GET("/session", s.debugSession)
		debug.GET("/queue", s.debugQueue)
	}
	v1.POST("/flush", s.flush)

	if s.config.Metrics.Enabled && s.gatherer != nil {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *HTTPServer) healthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if !s.tracker.Initialized() {
		status = "initializing"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.config.StartTime).Seconds(),
	})
}

func (s *HTTPServer) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     s.config.Version,
		"environment": s.config.Environment,
		"client_id":   s.config.ClientID,
		"providers":   s.tracker.LiveProviders(),
	})
}

func (s *HTTPServer) debugSession(c *gin.Context) {
	sess, ok := s.tracker.Session()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NO_ACTIVE_SESSION",
				"message": "No session is active",
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"session":      sess,
			"user_id":      s.tracker.UserID(),
			"anonymous_id": s.tracker.AnonymousID(),
			"consent":      s.tracker.ConsentStatus(),
		},
	})
}

func (s *HTTPServer) debugQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"length":  s.tracker.QueueLength(),
			"entries": s.tracker.QueuedEntries(),
		},
	})
}

func (s *HTTPServer) flush(c *gin.Context) {
	report := s.tracker.Flush(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Port),
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server",
			zap.Int("port", s.config.Port),
			zap.String("environment", s.config.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Router returns the gin router for testing
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}
