// Package api provides the HTTP API server of the image inventory.
// It uses the Echo framework to serve REST endpoints for images, elements
// and releases, and a WebSocket feed of image lifecycle events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"evalgo.org/inventory/internal/config"
	"evalgo.org/inventory/internal/inventory"
	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/internal/validation"
	"evalgo.org/inventory/internal/version"
)

// Server represents the inventory API server.
type Server struct {
	echo      *echo.Echo
	service   *inventory.Service
	store     storage.Store
	validator *validation.Validator
	config    *config.Config
	logger    *zap.Logger
	wsHub     *Hub // WebSocket hub for image events
	stopHub   context.CancelFunc
}

// New creates a new API server instance.
func New(cfg *config.Config, store storage.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler

	// Create WebSocket hub
	hub := NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())

	server := &Server{
		echo:  e,
		store: store,
		service: inventory.NewService(store,
			inventory.WithEvents(hub),
			inventory.WithLogger(logger),
		),
		validator: validation.New(),
		config:    cfg,
		logger:    logger,
		wsHub:     hub,
		stopHub:   stopHub,
	}

	// Start WebSocket hub in background
	go hub.Run(hubCtx)

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				s.logger.Error("request failed", fields...)
			} else {
				s.logger.Debug("request", fields...)
			}
			return nil
		},
	}))

	// Recover middleware
	s.echo.Use(middleware.Recover())

	// Security headers middleware
	s.echo.Use(SecurityHeaders)

	// CORS middleware
	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Rate limiting
	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	// Content-Type validation middleware
	s.echo.Use(ValidateContentType)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 group
	v1 := s.echo.Group("/api/" + version.APIVersion)
	v1.Use(ValidateAcceptHeader)

	// Image routes
	images := v1.Group("/images")
	images.GET("", s.listImages, ValidateQueryParams)
	images.GET("/_applicable", s.applicableImages, ValidateQueryParams)
	images.GET("/_types", s.imageTypes)
	images.GET("/_versions", s.imageVersions)
	images.GET("/roles/:role", s.roleImages)
	images.GET("/statistics", s.getDeploymentStatistics)
	images.POST("", s.createImage)
	images.GET("/:id", s.getImage, ValidateIDFormat)
	images.PUT("/:id", s.updateImage, ValidateIDFormat)
	images.DELETE("/:id", s.deleteImage, ValidateIDFormat)
	images.PUT("/:id/image_state", s.updateImageState, ValidateIDFormat)
	images.GET("/:id/statistics", s.getImageStatistics, ValidateIDFormat)
	images.GET("/:id/statistics/:group", s.getGroupImageElements, ValidateIDFormat)

	// Element routes
	elements := v1.Group("/elements")
	elements.PUT("/:id", s.registerElement, ValidateIDFormat)
	elements.GET("/:id/images", s.getElementImages, ValidateIDFormat)
	elements.PUT("/:id/images", s.replaceElementImages, ValidateIDFormat)
	elements.POST("/:id/images", s.mergeElementImages, ValidateIDFormat)
	elements.GET("/:id/images/:image", s.getElementImage, ValidateIDFormat)
	elements.DELETE("/:id/images/:image", s.deleteElementImage, ValidateIDFormat)
	elements.GET("/:id/ztp_image", s.getZtpImage, ValidateIDFormat)
	elements.PUT("/:id/ztp_image", s.setZtpImage, ValidateIDFormat)
	elements.DELETE("/:id/ztp_image", s.resetZtpImage, ValidateIDFormat)

	// Release routes
	releases := v1.Group("/releases")
	releases.GET("", s.listReleases)
	releases.POST("", s.createRelease)
	releases.GET("/:release", s.getRelease)
	releases.PUT("/:release", s.updateRelease)
	releases.DELETE("/:release", s.deleteRelease)
	releases.GET("/:release/roles/:role", s.releaseRoleImages)

	// Validation routes
	v1.POST("/validate/image", s.validateImage)

	// WebSocket routes
	ws := v1.Group("/ws")
	ws.GET("/events", s.handleWebSocket)
	ws.GET("/stats", s.webSocketStats)
}

// WatchChanges relays image changes made by other writers of the store to
// WebSocket clients. It blocks until the changes feed fails and returns
// immediately when the store cannot stream changes.
func (s *Server) WatchChanges() error {
	watcher, ok := s.store.(storage.ChangeWatcher)
	if !ok {
		s.logger.Info("storage backend does not stream changes")
		return nil
	}
	return watcher.WatchImageChanges(func(change storage.ImageChange) {
		s.logger.Debug("image change", zap.String("change", change.String()))
		s.wsHub.Publish(inventory.ChangeEvent(change))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.Info("starting inventory API server",
		zap.String("address", addr),
		zap.String("backend", s.config.Storage.Backend),
		zap.String("version", version.Version),
		zap.Bool("tls", s.config.Server.TLSEnabled))

	// Configure server timeouts
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	var err error
	if s.config.Server.TLSEnabled {
		err = s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	} else {
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down inventory API server")

	s.stopHub()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("error closing storage: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	info, err := s.store.Info(c.Request().Context())
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "inventory",
		"version":   version.Version,
		"release":   version.Get().Release,
		"api":       version.APIVersion,
		"backend":   info.Backend,
		"database":  info.Database,
		"documents": info.Documents,
	})
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
