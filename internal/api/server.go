// Package api exposes the records engine over HTTP for the desktop and
// web front ends.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gerd-center-server/internal/domain"
	"github.com/gerd-center-server/internal/events"
	"github.com/gerd-center-server/internal/middleware"
	"github.com/gerd-center-server/internal/service"
)

// Server represents the HTTP server.
type Server struct {
	cfg        *domain.Config
	router     *gin.Engine
	server     *http.Server
	log        *logrus.Logger
	records    *service.RecordService
	pathology  *service.PathologyService
	surveil    *service.SurveillanceService
	reconciler *service.SurveillancePlanReconciler
	projector  *service.RecallQueueProjector
	hub        *events.Hub
	db         interface{ Health() error }
}

// Deps bundles the collaborators the server routes to.
type Deps struct {
	Records    *service.RecordService
	Pathology  *service.PathologyService
	Surveil    *service.SurveillanceService
	Reconciler *service.SurveillancePlanReconciler
	Projector  *service.RecallQueueProjector
	Hub        *events.Hub
	Health     interface{ Health() error }
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg *domain.Config, deps Deps, logger *logrus.Logger) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(requestIDMiddleware())
	router.Use(requestLogMiddleware(logger))
	router.Use(corsMiddleware())
	if cfg.RateLimit.Enabled {
		router.Use(rateLimitMiddleware(cfg.RateLimit))
	}

	s := &Server{
		cfg:        cfg,
		router:     router,
		log:        logger,
		records:    deps.Records,
		pathology:  deps.Pathology,
		surveil:    deps.Surveil,
		reconciler: deps.Reconciler,
		projector:  deps.Projector,
		hub:        deps.Hub,
		db:         deps.Health,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", gin.WrapH(s.hub))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/patients", s.handleSearchPatients)
		v1.POST("/patients", s.handleAddPatient)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.DELETE("/patients/:id", s.handleDeletePatient)

		v1.GET("/patients/:id/pathology", s.handleListPathology)
		v1.POST("/patients/:id/pathology", s.handleAddPathology)
		v1.PUT("/patients/:id/pathology/:recordID", s.handleUpdatePathology)
		v1.DELETE("/patients/:id/pathology/:recordID", s.handleDeletePathology)

		v1.POST("/patients/:id/diagnostics", s.handleAddDiagnostic)
		v1.POST("/patients/:id/surgical", s.handleAddSurgical)
		v1.GET("/patients/:id/surgical", s.handleListSurgical)

		v1.GET("/patients/:id/status", s.handleResolveStatus)
		v1.GET("/patients/:id/surveillance", s.handleSurveillanceContext)
		v1.POST("/patients/:id/surveillance", s.handleSavePlan)
		v1.DELETE("/patients/:id/surveillance/:planID", s.handleDeletePlan)

		v1.GET("/patients/:id/recalls", s.handleListPatientRecalls)
		v1.POST("/patients/:id/recalls", s.handleAddRecall)
		v1.PATCH("/patients/:id/recalls/:recallID", s.handleToggleRecall)
		v1.DELETE("/patients/:id/recalls/:recallID", s.handleDeleteRecall)

		v1.GET("/reports/recalls", s.handleRecallReport)
		v1.GET("/reports/barretts", s.handleBarrettsReport)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if err := s.db.Health(); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		s.log.WithError(err).Error("Health check failed")
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now(),
	})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// requestLogMiddleware logs each request with its id and latency.
func requestLogMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("Request handled")
	}
}

// rateLimitMiddleware applies a global token-bucket limit.
func rateLimitMiddleware(cfg domain.RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
