package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/caching"
	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
	"github.com/oncorec-server/internal/health"
	"github.com/oncorec-server/internal/imaging"
	"github.com/oncorec-server/internal/middleware"
	"github.com/oncorec-server/pkg/regimen"
)

const (
	// defaultRequestTimeout bounds one API request end to end.
	defaultRequestTimeout = 30 * time.Second

	// shutdownTimeout bounds graceful shutdown after Start's context is
	// cancelled.
	shutdownTimeout = 30 * time.Second

	// defaultPageSize applies when list endpoints receive no limit.
	defaultPageSize = 20
)

// Dependencies carries the collaborators the HTTP layer serves. Recommender
// and Catalog are required; the rest are optional and their endpoints
// report 503 when absent. Lite deployments run without postgres, redis and
// the segmentation service.
type Dependencies struct {
	Recommender domain.Recommender
	Catalog     *catalog.Store
	Loader      *catalog.Loader
	Patients    domain.PatientRepository
	Runs        domain.RecommendationRepository
	Feedback    feedback.Store
	Analysis    *imaging.AnalysisService
	Health      *health.HealthChecker
	Cache       *caching.ResultCache
}

// Server is the REST surface over the recommendation core.
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	logger        *logrus.Logger
	parser        *regimen.Parser
	router        *gin.Engine
	server        *http.Server
	upgrader      websocket.Upgrader
}

// NewServer creates the HTTP server and wires middleware and routes.
func NewServer(configManager domain.ConfigManager, deps Dependencies, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	cfg := configManager.GetConfig()
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger())
	router.Use(corsMiddleware())

	server := &Server{
		configManager: configManager,
		deps:          deps,
		logger:        logger,
		parser:        regimen.NewParser(),
		router:        router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The CORS policy above is open, so the websocket origin
			// check mirrors it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	server.setupRoutes()
	return server
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"addr": addr,
		"tls":  cfg.TLSEnabled,
	}).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	if s.deps.Health != nil {
		s.router.GET("/health/detail", gin.WrapF(s.deps.Health.GetHTTPHandler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		s.respondError(c, domain.NewNotFoundError("route", c.Request.URL.Path))
	})

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.RequestTimeout(defaultRequestTimeout))
	{
		v1.GET("/drugs", s.handleListDrugs)
		v1.GET("/drugs/:id", s.handleGetDrug)
		v1.POST("/catalog/reload", s.handleCatalogReload)

		v1.POST("/recommend", s.handleRecommend)
		v1.POST("/score", s.handleScore)

		v1.POST("/patients", s.handleCreatePatient)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.PUT("/patients/:id", s.handleUpdatePatient)
		v1.DELETE("/patients/:id", s.handleDeletePatient)
		v1.GET("/patients/:id/history", s.handlePatientHistory)
		v1.GET("/patients/:id/snapshots/:snapshot_id", s.handleGetSnapshot)
		v1.GET("/patients/:id/runs", s.handlePatientRuns)
		v1.GET("/runs/:id", s.handleGetRun)

		v1.POST("/analyses", s.handleSubmitAnalysis)
		v1.GET("/analyses/:id", s.handleGetAnalysis)

		v1.POST("/feedback", s.handleSubmitFeedback)
		v1.GET("/feedback", s.handleListFeedback)
		v1.GET("/feedback/export", s.handleExportFeedback)
		v1.POST("/feedback/import", s.handleImportFeedback)
		v1.GET("/feedback/:patient_id/:regimen_key", s.handleGetFeedback)
		v1.DELETE("/feedback/:id", s.handleDeleteFeedback)
	}

	// The progress stream outlives the per-request budget, so it is
	// registered outside the timeout group.
	stream := s.router.Group("/api/v1")
	stream.GET("/analyses/:id/progress", s.handleAnalysisProgress)
}

// requestID returns the correlation id set by the middleware.
func requestID(c *gin.Context) string {
	return c.GetString("correlation_id")
}

// statusForError maps domain error kinds onto HTTP statuses.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidRegimen),
		errors.Is(err, domain.ErrInvalidCancerType),
		errors.Is(err, domain.ErrInvalidCancerStage),
		errors.Is(err, domain.ErrInvalidECOGStatus),
		errors.Is(err, domain.ErrInvalidKRASStatus):
		return http.StatusBadRequest, domain.ErrCodeInvalidRequest
	case errors.Is(err, domain.ErrAnalysisFailed):
		return http.StatusBadGateway, domain.ErrCodeAnalysis
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusInternalServerError, domain.ErrCodeConfig
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalServer
	}
}

// respondError writes the standard error envelope for err.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID(c),
			"path":           c.FullPath(),
		}).WithError(err).Error("Request failed")
	}
	c.JSON(status, domain.NewAPIError(code, err.Error(), "", requestID(c)))
}

// respondInvalid reports a malformed request body or parameter.
func (s *Server) respondInvalid(c *gin.Context, field, message string) {
	s.respondError(c, domain.NewInvalidRequestError(field, message, nil))
}

// respondUnavailable reports an endpoint whose collaborator is not wired in
// this deployment.
func (s *Server) respondUnavailable(c *gin.Context, component string) {
	c.JSON(http.StatusServiceUnavailable,
		domain.NewAPIError(domain.ErrCodeConfig, component+" is not available in this deployment", "", requestID(c)))
}

// queryInt parses a non-negative integer query parameter.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
