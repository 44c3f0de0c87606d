// Package mcp exposes the recommendation core as Model Context Protocol
// tools on the official go-sdk. The server is standalone: SQLite feedback
// store, in-memory caches, env-var configuration, no external databases.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/cache"
	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/config"
	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
	"github.com/oncorec-server/internal/imaging"
	"github.com/oncorec-server/internal/service"
	"github.com/oncorec-server/pkg/external"
	"github.com/oncorec-server/pkg/regimen"
)

const (
	serverName    = "oncorec-mcp-server"
	serverVersion = "v0.1.0"
)

// Server is the standalone MCP server around the recommendation core.
type Server struct {
	config        *config.LiteConfig
	mcpServer     *mcp.Server
	catalogStore  *catalog.Store
	recommender   domain.Recommender
	resolver      imaging.MorphologyResolver
	feedbackStore feedback.Store
	cache         *cache.MemoryCache
	parser        *regimen.Parser
	logger        *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithFeedbackStore sets a custom feedback store.
func WithFeedbackStore(store feedback.Store) ServerOption {
	return func(s *Server) error {
		s.feedbackStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithRecommender sets a custom recommender in place of the one built on
// the loaded catalog.
func WithRecommender(rec domain.Recommender) ServerOption {
	return func(s *Server) error {
		s.recommender = rec
		return nil
	}
}

// WithMorphologyResolver sets a custom morphology resolver. Without one, and
// without a segmentation URL in the config, the analyze_morphology tool
// reports the collaborator as unavailable.
func WithMorphologyResolver(resolver imaging.MorphologyResolver) ServerOption {
	return func(s *Server) error {
		s.resolver = resolver
		return nil
	}
}

// NewServer creates the standalone MCP server: catalog snapshot (seed or
// file), recommendation core, SQLite feedback store and optional
// segmentation resolver, all registered as tools.
func NewServer(cfg *config.LiteConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config: cfg,
		logger: logrus.New(),
		parser: regimen.NewParser(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	server.logger.SetLevel(level)

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	memCache, err := cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	server.cache = memCache

	if server.feedbackStore == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback store: %w", err)
		}
		server.feedbackStore = store
	}

	snapshot, err := loadCatalog(cfg, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load drug catalog: %w", err)
	}
	server.catalogStore = catalog.NewStore(snapshot, server.logger)

	if server.recommender == nil {
		recommender, err := service.NewRecommenderService(server.logger, server.catalogStore, domain.DefaultScoringConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create recommender: %w", err)
		}
		server.recommender = recommender
	}

	if server.resolver == nil && cfg.SegmentationURL != "" {
		resolver, err := createMorphologyResolver(cfg, server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create morphology resolver: %w", err)
		}
		server.resolver = resolver
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.WithFields(logrus.Fields{
		"catalog_version": snapshot.Version(),
		"drugs":           snapshot.Len(),
		"segmentation":    server.resolver != nil,
	}).Info("MCP server initialized")
	return server, nil
}

// registerTools registers every tool with the SDK. The handlers delegate to
// the selector and the stores; ranking is never computed here.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "recommend_combinations",
		Description: "Rank anticancer drug combinations (1-3 agents) for a patient profile. Returns the top-N regimens with efficacy, synergy, toxicity, composite score, confidence and rationale.",
	}, s.handleRecommend)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "score_regimen",
		Description: "Score one explicit regimen for a patient. Accepts combination notation such as \"5-FU + Oxaliplatin\" or a list of drug ids.",
	}, s.handleScoreRegimen)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "lookup_drug",
		Description: "Look up one drug in the catalog by id or alias.",
	}, s.handleLookupDrug)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_drugs",
		Description: "List all drugs in the current catalog snapshot.",
	}, s.handleListDrugs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_morphology",
		Description: "Segment a cell image (base64) through the external analysis service and summarize tumor morphology: cell count, area statistics and heterogeneity grade.",
	}, s.handleAnalyzeMorphology)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "submit_feedback",
		Description: "Record a clinician verdict (AGREED, REJECTED or ADJUSTED) on a recommended regimen.",
	}, s.handleSubmitFeedback)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_feedback",
		Description: "List recorded clinician feedback with pagination.",
	}, s.handleListFeedback)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_feedback",
		Description: "Export all clinician feedback to a JSON file in the export directory.",
	}, s.handleExportFeedback)
}

// Start runs the MCP server over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Transport != "" && s.config.Transport != "stdio" {
		return fmt.Errorf("unsupported transport %q: this binary serves stdio only", s.config.Transport)
	}

	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *Server) Close() error {
	if s.feedbackStore != nil {
		if err := s.feedbackStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
		}
	}
	return nil
}

// FeedbackStore returns the feedback store for external access.
func (s *Server) FeedbackStore() feedback.Store {
	return s.feedbackStore
}

// Cache returns the memory cache for external access.
func (s *Server) Cache() *cache.MemoryCache {
	return s.cache
}

// CatalogStore returns the catalog store for external access.
func (s *Server) CatalogStore() *catalog.Store {
	return s.catalogStore
}

// loadCatalog reads the configured catalog file, falling back to the
// compiled-in seed catalog when no path is set.
func loadCatalog(cfg *config.LiteConfig, logger *logrus.Logger) (*catalog.Snapshot, error) {
	if cfg.CatalogPath != "" {
		return catalog.NewLoader(cfg.CatalogPath, logger).Load()
	}
	return catalog.SeedSnapshot()
}

// createMorphologyResolver builds the segmentation client stack with
// in-memory caching only; the full server adds the redis tier.
func createMorphologyResolver(cfg *config.LiteConfig, logger *logrus.Logger) (imaging.MorphologyResolver, error) {
	client := external.NewSegmentationClient(domain.SegmentationConfig{
		BaseURL:    cfg.SegmentationURL,
		APIKey:     cfg.SegmentationAPIKey,
		Timeout:    60 * time.Second,
		RateLimit:  5,
		MaxRetries: 3,
	}, logger)

	return imaging.NewCachedMorphologyResolver(imaging.MorphologyResolverConfig{
		MemoryCacheTTL: 15 * time.Minute,
		MaxMemorySize:  cfg.CacheMaxItems,
		MaxConcurrency: 4,
	}, client, logger)
}
