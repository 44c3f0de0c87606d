package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/oncorec-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/oncorec-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("ONCOREC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls_enabled", false)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "oncorec")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.min_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Cache defaults
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Catalog defaults: empty path selects the compiled-in seed catalog
	viper.SetDefault("catalog.path", "")

	// Segmentation service defaults
	viper.SetDefault("segmentation.base_url", "http://localhost:9000/")
	viper.SetDefault("segmentation.timeout", "60s")
	viper.SetDefault("segmentation.rate_limit", 5)
	viper.SetDefault("segmentation.max_retries", 3)
	viper.SetDefault("segmentation.diameter", 0)

	// MCP defaults
	viper.SetDefault("mcp.server_name", "oncorec-server")
	viper.SetDefault("mcp.server_version", "1.0.0")
	viper.SetDefault("mcp.transport_type", "stdio")
	viper.SetDefault("mcp.request_timeout", "30s")

	// Scoring defaults mirror domain.DefaultScoringConfig so every
	// coefficient can be overridden individually via file or environment
	defaults := domain.DefaultScoringConfig()
	viper.SetDefault("scoring.version", defaults.Version)
	viper.SetDefault("scoring.weights.efficacy", defaults.Weights.Efficacy)
	viper.SetDefault("scoring.weights.synergy", defaults.Weights.Synergy)
	viper.SetDefault("scoring.weights.toxicity", defaults.Weights.Toxicity)
	viper.SetDefault("scoring.toxicity.ceiling_threshold", defaults.Toxicity.CeilingThreshold)
	viper.SetDefault("scoring.toxicity.superlinear_gamma", defaults.Toxicity.SuperlinearGamma)
	viper.SetDefault("scoring.toxicity.single_factor", defaults.Toxicity.SingleFactor)
	viper.SetDefault("scoring.toxicity.doublet_factor", defaults.Toxicity.DoubletFactor)
	viper.SetDefault("scoring.toxicity.triplet_factor", defaults.Toxicity.TripletFactor)
	viper.SetDefault("scoring.synergy.triplet_scale", defaults.Synergy.TripletScale)
	viper.SetDefault("scoring.adjustments.stage_i_efficacy", defaults.Adjustments.StageIEfficacy)
	viper.SetDefault("scoring.adjustments.stage_ii_efficacy", defaults.Adjustments.StageIIEfficacy)
	viper.SetDefault("scoring.adjustments.stage_iii_efficacy", defaults.Adjustments.StageIIIEfficacy)
	viper.SetDefault("scoring.adjustments.stage_iv_efficacy", defaults.Adjustments.StageIVEfficacy)
	viper.SetDefault("scoring.adjustments.elderly_age", defaults.Adjustments.ElderlyAge)
	viper.SetDefault("scoring.adjustments.elderly_efficacy", defaults.Adjustments.ElderlyEfficacy)
	viper.SetDefault("scoring.adjustments.elderly_toxicity", defaults.Adjustments.ElderlyToxicity)
	viper.SetDefault("scoring.adjustments.young_age", defaults.Adjustments.YoungAge)
	viper.SetDefault("scoring.adjustments.young_efficacy", defaults.Adjustments.YoungEfficacy)
	viper.SetDefault("scoring.adjustments.young_toxicity", defaults.Adjustments.YoungToxicity)
	viper.SetDefault("scoring.adjustments.ecog_fully_active_efficacy", defaults.Adjustments.ECOGFullyActiveEfficacy)
	viper.SetDefault("scoring.adjustments.ecog_restricted_toxicity", defaults.Adjustments.ECOGRestrictedToxicity)
	viper.SetDefault("scoring.adjustments.ecog_limited_efficacy", defaults.Adjustments.ECOGLimitedEfficacy)
	viper.SetDefault("scoring.adjustments.ecog_limited_toxicity", defaults.Adjustments.ECOGLimitedToxicity)
	viper.SetDefault("scoring.adjustments.high_heterogeneity_efficacy", defaults.Adjustments.HighHeterogeneityEfficacy)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetScoringConfig returns the scoring coefficient set
func (m *Manager) GetScoringConfig() *domain.ScoringConfig {
	return &m.config.Scoring
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return domain.NewConfigError("server", fmt.Sprintf("invalid server port: %d", config.Server.Port))
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return domain.NewConfigError("database", "database host is required")
	}
	if config.Database.Database == "" {
		return domain.NewConfigError("database", "database name is required")
	}
	if config.Database.Username == "" {
		return domain.NewConfigError("database", "database username is required")
	}

	// Validate cache configuration
	if config.Cache.RedisURL == "" {
		return domain.NewConfigError("cache", "Redis URL is required")
	}

	// Validate segmentation service configuration
	if config.Segmentation.BaseURL == "" {
		return domain.NewConfigError("segmentation", "segmentation base URL is required")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return domain.NewConfigError("logging", fmt.Sprintf("invalid log level: %s", config.Logging.Level))
	}

	// Validate scoring coefficients. A bad weight vector must abort startup,
	// never fall back to defaults.
	if err := config.Scoring.Validate(); err != nil {
		return err
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
