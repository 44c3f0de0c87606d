package domain

import (
	"fmt"
	"math"
	"time"
)

// Config represents the main application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	MCP          MCPConfig          `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
}

// DatabaseConfig represents database connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents cache configuration shared by the result cache and
// the analysis cache.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CatalogConfig points at the tabular reference data. With an empty path the
// compiled-in seed catalog is used.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// SegmentationConfig represents the external image analysis service
// configuration.
type SegmentationConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	MaxRetries int           `mapstructure:"max_retries"`
	// Diameter is the expected cell diameter hint passed to the model, in
	// pixels; zero lets the service estimate it.
	Diameter float64 `mapstructure:"diameter"`
}

// MCPConfig represents MCP server configuration.
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"` // "stdio"
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ScoringWeights are the composite weights {w_e, w_s, w_t}. They must be
// non-negative and sum to 1.
type ScoringWeights struct {
	Efficacy float64 `mapstructure:"efficacy" json:"efficacy"`
	Synergy  float64 `mapstructure:"synergy" json:"synergy"`
	Toxicity float64 `mapstructure:"toxicity" json:"toxicity"`
}

// ToxicityAggregation configures the non-linear multi-drug toxicity model:
// mean toxicity scaled by a regimen-size factor, with a superlinear penalty
// above the ceiling threshold. Polytherapy toxicity routinely exceeds the
// sum of parts, so a straight sum is deliberately not supported.
type ToxicityAggregation struct {
	// CeilingThreshold is the level above which the superlinear penalty
	// applies, on the 0-10 scale.
	CeilingThreshold float64 `mapstructure:"ceiling_threshold" json:"ceiling_threshold"`
	// SuperlinearGamma is the quadratic penalty coefficient.
	SuperlinearGamma float64 `mapstructure:"superlinear_gamma" json:"superlinear_gamma"`
	// Size factors scale mean toxicity by regimen size; they must be >= 1
	// and non-decreasing (more agents never reduce aggregate risk).
	SingleFactor  float64 `mapstructure:"single_factor" json:"single_factor"`
	DoubletFactor float64 `mapstructure:"doublet_factor" json:"doublet_factor"`
	TripletFactor float64 `mapstructure:"triplet_factor" json:"triplet_factor"`
}

// SynergyScaling configures the interaction model.
type SynergyScaling struct {
	// TripletScale is the diminishing-returns factor applied to the raw
	// pairwise sum of a 3-drug regimen, in (0,1].
	TripletScale float64 `mapstructure:"triplet_scale" json:"triplet_scale"`
}

// AdjustmentConfig is the covariate multiplier table applied by the patient
// profile adjuster, in its fixed documented order. All factors are
// multiplicative on the 0-10 scale and clamped after each step.
type AdjustmentConfig struct {
	StageIEfficacy   float64 `mapstructure:"stage_i_efficacy" json:"stage_i_efficacy"`
	StageIIEfficacy  float64 `mapstructure:"stage_ii_efficacy" json:"stage_ii_efficacy"`
	StageIIIEfficacy float64 `mapstructure:"stage_iii_efficacy" json:"stage_iii_efficacy"`
	StageIVEfficacy  float64 `mapstructure:"stage_iv_efficacy" json:"stage_iv_efficacy"`

	ElderlyAge      int     `mapstructure:"elderly_age" json:"elderly_age"`
	ElderlyEfficacy float64 `mapstructure:"elderly_efficacy" json:"elderly_efficacy"`
	ElderlyToxicity float64 `mapstructure:"elderly_toxicity" json:"elderly_toxicity"`
	YoungAge        int     `mapstructure:"young_age" json:"young_age"`
	YoungEfficacy   float64 `mapstructure:"young_efficacy" json:"young_efficacy"`
	YoungToxicity   float64 `mapstructure:"young_toxicity" json:"young_toxicity"`

	ECOGFullyActiveEfficacy float64 `mapstructure:"ecog_fully_active_efficacy" json:"ecog_fully_active_efficacy"`
	ECOGRestrictedToxicity  float64 `mapstructure:"ecog_restricted_toxicity" json:"ecog_restricted_toxicity"`
	ECOGLimitedEfficacy     float64 `mapstructure:"ecog_limited_efficacy" json:"ecog_limited_efficacy"`
	ECOGLimitedToxicity     float64 `mapstructure:"ecog_limited_toxicity" json:"ecog_limited_toxicity"`

	HighHeterogeneityEfficacy float64 `mapstructure:"high_heterogeneity_efficacy" json:"high_heterogeneity_efficacy"`
}

// ScoringConfig is the versioned, auditable tuning structure for the whole
// recommendation core. Concrete coefficients are supplied configuration, not
// inferred constants; Validate runs at startup and any violation is fatal
// before the first request is scored.
type ScoringConfig struct {
	Version     string              `mapstructure:"version" json:"version"`
	Weights     ScoringWeights      `mapstructure:"weights" json:"weights"`
	Toxicity    ToxicityAggregation `mapstructure:"toxicity" json:"toxicity"`
	Synergy     SynergyScaling      `mapstructure:"synergy" json:"synergy"`
	Adjustments AdjustmentConfig    `mapstructure:"adjustments" json:"adjustments"`
}

// weightSumTolerance absorbs float decoding noise when checking that the
// composite weights sum to 1.
const weightSumTolerance = 1e-9

// DefaultScoringConfig returns the shipped coefficient set.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Version: "2024.2",
		Weights: ScoringWeights{
			Efficacy: 0.5,
			Synergy:  0.3,
			Toxicity: 0.2,
		},
		Toxicity: ToxicityAggregation{
			CeilingThreshold: 6.0,
			SuperlinearGamma: 0.35,
			SingleFactor:     1.0,
			DoubletFactor:    1.1,
			TripletFactor:    1.25,
		},
		Synergy: SynergyScaling{
			TripletScale: 0.67,
		},
		Adjustments: AdjustmentConfig{
			StageIEfficacy:   1.10,
			StageIIEfficacy:  1.00,
			StageIIIEfficacy: 0.95,
			StageIVEfficacy:  0.90,

			ElderlyAge:      70,
			ElderlyEfficacy: 0.95,
			ElderlyToxicity: 1.20,
			YoungAge:        50,
			YoungEfficacy:   1.05,
			YoungToxicity:   0.90,

			ECOGFullyActiveEfficacy: 1.10,
			ECOGRestrictedToxicity:  1.10,
			ECOGLimitedEfficacy:     0.90,
			ECOGLimitedToxicity:     1.25,

			HighHeterogeneityEfficacy: 0.95,
		},
	}
}

// Validate checks the scoring configuration. Violations wrap
// ErrInvalidConfig and must abort startup; weights are never silently
// re-normalized.
func (c *ScoringConfig) Validate() error {
	w := c.Weights
	if w.Efficacy < 0 || w.Synergy < 0 || w.Toxicity < 0 {
		return fmt.Errorf("%w: scoring weights must be non-negative, got {%g, %g, %g}", ErrInvalidConfig, w.Efficacy, w.Synergy, w.Toxicity)
	}
	if sum := w.Efficacy + w.Synergy + w.Toxicity; math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: scoring weights must sum to 1, got %g", ErrInvalidConfig, sum)
	}

	t := c.Toxicity
	if t.CeilingThreshold < ScoreMin || t.CeilingThreshold > ScoreMax {
		return fmt.Errorf("%w: toxicity ceiling threshold %g outside [%g,%g]", ErrInvalidConfig, t.CeilingThreshold, ScoreMin, ScoreMax)
	}
	if t.SuperlinearGamma < 0 {
		return fmt.Errorf("%w: toxicity superlinear gamma must be >= 0, got %g", ErrInvalidConfig, t.SuperlinearGamma)
	}
	if t.SingleFactor < 1 || t.DoubletFactor < t.SingleFactor || t.TripletFactor < t.DoubletFactor {
		return fmt.Errorf("%w: toxicity size factors must be >= 1 and non-decreasing, got {%g, %g, %g}", ErrInvalidConfig, t.SingleFactor, t.DoubletFactor, t.TripletFactor)
	}

	if s := c.Synergy.TripletScale; s <= 0 || s > 1 {
		return fmt.Errorf("%w: synergy triplet scale must be in (0,1], got %g", ErrInvalidConfig, s)
	}

	a := c.Adjustments
	factors := []struct {
		name  string
		value float64
	}{
		{"stage_i_efficacy", a.StageIEfficacy},
		{"stage_ii_efficacy", a.StageIIEfficacy},
		{"stage_iii_efficacy", a.StageIIIEfficacy},
		{"stage_iv_efficacy", a.StageIVEfficacy},
		{"elderly_efficacy", a.ElderlyEfficacy},
		{"elderly_toxicity", a.ElderlyToxicity},
		{"young_efficacy", a.YoungEfficacy},
		{"young_toxicity", a.YoungToxicity},
		{"ecog_fully_active_efficacy", a.ECOGFullyActiveEfficacy},
		{"ecog_restricted_toxicity", a.ECOGRestrictedToxicity},
		{"ecog_limited_efficacy", a.ECOGLimitedEfficacy},
		{"ecog_limited_toxicity", a.ECOGLimitedToxicity},
		{"high_heterogeneity_efficacy", a.HighHeterogeneityEfficacy},
	}
	for _, f := range factors {
		if f.value <= 0 {
			return fmt.Errorf("%w: adjustment factor %s must be > 0, got %g", ErrInvalidConfig, f.name, f.value)
		}
	}
	if a.ElderlyAge <= a.YoungAge {
		return fmt.Errorf("%w: elderly_age %d must exceed young_age %d", ErrInvalidConfig, a.ElderlyAge, a.YoungAge)
	}
	return nil
}

// StageEfficacyFactor returns the stage multiplier for step 1 of the
// adjuster. The second return is false for an unknown stage.
func (a AdjustmentConfig) StageEfficacyFactor(s CancerStage) (float64, bool) {
	switch s {
	case STAGE_I:
		return a.StageIEfficacy, true
	case STAGE_II:
		return a.StageIIEfficacy, true
	case STAGE_III:
		return a.StageIIIEfficacy, true
	case STAGE_IV:
		return a.StageIVEfficacy, true
	default:
		return 1.0, false
	}
}
