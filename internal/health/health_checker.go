// Package health runs periodic component checks and serves the results.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/catalog"
	"github.com/oncorec-server/internal/database"
)

type HealthChecker struct {
	config      HealthConfig
	logger      *logrus.Logger
	db          *database.DB
	redisClient *redis.Client
	checks      map[string]HealthCheck
	status      *HealthStatus
	startedAt   time.Time
	mutex       sync.RWMutex
	stopChan    chan struct{}
	ticker      *time.Ticker
}

type HealthConfig struct {
	CheckInterval    time.Duration    `json:"check_interval"`
	Timeout          time.Duration    `json:"timeout"`
	EnabledChecks    []string         `json:"enabled_checks"`
	Thresholds       HealthThresholds `json:"thresholds"`
	EndpointPath     string           `json:"endpoint_path"`
	DetailedResponse bool             `json:"detailed_response"`
	Version          string           `json:"version"`
}

type HealthThresholds struct {
	DatabaseMaxLatency time.Duration `json:"database_max_latency"`
	RedisMaxLatency    time.Duration `json:"redis_max_latency"`
	MaxGoroutines      int           `json:"max_goroutines"`
	MemoryMaxUsage     uint64        `json:"memory_max_usage"`
}

type HealthStatus struct {
	Overall     HealthState                `json:"overall"`
	Timestamp   time.Time                  `json:"timestamp"`
	Version     string                     `json:"version"`
	Uptime      time.Duration              `json:"uptime"`
	Components  map[string]ComponentHealth `json:"components"`
	Metrics     SystemMetrics              `json:"metrics"`
	LastChecked time.Time                  `json:"last_checked"`
	CheckCount  int64                      `json:"check_count"`
}

type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthState            `json:"status"`
	Message     string                 `json:"message"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type SystemMetrics struct {
	MemoryAlloc    uint64    `json:"memory_alloc_bytes"`
	MemorySys      uint64    `json:"memory_sys_bytes"`
	GoroutineCount int       `json:"goroutine_count"`
	NumGC          uint32    `json:"num_gc"`
	LastUpdated    time.Time `json:"last_updated"`
}

type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateWarning   HealthState = "warning"
	HealthStateUnknown   HealthState = "unknown"
)

type HealthCheck interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
	Priority() int
}

type DatabaseHealthCheck struct {
	db      *database.DB
	timeout time.Duration
	logger  *logrus.Logger
}

type RedisHealthCheck struct {
	client  *redis.Client
	timeout time.Duration
	logger  *logrus.Logger
}

type CatalogHealthCheck struct {
	store  *catalog.Store
	logger *logrus.Logger
}

type SegmentationHealthCheck struct {
	endpoints []APIEndpoint
	timeout   time.Duration
	logger    *logrus.Logger
}

type SystemResourceHealthCheck struct {
	thresholds HealthThresholds
	logger     *logrus.Logger
}

type APIEndpoint struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Method   string `json:"method"`
	Expected int    `json:"expected_status"`
}

// NewHealthChecker wires the default component checks for the recommendation
// server. Nil dependencies simply skip their check, which keeps the checker
// usable in lite deployments without postgres or redis.
func NewHealthChecker(config HealthConfig, db *database.DB, redisClient *redis.Client, catalogStore *catalog.Store, logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if config.CheckInterval == 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.EndpointPath == "" {
		config.EndpointPath = "/health"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	hc := &HealthChecker{
		config:      config,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		checks:      make(map[string]HealthCheck),
		status: &HealthStatus{
			Overall:    HealthStateUnknown,
			Timestamp:  time.Now(),
			Components: make(map[string]ComponentHealth),
			Metrics:    SystemMetrics{},
		},
		startedAt: time.Now(),
		stopChan:  make(chan struct{}),
	}

	hc.registerDefaultChecks(catalogStore)
	return hc
}

func (h *HealthChecker) registerDefaultChecks(catalogStore *catalog.Store) {
	if h.db != nil {
		h.RegisterCheck(&DatabaseHealthCheck{
			db:      h.db,
			timeout: h.config.Timeout,
			logger:  h.logger,
		})
	}

	if h.redisClient != nil {
		h.RegisterCheck(&RedisHealthCheck{
			client:  h.redisClient,
			timeout: h.config.Timeout,
			logger:  h.logger,
		})
	}

	if catalogStore != nil {
		h.RegisterCheck(&CatalogHealthCheck{
			store:  catalogStore,
			logger: h.logger,
		})
	}

	h.RegisterCheck(&SystemResourceHealthCheck{
		thresholds: h.config.Thresholds,
		logger:     h.logger,
	})
}

// RegisterSegmentationCheck adds a reachability probe for the remote
// segmentation service.
func (h *HealthChecker) RegisterSegmentationCheck(name, healthURL string) {
	h.RegisterCheck(&SegmentationHealthCheck{
		endpoints: []APIEndpoint{
			{Name: name, URL: healthURL, Method: http.MethodGet, Expected: http.StatusOK},
		},
		timeout: h.config.Timeout,
		logger:  h.logger,
	})
}

func (h *HealthChecker) RegisterCheck(check HealthCheck) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[check.Name()] = check
}

func (h *HealthChecker) Start() {
	h.ticker = time.NewTicker(h.config.CheckInterval)

	// Run initial check
	h.runHealthChecks()

	go func() {
		for {
			select {
			case <-h.ticker.C:
				h.runHealthChecks()
			case <-h.stopChan:
				return
			}
		}
	}()

	h.logger.Info("Health checker started")
}

func (h *HealthChecker) Stop() {
	if h.ticker != nil {
		h.ticker.Stop()
	}
	close(h.stopChan)
	h.logger.Info("Health checker stopped")
}

// RunOnce executes all enabled checks immediately and returns the
// resulting status. Used by readiness probes that cannot wait for the
// next ticker interval.
func (h *HealthChecker) RunOnce() *HealthStatus {
	h.runHealthChecks()
	return h.GetStatus()
}

func (h *HealthChecker) runHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.mutex.Lock()
	defer h.mutex.Unlock()

	startTime := time.Now()
	overallHealthy := true
	hasWarnings := false

	// Run checks in parallel
	results := make(chan ComponentHealth, len(h.checks))
	var wg sync.WaitGroup

	for _, check := range h.checks {
		if !h.isCheckEnabled(check.Name()) {
			continue
		}

		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			results <- c.Check(ctx)
		}(check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	components := make(map[string]ComponentHealth)
	for result := range results {
		components[result.Name] = result

		if result.Status == HealthStateUnhealthy {
			overallHealthy = false
		} else if result.Status == HealthStateWarning {
			hasWarnings = true
		}
	}

	var overallStatus HealthState
	if !overallHealthy {
		overallStatus = HealthStateUnhealthy
	} else if hasWarnings {
		overallStatus = HealthStateWarning
	} else {
		overallStatus = HealthStateHealthy
	}

	h.status = &HealthStatus{
		Overall:     overallStatus,
		Timestamp:   startTime,
		Version:     h.config.Version,
		Uptime:      time.Since(h.startedAt),
		Components:  components,
		Metrics:     collectSystemMetrics(),
		LastChecked: time.Now(),
		CheckCount:  h.status.CheckCount + 1,
	}

	if overallStatus != HealthStateHealthy {
		h.logger.WithFields(logrus.Fields{
			"overall_status":       overallStatus,
			"unhealthy_components": h.getUnhealthyComponents(components),
		}).Warn("Health check completed with issues")
	} else {
		h.logger.Debug("Health check completed successfully")
	}
}

func (h *HealthChecker) isCheckEnabled(checkName string) bool {
	if len(h.config.EnabledChecks) == 0 {
		return true // All checks enabled by default
	}

	for _, enabled := range h.config.EnabledChecks {
		if enabled == checkName {
			return true
		}
	}
	return false
}

func (h *HealthChecker) getUnhealthyComponents(components map[string]ComponentHealth) []string {
	var unhealthy []string
	for name, component := range components {
		if component.Status == HealthStateUnhealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

func collectSystemMetrics() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemMetrics{
		MemoryAlloc:    mem.Alloc,
		MemorySys:      mem.Sys,
		GoroutineCount: runtime.NumGoroutine(),
		NumGC:          mem.NumGC,
		LastUpdated:    time.Now(),
	}
}

func (h *HealthChecker) GetStatus() *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Return a copy to prevent external modification
	status := *h.status
	status.Components = make(map[string]ComponentHealth)
	for k, v := range h.status.Components {
		status.Components[k] = v
	}

	return &status
}

func (h *HealthChecker) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.GetStatus()

		httpStatus := http.StatusOK
		if status.Overall == HealthStateUnhealthy {
			httpStatus = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)

		var response interface{}
		if h.config.DetailedResponse {
			response = status
		} else {
			response = map[string]interface{}{
				"status":    status.Overall,
				"timestamp": status.Timestamp,
				"version":   status.Version,
			}
		}

		json.NewEncoder(w).Encode(response)
	}
}

// DatabaseHealthCheck implementation
func (d *DatabaseHealthCheck) Name() string {
	return "database"
}

func (d *DatabaseHealthCheck) Priority() int {
	return 1
}

func (d *DatabaseHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	if d.db == nil {
		return ComponentHealth{
			Name:        d.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Database connection not configured",
			LastChecked: time.Now(),
			Duration:    time.Since(start),
			Error:       "database connection is nil",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.db.Health(ctx)
	duration := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Name:        d.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Database connection failed",
			LastChecked: time.Now(),
			Duration:    duration,
			Error:       err.Error(),
		}
	}

	stats := d.db.Stats()
	metadata := map[string]interface{}{
		"total_conns":         stats.TotalConns(),
		"acquired_conns":      stats.AcquiredConns(),
		"idle_conns":          stats.IdleConns(),
		"max_conns":           stats.MaxConns(),
		"empty_acquire_count": stats.EmptyAcquireCount(),
	}

	status := HealthStateHealthy
	message := "Database connection healthy"

	if stats.EmptyAcquireCount() > 100 {
		status = HealthStateWarning
		message = "Connection pool frequently exhausted"
	}

	return ComponentHealth{
		Name:        d.Name(),
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
		Duration:    duration,
		Metadata:    metadata,
	}
}

// RedisHealthCheck implementation
func (r *RedisHealthCheck) Name() string {
	return "redis"
}

func (r *RedisHealthCheck) Priority() int {
	return 2
}

func (r *RedisHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	if r.client == nil {
		return ComponentHealth{
			Name:        r.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Redis client not configured",
			LastChecked: time.Now(),
			Duration:    time.Since(start),
			Error:       "redis client is nil",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.Ping(ctx).Result()
	duration := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Name:        r.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Redis connection failed",
			LastChecked: time.Now(),
			Duration:    duration,
			Error:       err.Error(),
		}
	}

	poolStats := r.client.PoolStats()
	metadata := map[string]interface{}{
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
	}

	return ComponentHealth{
		Name:        r.Name(),
		Status:      HealthStateHealthy,
		Message:     "Redis connection healthy",
		LastChecked: time.Now(),
		Duration:    duration,
		Metadata:    metadata,
	}
}

// CatalogHealthCheck implementation
func (c *CatalogHealthCheck) Name() string {
	return "drug_catalog"
}

func (c *CatalogHealthCheck) Priority() int {
	return 3
}

func (c *CatalogHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	snap := c.store.Current()
	if snap == nil || snap.Len() == 0 {
		return ComponentHealth{
			Name:        c.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Drug catalog is empty",
			LastChecked: time.Now(),
			Duration:    time.Since(start),
			Error:       "no catalog snapshot loaded",
		}
	}

	metadata := map[string]interface{}{
		"catalog_version":   snap.Version(),
		"drug_count":        snap.Len(),
		"interaction_count": snap.InteractionCount(),
	}

	return ComponentHealth{
		Name:        c.Name(),
		Status:      HealthStateHealthy,
		Message:     fmt.Sprintf("Catalog %s loaded (%d drugs)", snap.Version(), snap.Len()),
		LastChecked: time.Now(),
		Duration:    time.Since(start),
		Metadata:    metadata,
	}
}

// SegmentationHealthCheck implementation
func (e *SegmentationHealthCheck) Name() string {
	return "segmentation_service"
}

func (e *SegmentationHealthCheck) Priority() int {
	return 4
}

func (e *SegmentationHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	healthyCount := 0
	results := make(map[string]string)

	for _, endpoint := range e.endpoints {
		req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, nil)
		if err != nil {
			results[endpoint.Name] = fmt.Sprintf("error: %v", err)
			continue
		}

		client := &http.Client{Timeout: e.timeout}
		resp, err := client.Do(req)
		if err != nil {
			results[endpoint.Name] = fmt.Sprintf("error: %v", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == endpoint.Expected {
			results[endpoint.Name] = "healthy"
			healthyCount++
		} else {
			results[endpoint.Name] = fmt.Sprintf("status: %d", resp.StatusCode)
		}
	}

	var status HealthState
	var message string

	if healthyCount == len(e.endpoints) {
		status = HealthStateHealthy
		message = "Segmentation service reachable"
	} else {
		// Recommendations degrade gracefully without morphology input,
		// so an unreachable segmentation service is a warning, not an outage.
		status = HealthStateWarning
		message = fmt.Sprintf("%d/%d segmentation endpoints reachable", healthyCount, len(e.endpoints))
	}

	metadata := map[string]interface{}{
		"endpoint_results": results,
		"healthy_count":    healthyCount,
		"total_endpoints":  len(e.endpoints),
	}

	return ComponentHealth{
		Name:        e.Name(),
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
		Metadata:    metadata,
	}
}

// SystemResourceHealthCheck implementation
func (s *SystemResourceHealthCheck) Name() string {
	return "system_resources"
}

func (s *SystemResourceHealthCheck) Priority() int {
	return 5
}

func (s *SystemResourceHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	metadata := map[string]interface{}{
		"memory_alloc_bytes": mem.Alloc,
		"memory_sys_bytes":   mem.Sys,
		"goroutine_count":    goroutines,
		"num_gc":             mem.NumGC,
	}

	status := HealthStateHealthy
	message := "System resources healthy"

	if s.thresholds.MaxGoroutines > 0 && goroutines > s.thresholds.MaxGoroutines {
		status = HealthStateWarning
		message = fmt.Sprintf("Goroutine count %d exceeds threshold %d", goroutines, s.thresholds.MaxGoroutines)
	}
	if s.thresholds.MemoryMaxUsage > 0 && mem.Alloc > s.thresholds.MemoryMaxUsage {
		status = HealthStateWarning
		message = fmt.Sprintf("Memory usage %d exceeds threshold %d", mem.Alloc, s.thresholds.MemoryMaxUsage)
	}

	return ComponentHealth{
		Name:        s.Name(),
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
		Metadata:    metadata,
	}
}
