package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/health"
)

// opRecommend keys cached recommendation responses.
const opRecommend = "recommend"

// Defaults applied when a recommendation request leaves the knobs unset.
// They match the interactive defaults of the clinical UI: doublets, five
// candidates.
const (
	defaultRegimenSize = 2
	defaultTopN        = 5
)

// handleHealth reports liveness. Readiness lives on /ready.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.deps.Catalog != nil {
		resp["catalog_version"] = s.deps.Catalog.Current().Version()
	}
	c.JSON(http.StatusOK, resp)
}

// handleReady reports readiness from one synchronous health check pass.
func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	status := s.deps.Health.RunOnce()
	code := http.StatusOK
	if status.Overall == health.HealthStateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     string(status.Overall),
		"timestamp":  status.Timestamp,
		"components": status.Components,
	})
}

// handleListDrugs returns every drug in the current catalog snapshot.
func (s *Server) handleListDrugs(c *gin.Context) {
	snap := s.deps.Catalog.Current()
	c.JSON(http.StatusOK, gin.H{
		"catalog_version": snap.Version(),
		"count":           snap.Len(),
		"drugs":           snap.Drugs(),
	})
}

// handleGetDrug returns one drug by identifier.
func (s *Server) handleGetDrug(c *gin.Context) {
	id := strings.ToUpper(strings.TrimSpace(c.Param("id")))
	drug, err := s.deps.Catalog.Current().Lookup(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drug)
}

// handleCatalogReload reloads the catalog from its configured source and
// swaps it in atomically. In-flight requests keep the snapshot they already
// resolved.
func (s *Server) handleCatalogReload(c *gin.Context) {
	if s.deps.Loader == nil {
		s.respondUnavailable(c, "catalog reload")
		return
	}

	next, err := s.deps.Loader.Load()
	if err != nil {
		s.respondError(c, err)
		return
	}

	previous := s.deps.Catalog.Swap(next)

	if s.deps.Cache != nil {
		if err := s.deps.Cache.InvalidateByOperation(c.Request.Context(), opRecommend); err != nil {
			s.logger.WithError(err).Warn("Recommendation cache invalidation failed after catalog reload")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"previous_version": previous.Version(),
		"catalog_version":  next.Version(),
		"drugs":            next.Len(),
	}).Info("Catalog reloaded")

	c.JSON(http.StatusOK, gin.H{
		"previous_version": previous.Version(),
		"catalog_version":  next.Version(),
		"drugs":            next.Len(),
		"interactions":     next.InteractionCount(),
	})
}

type recommendRequest struct {
	PatientID   string                 `json:"patient_id,omitempty"`
	Patient     *domain.PatientProfile `json:"patient,omitempty"`
	RegimenSize int                    `json:"regimen_size,omitempty"`
	TopN        int                    `json:"top_n,omitempty"`
}

// handleRecommend runs the full enumerate-score-rank pipeline for a patient
// given inline or by registry id.
func (s *Server) handleRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}

	patient, ok := s.resolvePatient(c, req.Patient, req.PatientID)
	if !ok {
		return
	}

	if req.RegimenSize == 0 {
		req.RegimenSize = defaultRegimenSize
	}
	if req.TopN == 0 {
		req.TopN = defaultTopN
	}

	snap := s.deps.Catalog.Current()
	params := map[string]interface{}{
		"catalog_version": snap.Version(),
		"patient":         patient,
		"regimen_size":    req.RegimenSize,
		"top_n":           req.TopN,
	}
	ctx := c.Request.Context()

	if s.deps.Cache != nil {
		if cached, found := s.deps.Cache.Get(ctx, opRecommend, params); found {
			c.JSON(http.StatusOK, cached.Result)
			return
		}
	}

	started := time.Now()
	results, err := s.deps.Recommender.Recommend(ctx, &domain.RecommendationRequest{
		Patient:     *patient,
		RegimenSize: req.RegimenSize,
		TopN:        req.TopN,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Recommend takes its own snapshot; a reload between our Current() read
	// and the call would mislabel the results. The scored regimens carry the
	// version they were actually computed against, so key and label from
	// them.
	catalogVersion := snap.Version()
	if len(results) > 0 {
		catalogVersion = results[0].CatalogVersion
	}
	params["catalog_version"] = catalogVersion

	resp := gin.H{
		"patient_id":      patient.PatientID,
		"snapshot_id":     patient.SnapshotID,
		"catalog_version": catalogVersion,
		"regimen_size":    req.RegimenSize,
		"top_n":           req.TopN,
		"count":           len(results),
		"results":         results,
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, opRecommend, params, resp, time.Since(started), 0); err != nil {
			s.logger.WithError(err).Debug("Recommendation cache write failed")
		}
	}

	c.JSON(http.StatusOK, resp)
}

type scoreRequest struct {
	// Regimen is combination notation, e.g. "5-FU + L-OHP".
	Regimen   string                 `json:"regimen,omitempty"`
	DrugIDs   []string               `json:"drug_ids,omitempty"`
	PatientID string                 `json:"patient_id,omitempty"`
	Patient   *domain.PatientProfile `json:"patient,omitempty"`
}

// handleScore scores one explicit regimen, given either as notation or as a
// drug id list.
func (s *Server) handleScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}

	var (
		reg domain.Regimen
		err error
	)
	switch {
	case strings.TrimSpace(req.Regimen) != "":
		reg, err = s.parser.Parse(req.Regimen)
	case len(req.DrugIDs) > 0:
		reg, err = domain.NewRegimen(req.DrugIDs...)
	default:
		err = domain.NewInvalidRequestError("regimen", "regimen notation or drug_ids is required", nil)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	patient, ok := s.resolvePatient(c, req.Patient, req.PatientID)
	if !ok {
		return
	}

	scored, err := s.deps.Recommender.ScoreRegimen(c.Request.Context(), reg, *patient)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scored)
}

// resolvePatient returns the inline profile when given, otherwise loads the
// latest snapshot for patient_id. It writes the error response itself.
func (s *Server) resolvePatient(c *gin.Context, inline *domain.PatientProfile, patientID string) (*domain.PatientProfile, bool) {
	if inline != nil {
		return inline, true
	}
	if strings.TrimSpace(patientID) == "" {
		s.respondInvalid(c, "patient", "either patient or patient_id is required")
		return nil, false
	}
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return nil, false
	}

	profile, err := s.deps.Patients.GetLatest(c.Request.Context(), patientID)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return profile, true
}
