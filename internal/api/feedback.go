package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
)

type feedbackRequest struct {
	RunID          string  `json:"run_id,omitempty"`
	PatientID      string  `json:"patient_id"`
	Regimen        string  `json:"regimen"`
	CancerType     string  `json:"cancer_type,omitempty"`
	SuggestedRank  int     `json:"suggested_rank,omitempty"`
	Composite      float64 `json:"composite,omitempty"`
	Verdict        string  `json:"verdict"`
	AppliedRegimen string  `json:"applied_regimen,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

// handleSubmitFeedback records a clinician verdict on a recommended
// regimen. Regimens arrive as notation and are stored under their canonical
// key, so "5-FU + L-OHP" and "OXALIPLATIN+FLUOROURACIL" update the same
// entry.
func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		s.respondInvalid(c, "patient_id", "patient_id is required")
		return
	}

	verdict := feedback.Verdict(strings.ToUpper(strings.TrimSpace(req.Verdict)))
	if !verdict.IsValid() {
		s.respondInvalid(c, "verdict", "verdict must be AGREED, REJECTED or ADJUSTED")
		return
	}

	key, err := s.parser.Canonicalize(req.Regimen)
	if err != nil {
		s.respondError(c, err)
		return
	}

	applied := strings.TrimSpace(req.AppliedRegimen)
	if applied != "" {
		applied, err = s.parser.Canonicalize(applied)
		if err != nil {
			s.respondError(c, err)
			return
		}
	}

	entry := &feedback.Feedback{
		RunID:          req.RunID,
		PatientID:      req.PatientID,
		RegimenKey:     key,
		CancerType:     strings.ToUpper(strings.TrimSpace(req.CancerType)),
		SuggestedRank:  req.SuggestedRank,
		Composite:      req.Composite,
		Verdict:        verdict,
		AppliedRegimen: applied,
		Notes:          req.Notes,
	}
	if err := s.deps.Feedback.Save(c.Request.Context(), entry); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// handleListFeedback returns feedback entries with pagination.
func (s *Server) handleListFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	limit := queryInt(c, "limit", defaultPageSize)
	offset := queryInt(c, "offset", 0)

	ctx := c.Request.Context()
	entries, err := s.deps.Feedback.List(ctx, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.deps.Feedback.Count(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"count":    len(entries),
		"limit":    limit,
		"offset":   offset,
		"feedback": entries,
	})
}

// handleGetFeedback returns the feedback for one patient and regimen. The
// regimen segment accepts any notation the parser accepts.
func (s *Server) handleGetFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	key, err := s.parser.Canonicalize(c.Param("regimen_key"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	patientID := c.Param("patient_id")
	entry, err := s.deps.Feedback.Get(c.Request.Context(), patientID, key)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if entry == nil {
		s.respondError(c, domain.NewNotFoundError("feedback", patientID+"/"+key))
		return
	}
	c.JSON(http.StatusOK, entry)
}

// handleDeleteFeedback removes one feedback entry by numeric id.
func (s *Server) handleDeleteFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.respondInvalid(c, "id", "feedback id must be an integer")
		return
	}

	if err := s.deps.Feedback.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleExportFeedback streams every feedback entry as a JSON attachment.
func (s *Server) handleExportFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	filename := fmt.Sprintf("feedback-%s.json", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	if err := s.deps.Feedback.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		// Headers are out; the truncated body is the only failure signal
		// left for the client.
		s.logger.WithError(err).Error("Feedback export failed mid-stream")
	}
}

// handleImportFeedback merges an exported feedback file. Existing
// patient+regimen entries are kept, not overwritten.
func (s *Server) handleImportFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		s.respondUnavailable(c, "feedback store")
		return
	}

	imported, skipped, err := s.deps.Feedback.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  skipped,
	})
}
