package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oncorec-server/internal/domain"
)

// handleCreatePatient registers a new patient snapshot.
func (s *Server) handleCreatePatient(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	var profile domain.PatientProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}

	if err := s.deps.Patients.Create(c.Request.Context(), &profile); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// handleGetPatient returns the latest snapshot for a patient.
func (s *Server) handleGetPatient(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	profile, err := s.deps.Patients.GetLatest(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleUpdatePatient records an updated profile as a new snapshot. Earlier
// snapshots stay on file so past recommendations remain reproducible.
func (s *Server) handleUpdatePatient(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	var profile domain.PatientProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}

	id := c.Param("id")
	if profile.PatientID != "" && profile.PatientID != id {
		s.respondInvalid(c, "patient_id", "body patient_id does not match the path")
		return
	}
	profile.PatientID = id
	profile.SnapshotID = ""
	profile.CreatedAt = time.Time{}

	if err := s.deps.Patients.Create(c.Request.Context(), &profile); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleDeletePatient removes a patient and every snapshot.
func (s *Server) handleDeletePatient(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	if err := s.deps.Patients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePatientHistory lists snapshots for a patient, newest first.
func (s *Server) handlePatientHistory(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	id := c.Param("id")
	limit := queryInt(c, "limit", defaultPageSize)
	offset := queryInt(c, "offset", 0)

	history, err := s.deps.Patients.History(c.Request.Context(), id, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id": id,
		"count":      len(history),
		"limit":      limit,
		"offset":     offset,
		"history":    history,
	})
}

// handleGetSnapshot returns one specific snapshot of a patient.
func (s *Server) handleGetSnapshot(c *gin.Context) {
	if s.deps.Patients == nil {
		s.respondUnavailable(c, "patient registry")
		return
	}

	snapshotID := c.Param("snapshot_id")
	profile, err := s.deps.Patients.GetSnapshot(c.Request.Context(), snapshotID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if profile.PatientID != c.Param("id") {
		s.respondError(c, domain.NewNotFoundError("snapshot", snapshotID))
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handlePatientRuns lists persisted recommendation runs for a patient.
func (s *Server) handlePatientRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		s.respondUnavailable(c, "recommendation audit store")
		return
	}

	id := c.Param("id")
	limit := queryInt(c, "limit", defaultPageSize)
	offset := queryInt(c, "offset", 0)

	runs, err := s.deps.Runs.ListByPatient(c.Request.Context(), id, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id": id,
		"count":      len(runs),
		"limit":      limit,
		"offset":     offset,
		"runs":       runs,
	})
}

// handleGetRun returns one persisted recommendation run.
func (s *Server) handleGetRun(c *gin.Context) {
	if s.deps.Runs == nil {
		s.respondUnavailable(c, "recommendation audit store")
		return
	}

	run, err := s.deps.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
