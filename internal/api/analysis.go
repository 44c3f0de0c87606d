package api

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/imaging"
)

type analysisRequest struct {
	// Image is the base64-encoded microscopy image.
	Image string `json:"image"`
}

// handleSubmitAnalysis accepts an image and starts a background
// segmentation job.
func (s *Server) handleSubmitAnalysis(c *gin.Context) {
	if s.deps.Analysis == nil {
		s.respondUnavailable(c, "image analysis")
		return
	}

	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalid(c, "body", err.Error())
		return
	}

	image, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Image))
	if err != nil {
		s.respondInvalid(c, "image", "image must be base64 encoded")
		return
	}

	job, err := s.deps.Analysis.Submit(c.Request.Context(), image)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// handleGetAnalysis returns the current state of an analysis job.
func (s *Server) handleGetAnalysis(c *gin.Context) {
	if s.deps.Analysis == nil {
		s.respondUnavailable(c, "image analysis")
		return
	}

	job, err := s.deps.Analysis.GetJob(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleAnalysisProgress streams job progress events over a websocket. The
// subscription is opened before the job snapshot is read so no transition
// can fall between them, and the snapshot is always sent first: a job that
// finished before the client connected never publishes again.
func (s *Server) handleAnalysisProgress(c *gin.Context) {
	if s.deps.Analysis == nil {
		s.respondUnavailable(c, "image analysis")
		return
	}

	jobID := c.Param("id")
	events, cancel := s.deps.Analysis.Subscribe(jobID)
	defer cancel()

	job, err := s.deps.Analysis.GetJob(jobID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(progressSnapshot(job)); err != nil {
		return
	}
	if terminalStatus(job.Status) {
		closeStream(conn)
		return
	}

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
		if terminalStatus(event.Status) {
			break
		}
	}
	closeStream(conn)
}

// progressSnapshot converts a job's current state into the event shape
// subscribers receive.
func progressSnapshot(job *domain.AnalysisJob) imaging.ProgressEvent {
	event := imaging.ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		Timestamp: job.UpdatedAt,
	}
	if job.Summary != nil {
		event.TotalCells = job.Summary.TotalCells
	}
	return event
}

func terminalStatus(status domain.AnalysisStatus) bool {
	return status == domain.ANALYSIS_COMPLETED || status == domain.ANALYSIS_FAILED
}

// closeStream sends a normal close frame; the client may already be gone.
func closeStream(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
