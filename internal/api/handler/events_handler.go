package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/academicchain/issuance-be/internal/api/domain"
	"github.com/academicchain/issuance-be/internal/events"
)

const sseHeartbeatInterval = 15 * time.Second

// Events handles GET /api/v1/events, a server-sent event stream of job
// progress. With ?job_id= it streams one job's events; without it, every
// event for the caller's institution. Delivery is best-effort: clients that
// miss events resync from the status endpoint.
func (h *IssuanceHandler) Events(c *gin.Context) {
	institutionID := c.GetString(institutionIDKey)

	topic := events.InstitutionTopic(institutionID)
	if jobID := c.Query("job_id"); jobID != "" {
		if _, err := uuid.Parse(jobID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "job_id must be a valid UUID",
			})
			return
		}

		// only the owning institution may watch a job
		if _, err := h.storage.GetJob(c.Request.Context(), jobID, institutionID); err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Job not found",
				})
				return
			}
			h.logger.Error("Failed to authorize event stream", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to open event stream",
			})
			return
		}
		topic = events.JobTopic(jobID)
	}

	ch, cancel, err := h.broadcaster.Subscribe(c.Request.Context(), topic)
	if err != nil {
		h.logger.Error("Failed to subscribe to events",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to open event stream",
		})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
