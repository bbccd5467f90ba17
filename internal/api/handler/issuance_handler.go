package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/academicchain/issuance-be/internal/api/domain"
	"github.com/academicchain/issuance-be/internal/api/dto"
	"github.com/academicchain/issuance-be/internal/api/model"
	"github.com/academicchain/issuance-be/internal/api/storage"
)

// institutionIDKey is set by the auth middleware
const institutionIDKey = "institution_id"

// batchPayload is the wire format the worker reads back from the job row
type batchPayload struct {
	Items []dto.CredentialInput `json:"items"`
}

// IssueBulk handles POST /api/v1/credentials/issue-bulk.
// It validates the batch, persists a PENDING job, enqueues it, and returns
// 202 with the job id. Issuance itself happens on the worker.
func (h *IssuanceHandler) IssueBulk(c *gin.Context) {
	institutionID := c.GetString(institutionIDKey)

	var req dto.IssueBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid issue-bulk request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	payload, err := json.Marshal(batchPayload{Items: req.Credentials})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode batch payload",
		})
		return
	}

	job := model.Job{
		JobID:         uuid.New().String(),
		JobType:       domain.JobTypeBatchIssue,
		InstitutionID: institutionID,
		Payload:       string(payload),
		Status:        domain.JobStatusPending,
		TotalCount:    len(req.Credentials),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := h.storage.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, _ := json.Marshal(gin.H{"job_id": job.JobID})
	if err := h.queue.PublishWithRetry(c.Request.Context(), h.queue.BatchRoutingKey(), body); err != nil {
		// the job row stays PENDING; the reclaimer republishes it later
		h.logger.Error("Failed to enqueue job, row left for reclaim",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Batch issuance accepted",
		slog.String("job_id", job.JobID),
		slog.String("institution_id", institutionID),
		slog.Int("total", job.TotalCount),
	)

	c.JSON(http.StatusAccepted, dto.IssueBulkResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		StatusURL: "/api/v1/jobs/" + job.JobID + "/status",
		Total:     job.TotalCount,
	})
}

// GetJobStatus handles GET /api/v1/jobs/:job_id/status.
// Jobs of other institutions are indistinguishable from missing jobs.
func (h *IssuanceHandler) GetJobStatus(c *gin.Context) {
	institutionID := c.GetString(institutionIDKey)
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID, institutionID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobStatusResponse(job))
}

// ListJobs handles GET /api/v1/jobs with cursor pagination
func (h *IssuanceHandler) ListJobs(c *gin.Context) {
	institutionID := c.GetString(institutionIDKey)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), storage.JobFilter{
		InstitutionID: institutionID,
		JobType:       req.JobType,
		Status:        req.Status,
		PageSize:      req.PageSize,
		Cursor:        cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobStatusResponse, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobStatusResponse(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *IssuanceHandler) CancelJob(c *gin.Context) {
	institutionID := c.GetString(institutionIDKey)
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.storage.CancelJob(c.Request.Context(), jobID, institutionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrJobNotCancelable):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job is already in a terminal state",
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	h.logger.Info("Job canceled",
		slog.String("job_id", jobID),
		slog.String("institution_id", institutionID),
	)

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusCanceled,
	})
}

func toJobStatusResponse(job *model.Job) dto.JobStatusResponse {
	resp := dto.JobStatusResponse{
		JobID:          job.JobID,
		JobType:        job.JobType,
		Status:         job.Status,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ErrorMessage.Valid {
		resp.ErrorMessage = job.ErrorMessage.String
	}
	if job.CompletedAt.Valid {
		resp.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return resp
}
