package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clipso/clipso-backend/internal/http/response"
	"github.com/clipso/clipso-backend/internal/services"
)

type JobHandler struct {
	jobs services.EnhancementService
}

func NewJobHandler(jobs services.EnhancementService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type submitJobRequest struct {
	SourceRef string `json:"source_ref" binding:"required"`
}

// POST /api/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), nil, req.SourceRef)
	if err != nil {
		response.RespondError(c, response.StatusFor(err), "submit_job_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"share_id": job.ShareID,
		"status":   job.Status,
		"stage":    job.Stage,
	})
}

// GET /api/jobs/:share_id
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	status, err := h.jobs.Status(c.Request.Context(), nil, c.Param("share_id"))
	if err != nil {
		response.RespondError(c, response.StatusFor(err), "job_not_found", err)
		return
	}
	response.RespondOK(c, status)
}

// GET /api/jobs/:share_id/video
func (h *JobHandler) GetFinalVideo(c *gin.Context) {
	url, err := h.jobs.FinalVideoURL(c.Request.Context(), nil, c.Param("share_id"))
	if err != nil {
		response.RespondError(c, response.StatusFor(err), "video_not_ready", err)
		return
	}
	c.Redirect(http.StatusFound, url)
}
