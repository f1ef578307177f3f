package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/service"
	"github.com/livewall/api/pkg/response"
)

type JobHandler struct {
	jobs service.JobTracker
}

func NewJobHandler(jobs service.JobTracker) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobs.GetStatus(c.Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}
