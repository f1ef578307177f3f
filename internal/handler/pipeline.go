package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/model"
	"github.com/livewall/api/internal/processor"
	"github.com/livewall/api/pkg/response"
)

// StatsSource reports processor occupancy
type StatsSource interface {
	Stats() processor.Stats
}

type PipelineHandler struct {
	stats StatsSource
}

func NewPipelineHandler(stats StatsSource) *PipelineHandler {
	return &PipelineHandler{stats: stats}
}

// Stats handles GET /api/pipeline/stats
func (h *PipelineHandler) Stats(c *fiber.Ctx) error {
	s := h.stats.Stats()
	return response.OK(c, model.PipelineStatsResponse{
		MaxConcurrentTasks: s.Max,
		Active:             s.Active,
		Pending:            s.Pending,
		Completed:          int64(s.Completed),
		Failed:             int64(s.Failed),
	})
}
