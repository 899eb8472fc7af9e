package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumina-edu/scheduler-api/internal/dto"
	"github.com/lumina-edu/scheduler-api/internal/service"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/response"
)

// ExportHandler streams rendered schedule files.
type ExportHandler struct {
	scheduling *service.SchedulingService
	exports    *service.ExportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(scheduling *service.SchedulingService, exports *service.ExportService) *ExportHandler {
	return &ExportHandler{scheduling: scheduling, exports: exports}
}

// TeacherSchedule godoc
// @Summary Export a teacher's schedule
// @Tags Exports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Teacher ID"
// @Param from query string true "Window start (RFC 3339)"
// @Param to query string true "Window end (RFC 3339)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /teachers/{id}/schedule/export [get]
func (h *ExportHandler) TeacherSchedule(c *gin.Context) {
	var req dto.ExportScheduleRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query"))
		return
	}
	from, to, format, err := h.scheduling.ParseExportWindow(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.exports.TeacherSchedule(c.Request.Context(), c.Param("id"), from, to, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
