package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumina-edu/scheduler-api/internal/dto"
	"github.com/lumina-edu/scheduler-api/internal/models"
	appErrors "github.com/lumina-edu/scheduler-api/pkg/errors"
	"github.com/lumina-edu/scheduler-api/pkg/response"
)

type schedulingOrchestrator interface {
	Propose(ctx context.Context, req dto.ProposeSchedulesRequest) ([]*models.Class, error)
	Suggest(ctx context.Context, classID string) (*dto.SuggestTeacherResponse, error)
	Assign(ctx context.Context, classID string, req dto.AssignTeacherRequest) (*models.Class, error)
	Reschedule(ctx context.Context, classID string, req dto.RescheduleClassRequest) (*models.Class, error)
	BustConflicts(ctx context.Context, classID string) error
	RunPlanner(ctx context.Context) (*dto.PlannerRunResponse, error)
}

// SchedulingHandler exposes the scheduling core over HTTP.
type SchedulingHandler struct {
	service schedulingOrchestrator
}

// NewSchedulingHandler constructs the handler.
func NewSchedulingHandler(svc schedulingOrchestrator) *SchedulingHandler {
	return &SchedulingHandler{service: svc}
}

// Propose godoc
// @Summary Propose bookable slots for a course
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.ProposeSchedulesRequest true "Proposal window"
// @Success 200 {object} response.Envelope
// @Router /scheduling/proposals [post]
func (h *SchedulingHandler) Propose(c *gin.Context) {
	var req dto.ProposeSchedulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	proposals, err := h.service.Propose(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposals)
}

// Suggest godoc
// @Summary Suggest the best available teacher for a class
// @Tags Scheduling
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/suggestion [get]
func (h *SchedulingHandler) Suggest(c *gin.Context) {
	suggestion, err := h.service.Suggest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestion)
}

// Assign godoc
// @Summary Assign a teacher to a class
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.AssignTeacherRequest true "Teacher"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/assignment [post]
func (h *SchedulingHandler) Assign(c *gin.Context) {
	var req dto.AssignTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	klass, err := h.service.Assign(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, klass)
}

// Reschedule godoc
// @Summary Move a class to a new start time
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.RescheduleClassRequest true "New start"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/reschedule [post]
func (h *SchedulingHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	klass, err := h.service.Reschedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, klass)
}

// BustConflicts godoc
// @Summary Re-run conflict repair around a class
// @Tags Scheduling
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/conflicts [post]
func (h *SchedulingHandler) BustConflicts(c *gin.Context) {
	if err := h.service.BustConflicts(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "resolved"})
}

// RunPlanner godoc
// @Summary Trigger one planner run
// @Tags Scheduling
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scheduling/planner/run [post]
func (h *SchedulingHandler) RunPlanner(c *gin.Context) {
	result, err := h.service.RunPlanner(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
