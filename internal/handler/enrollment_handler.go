package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencove/billing-api/internal/dto"
	appErrors "github.com/opencove/billing-api/pkg/errors"
	"github.com/opencove/billing-api/pkg/response"
)

type scheduleService interface {
	GetSchedule(ctx context.Context, enrollmentID string) (*dto.ScheduleResponse, error)
}

type complianceService interface {
	Evaluate(ctx context.Context, enrollmentID string) (*dto.EvaluationResponse, error)
}

// EnrollmentHandler serves payment plans and compliance evaluations.
type EnrollmentHandler struct {
	schedules  scheduleService
	compliance complianceService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(schedules scheduleService, compliance complianceService) *EnrollmentHandler {
	return &EnrollmentHandler{schedules: schedules, compliance: compliance}
}

// Schedule godoc
// @Summary Get the installment plan for an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/schedule [get]
func (h *EnrollmentHandler) Schedule(c *gin.Context) {
	schedule, err := h.schedules.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Evaluate godoc
// @Summary Re-run the compliance evaluation for an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/evaluate [post]
func (h *EnrollmentHandler) Evaluate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.compliance.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
