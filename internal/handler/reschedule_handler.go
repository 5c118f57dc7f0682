package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-studio/mls-api/internal/models"
	"github.com/harmonia-studio/mls-api/internal/service"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/response"
)

// RescheduleHandler exposes the reschedule request workflow.
type RescheduleHandler struct {
	reschedules *service.RescheduleService
}

// NewRescheduleHandler constructs RescheduleHandler.
func NewRescheduleHandler(reschedules *service.RescheduleService) *RescheduleHandler {
	return &RescheduleHandler{reschedules: reschedules}
}

// Submit godoc
// @Summary Request a session reschedule
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param payload body service.SubmitRescheduleRequest true "Reschedule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reschedule-requests [post]
func (h *RescheduleHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = claims.UserID
	req.StudentName = claims.FullName

	request, err := h.reschedules.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List reschedule requests
// @Tags Reschedules
// @Produce json
// @Param session_id query string false "Filter by session"
// @Param course_id query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reschedule-requests [get]
func (h *RescheduleHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.RescheduleFilter
	filter.SessionID = c.Query("session_id")
	filter.CourseID = c.Query("course_id")
	filter.Status = models.RescheduleStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	// Students only ever see their own requests; teachers see requests
	// addressed to them unless they are admins.
	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.UserID
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
	}

	requests, pagination, err := h.reschedules.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Approve godoc
// @Summary Approve a reschedule request
// @Description Resolves the request and moves the session in one step
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ApproveRescheduleRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reschedule-requests/{id}/approve [put]
func (h *RescheduleHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ApproveRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	request, err := h.reschedules.Approve(c.Request.Context(), c.Param("id"), req, claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Reject godoc
// @Summary Reject a reschedule request
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body map[string]string true "Rejection note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reschedule-requests/{id}/reject [put]
func (h *RescheduleHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	request, err := h.reschedules.Reject(c.Request.Context(), c.Param("id"), payload.Note, claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// PurgeResolved godoc
// @Summary Purge resolved requests for a session
// @Tags Reschedules
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{sessionId}/reschedule-requests/resolved [delete]
func (h *RescheduleHandler) PurgeResolved(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	removed, err := h.reschedules.PurgeResolved(c.Request.Context(), c.Param("sessionId"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}
