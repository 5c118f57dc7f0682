package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-studio/mls-api/internal/models"
	"github.com/harmonia-studio/mls-api/internal/service"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/response"
)

// ReceiptHandler serves rendered receipts and roster exports.
type ReceiptHandler struct {
	receipts *service.ReceiptService
}

// NewReceiptHandler constructs ReceiptHandler.
func NewReceiptHandler(receipts *service.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts}
}

// DownloadURL godoc
// @Summary Get a signed receipt download token
// @Tags Receipts
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/courses/{courseId}/receipt [get]
func (h *ReceiptHandler) DownloadURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollmentID := models.EnrollmentKey(claims.UserID, c.Param("courseId"))
	token, expiresAt, err := h.receipts.DownloadURL(enrollmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// Download godoc
// @Summary Download a receipt by signed token
// @Tags Receipts
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /receipts/download [get]
func (h *ReceiptHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	download, err := h.receipts.Resolve(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	modTime := time.Now()
	if info, err := download.File.Stat(); err == nil {
		modTime = info.ModTime()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.Header("Content-Type", "application/pdf")
	http.ServeContent(c.Writer, c.Request, download.Filename, modTime, download.File)
}

// Roster godoc
// @Summary Export course roster as CSV
// @Tags Receipts
// @Produce text/csv
// @Param courseId path string true "Course ID"
// @Success 200 {file} binary
// @Router /courses/{courseId}/roster [get]
func (h *ReceiptHandler) Roster(c *gin.Context) {
	data, filename, err := h.receipts.RenderRoster(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", data)
}
