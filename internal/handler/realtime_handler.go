package handler

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-studio/mls-api/internal/service"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/realtime"
	"github.com/harmonia-studio/mls-api/pkg/response"
)

// RealtimeHandler streams change events to clients over server-sent events.
type RealtimeHandler struct {
	broadcaster *realtime.Broadcaster
}

// NewRealtimeHandler constructs RealtimeHandler.
func NewRealtimeHandler(broadcaster *realtime.Broadcaster) *RealtimeHandler {
	return &RealtimeHandler{broadcaster: broadcaster}
}

// Stream godoc
// @Summary Subscribe to change events
// @Description Server-sent event stream; topics selects which collections to follow
// @Tags Realtime
// @Produce text/event-stream
// @Param topics query string false "Comma-separated topics"
// @Success 200 {string} string "event stream"
// @Router /events [get]
func (h *RealtimeHandler) Stream(c *gin.Context) {
	topics := strings.Split(c.DefaultQuery("topics", service.TopicEnrollments), ",")
	for i := range topics {
		topics[i] = strings.TrimSpace(topics[i])
	}

	events, err := h.broadcaster.Subscribe(c.Request.Context(), topics...)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "event stream unavailable"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return true
		}
		c.SSEvent(event.Topic, string(payload))
		return true
	})
}
