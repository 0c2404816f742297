// README: Live status-change stream over SSE, fed by the updates bus.
package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"shinua/internal/updates"
)

type UpdatesHandler struct {
	bus *updates.RedisBus
}

func NewUpdatesHandler(bus *updates.RedisBus) *UpdatesHandler {
	return &UpdatesHandler{bus: bus}
}

// Stream pushes status-change events to the client as server-sent events.
// Delivery is best-effort; clients reconnect and refresh on gaps.
func (h *UpdatesHandler) Stream(c *gin.Context) {
	events, cancel := h.bus.Subscribe(c.Request.Context())
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			payload, err := json.Marshal(e)
			if err != nil {
				return true
			}
			c.SSEvent("status", string(payload))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
