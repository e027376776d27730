package handler

import (
	"io"
	"net/http"

	"delivery-dispatch/pkg/broadcast"
	"delivery-dispatch/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type StreamHandler struct {
	Hub *broadcast.Hub
}

func NewStreamHandler(hub *broadcast.Hub) *StreamHandler {
	return &StreamHandler{Hub: hub}
}

// EventStream serves the scope-filtered push channel over SSE. Delivery
// is at-most-once; a reconnecting observer re-fetches current state via
// the query endpoints instead of replaying history.
func (h *StreamHandler) EventStream(c *gin.Context) {
	role := broadcast.Role(c.Query("role"))
	principal := c.Query("principal")

	switch role {
	case broadcast.RoleAdmin:
	case broadcast.RoleCustomer, broadcast.RoleVendor, broadcast.RoleRider:
		if principal == "" {
			utils.SendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "principal is required for non-admin scopes", "")
			return
		}
	default:
		utils.SendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown role", string(role))
		return
	}

	observerId := c.Query("observer")
	if observerId == "" {
		observerId = uuid.NewString()
	}

	sub := h.Hub.Subscribe(observerId, broadcast.Scope{Role: role, PrincipalId: principal})
	defer h.Hub.Unsubscribe(observerId)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.GetMetadata().Type), evt)
			return true
		}
	})
}
