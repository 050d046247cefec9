package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
)

// CarbonCopyHandler serves the CC notice inbox.
type CarbonCopyHandler struct {
	svc *services.CarbonCopyService
}

// NewCarbonCopyHandler creates a new CarbonCopyHandler
func NewCarbonCopyHandler(svc *services.CarbonCopyService) *CarbonCopyHandler {
	return &CarbonCopyHandler{svc: svc}
}

// List handles GET /api/carbon-copies
func (h *CarbonCopyHandler) List(c *gin.Context) {
	user := GetUserFromContext(c)
	unreadOnly := c.Query("unread") == "true"

	copies, err := h.svc.List(c.Request.Context(), user.ID, unreadOnly, queryLimit(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, copies)
}

// MarkRead handles POST /api/carbon-copies/:ccId/read
func (h *CarbonCopyHandler) MarkRead(c *gin.Context) {
	user := GetUserFromContext(c)

	if err := h.svc.MarkRead(c.Request.Context(), c.Param("ccId"), user.ID); err != nil {
		RespondAppError(c, err)
		return
	}
	Message(c, "Marked as read")
}
