package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/domain/models"
)

// DelegateHandler manages out-of-office delegation configs.
type DelegateHandler struct {
	svc *services.DelegateService
}

// NewDelegateHandler creates a new DelegateHandler
func NewDelegateHandler(svc *services.DelegateService) *DelegateHandler {
	return &DelegateHandler{svc: svc}
}

// Create handles POST /api/delegates
func (h *DelegateHandler) Create(c *gin.Context) {
	user := GetUserFromContext(c)

	var d models.Delegate
	if !BindJSON(c, &d) {
		return
	}
	// Users configure delegation for themselves only.
	d.UserID = user.ID

	if err := h.svc.Create(c.Request.Context(), &d); err != nil {
		RespondAppError(c, err)
		return
	}
	Created(c, d)
}

// Deactivate handles DELETE /api/delegates/:delegateId
func (h *DelegateHandler) Deactivate(c *gin.Context) {
	user := GetUserFromContext(c)

	if err := h.svc.Deactivate(c.Request.Context(), c.Param("delegateId"), user); err != nil {
		RespondAppError(c, err)
		return
	}
	Message(c, "Delegation deactivated")
}

// List handles GET /api/delegates
func (h *DelegateHandler) List(c *gin.Context) {
	user := GetUserFromContext(c)

	delegates, err := h.svc.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, delegates)
}
