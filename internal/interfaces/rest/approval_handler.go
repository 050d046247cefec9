package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/pkg/constants"
)

// ApprovalHandler exposes the execution side of the engine: submission, task
// actions, mutations and the read views.
type ApprovalHandler struct {
	executor *services.WorkflowExecutor
	queries  *services.QueryService
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(executor *services.WorkflowExecutor, queries *services.QueryService) *ApprovalHandler {
	return &ApprovalHandler{executor: executor, queries: queries}
}

// ActionRequest is the body of approve/reject/return/transfer calls.
type ActionRequest struct {
	Comment    string `json:"comment"`
	TargetNode string `json:"target_node,omitempty"` // RETURN only
	ToUserID   string `json:"to_user_id,omitempty"`  // TRANSFER only
}

// AddApproversRequest is the body of the add-approvers call.
type AddApproversRequest struct {
	ApproverIDs []string `json:"approver_ids" binding:"required"`
	Position    string   `json:"position" binding:"required"` // BEFORE or AFTER
	Comment     string   `json:"comment"`
}

// SaveDraft handles POST /api/approvals/drafts
func (h *ApprovalHandler) SaveDraft(c *gin.Context) {
	user := GetUserFromContext(c)

	var req services.SubmitRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.SaveDraft(c.Request.Context(), &req, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Created(c, inst)
}

// Submit handles POST /api/approvals/submit
func (h *ApprovalHandler) Submit(c *gin.Context) {
	user := GetUserFromContext(c)

	var req services.SubmitRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.Submit(c.Request.Context(), &req, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.ResponseData: inst,
		constants.FieldMessage: "Request submitted for approval",
	})
}

// Approve handles POST /api/tasks/:taskId/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ActionRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.Approve(c.Request.Context(), c.Param("taskId"), user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Reject handles POST /api/tasks/:taskId/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ActionRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.Reject(c.Request.Context(), c.Param("taskId"), user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Return handles POST /api/tasks/:taskId/return
func (h *ApprovalHandler) Return(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ActionRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.ReturnTo(c.Request.Context(), c.Param("taskId"), req.TargetNode, user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Transfer handles POST /api/tasks/:taskId/transfer
func (h *ApprovalHandler) Transfer(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ActionRequest
	if !BindJSON(c, &req) {
		return
	}

	task, err := h.executor.Transfer(c.Request.Context(), c.Param("taskId"), req.ToUserID, user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, task)
}

// AddApprovers handles POST /api/tasks/:taskId/approvers
func (h *ApprovalHandler) AddApprovers(c *gin.Context) {
	user := GetUserFromContext(c)

	var req AddApproversRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.AddApprovers(c.Request.Context(), c.Param("taskId"), req.ApproverIDs, req.Position, user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Withdraw handles POST /api/instances/:instanceId/withdraw
func (h *ApprovalHandler) Withdraw(c *gin.Context) {
	user := GetUserFromContext(c)

	inst, err := h.executor.Withdraw(c.Request.Context(), c.Param("instanceId"), user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Terminate handles POST /api/instances/:instanceId/terminate (admin only)
func (h *ApprovalHandler) Terminate(c *gin.Context) {
	user := GetUserFromContext(c)

	var req ActionRequest
	if !BindJSON(c, &req) {
		return
	}

	inst, err := h.executor.Terminate(c.Request.Context(), c.Param("instanceId"), user, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, inst)
}

// Pending handles GET /api/tasks/pending
func (h *ApprovalHandler) Pending(c *gin.Context) {
	user := GetUserFromContext(c)

	tasks, err := h.queries.PendingTasks(c.Request.Context(), user.ID, queryLimit(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, tasks)
}

// MyInstances handles GET /api/instances/mine
func (h *ApprovalHandler) MyInstances(c *gin.Context) {
	user := GetUserFromContext(c)

	instances, err := h.queries.MyInstances(c.Request.Context(), user.ID, queryLimit(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, instances)
}

// Progress handles GET /api/instances/:instanceId
func (h *ApprovalHandler) Progress(c *gin.Context) {
	user := GetUserFromContext(c)

	progress, err := h.queries.Progress(c.Request.Context(), c.Param("instanceId"), user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, progress)
}

// History handles GET /api/instances/:instanceId/history
func (h *ApprovalHandler) History(c *gin.Context) {
	user := GetUserFromContext(c)

	logs, err := h.queries.History(c.Request.Context(), c.Param("instanceId"), user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, logs)
}

func queryLimit(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
