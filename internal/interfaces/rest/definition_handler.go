package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/domain/models"
)

// DefinitionHandler exposes template administration: templates, flows,
// routing rules and the publish switch. Admin-gated at the router.
type DefinitionHandler struct {
	svc *services.DefinitionService
}

// NewDefinitionHandler creates a new DefinitionHandler
func NewDefinitionHandler(svc *services.DefinitionService) *DefinitionHandler {
	return &DefinitionHandler{svc: svc}
}

// CreateTemplate handles POST /api/templates
func (h *DefinitionHandler) CreateTemplate(c *gin.Context) {
	user := GetUserFromContext(c)

	var tpl models.Template
	if !BindJSON(c, &tpl) {
		return
	}

	created, err := h.svc.CreateTemplate(c.Request.Context(), &tpl, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Created(c, created)
}

// ListTemplates handles GET /api/templates
func (h *DefinitionHandler) ListTemplates(c *gin.Context) {
	templates, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, templates)
}

// GetTemplate handles GET /api/templates/:templateId and returns the
// template together with its flows and routing rules.
func (h *DefinitionHandler) GetTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("templateId")

	tpl, err := h.svc.GetTemplate(ctx, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	flows, err := h.svc.ListFlows(ctx, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	rules, err := h.svc.ListRoutingRules(ctx, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, gin.H{"template": tpl, "flows": flows, "rules": rules})
}

// UpdateTemplate handles PUT /api/templates/:templateId
func (h *DefinitionHandler) UpdateTemplate(c *gin.Context) {
	var tpl models.Template
	if !BindJSON(c, &tpl) {
		return
	}
	tpl.ID = c.Param("templateId")

	if err := h.svc.UpdateTemplate(c.Request.Context(), &tpl); err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, tpl)
}

// NewVersion handles POST /api/templates/:templateId/versions
func (h *DefinitionHandler) NewVersion(c *gin.Context) {
	user := GetUserFromContext(c)

	clone, err := h.svc.NewVersion(c.Request.Context(), c.Param("templateId"), user)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Created(c, clone)
}

// Publish handles POST /api/templates/:templateId/publish
func (h *DefinitionHandler) Publish(c *gin.Context) {
	if err := h.svc.Publish(c.Request.Context(), c.Param("templateId")); err != nil {
		RespondAppError(c, err)
		return
	}
	Message(c, "Template published")
}

// Disable handles POST /api/templates/:templateId/disable
func (h *DefinitionHandler) Disable(c *gin.Context) {
	if err := h.svc.Disable(c.Request.Context(), c.Param("templateId")); err != nil {
		RespondAppError(c, err)
		return
	}
	Message(c, "Template disabled")
}

// SaveFlow handles PUT /api/templates/:templateId/flows
func (h *DefinitionHandler) SaveFlow(c *gin.Context) {
	var flow models.FlowDefinition
	if !BindJSON(c, &flow) {
		return
	}
	flow.TemplateID = c.Param("templateId")

	if err := h.svc.SaveFlow(c.Request.Context(), &flow); err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, flow)
}

// SaveRoutingRule handles PUT /api/templates/:templateId/rules
func (h *DefinitionHandler) SaveRoutingRule(c *gin.Context) {
	var rule models.RoutingRule
	if !BindJSON(c, &rule) {
		return
	}
	rule.TemplateID = c.Param("templateId")

	if err := h.svc.SaveRoutingRule(c.Request.Context(), &rule); err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, rule)
}
