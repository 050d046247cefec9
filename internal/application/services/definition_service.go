package services

import (
	"bytes"
	"context"
	"fmt"
	"log"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/expression"
	"github.com/approveflow/backend/pkg/utils"
)

// DefinitionService manages templates, flow definitions and routing rules.
// All structural validation happens here at publish time; the executor trusts
// published definitions and never re-validates configuration.
type DefinitionService struct {
	store ports.DefinitionStore
	expr  *expression.Engine
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(store ports.DefinitionStore, expr *expression.Engine) *DefinitionService {
	return &DefinitionService{store: store, expr: expr}
}

// CreateTemplate stores a new draft template.
func (s *DefinitionService) CreateTemplate(ctx context.Context, tpl *models.Template, operator *models.UserSession) (*models.Template, error) {
	if tpl.Name == "" || tpl.Code == "" {
		return nil, apperrors.NewValidationError("template", "name and code are required")
	}
	if tpl.EntityType == "" {
		return nil, apperrors.NewValidationError("entity_type", "entity type is required")
	}

	tpl.ID = utils.GenerateID()
	tpl.Version = 1
	tpl.Status = constants.TemplateStatusDraft
	tpl.CreatedByID = operator.ID

	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// GetTemplate returns a template by id.
func (s *DefinitionService) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.NewNotFoundError("template", id)
	}
	return tpl, nil
}

// ListTemplates returns every template version.
func (s *DefinitionService) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	return s.store.ListTemplates(ctx)
}

// ListFlows returns the flows of a template.
func (s *DefinitionService) ListFlows(ctx context.Context, templateID string) ([]*models.FlowDefinition, error) {
	return s.store.ListFlows(ctx, templateID)
}

// ListRoutingRules returns a template's active rules in priority order.
func (s *DefinitionService) ListRoutingRules(ctx context.Context, templateID string) ([]*models.RoutingRule, error) {
	return s.store.ListRoutingRules(ctx, templateID)
}

// UpdateTemplate modifies a draft. Published templates are immutable; use
// NewVersion instead.
func (s *DefinitionService) UpdateTemplate(ctx context.Context, tpl *models.Template) error {
	existing, err := s.store.GetTemplate(ctx, tpl.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.NewNotFoundError("template", tpl.ID)
	}
	if existing.Status != constants.TemplateStatusDraft {
		return apperrors.NewStateConflictError("template", tpl.ID, "published templates are immutable; create a new version")
	}
	tpl.Code = existing.Code
	tpl.Version = existing.Version
	tpl.Status = existing.Status
	tpl.CreatedByID = existing.CreatedByID
	return s.store.SaveTemplate(ctx, tpl)
}

// NewVersion clones a published template into the next draft version. The
// code stays stable so routing scope and delegate scope keep matching.
func (s *DefinitionService) NewVersion(ctx context.Context, templateID string, operator *models.UserSession) (*models.Template, error) {
	existing, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.NewNotFoundError("template", templateID)
	}

	clone := *existing
	clone.ID = utils.GenerateID()
	clone.Version = existing.Version + 1
	clone.Status = constants.TemplateStatusDraft
	clone.CreatedByID = operator.ID

	if err := s.store.SaveTemplate(ctx, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// Disable retires a template: no new submissions, in-flight instances keep
// running on their snapshots.
func (s *DefinitionService) Disable(ctx context.Context, templateID string) error {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return apperrors.NewNotFoundError("template", templateID)
	}
	tpl.Status = constants.TemplateStatusDisabled
	return s.store.SaveTemplate(ctx, tpl)
}

// SaveFlow stores a flow for a draft template. Marking a flow default clears
// the flag implicitly held by others only at publish validation time.
func (s *DefinitionService) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	tpl, err := s.store.GetTemplate(ctx, flow.TemplateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return apperrors.NewNotFoundError("template", flow.TemplateID)
	}
	if tpl.Status == constants.TemplateStatusPublished {
		return apperrors.NewStateConflictError("template", tpl.ID, "published templates are immutable; create a new version")
	}
	if flow.ID == "" {
		flow.ID = utils.GenerateID()
	}
	return s.store.SaveFlow(ctx, flow)
}

// SaveRoutingRule stores a routing rule after checking its target and
// condition.
func (s *DefinitionService) SaveRoutingRule(ctx context.Context, rule *models.RoutingRule) error {
	flow, err := s.store.GetFlow(ctx, rule.FlowID)
	if err != nil {
		return err
	}
	if flow == nil || flow.TemplateID != rule.TemplateID {
		return apperrors.NewValidationError("flow_id", "routing rule must target a flow of the same template")
	}
	if err := s.validateRuleCondition(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = utils.GenerateID()
	}
	return s.store.SaveRoutingRule(ctx, rule)
}

// Publish validates the whole template configuration and flips it live:
// form schema compiles, every flow graph is structurally sound, exactly one
// flow is default, every routing rule points at a real flow.
func (s *DefinitionService) Publish(ctx context.Context, templateID string) error {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return apperrors.NewNotFoundError("template", templateID)
	}
	if tpl.Status == constants.TemplateStatusPublished {
		return nil
	}

	if len(tpl.FormSchema) > 0 {
		if err := compileFormSchema(tpl.FormSchema); err != nil {
			return apperrors.NewValidationError("form_schema", err.Error())
		}
	}

	flows, err := s.store.ListFlows(ctx, templateID)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return apperrors.NewValidationError("flows", "a template needs at least one flow before publishing")
	}
	defaults := 0
	for _, flow := range flows {
		if flow.IsDefault {
			defaults++
		}
		if err := s.validateFlow(flow); err != nil {
			return err
		}
	}
	if defaults > 1 {
		return apperrors.NewValidationError("flows", "at most one flow may be the default")
	}

	rules, err := s.store.ListRoutingRules(ctx, templateID)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := s.validateRuleCondition(rule); err != nil {
			return err
		}
		found := false
		for _, flow := range flows {
			if flow.ID == rule.FlowID {
				found = true
				break
			}
		}
		if !found {
			return apperrors.NewValidationError("routing_rules", "rule "+rule.ID+" targets an unknown flow")
		}
	}
	if defaults == 0 && len(rules) == 0 {
		return apperrors.NewValidationError("flows", "a template needs a default flow or at least one routing rule")
	}

	tpl.Status = constants.TemplateStatusPublished
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	log.Printf("✅ Template published: %s (%s v%d)", tpl.Name, tpl.Code, tpl.Version)
	return nil
}

func (s *DefinitionService) validateRuleCondition(rule *models.RoutingRule) error {
	if rule.Expression != "" {
		if err := s.expr.Validate(rule.Expression, condition.NewContext().Env()); err != nil {
			return apperrors.NewValidationError("expression", err.Error())
		}
		return nil
	}
	if rule.Condition == nil {
		return apperrors.NewValidationError("condition", "routing rule needs a condition or an expression")
	}
	if err := condition.Validate(rule.Condition); err != nil {
		return apperrors.NewValidationError("condition", err.Error())
	}
	return nil
}

// validateFlow checks the structural invariants the executor relies on.
func (s *DefinitionService) validateFlow(flow *models.FlowDefinition) error {
	if len(flow.Nodes) == 0 {
		return apperrors.NewValidationError("nodes", "flow "+flow.Name+" has no nodes")
	}

	ids := make(map[string]bool, len(flow.Nodes))
	orders := make(map[int]bool, len(flow.Nodes))
	var parallels, joins []*models.NodeDefinition
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.ID == "" {
			return apperrors.NewValidationError("nodes", "every node needs an id")
		}
		if ids[node.ID] {
			return apperrors.NewValidationError("nodes", "duplicate node id "+node.ID)
		}
		ids[node.ID] = true
		if orders[node.Order] {
			return apperrors.NewValidationError("nodes", fmt.Sprintf("duplicate node order %d", node.Order))
		}
		orders[node.Order] = true

		switch node.Type {
		case constants.NodeTypeParallel:
			parallels = append(parallels, node)
		case constants.NodeTypeJoin:
			joins = append(joins, node)
		}

		if err := s.validateNode(flow, node); err != nil {
			return err
		}
	}

	// The executor tracks one join barrier per instance, so a flow carries at
	// most one parallel segment.
	if len(parallels) > 1 || len(joins) > 1 {
		return apperrors.NewValidationError("nodes", "a flow may contain at most one parallel segment")
	}
	if len(parallels) != len(joins) {
		return apperrors.NewValidationError("nodes", "a parallel node and its join must both be present")
	}
	if len(parallels) == 1 {
		if err := s.validateParallelSegment(flow, parallels[0], joins[0]); err != nil {
			return err
		}
	}
	return nil
}

func (s *DefinitionService) validateNode(flow *models.FlowDefinition, node *models.NodeDefinition) error {
	if node.DefaultNextID != "" && flow.NodeByID(node.DefaultNextID) == nil {
		return apperrors.NewValidationError("nodes", "node "+node.ID+" links to unknown node "+node.DefaultNextID)
	}

	switch node.Type {
	case constants.NodeTypeApproval, constants.NodeTypeCC:
		if err := s.validateApproverConfig(node); err != nil {
			return err
		}

	case constants.NodeTypeCondition:
		if len(node.Branches) == 0 && node.DefaultNextID == "" {
			return apperrors.NewValidationError("nodes", "condition node "+node.ID+" has no branches and no default")
		}
		for _, branch := range node.Branches {
			if flow.NodeByID(branch.NextNodeID) == nil {
				return apperrors.NewValidationError("nodes", "condition node "+node.ID+" branches to unknown node "+branch.NextNodeID)
			}
			if branch.Condition != nil {
				if err := condition.Validate(branch.Condition); err != nil {
					return apperrors.NewValidationError("nodes", "condition node "+node.ID+": "+err.Error())
				}
			}
		}

	case constants.NodeTypeParallel:
		if len(node.ParallelHeads) < 2 {
			return apperrors.NewValidationError("nodes", "parallel node "+node.ID+" needs at least two branches")
		}
		for _, head := range node.ParallelHeads {
			if flow.NodeByID(head) == nil {
				return apperrors.NewValidationError("nodes", "parallel node "+node.ID+" references unknown head "+head)
			}
		}

	case constants.NodeTypeJoin:
		// Structural pairing checked at flow level.

	default:
		return apperrors.NewValidationError("nodes", "node "+node.ID+" has unknown type "+node.Type)
	}

	if node.RejectTo.Type == constants.RejectToSpecific {
		if node.RejectTo.NodeID == "" || !flow.IsEarlier(node.RejectTo.NodeID, node.ID) {
			return apperrors.NewValidationError("nodes", "node "+node.ID+" reject target must be an earlier node")
		}
	}
	if node.Timeout != nil {
		switch node.Timeout.Action {
		case constants.TimeoutRemind, constants.TimeoutAutoPass, constants.TimeoutAutoReject, constants.TimeoutEscalate:
		default:
			return apperrors.NewValidationError("nodes", "node "+node.ID+" has unknown timeout action "+node.Timeout.Action)
		}
		if node.Timeout.Hours <= 0 {
			return apperrors.NewValidationError("nodes", "node "+node.ID+" timeout hours must be positive")
		}
	}
	return nil
}

// validateApproverConfig checks the tagged variant: the strategy's own
// parameters must be present, everything else is ignored.
func (s *DefinitionService) validateApproverConfig(node *models.NodeDefinition) error {
	cfg := node.Approver
	fail := func(msg string) error {
		return apperrors.NewValidationError("nodes", "node "+node.ID+": "+msg)
	}

	switch cfg.Strategy {
	case constants.StrategyFixedUser:
		if len(cfg.UserIDs) == 0 {
			return fail("fixed-user strategy needs user ids")
		}
	case constants.StrategyRole:
		if len(cfg.Roles) == 0 {
			return fail("role strategy needs role names")
		}
	case constants.StrategyDepartmentHead, constants.StrategyInitiatorDeptHead, constants.StrategyDirectManager:
		if cfg.Levels < 0 {
			return fail("hierarchy levels cannot be negative")
		}
	case constants.StrategyFormField:
		if cfg.FormField == "" {
			return fail("form-field strategy needs a field name")
		}
	case constants.StrategyMultiDept:
		if len(cfg.Departments) == 0 {
			return fail("multi-department strategy needs departments")
		}
	case constants.StrategyDynamic:
		if cfg.ResolverKey == "" && cfg.Expression == "" {
			return fail("dynamic strategy needs a resolver key or an expression")
		}
		if cfg.Expression != "" {
			if err := s.expr.Validate(cfg.Expression, condition.NewContext().Env()); err != nil {
				return fail("approver expression: " + err.Error())
			}
		}
	default:
		return fail("unknown approver strategy " + cfg.Strategy)
	}

	if node.Mode != "" {
		switch node.Mode {
		case constants.ApprovalModeSingle, constants.ApprovalModeOrSign,
			constants.ApprovalModeAndSign, constants.ApprovalModeSequential:
		default:
			return fail("unknown approval mode " + node.Mode)
		}
	}
	return nil
}

// validateParallelSegment walks each branch chain and requires it to reach
// the join through explicit links.
func (s *DefinitionService) validateParallelSegment(flow *models.FlowDefinition, parallel, join *models.NodeDefinition) error {
	for _, headID := range parallel.ParallelHeads {
		current := flow.NodeByID(headID)
		for hops := 0; ; hops++ {
			if hops > constants.MaxGraphHops {
				return apperrors.NewValidationError("nodes", "parallel branch from "+headID+" never reaches the join")
			}
			if current == nil {
				return apperrors.NewValidationError("nodes", "parallel branch from "+headID+" leaves the flow")
			}
			if current.ID == join.ID {
				break
			}
			if current.DefaultNextID == "" {
				return apperrors.NewValidationError("nodes", "node "+current.ID+" inside the parallel segment needs an explicit next link")
			}
			current = flow.NodeByID(current.DefaultNextID)
		}
	}
	return nil
}

// compileFormSchema checks that a stored form schema is valid JSON Schema.
func compileFormSchema(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("form schema is not valid JSON: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("form.json", doc); err != nil {
		return fmt.Errorf("form schema rejected: %w", err)
	}
	if _, err := compiler.Compile("form.json"); err != nil {
		return fmt.Errorf("form schema does not compile: %w", err)
	}
	return nil
}

// ValidateFormData checks submitted form data against a published template's
// schema. Templates without a schema accept anything.
func (s *DefinitionService) ValidateFormData(ctx context.Context, templateID string, form map[string]interface{}) error {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return apperrors.NewNotFoundError("template", templateID)
	}
	if len(tpl.FormSchema) == 0 {
		return nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(tpl.FormSchema))
	if err != nil {
		return apperrors.NewValidationError("form_schema", err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("form.json", doc); err != nil {
		return apperrors.NewValidationError("form_schema", err.Error())
	}
	schema, err := compiler.Compile("form.json")
	if err != nil {
		return apperrors.NewValidationError("form_schema", err.Error())
	}

	if err := schema.Validate(map[string]interface{}(form)); err != nil {
		return apperrors.NewValidationError("form_data", err.Error())
	}
	return nil
}
