package services

import (
	"context"
	"log"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/expression"
)

// FlowRouter selects a flow definition for a template given a submission
// context. Routing rules are evaluated in priority order; the first rule
// whose condition is true wins; no match falls back to the template's
// default flow.
type FlowRouter struct {
	definitions ports.DefinitionStore
	expr        *expression.Engine
}

// NewFlowRouter creates a new FlowRouter
func NewFlowRouter(definitions ports.DefinitionStore, expr *expression.Engine) *FlowRouter {
	return &FlowRouter{definitions: definitions, expr: expr}
}

// Select returns the flow for the template, or nil when neither a rule nor a
// default flow applies. The caller turns a nil flow into a "no applicable
// flow" resolution error; nothing is persisted on that path.
func (r *FlowRouter) Select(ctx context.Context, templateID string, cctx *condition.Context) (*models.FlowDefinition, error) {
	rules, err := r.definitions.ListRoutingRules(ctx, templateID)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if !r.ruleMatches(rule, cctx) {
			continue
		}
		flow, err := r.definitions.GetFlow(ctx, rule.FlowID)
		if err != nil {
			return nil, err
		}
		return flow, nil
	}

	return r.definitions.GetDefaultFlow(ctx, templateID)
}

// ruleMatches evaluates a rule's condition. Tree conditions use the
// structured evaluator; expression-mode rules run through the expr engine.
// An expression error disqualifies the rule rather than failing routing.
func (r *FlowRouter) ruleMatches(rule *models.RoutingRule, cctx *condition.Context) bool {
	if rule.Expression != "" {
		ok, err := r.expr.EvaluateBool(rule.Expression, cctx.Env())
		if err != nil {
			log.Printf("⚠️ Routing rule %s: expression evaluation failed: %v", rule.ID, err)
			return false
		}
		return ok
	}
	return condition.Evaluate(rule.Condition, cctx)
}
