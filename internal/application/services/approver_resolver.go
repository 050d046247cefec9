package services

import (
	"context"
	"fmt"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
	"github.com/approveflow/backend/pkg/expression"
	"github.com/approveflow/backend/pkg/utils"
)

// ApproverResolver maps a node's approver configuration plus submission
// context into a concrete ordered list of (user, department, weight) entries.
// Resolution failure for a required node is fatal to node-entry; the caller
// decides what an empty set means (auto-skip for optional nodes).
type ApproverResolver struct {
	directory ports.Directory
	expr      *expression.Engine
	dynamic   ports.DynamicApproverResolver // optional
}

// NewApproverResolver creates a new ApproverResolver
func NewApproverResolver(directory ports.Directory, expr *expression.Engine) *ApproverResolver {
	return &ApproverResolver{directory: directory, expr: expr}
}

// SetDynamicResolver plugs in the external resolver behind the DYNAMIC
// strategy.
func (r *ApproverResolver) SetDynamicResolver(dynamic ports.DynamicApproverResolver) {
	r.dynamic = dynamic
}

// Resolve returns the approvers for a node. An empty list with a nil error
// means the strategy legitimately resolved nobody (e.g. a role with no
// members); the caller applies the optional-node skip rule.
func (r *ApproverResolver) Resolve(ctx context.Context, node *models.NodeDefinition, cctx *condition.Context, initiatorID string) ([]models.Approver, error) {
	cfg := node.Approver

	switch cfg.Strategy {
	case constants.StrategyFixedUser:
		return r.resolveFixed(ctx, cfg.UserIDs)

	case constants.StrategyRole:
		return r.resolveRoles(ctx, cfg.Roles)

	case constants.StrategyDepartmentHead:
		return r.resolveDeptHead(ctx, initiatorID, cfg.Levels)

	case constants.StrategyInitiatorDeptHead:
		return r.resolveDeptHead(ctx, initiatorID, 0)

	case constants.StrategyDirectManager:
		levels := cfg.Levels
		if levels <= 0 {
			levels = 1
		}
		userID, err := r.directory.ManagerOf(ctx, initiatorID, levels)
		if err != nil {
			return nil, err
		}
		return r.withDepartment(ctx, userID)

	case constants.StrategyFormField:
		return r.resolveFormField(ctx, cfg.FormField, cctx)

	case constants.StrategyMultiDept:
		return r.resolveMultiDept(ctx, cfg.Departments)

	case constants.StrategyDynamic:
		return r.resolveDynamic(ctx, cfg, cctx)

	default:
		return nil, fmt.Errorf("unknown approver strategy %q", cfg.Strategy)
	}
}

func (r *ApproverResolver) resolveFixed(ctx context.Context, userIDs []string) ([]models.Approver, error) {
	approvers := make([]models.Approver, 0, len(userIDs))
	for _, id := range userIDs {
		entry, err := r.approverFor(ctx, id)
		if err != nil {
			return nil, err
		}
		approvers = append(approvers, entry)
	}
	return approvers, nil
}

func (r *ApproverResolver) resolveRoles(ctx context.Context, roles []string) ([]models.Approver, error) {
	seen := make(map[string]bool)
	var approvers []models.Approver
	for _, role := range roles {
		members, err := r.directory.RoleMembers(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("role %q lookup failed: %w", role, err)
		}
		for _, id := range members {
			if seen[id] {
				continue
			}
			seen[id] = true
			entry, err := r.approverFor(ctx, id)
			if err != nil {
				return nil, err
			}
			approvers = append(approvers, entry)
		}
	}
	return approvers, nil
}

func (r *ApproverResolver) resolveDeptHead(ctx context.Context, referenceUserID string, levelsUp int) ([]models.Approver, error) {
	deptID, err := r.directory.DepartmentOf(ctx, referenceUserID)
	if err != nil {
		return nil, err
	}
	headID, err := r.directory.DepartmentHead(ctx, deptID, levelsUp)
	if err != nil {
		return nil, err
	}
	return r.withDepartment(ctx, headID)
}

// resolveFormField reads a user id (or list of ids) out of submitted form
// data. A missing or empty field resolves nobody rather than failing, so
// optional nodes can skip.
func (r *ApproverResolver) resolveFormField(ctx context.Context, field string, cctx *condition.Context) ([]models.Approver, error) {
	if field == "" {
		return nil, fmt.Errorf("form-field strategy missing field name")
	}
	val, ok := cctx.Resolve(condition.NamespaceForm + "." + field)
	if !ok {
		return nil, nil
	}

	var ids []string
	switch v := val.(type) {
	case string:
		if v != "" {
			ids = append(ids, v)
		}
	case []interface{}:
		for _, item := range v {
			if s := utils.ToString(item); s != "" {
				ids = append(ids, s)
			}
		}
	case []string:
		ids = v
	default:
		return nil, fmt.Errorf("form field %q does not hold a user id", field)
	}

	return r.resolveFixed(ctx, ids)
}

// resolveMultiDept yields one approver per named department (its head), each
// tagged with the department so the executor can open a per-department
// evaluation sub-task.
func (r *ApproverResolver) resolveMultiDept(ctx context.Context, departments []string) ([]models.Approver, error) {
	approvers := make([]models.Approver, 0, len(departments))
	for _, deptID := range departments {
		headID, err := r.directory.DepartmentHead(ctx, deptID, 0)
		if err != nil {
			return nil, fmt.Errorf("department %q: %w", deptID, err)
		}
		approvers = append(approvers, models.Approver{UserID: headID, DepartmentID: deptID, Weight: 1})
	}
	return approvers, nil
}

func (r *ApproverResolver) resolveDynamic(ctx context.Context, cfg models.ApproverConfig, cctx *condition.Context) ([]models.Approver, error) {
	if cfg.ResolverKey != "" {
		if r.dynamic == nil {
			return nil, fmt.Errorf("no dynamic resolver registered for key %q", cfg.ResolverKey)
		}
		return r.dynamic.ResolveApprovers(ctx, cfg.ResolverKey, cctx.Form)
	}

	if cfg.Expression != "" {
		out, err := r.expr.Evaluate(cfg.Expression, cctx.Env())
		if err != nil {
			return nil, fmt.Errorf("dynamic approver expression failed: %w", err)
		}
		switch v := out.(type) {
		case string:
			return r.resolveFixed(ctx, []string{v})
		case []interface{}:
			ids := make([]string, 0, len(v))
			for _, item := range v {
				ids = append(ids, utils.ToString(item))
			}
			return r.resolveFixed(ctx, ids)
		default:
			return nil, fmt.Errorf("dynamic approver expression yielded %T, want user id(s)", out)
		}
	}

	return nil, fmt.Errorf("dynamic strategy needs a resolver key or an expression")
}

func (r *ApproverResolver) approverFor(ctx context.Context, userID string) (models.Approver, error) {
	deptID, err := r.directory.DepartmentOf(ctx, userID)
	if err != nil {
		return models.Approver{}, fmt.Errorf("user %q lookup failed: %w", userID, err)
	}
	return models.Approver{UserID: userID, DepartmentID: deptID, Weight: 1}, nil
}

func (r *ApproverResolver) withDepartment(ctx context.Context, userID string) ([]models.Approver, error) {
	entry, err := r.approverFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return []models.Approver{entry}, nil
}
