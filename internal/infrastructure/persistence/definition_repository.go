package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

// Definition side of the store: templates, flows and routing rules. Written
// by the admin surface, read-only during execution.

func (s *SQLWorkflowStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	query := fmt.Sprintf(`
		SELECT id, code, name, version, status, entity_type, category, form_schema, description, created_by_id, created_at, updated_at
		FROM %s WHERE id = ?`, constants.TableTemplate)
	return scanTemplate(s.q(ctx).QueryRowContext(ctx, query, id))
}

func (s *SQLWorkflowStore) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	query := fmt.Sprintf(`
		SELECT id, code, name, version, status, entity_type, category, form_schema, description, created_by_id, created_at, updated_at
		FROM %s ORDER BY code, version DESC`, constants.TableTemplate)

	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]*models.Template, 0)
	for rows.Next() {
		tpl, err := scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *SQLWorkflowStore) SaveTemplate(ctx context.Context, tpl *models.Template) error {
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now()
	}
	tpl.UpdatedAt = time.Now()

	var description sql.NullString
	if tpl.Description != nil {
		description = sql.NullString{String: *tpl.Description, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, code, name, version, status, entity_type, category, form_schema, description, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), status = VALUES(status), entity_type = VALUES(entity_type),
			category = VALUES(category), form_schema = VALUES(form_schema),
			description = VALUES(description), updated_at = VALUES(updated_at)`, constants.TableTemplate)

	_, err := s.q(ctx).ExecContext(ctx, query,
		tpl.ID, tpl.Code, tpl.Name, tpl.Version, tpl.Status, tpl.EntityType, tpl.Category,
		[]byte(tpl.FormSchema), description, tpl.CreatedByID, tpl.CreatedAt, tpl.UpdatedAt)
	return err
}

func (s *SQLWorkflowStore) GetFlow(ctx context.Context, id string) (*models.FlowDefinition, error) {
	query := fmt.Sprintf(`SELECT id, template_id, name, is_default, nodes FROM %s WHERE id = ?`, constants.TableFlow)
	return scanFlow(s.q(ctx).QueryRowContext(ctx, query, id))
}

func (s *SQLWorkflowStore) ListFlows(ctx context.Context, templateID string) ([]*models.FlowDefinition, error) {
	query := fmt.Sprintf(`SELECT id, template_id, name, is_default, nodes FROM %s WHERE template_id = ?`, constants.TableFlow)

	rows, err := s.q(ctx).QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flows := make([]*models.FlowDefinition, 0)
	for rows.Next() {
		flow, err := scanFlowRow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

func (s *SQLWorkflowStore) GetDefaultFlow(ctx context.Context, templateID string) (*models.FlowDefinition, error) {
	query := fmt.Sprintf(`SELECT id, template_id, name, is_default, nodes FROM %s WHERE template_id = ? AND is_default = 1`, constants.TableFlow)
	return scanFlow(s.q(ctx).QueryRowContext(ctx, query, templateID))
}

func (s *SQLWorkflowStore) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	nodes, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to encode flow nodes: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, template_id, name, is_default, nodes)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), is_default = VALUES(is_default), nodes = VALUES(nodes)`, constants.TableFlow)

	_, err = s.q(ctx).ExecContext(ctx, query, flow.ID, flow.TemplateID, flow.Name, flow.IsDefault, nodes)
	return err
}

func (s *SQLWorkflowStore) ListRoutingRules(ctx context.Context, templateID string) ([]*models.RoutingRule, error) {
	query := fmt.Sprintf(`
		SELECT id, template_id, priority, cond, expression, flow_id, active, created_at
		FROM %s WHERE template_id = ? AND active = 1
		ORDER BY priority ASC, created_at ASC`, constants.TableRoutingRule)

	rows, err := s.q(ctx).QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*models.RoutingRule, 0)
	for rows.Next() {
		var rule models.RoutingRule
		var cond []byte
		var expr sql.NullString
		if err := rows.Scan(&rule.ID, &rule.TemplateID, &rule.Priority, &cond, &expr, &rule.FlowID, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if len(cond) > 0 {
			rule.Condition = &condition.Expr{}
			if err := json.Unmarshal(cond, rule.Condition); err != nil {
				return nil, fmt.Errorf("failed to decode routing condition %s: %w", rule.ID, err)
			}
		}
		rule.Expression = expr.String
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func (s *SQLWorkflowStore) SaveRoutingRule(ctx context.Context, rule *models.RoutingRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	var cond []byte
	if rule.Condition != nil {
		encoded, err := json.Marshal(rule.Condition)
		if err != nil {
			return fmt.Errorf("failed to encode routing condition: %w", err)
		}
		cond = encoded
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, template_id, priority, cond, expression, flow_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			priority = VALUES(priority), cond = VALUES(cond), expression = VALUES(expression),
			flow_id = VALUES(flow_id), active = VALUES(active)`, constants.TableRoutingRule)

	_, err := s.q(ctx).ExecContext(ctx, query,
		rule.ID, rule.TemplateID, rule.Priority, cond, rule.Expression, rule.FlowID, rule.Active, rule.CreatedAt)
	return err
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row *sql.Row) (*models.Template, error) {
	tpl, err := scanTemplateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tpl, err
}

func scanTemplateRow(row rowScanner) (*models.Template, error) {
	var tpl models.Template
	var category, description sql.NullString
	var schema []byte
	if err := row.Scan(&tpl.ID, &tpl.Code, &tpl.Name, &tpl.Version, &tpl.Status, &tpl.EntityType,
		&category, &schema, &description, &tpl.CreatedByID, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return nil, err
	}
	tpl.Category = category.String
	if len(schema) > 0 {
		tpl.FormSchema = json.RawMessage(schema)
	}
	if description.Valid {
		tpl.Description = &description.String
	}
	return &tpl, nil
}

func scanFlow(row *sql.Row) (*models.FlowDefinition, error) {
	flow, err := scanFlowRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return flow, err
}

func scanFlowRow(row rowScanner) (*models.FlowDefinition, error) {
	var flow models.FlowDefinition
	var nodes []byte
	if err := row.Scan(&flow.ID, &flow.TemplateID, &flow.Name, &flow.IsDefault, &nodes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodes, &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode flow nodes %s: %w", flow.ID, err)
	}
	return &flow, nil
}
