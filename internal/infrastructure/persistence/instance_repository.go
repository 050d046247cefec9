package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

const instanceColumns = `id, template_id, flow_id, entity_type, entity_id, title, summary, status, initiator_id,
	current_node_id, current_order, form_data, flow_snapshot, join_expected, join_arrived, version,
	submitted_at, completed_at, created_at, updated_at`

func (s *SQLWorkflowStore) InsertInstance(ctx context.Context, inst *models.Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	inst.UpdatedAt = time.Now()

	form, snapshot, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		constants.TableInstance, instanceColumns)

	_, err = s.q(ctx).ExecContext(ctx, query,
		inst.ID, inst.TemplateID, inst.FlowID, inst.EntityType, inst.EntityID, inst.Title, inst.Summary,
		inst.Status, inst.InitiatorID, inst.CurrentNodeID, inst.CurrentOrder, form, snapshot,
		inst.JoinExpected, inst.JoinArrived, inst.Version,
		inst.SubmittedAt, inst.CompletedAt, inst.CreatedAt, inst.UpdatedAt)
	return err
}

func (s *SQLWorkflowStore) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, instanceColumns, constants.TableInstance)
	inst, err := scanInstanceRow(s.q(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// UpdateInstance is the optimistic concurrency write: it only lands when the
// stored version still equals expectedVersion. Zero rows affected means a
// concurrent operation advanced the instance first.
func (s *SQLWorkflowStore) UpdateInstance(ctx context.Context, inst *models.Instance, expectedVersion int64) error {
	inst.UpdatedAt = time.Now()

	form, snapshot, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			flow_id = ?, title = ?, summary = ?, status = ?, current_node_id = ?, current_order = ?,
			form_data = ?, flow_snapshot = ?, join_expected = ?, join_arrived = ?, version = ?,
			submitted_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`, constants.TableInstance)

	result, err := s.q(ctx).ExecContext(ctx, query,
		inst.FlowID, inst.Title, inst.Summary, inst.Status, inst.CurrentNodeID, inst.CurrentOrder,
		form, snapshot, inst.JoinExpected, inst.JoinArrived, inst.Version,
		inst.SubmittedAt, inst.CompletedAt, inst.UpdatedAt,
		inst.ID, expectedVersion)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NewStateConflictError("instance", inst.ID, "instance was modified concurrently")
	}
	return nil
}

func (s *SQLWorkflowStore) ListInstancesByInitiator(ctx context.Context, initiatorID string, limit int) ([]*models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE initiator_id = ? ORDER BY created_at DESC LIMIT ?`,
		instanceColumns, constants.TableInstance)

	rows, err := s.q(ctx).QueryContext(ctx, query, initiatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]*models.Instance, 0)
	for rows.Next() {
		inst, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func encodeInstanceBlobs(inst *models.Instance) (form, snapshot []byte, err error) {
	if inst.FormData != nil {
		form, err = json.Marshal(inst.FormData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode form data: %w", err)
		}
	}
	if inst.FlowSnapshot != nil {
		snapshot, err = json.Marshal(inst.FlowSnapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode flow snapshot: %w", err)
		}
	}
	return form, snapshot, nil
}

func scanInstanceRow(row rowScanner) (*models.Instance, error) {
	var inst models.Instance
	var flowID, summary, currentNodeID sql.NullString
	var form, snapshot []byte
	var submittedAt, completedAt sql.NullTime

	if err := row.Scan(&inst.ID, &inst.TemplateID, &flowID, &inst.EntityType, &inst.EntityID,
		&inst.Title, &summary, &inst.Status, &inst.InitiatorID,
		&currentNodeID, &inst.CurrentOrder, &form, &snapshot,
		&inst.JoinExpected, &inst.JoinArrived, &inst.Version,
		&submittedAt, &completedAt, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}

	inst.FlowID = flowID.String
	inst.Summary = summary.String
	inst.CurrentNodeID = currentNodeID.String
	if len(form) > 0 {
		if err := json.Unmarshal(form, &inst.FormData); err != nil {
			return nil, fmt.Errorf("failed to decode form data %s: %w", inst.ID, err)
		}
	}
	if len(snapshot) > 0 {
		inst.FlowSnapshot = &models.FlowDefinition{}
		if err := json.Unmarshal(snapshot, inst.FlowSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode flow snapshot %s: %w", inst.ID, err)
		}
	}
	if submittedAt.Valid {
		inst.SubmittedAt = &submittedAt.Time
	}
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	return &inst, nil
}
