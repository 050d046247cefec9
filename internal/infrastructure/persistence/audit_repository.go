package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

// Countersign aggregates, the append-only action log and carbon copies.

func (s *SQLWorkflowStore) UpsertCountersign(ctx context.Context, result *models.CountersignResult) error {
	result.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		INSERT INTO %s (instance_id, node_id, total, approved, rejected, pending, final_result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total = VALUES(total), approved = VALUES(approved), rejected = VALUES(rejected),
			pending = VALUES(pending), final_result = VALUES(final_result), updated_at = VALUES(updated_at)`,
		constants.TableCountersign)

	_, err := s.q(ctx).ExecContext(ctx, query,
		result.InstanceID, result.NodeID, result.Total, result.Approved, result.Rejected,
		result.Pending, result.FinalResult, result.UpdatedAt)
	return err
}

func (s *SQLWorkflowStore) GetCountersign(ctx context.Context, instanceID, nodeID string) (*models.CountersignResult, error) {
	query := fmt.Sprintf(`
		SELECT instance_id, node_id, total, approved, rejected, pending, final_result, updated_at
		FROM %s WHERE instance_id = ? AND node_id = ?`, constants.TableCountersign)

	var result models.CountersignResult
	err := s.q(ctx).QueryRowContext(ctx, query, instanceID, nodeID).Scan(
		&result.InstanceID, &result.NodeID, &result.Total, &result.Approved,
		&result.Rejected, &result.Pending, &result.FinalResult, &result.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *SQLWorkflowStore) AppendActionLog(ctx context.Context, entry *models.ActionLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, instance_id, task_id, operation, operator_id, comment, before_status, after_status, before_node_id, after_node_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableActionLog)

	_, err := s.q(ctx).ExecContext(ctx, query,
		entry.ID, entry.InstanceID, entry.TaskID, entry.Operation, entry.OperatorID, entry.Comment,
		entry.BeforeStatus, entry.AfterStatus, entry.BeforeNodeID, entry.AfterNodeID, entry.CreatedAt)
	return err
}

func (s *SQLWorkflowStore) ListActionLogs(ctx context.Context, instanceID string) ([]*models.ActionLog, error) {
	query := fmt.Sprintf(`
		SELECT id, instance_id, task_id, operation, operator_id, comment, before_status, after_status, before_node_id, after_node_id, created_at
		FROM %s WHERE instance_id = ? ORDER BY created_at ASC, id ASC`, constants.TableActionLog)

	rows, err := s.q(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*models.ActionLog, 0)
	for rows.Next() {
		var entry models.ActionLog
		var taskID, comment, beforeNode, afterNode sql.NullString
		if err := rows.Scan(&entry.ID, &entry.InstanceID, &taskID, &entry.Operation, &entry.OperatorID,
			&comment, &entry.BeforeStatus, &entry.AfterStatus, &beforeNode, &afterNode, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.TaskID = taskID.String
		entry.Comment = comment.String
		entry.BeforeNodeID = beforeNode.String
		entry.AfterNodeID = afterNode.String
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func (s *SQLWorkflowStore) InsertCarbonCopy(ctx context.Context, cc *models.CarbonCopy) error {
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, instance_id, node_id, user_id, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, constants.TableCarbonCopy)

	_, err := s.q(ctx).ExecContext(ctx, query,
		cc.ID, cc.InstanceID, cc.NodeID, cc.UserID, cc.Read, cc.ReadAt, cc.CreatedAt)
	return err
}

func (s *SQLWorkflowStore) ListCarbonCopiesByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.CarbonCopy, error) {
	query := fmt.Sprintf(`
		SELECT id, instance_id, node_id, user_id, is_read, read_at, created_at
		FROM %s WHERE user_id = ?`, constants.TableCarbonCopy)
	args := []interface{}{userID}
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	copies := make([]*models.CarbonCopy, 0)
	for rows.Next() {
		var cc models.CarbonCopy
		var nodeID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&cc.ID, &cc.InstanceID, &nodeID, &cc.UserID, &cc.Read, &readAt, &cc.CreatedAt); err != nil {
			return nil, err
		}
		cc.NodeID = nodeID.String
		if readAt.Valid {
			cc.ReadAt = &readAt.Time
		}
		copies = append(copies, &cc)
	}
	return copies, rows.Err()
}

func (s *SQLWorkflowStore) MarkCarbonCopyRead(ctx context.Context, id, userID string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_read = 1, read_at = ? WHERE id = ? AND user_id = ? AND is_read = 0`, constants.TableCarbonCopy)
	_, err := s.q(ctx).ExecContext(ctx, query, time.Now(), id, userID)
	return err
}
