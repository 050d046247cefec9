package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

const taskColumns = `id, instance_id, node_id, node_name, type, order_in_node, assignee_id, assignee_dept,
	weight, source, status, action, comment, due_at, notified_at, completed_at, created_at`

func (s *SQLWorkflowStore) InsertTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		constants.TableTask, taskColumns)

	_, err := s.q(ctx).ExecContext(ctx, query,
		task.ID, task.InstanceID, task.NodeID, task.NodeName, task.Type, task.OrderInNode,
		task.AssigneeID, task.AssigneeDept, task.Weight, task.Source, task.Status,
		task.Action, task.Comment, task.DueAt, task.NotifiedAt, task.CompletedAt, task.CreatedAt)
	return err
}

func (s *SQLWorkflowStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, taskColumns, constants.TableTask)
	task, err := scanTaskRow(s.q(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func (s *SQLWorkflowStore) UpdateTask(ctx context.Context, task *models.Task) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			assignee_id = ?, assignee_dept = ?, source = ?, status = ?, action = ?, comment = ?,
			due_at = ?, notified_at = ?, completed_at = ?
		WHERE id = ?`, constants.TableTask)

	_, err := s.q(ctx).ExecContext(ctx, query,
		task.AssigneeID, task.AssigneeDept, task.Source, task.Status, task.Action, task.Comment,
		task.DueAt, task.NotifiedAt, task.CompletedAt, task.ID)
	return err
}

func (s *SQLWorkflowStore) ListTasksByNode(ctx context.Context, instanceID, nodeID string) ([]*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE instance_id = ? AND node_id = ? ORDER BY order_in_node ASC, created_at ASC`,
		taskColumns, constants.TableTask)
	return s.listTasks(ctx, query, instanceID, nodeID)
}

func (s *SQLWorkflowStore) ListOpenTasksByInstance(ctx context.Context, instanceID string) ([]*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE instance_id = ? AND status = ? ORDER BY created_at ASC`,
		taskColumns, constants.TableTask)
	return s.listTasks(ctx, query, instanceID, constants.TaskStatusPending)
}

func (s *SQLWorkflowStore) ListPendingTasksByAssignee(ctx context.Context, assigneeID string, limit int) ([]*models.Task, error) {
	// Only notified tasks: SEQUENTIAL and ADDED_AFTER tasks stay out of the
	// inbox until their turn arrives.
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE assignee_id = ? AND status = ? AND notified_at IS NOT NULL
		ORDER BY due_at IS NULL, due_at ASC, created_at ASC LIMIT ?`, taskColumns, constants.TableTask)
	return s.listTasks(ctx, query, assigneeID, constants.TaskStatusPending, limit)
}

func (s *SQLWorkflowStore) ListDueTasks(ctx context.Context, before time.Time, limit int) ([]*models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ? AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at ASC LIMIT ?`, taskColumns, constants.TableTask)
	return s.listTasks(ctx, query, constants.TaskStatusPending, before, limit)
}

func (s *SQLWorkflowStore) listTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*models.Task, 0)
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTaskRow(row rowScanner) (*models.Task, error) {
	var task models.Task
	var nodeName, assigneeDept, action, comment sql.NullString
	var dueAt, notifiedAt, completedAt sql.NullTime

	if err := row.Scan(&task.ID, &task.InstanceID, &task.NodeID, &nodeName, &task.Type,
		&task.OrderInNode, &task.AssigneeID, &assigneeDept, &task.Weight, &task.Source,
		&task.Status, &action, &comment, &dueAt, &notifiedAt, &completedAt, &task.CreatedAt); err != nil {
		return nil, err
	}

	task.NodeName = nodeName.String
	task.AssigneeDept = assigneeDept.String
	task.Action = action.String
	task.Comment = comment.String
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}
	if notifiedAt.Valid {
		task.NotifiedAt = &notifiedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
