package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

const delegateColumns = `id, user_id, delegate_id, scope, scope_ids, start_date, end_date, active, notify_original, created_at`

func (s *SQLWorkflowStore) InsertDelegate(ctx context.Context, d *models.Delegate) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	scopeIDs, err := json.Marshal(d.ScopeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode delegate scope ids: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableDelegate, delegateColumns)
	_, err = s.q(ctx).ExecContext(ctx, query,
		d.ID, d.UserID, d.DelegateID, d.Scope, scopeIDs, d.StartDate, d.EndDate, d.Active, d.NotifyOriginal, d.CreatedAt)
	return err
}

func (s *SQLWorkflowStore) UpdateDelegate(ctx context.Context, d *models.Delegate) error {
	scopeIDs, err := json.Marshal(d.ScopeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode delegate scope ids: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET scope = ?, scope_ids = ?, start_date = ?, end_date = ?, active = ?, notify_original = ?
		WHERE id = ?`, constants.TableDelegate)
	_, err = s.q(ctx).ExecContext(ctx, query,
		d.Scope, scopeIDs, d.StartDate, d.EndDate, d.Active, d.NotifyOriginal, d.ID)
	return err
}

func (s *SQLWorkflowStore) GetDelegate(ctx context.Context, id string) (*models.Delegate, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, delegateColumns, constants.TableDelegate)
	d, err := scanDelegateRow(s.q(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLWorkflowStore) ListDelegatesByUser(ctx context.Context, userID string) ([]*models.Delegate, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at DESC`, delegateColumns, constants.TableDelegate)
	return s.listDelegates(ctx, query, userID)
}

func (s *SQLWorkflowStore) ListActiveDelegates(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = ? AND active = 1 AND start_date <= ? AND end_date >= ?
		ORDER BY created_at DESC`, delegateColumns, constants.TableDelegate)
	return s.listDelegates(ctx, query, userID, asOf, asOf)
}

func (s *SQLWorkflowStore) listDelegates(ctx context.Context, query string, args ...interface{}) ([]*models.Delegate, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	delegates := make([]*models.Delegate, 0)
	for rows.Next() {
		d, err := scanDelegateRow(rows)
		if err != nil {
			return nil, err
		}
		delegates = append(delegates, d)
	}
	return delegates, rows.Err()
}

func scanDelegateRow(row rowScanner) (*models.Delegate, error) {
	var d models.Delegate
	var scopeIDs []byte
	if err := row.Scan(&d.ID, &d.UserID, &d.DelegateID, &d.Scope, &scopeIDs,
		&d.StartDate, &d.EndDate, &d.Active, &d.NotifyOriginal, &d.CreatedAt); err != nil {
		return nil, err
	}
	if len(scopeIDs) > 0 {
		if err := json.Unmarshal(scopeIDs, &d.ScopeIDs); err != nil {
			return nil, fmt.Errorf("failed to decode delegate scope ids %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func (s *SQLWorkflowStore) AppendDelegateLog(ctx context.Context, entry *models.DelegateLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, delegate_id, task_id, instance_id, original_id, effective_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, constants.TableDelegateLog)

	_, err := s.q(ctx).ExecContext(ctx, query,
		entry.ID, entry.DelegateID, entry.TaskID, entry.InstanceID, entry.OriginalID, entry.EffectiveID, entry.CreatedAt)
	return err
}

func (s *SQLWorkflowStore) GetDelegateLogByTask(ctx context.Context, taskID string) (*models.DelegateLog, error) {
	query := fmt.Sprintf(`
		SELECT id, delegate_id, task_id, instance_id, original_id, effective_id, created_at
		FROM %s WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, constants.TableDelegateLog)

	var entry models.DelegateLog
	err := s.q(ctx).QueryRowContext(ctx, query, taskID).Scan(
		&entry.ID, &entry.DelegateID, &entry.TaskID, &entry.InstanceID,
		&entry.OriginalID, &entry.EffectiveID, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
