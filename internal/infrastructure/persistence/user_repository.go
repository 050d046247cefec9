package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
)

// SQLUserStore implements ports.UserStore over the directory tables.
type SQLUserStore struct {
	db *sql.DB
}

var _ ports.UserStore = (*SQLUserStore)(nil)

// NewSQLUserStore creates a new SQLUserStore
func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

const userColumns = `id, name, email, password_hash, department_id, manager_id, roles, is_admin, is_active, created_at`

func (s *SQLUserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, userColumns, constants.TableUser)
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = ?`, userColumns, constants.TableUser)
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLUserStore) ListUsersByRole(ctx context.Context, role string) ([]*models.User, error) {
	// Roles live in a JSON array column; JSON_CONTAINS keeps the lookup
	// server-side.
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE is_active = 1 AND JSON_CONTAINS(roles, JSON_QUOTE(?))
		ORDER BY name ASC`, userColumns, constants.TableUser)

	rows, err := s.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLUserStore) GetDepartment(ctx context.Context, id string) (*models.Department, error) {
	query := fmt.Sprintf(`SELECT id, name, parent_id, head_id FROM %s WHERE id = ?`, constants.TableDepartment)

	var d models.Department
	var parentID, headID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &parentID, &headID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.ParentID = parentID.String
	d.HeadID = headID.String
	return &d, nil
}

func (s *SQLUserStore) InsertUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("failed to encode user roles: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableUser, userColumns)
	_, err = s.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.PasswordHash, u.DepartmentID, u.ManagerID, roles, u.IsAdmin, u.IsActive, u.CreatedAt)
	return err
}

func (s *SQLUserStore) InsertDepartment(ctx context.Context, d *models.Department) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, name, parent_id, head_id) VALUES (?, ?, ?, ?)`, constants.TableDepartment)
	_, err := s.db.ExecContext(ctx, query, d.ID, d.Name, d.ParentID, d.HeadID)
	return err
}

func scanUser(row *sql.Row) (*models.User, error) {
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func scanUserRow(row rowScanner) (*models.User, error) {
	var u models.User
	var departmentID, managerID sql.NullString
	var roles []byte
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &departmentID, &managerID,
		&roles, &u.IsAdmin, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.DepartmentID = departmentID.String
	u.ManagerID = managerID.String
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return nil, fmt.Errorf("failed to decode user roles %s: %w", u.ID, err)
		}
	}
	return &u, nil
}
