package ports

import (
	"context"

	"github.com/approveflow/backend/internal/domain/models"
)

// Directory resolves role membership, department hierarchy and manager-of
// relationships for approver resolution. Calls are synchronous; a slow
// directory blocks only the calling operation.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// RoleMembers returns the user ids holding a named role.
	RoleMembers(ctx context.Context, role string) ([]string, error)

	// DepartmentOf returns the department id of a user; empty when the user
	// has no department.
	DepartmentOf(ctx context.Context, userID string) (string, error)

	// DepartmentHead returns the head of a department, walking up the
	// department tree the given number of levels above it (0 = the
	// department's own head).
	DepartmentHead(ctx context.Context, departmentID string, levelsUp int) (string, error)

	// ManagerOf walks the manager-of chain the given number of levels from
	// the reference user (1 = direct manager).
	ManagerOf(ctx context.Context, userID string, levels int) (string, error)
}
