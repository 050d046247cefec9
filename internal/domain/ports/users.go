package ports

import (
	"context"

	"github.com/approveflow/backend/internal/domain/models"
)

// UserStore is the read surface over the directory tables that the built-in
// directory port and the auth service share.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]*models.User, error)
	GetDepartment(ctx context.Context, id string) (*models.Department, error)
	InsertUser(ctx context.Context, u *models.User) error
	InsertDepartment(ctx context.Context, d *models.Department) error
}
