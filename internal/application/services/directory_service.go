package services

import (
	"context"
	"fmt"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
)

// DirectoryService is the built-in directory port backed by the user and
// department tables. Deployments with an external org service swap it out at
// the ports.Directory seam.
type DirectoryService struct {
	users ports.UserStore
}

// Ensure DirectoryService implements ports.Directory at compile time
var _ ports.Directory = (*DirectoryService)(nil)

// NewDirectoryService creates a new DirectoryService
func NewDirectoryService(users ports.UserStore) *DirectoryService {
	return &DirectoryService{users: users}
}

// GetUser returns a directory user by id
func (s *DirectoryService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUser(ctx, userID)
}

// RoleMembers returns the ids of active users holding the named role
func (s *DirectoryService) RoleMembers(ctx context.Context, role string) ([]string, error) {
	users, err := s.users.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.IsActive {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// DepartmentOf returns the department id of a user; empty when unset
func (s *DirectoryService) DepartmentOf(ctx context.Context, userID string) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.DepartmentID, nil
}

// DepartmentHead walks levelsUp steps up the department tree and returns the
// head of the department it lands on. The walk is iterative with a visited
// set so a mis-parented tree cannot loop.
func (s *DirectoryService) DepartmentHead(ctx context.Context, departmentID string, levelsUp int) (string, error) {
	if departmentID == "" {
		return "", fmt.Errorf("user has no department")
	}

	visited := make(map[string]bool)
	deptID := departmentID
	for hop := 0; hop < levelsUp; hop++ {
		if visited[deptID] {
			return "", fmt.Errorf("department hierarchy cycle at %s", deptID)
		}
		visited[deptID] = true
		if hop >= constants.MaxOrgWalkDepth {
			return "", fmt.Errorf("department walk exceeded %d levels", constants.MaxOrgWalkDepth)
		}

		dept, err := s.users.GetDepartment(ctx, deptID)
		if err != nil {
			return "", err
		}
		if dept.ParentID == "" {
			// Top of the tree; stay here
			break
		}
		deptID = dept.ParentID
	}

	dept, err := s.users.GetDepartment(ctx, deptID)
	if err != nil {
		return "", err
	}
	if dept.HeadID == "" {
		return "", fmt.Errorf("department %s has no head", dept.Name)
	}
	return dept.HeadID, nil
}

// ManagerOf walks the manager-of chain the given number of levels from the
// reference user. Iterative with a visited set and depth guard.
func (s *DirectoryService) ManagerOf(ctx context.Context, userID string, levels int) (string, error) {
	if levels < 1 {
		levels = 1
	}
	if levels > constants.MaxOrgWalkDepth {
		return "", fmt.Errorf("manager walk of %d levels exceeds limit %d", levels, constants.MaxOrgWalkDepth)
	}

	visited := make(map[string]bool)
	current := userID
	for hop := 0; hop < levels; hop++ {
		if visited[current] {
			return "", fmt.Errorf("manager chain cycle at %s", current)
		}
		visited[current] = true

		u, err := s.users.GetUser(ctx, current)
		if err != nil {
			return "", err
		}
		if u.ManagerID == "" {
			if hop == 0 {
				return "", fmt.Errorf("user %s has no manager", userID)
			}
			// Chain shorter than requested; the highest manager found wins
			return current, nil
		}
		current = u.ManagerID
	}
	return current, nil
}
