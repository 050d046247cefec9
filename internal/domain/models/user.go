package models

import "time"

// UserSession represents an authenticated user acting on the engine.
type UserSession struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        *string `json:"email,omitempty"`
	DepartmentID string  `json:"department_id,omitempty"`
	IsAdmin      bool    `json:"is_admin"`
}

// ToMap converts the session to the initiator namespace of a condition
// context.
func (u *UserSession) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         u.ID,
		"name":       u.Name,
		"department": u.DepartmentID,
	}
	if u.Email != nil {
		m["email"] = *u.Email
	}
	return m
}

// User is a directory row. The built-in directory port reads these; an
// external directory can replace it entirely.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DepartmentID string    `json:"department_id,omitempty"`
	ManagerID    string    `json:"manager_id,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session converts a directory user into a session.
func (u *User) Session() *UserSession {
	email := u.Email
	return &UserSession{
		ID:           u.ID,
		Name:         u.Name,
		Email:        &email,
		DepartmentID: u.DepartmentID,
		IsAdmin:      u.IsAdmin,
	}
}

// Department is an org-tree row.
type Department struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	HeadID   string `json:"head_id,omitempty"`
}
