package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/domain/models"
)

// AuthHandler handles login and user registration.
type AuthHandler struct {
	svc *services.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(svc *services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// LoginRequest is the login body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the admin user-creation body.
type RegisterRequest struct {
	Name         string   `json:"name" binding:"required"`
	Email        string   `json:"email" binding:"required"`
	Password     string   `json:"password" binding:"required"`
	DepartmentID string   `json:"department_id"`
	ManagerID    string   `json:"manager_id"`
	Roles        []string `json:"roles"`
	IsAdmin      bool     `json:"is_admin"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !BindJSON(c, &req) {
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	OK(c, result)
}

// Register handles POST /api/auth/register (admin only)
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !BindJSON(c, &req) {
		return
	}

	user, err := h.svc.Register(c.Request.Context(), &models.User{
		Name:         req.Name,
		Email:        req.Email,
		DepartmentID: req.DepartmentID,
		ManagerID:    req.ManagerID,
		Roles:        req.Roles,
		IsAdmin:      req.IsAdmin,
	}, req.Password)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Created(c, user)
}
