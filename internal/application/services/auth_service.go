package services

import (
	"context"
	"log"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/auth"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/utils"
)

// AuthService handles login and user registration on top of the directory
// tables. Passwords are bcrypt-hashed; sessions are stateless JWTs.
type AuthService struct {
	users ports.UserStore
}

// NewAuthService creates a new AuthService
func NewAuthService(users ports.UserStore) *AuthService {
	return &AuthService{users: users}
}

// LoginResult is the login response payload.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login verifies credentials and issues a JWT. Wrong email and wrong
// password produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.VerifyPassword(password, user.PasswordHash) {
		return nil, apperrors.NewUnauthorizedError("invalid email or password")
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorizedError("account is disabled")
	}

	token, err := auth.GenerateToken(auth.UserSession{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		DepartmentID: user.DepartmentID,
		IsAdmin:      user.IsAdmin,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to sign token", err)
	}

	log.Printf("✅ User logged in: %s (%s)", user.Name, user.Email)
	return &LoginResult{Token: token, User: user}, nil
}

// Register creates a new directory user with a hashed password.
func (s *AuthService) Register(ctx context.Context, user *models.User, password string) (*models.User, error) {
	if !auth.IsValidEmail(user.Email) {
		return nil, apperrors.NewValidationError("email", "invalid email address")
	}
	if err := auth.ValidatePasswordStrength(password); err != nil {
		return nil, apperrors.NewValidationError("password", err.Error())
	}
	existing, err := s.users.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewStateConflictError("user", user.Email, "email already registered")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	user.ID = utils.GenerateID()
	user.PasswordHash = hash
	user.IsActive = true
	if err := s.users.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SessionFor converts JWT claims back into the engine's session type.
func SessionFor(claims *auth.Claims) *models.UserSession {
	email := claims.User.Email
	return &models.UserSession{
		ID:           claims.User.ID,
		Name:         claims.User.Name,
		Email:        &email,
		DepartmentID: claims.User.DepartmentID,
		IsAdmin:      claims.User.IsAdmin,
	}
}
