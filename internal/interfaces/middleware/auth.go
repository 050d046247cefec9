package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/pkg/auth"
	"github.com/approveflow/backend/pkg/constants"
)

// RequireAuth is a middleware that validates JWT tokens
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from Authorization header
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				constants.ResponseError: "Unauthorized",
				constants.FieldMessage:  "No authorization token provided",
				"code":                  "UNAUTHORIZED",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				constants.ResponseError: "Unauthorized",
				constants.FieldMessage:  "Invalid authorization header format",
				"code":                  "UNAUTHORIZED",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				constants.ResponseError: "Unauthorized",
				constants.FieldMessage:  err.Error(),
				"code":                  "UNAUTHORIZED",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		// Set user session in context
		c.Set(constants.ContextKeyUser, claims.User)
		c.Next()
	}
}

// RequireAdmin checks if the authenticated user is an administrator
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userInterface, exists := c.Get(constants.ContextKeyUser)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				constants.ResponseError: "Unauthorized",
				constants.FieldMessage:  "User not authenticated",
				"code":                  "UNAUTHORIZED",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		user := userInterface.(auth.UserSession)
		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				constants.ResponseError: "Forbidden",
				constants.FieldMessage:  "Only administrators can access this resource",
				"code":                  "FORBIDDEN",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
