package rest

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/auth"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *models.UserSession {
	userInterface, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}

	// The middleware stores auth.UserSession, need to convert to models.UserSession
	authUser := userInterface.(auth.UserSession)
	email := authUser.Email
	return &models.UserSession{
		ID:           authUser.ID,
		Name:         authUser.Name,
		Email:        &email,
		DepartmentID: authUser.DepartmentID,
		IsAdmin:      authUser.IsAdmin,
	}
}

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, err error) {
	code := apperrors.GetHTTPStatus(err)
	errorCode := apperrors.GetErrorCode(err)
	message := err.Error()

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, message)
	}

	c.JSON(code, gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		"code":                  errorCode,
		"data":                  nil,
	})
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, apperrors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// OK sends a 200 response with the payload under the data key.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{constants.ResponseData: data})
}

// Created sends a 201 response with the payload under the data key.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{constants.ResponseData: data})
}

// Message sends a 200 response with just a message.
func Message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: msg})
}
