package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the base interface for all application errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// NotFoundError represents a resource that was not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

func (e *NotFoundError) Code() string {
	return "NOT_FOUND"
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents invalid input. Rejected before any mutation;
// instance and task state are untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *ValidationError) Code() string {
	return "VALIDATION_ERROR"
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StateConflictError means the instance or task has already left the state the
// caller observed (task not pending, instance terminal, stale version). Never
// silently ignored; surfaced as "already acted upon".
type StateConflictError struct {
	Resource string
	ID       string
	Message  string
}

func (e *StateConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s '%s' conflict: %s", e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("%s '%s' has already been acted upon", e.Resource, e.ID)
}

func (e *StateConflictError) HTTPStatus() int {
	return http.StatusConflict
}

func (e *StateConflictError) Code() string {
	return "STATE_CONFLICT"
}

// NewStateConflictError creates a new StateConflictError
func NewStateConflictError(resource, id, message string) *StateConflictError {
	return &StateConflictError{Resource: resource, ID: id, Message: message}
}

// ResolutionError means a flow, approver or delegate lookup failed for a
// required node. Submission or advancement aborts; the instance stays at its
// last consistent node so a retry is possible.
type ResolutionError struct {
	Node    string
	Message string
}

func (e *ResolutionError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("resolution failed at node '%s': %s", e.Node, e.Message)
	}
	return fmt.Sprintf("resolution failed: %s", e.Message)
}

func (e *ResolutionError) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

func (e *ResolutionError) Code() string {
	return "RESOLUTION_ERROR"
}

// NewResolutionError creates a new ResolutionError
func NewResolutionError(node, message string) *ResolutionError {
	return &ResolutionError{Node: node, Message: message}
}

// PermissionError represents insufficient permissions
type PermissionError struct {
	Action   string
	Resource string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s %s", e.Action, e.Resource)
}

func (e *PermissionError) HTTPStatus() int {
	return http.StatusForbidden
}

func (e *PermissionError) Code() string {
	return "PERMISSION_DENIED"
}

// NewPermissionError creates a new PermissionError
func NewPermissionError(action, resource string) *PermissionError {
	return &PermissionError{Action: action, Resource: resource}
}

// UnauthorizedError represents authentication failures
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthorized: %s", e.Reason)
	}
	return "unauthorized"
}

func (e *UnauthorizedError) HTTPStatus() int {
	return http.StatusUnauthorized
}

func (e *UnauthorizedError) Code() string {
	return "UNAUTHORIZED"
}

// NewUnauthorizedError creates a new UnauthorizedError
func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

// ExternalPortError represents a failure in an external collaborator (entity
// adapter, notification channel, directory). Adapter validation failures are
// fatal to submission; lifecycle-callback and notification failures are logged
// and swallowed by the caller.
type ExternalPortError struct {
	Port  string
	Cause error
}

func (e *ExternalPortError) Error() string {
	return fmt.Sprintf("external port '%s' failed: %v", e.Port, e.Cause)
}

func (e *ExternalPortError) HTTPStatus() int {
	return http.StatusBadGateway
}

func (e *ExternalPortError) Code() string {
	return "EXTERNAL_PORT_ERROR"
}

func (e *ExternalPortError) Unwrap() error {
	return e.Cause
}

// NewExternalPortError creates a new ExternalPortError
func NewExternalPortError(port string, cause error) *ExternalPortError {
	return &ExternalPortError{Port: port, Cause: cause}
}

// InternalError represents unexpected server errors
type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s (caused by: %v)", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *InternalError) Code() string {
	return "INTERNAL_ERROR"
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

// Helper functions for error checking

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// IsStateConflict checks if an error is a StateConflictError
func IsStateConflict(err error) bool {
	var conflict *StateConflictError
	return errors.As(err, &conflict)
}

// IsResolution checks if an error is a ResolutionError
func IsResolution(err error) bool {
	var resolution *ResolutionError
	return errors.As(err, &resolution)
}

// IsPermission checks if an error is a PermissionError
func IsPermission(err error) bool {
	var permission *PermissionError
	return errors.As(err, &permission)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 if the error doesn't implement AppError.
func GetHTTPStatus(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetErrorCode returns the error code for an error.
// Returns "UNKNOWN_ERROR" if the error doesn't implement AppError.
func GetErrorCode(err error) string {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return "UNKNOWN_ERROR"
}
