package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeEvaluation    ErrorType = "evaluation"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInvalidState  ErrorType = "invalid_state"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when type and message match,
// so sentinels stay distinguishable within one type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrRuleNotFound            = NewDomainError(ErrorTypeNotFound, "governance rule not found", nil)
	ErrApprovalRequestNotFound = NewDomainError(ErrorTypeNotFound, "approval request not found", nil)

	// Validation Errors
	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidRule         = NewDomainError(ErrorTypeValidation, "invalid governance rule", nil)
	ErrInvalidCondition    = NewDomainError(ErrorTypeValidation, "invalid rule condition", nil)
	ErrInvalidDecision     = NewDomainError(ErrorTypeValidation, "invalid approval decision", nil)
	ErrReasonTooShort      = NewDomainError(ErrorTypeValidation, "rejection reason is too short", nil)
	ErrProtectedFieldWrite = NewDomainError(ErrorTypeValidation, "document is locked pending approval", nil)
	ErrActionBlocked       = NewDomainError(ErrorTypeValidation, "action is blocked while approval is pending", nil)

	// Authorization Errors
	ErrNotAnApprover   = NewDomainError(ErrorTypeAuthorization, "caller is not an approver of this request", nil)
	ErrSelfApproval    = NewDomainError(ErrorTypeAuthorization, "requester cannot decide their own request", nil)
	ErrNotTheRequester = NewDomainError(ErrorTypeAuthorization, "only the requester can recall this request", nil)

	// Configuration Errors
	ErrNoApprovers = NewDomainError(ErrorTypeConfiguration, "no approvers configured", nil)

	// Evaluation Errors
	ErrConditionFailed = NewDomainError(ErrorTypeEvaluation, "condition evaluation failed", nil)

	// Conflict Errors
	ErrConcurrentUpdate = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Invalid State Errors
	ErrRequestAlreadyDecided = NewDomainError(ErrorTypeInvalidState, "approval request already decided", nil)
	ErrRequestNotPending     = NewDomainError(ErrorTypeInvalidState, "approval request is not pending", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsAuthorizationError checks if an error is an authorization error
func IsAuthorizationError(err error) bool {
	return isType(err, ErrorTypeAuthorization)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsEvaluationError checks if an error is an evaluation error
func IsEvaluationError(err error) bool {
	return isType(err, ErrorTypeEvaluation)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInvalidStateError checks if an error is an invalid state error
func IsInvalidStateError(err error) bool {
	return isType(err, ErrorTypeInvalidState)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap returns a copy of a sentinel carrying the underlying cause
func Wrap(sentinel *DomainError, err error) *DomainError {
	return NewDomainError(sentinel.Type, sentinel.Message, err)
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
