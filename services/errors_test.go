package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "approval request not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: approval request not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeInvalidState,
				Message: "approval request already decided",
			},
			wantMsg: "invalid_state: approval request already decided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "wrapped sentinel",
			err:    Wrap(ErrApprovalRequestNotFound, errors.New("no rows")),
			target: ErrApprovalRequestNotFound,
			want:   true,
		},
		{
			name:   "same type different sentinel",
			err:    ErrSelfApproval,
			target: ErrNotAnApprover,
			want:   false,
		},
		{
			name:   "different error type",
			err:    ErrInvalidInput,
			target: ErrRuleNotFound,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    ErrRuleNotFound,
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "discount").WithDetail("value", "12")

	assert.Equal(t, "discount", err.Details["field"])
	assert.Equal(t, "12", err.Details["value"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		yes   error
		no    error
	}{
		{"not found", IsNotFoundError, ErrApprovalRequestNotFound, ErrInvalidInput},
		{"validation", IsValidationError, fmt.Errorf("wrapped: %w", ErrReasonTooShort), ErrRuleNotFound},
		{"authorization", IsAuthorizationError, ErrSelfApproval, ErrInvalidInput},
		{"configuration", IsConfigurationError, ErrNoApprovers, ErrInternal},
		{"evaluation", IsEvaluationError, ErrConditionFailed, ErrInternal},
		{"conflict", IsConflictError, ErrConcurrentUpdate, ErrInternal},
		{"invalid state", IsInvalidStateError, ErrRequestAlreadyDecided, ErrConcurrentUpdate},
		{"internal", IsInternalError, ErrDatabaseError, errors.New("regular")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.yes))
			assert.False(t, tt.check(tt.no))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrRuleNotFound, ErrorTypeNotFound},
		{"authorization", ErrNotTheRequester, ErrorTypeAuthorization},
		{"invalid state", ErrRequestNotPending, ErrorTypeInvalidState},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "branch").WithDetail("reason", "required")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "branch", details["field"])
	assert.Equal(t, "required", details["reason"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("connection reset")
	wrapped := Wrap(ErrDatabaseError, baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.ErrorIs(t, wrapped, ErrDatabaseError)
	assert.ErrorIs(t, wrapped, baseErr)
	assert.Nil(t, ErrDatabaseError.Err)
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to connect", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
