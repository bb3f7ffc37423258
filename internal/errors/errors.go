package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Morsel error code.
type ErrorCode string

const (
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"         // 400
	ErrQuotaExhausted     ErrorCode = "QUOTA_EXHAUSTED"       // 402
	ErrNotFound           ErrorCode = "NOT_FOUND"             // 404
	ErrNoActiveSession    ErrorCode = "NO_ACTIVE_SESSION"     // 409
	ErrFollowUpInProgress ErrorCode = "FOLLOW_UP_IN_PROGRESS" // 409
	ErrSuperseded         ErrorCode = "SUPERSEDED"            // 409
	ErrNoIngredientsFound ErrorCode = "NO_INGREDIENTS_FOUND"  // 422
	ErrRateLimited        ErrorCode = "RATE_LIMITED"          // 429
	ErrInternal           ErrorCode = "INTERNAL"              // 500
	ErrUpstream           ErrorCode = "UPSTREAM_ERROR"        // 502
	ErrEmptyResponse      ErrorCode = "EMPTY_RESPONSE"        // 502
	ErrMalformedAnalysis  ErrorCode = "MALFORMED_ANALYSIS"    // 502
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"   // 503
)

// MorselError represents a structured error with code, status, and details.
// Cause is kept for errors.Is/As chains but never rendered to end users.
type MorselError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *MorselError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *MorselError) Unwrap() error {
	return e.Cause
}

// NewInvalidInput creates a 400 error for empty or malformed caller input.
func NewInvalidInput(msg string) *MorselError {
	return &MorselError{
		Code:    ErrInvalidInput,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing history item or profile.
func NewNotFound(kind, identifier string) *MorselError {
	return &MorselError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewNoActiveSession creates a 409 error for follow-ups without an analysis.
func NewNoActiveSession() *MorselError {
	return &MorselError{
		Code:    ErrNoActiveSession,
		Status:  409,
		Message: "no active analysis; analyze a product before asking follow-up questions",
	}
}

// NewFollowUpInProgress creates a 409 error when a follow-up is already awaiting its answer.
func NewFollowUpInProgress() *MorselError {
	return &MorselError{
		Code:    ErrFollowUpInProgress,
		Status:  409,
		Message: "a follow-up question is already being answered; wait for it to finish",
	}
}

// NewSuperseded creates a 409 error for results discarded because a newer
// analysis or a reset replaced the session they were issued for.
func NewSuperseded() *MorselError {
	return &MorselError{
		Code:    ErrSuperseded,
		Status:  409,
		Message: "result discarded because a newer analysis replaced this one",
	}
}

// NewNoIngredientsFound creates a 422 error when a label image has no readable ingredients.
func NewNoIngredientsFound(msg string) *MorselError {
	if msg == "" {
		msg = "Could not find ingredients in this image"
	}
	return &MorselError{
		Code:    ErrNoIngredientsFound,
		Status:  422,
		Message: msg,
	}
}

// NewRateLimited creates a 429 error for gateway rate limiting.
func NewRateLimited() *MorselError {
	return &MorselError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: "Rate limit exceeded. Please try again in a moment.",
	}
}

// NewQuotaExhausted creates a 402 error when gateway credits are used up.
func NewQuotaExhausted() *MorselError {
	return &MorselError{
		Code:    ErrQuotaExhausted,
		Status:  402,
		Message: "AI credits exhausted. Please add credits to continue.",
	}
}

// NewServiceUnavailable creates a 503 error for an unreachable or unconfigured gateway.
func NewServiceUnavailable(msg string, cause error) *MorselError {
	if msg == "" {
		msg = "AI service unavailable"
	}
	return &MorselError{
		Code:    ErrServiceUnavailable,
		Status:  503,
		Message: msg,
		Cause:   cause,
	}
}

// NewUpstream creates a 502 error for any other non-success gateway status.
func NewUpstream(status int, body string) *MorselError {
	return &MorselError{
		Code:    ErrUpstream,
		Status:  502,
		Message: fmt.Sprintf("AI gateway returned status %d", status),
		Details: map[string]any{"status": status, "body": body},
	}
}

// NewEmptyResponse creates a 502 error for a successful call with no usable content.
func NewEmptyResponse() *MorselError {
	return &MorselError{
		Code:    ErrEmptyResponse,
		Status:  502,
		Message: "Invalid AI response: no content returned",
	}
}

// NewMalformedAnalysis creates a 502 error when the analysis does not match its contract.
func NewMalformedAnalysis(cause error) *MorselError {
	return &MorselError{
		Code:    ErrMalformedAnalysis,
		Status:  502,
		Message: "Failed to parse analysis",
		Cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *MorselError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MorselError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if an error is (or wraps) a MorselError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MorselError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}

// As returns err as a MorselError, wrapping unknown errors as INTERNAL.
func As(err error) *MorselError {
	var mErr *MorselError
	if stderrors.As(err, &mErr) {
		return mErr
	}
	return NewInternal(err)
}
