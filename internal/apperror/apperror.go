// Package apperror defines the domain errors shared by every layer.
//
// Services return these; handlers translate them to HTTP in handler/response.go.
// Wrap with fmt.Errorf("...: %w", err) freely, errors.Is still finds the sentinel.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized means the caller has no valid session.
	ErrUnauthorized = errors.New("authentication required")

	// ErrInsufficientCredits means a debit would take the balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidPlan means a plan id or price id is not in the catalog.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrStoreUnavailable means the persistent store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDebitFailed means the ledger mutation errored for a reason other
	// than an insufficient balance.
	ErrDebitFailed = errors.New("debit failed")

	// ErrSignatureInvalid means a webhook body did not match its signature.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrUnresolvableSubscription means no user could be tied to a webhook event.
	ErrUnresolvableSubscription = errors.New("unresolvable subscription")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error

	// Balance is the caller's current credit balance. Only set for
	// ErrInsufficientCredits so clients can show how short they are.
	Balance int64
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned when a billable or private operation has no user.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "authentication required",
	}
}

// InsufficientCredits carries the balance the user actually has.
func InsufficientCredits(balance, required int64) *AppError {
	return &AppError{
		Err:     ErrInsufficientCredits,
		Message: fmt.Sprintf("insufficient credits: have %d, need %d", balance, required),
		Balance: balance,
	}
}

func InvalidPlan(value string) *AppError {
	return &AppError{
		Err:     ErrInvalidPlan,
		Message: fmt.Sprintf("no plan matches %q", value),
	}
}

// StoreUnavailable names the operation that failed. The driver error is not
// part of the message, callers log it where it happens.
func StoreUnavailable(op string) *AppError {
	return &AppError{
		Err:     ErrStoreUnavailable,
		Message: fmt.Sprintf("storage unavailable during %s", op),
	}
}

func DebitFailed(userID string) *AppError {
	return &AppError{
		Err:     ErrDebitFailed,
		Message: fmt.Sprintf("could not deduct credits for user %s", userID),
	}
}

func SignatureInvalid(message string) *AppError {
	return &AppError{
		Err:     ErrSignatureInvalid,
		Message: message,
	}
}

func UnresolvableSubscription(subscriptionID string) *AppError {
	return &AppError{
		Err:     ErrUnresolvableSubscription,
		Message: fmt.Sprintf("no user found for subscription %s", subscriptionID),
	}
}
