package services

import "errors"

// Validation errors: the caller can fix the request.
var (
	ErrEmailRequired = errors.New("email required")
	ErrEmailInvalid  = errors.New("email invalid")
)

// Verification outcomes. Each is scoped to one request and leaves the process healthy.
var (
	ErrCodeNotFound = errors.New("code not found")
	ErrCodeExpired  = errors.New("code expired")
	ErrCodeMismatch = errors.New("code mismatch")
)

// ErrDelivery wraps any email provider failure. The stored code stays valid.
var ErrDelivery = errors.New("delivery failed")

// Edge-layer policy errors returned by VerificationGuard.
var (
	ErrResendThrottled = errors.New("resend throttled")
	ErrTooManyAttempts = errors.New("too many attempts")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmailRequired) || errors.Is(err, ErrEmailInvalid)
}
