package apperrors

import "errors"

// Execution gate errors
var (
	ErrTradingSuspended = errors.New("trading suspended by kill switch")
	ErrPanicTooHigh     = errors.New("panic score above threshold")
)

// Venue errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Infrastructure errors
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrModelNotLoaded   = errors.New("model not loaded")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)
