package ports

import "errors"

// Standard application-level errors.
// Adapters and the engine wrap underlying failures with these errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger Errors
	ErrInsufficientFunds  = errors.New("insufficient funds for operation")
	ErrPositionSizeLimit  = errors.New("position size limit exceeded")
	ErrMaxPositions       = errors.New("maximum open positions reached")
	ErrShortsDisabled     = errors.New("short selling is disabled")
	ErrNoMarketPrice      = errors.New("no market price available")
	ErrOrderNotFound      = errors.New("order not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOrderRejected      = errors.New("order rejected")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrInvariantViolation = errors.New("ledger invariant violated")

	// Market Data Errors
	ErrFeedUnavailable  = errors.New("market data feed is unavailable")
	ErrConnectionFailed = errors.New("failed to connect to the exchange")
	ErrRateLimited      = errors.New("API rate limit exceeded")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
