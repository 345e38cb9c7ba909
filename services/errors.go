package services

import "errors"

// Error taxonomy for game operations. Handlers map these onto HTTP
// statuses; everything not listed here is treated as an internal error.
var (
	ErrGameNotFound        = errors.New("game not found")
	ErrInvalidState        = errors.New("action not allowed in current game state")
	ErrCardConflict        = errors.New("card number already taken")
	ErrInsufficientPlayers = errors.New("not enough carded players")
	ErrDuplicateClaim      = errors.New("winner already declared for this game")
	ErrInvalidClaim        = errors.New("no winning line on this card")
	ErrWriteConflict       = errors.New("concurrent write conflict")
	ErrWalletFailure       = errors.New("wallet operation failed")
	ErrInsufficientFunds   = errors.New("insufficient balance")

	// ErrRefundAlreadyProcessed is the idempotency short-circuit inside
	// the refund path: callers treat it as success-no-op, never as a
	// failure.
	ErrRefundAlreadyProcessed = errors.New("refund already processed")
)
