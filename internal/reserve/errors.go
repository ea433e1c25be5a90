package reserve

import "errors"

// Operation errors. All are terminal: a failed operation commits nothing.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrMathOverflow       = errors.New("math overflow")
	ErrZeroShares         = errors.New("computed shares are zero")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoDividendShares   = errors.New("dividend pool is empty")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadyInitialized = errors.New("reserve already initialized")
	ErrNotInitialized     = errors.New("reserve not initialized")
	ErrUnknownParticipant = errors.New("unknown participant")
)
