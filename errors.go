package escrow

import (
	"errors"
	"fmt"

	"github.com/xraph/escrow/pda"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrAlreadyExists = errors.New("escrow: already exists")
	ErrInvalidInput  = errors.New("escrow: invalid input")
	ErrUnauthorized  = errors.New("escrow: unauthorized")

	// Stream errors
	ErrDuplicateStream = stream.ErrDuplicate
	ErrStreamNotFound  = stream.ErrNotFound

	// Settlement errors
	ErrMathOverflow       = settlement.ErrMathOverflow
	ErrAccountMismatch    = settlement.ErrAccountMismatch
	ErrSettlementNotFound = settlement.ErrNotFound

	// Account errors
	ErrAccountNotFound   = token.ErrAccountNotFound
	ErrInsufficientFunds = token.ErrInsufficientFunds

	// Store errors
	ErrStoreClosed       = errors.New("escrow: store is closed")
	ErrAmountOutOfRange  = errors.New("escrow: amount exceeds store range")
	ErrTransactionFailed = errors.New("escrow: transaction failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("escrow: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStreamNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSettlementNotFound)
}

// IsAuthorization returns true if the error means a caller could not prove
// authority over an account.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, token.ErrOwnerMismatch) ||
		errors.Is(err, pda.ErrSignerMismatch)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
