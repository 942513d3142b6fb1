package entitlement

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the entitlement resolver.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// InsufficientBalanceError carries the wallet amount a caller would need so
// the client can present an exact top-up prompt. It matches
// ErrInsufficientBalance under errors.Is.
type InsufficientBalanceError struct {
	RequiredCents int64
}

// Error returns the formatted error message.
func (insufficientError *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d cents required", insufficientError.RequiredCents)
}

// Unwrap links the error to the ErrInsufficientBalance sentinel.
func (insufficientError *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
