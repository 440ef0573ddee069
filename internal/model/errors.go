package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidAmount means a non-positive amount was passed.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)

	ErrNotFound            = errors.New("not found")
	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrInstallmentNotFound = fmt.Errorf("installment %w", ErrNotFound)
	ErrScheduleNotFound    = fmt.Errorf("schedule %w", ErrNotFound)

	// ErrInsufficientBalance is returned when wallet balance is not enough.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletInactive      = errors.New("wallet inactive")
	ErrInstallmentSettled  = errors.New("installment already settled")
	ErrConcurrentUpdate    = errors.New("optimistic lock conflict")

	// ErrUpstream wraps store failures that are worth retrying.
	ErrUpstream = errors.New("upstream dependency unavailable")
)

// Upstream tags err as an upstream dependency failure unless it already
// carries a domain error.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrValidation, ErrNotFound, ErrInsufficientBalance, ErrWalletInactive, ErrInstallmentSettled, ErrConcurrentUpdate, ErrUpstream} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUpstream, err)
}
