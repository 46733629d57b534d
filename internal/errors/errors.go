package errors

import (
	"errors"
	"fmt"
)

// Domain error taxonomy for the ledger service. The gateway maps each of these
// to a distinct HTTP status; they are never conflated.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrInconsistentBalance = errors.New("transaction would exceed overdraft limit")
	ErrConflict            = errors.New("concurrent update conflict")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
)

// ValidationError carries the offending field. It unwraps to
// ErrInvalidTransaction so callers can match the whole class.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidTransaction
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StoreError wraps an infrastructure failure of the ledger store. It matches
// ErrStoreUnavailable under errors.Is while keeping the cause inspectable.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger store error during '%s': %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func NewStoreError(op string, cause error) error {
	return &StoreError{
		Op:    op,
		Cause: cause,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsInvalidTransaction(err error) bool {
	return errors.Is(err, ErrInvalidTransaction)
}

func IsInconsistentBalance(err error) bool {
	return errors.Is(err, ErrInconsistentBalance)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
