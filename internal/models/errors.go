package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrNoActiveRate      = errors.New("ledger: no active conversion rate")
	ErrLockTimeout       = errors.New("ledger: account lock timeout")
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrAccountExists     = errors.New("ledger: account already exists")
	ErrAccountDisabled   = errors.New("ledger: account is disabled")
	ErrEntryNotFound     = errors.New("ledger: entry not found")
	ErrIllegalTransition = errors.New("ledger: illegal status transition")

	// ErrRange and ErrValidation let callers match the struct errors with errors.Is.
	ErrRange      = errors.New("ledger: amount out of range")
	ErrValidation = errors.New("ledger: validation failed")
	ErrStorage    = errors.New("ledger: storage failure")
)

// ValidationError is returned before any lock or entry is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RangeError reports an amount outside the configured conversion bounds.
type RangeError struct {
	Amount int64
	Min    int64
	Max    int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("ledger: amount %d outside allowed range [%d, %d]", e.Amount, e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// StorageError wraps a durable write or read that failed. The operation
// it belongs to was rolled back as a whole.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err unless it is already one of the ledger's typed errors.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsLedgerError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransitionError is an attempted illegal lifecycle step. It signals a
// programming error rather than a business failure.
type TransitionError struct {
	EntryID string
	From    EntryStatus
	To      EntryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: illegal transition %s -> %s for entry %s", e.From, e.To, e.EntryID)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// IsLedgerError reports whether err already belongs to the typed taxonomy.
func IsLedgerError(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrNoActiveRate, ErrLockTimeout, ErrAccountNotFound,
		ErrAccountExists, ErrAccountDisabled, ErrEntryNotFound, ErrIllegalTransition,
		ErrRange, ErrValidation, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable returns true if the caller may retry the operation with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStorage)
}
