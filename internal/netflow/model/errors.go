package model

import (
	"errors"
	"fmt"
)

var (
	// ErrGap is returned when a block cannot be linked to the recorded segment.
	ErrGap = errors.New("unresolvable parent linkage")
	// ErrReorgTooDeep is returned when a reorg exceeds the configured depth.
	ErrReorgTooDeep = errors.New("reorg exceeds maximum depth")
	// ErrAlreadyApplied is returned when a block's effects are already recorded.
	ErrAlreadyApplied = errors.New("block already applied")
	// ErrOverflow is returned when accounting arithmetic leaves the 256-bit range.
	ErrOverflow = errors.New("net-flow accumulator overflow")
	// ErrBlockNotFound is returned by chain readers for unknown blocks.
	ErrBlockNotFound = errors.New("block not found")
	// ErrNotTracked is returned by queries for addresses outside the tracked set.
	ErrNotTracked = errors.New("address not tracked")
	// ErrCommitRejected is returned when the store refuses a commit for a
	// reason that retrying cannot change, such as an oversized transaction.
	ErrCommitRejected = errors.New("commit rejected by store")
	// ErrUnavailable is returned by queries before any state is committed.
	ErrUnavailable = errors.New("net-flow state unavailable")
)

// TransientChainError wraps a retryable chain reader failure.
type TransientChainError struct {
	Op  string
	Err error
}

func (e *TransientChainError) Error() string {
	return fmt.Sprintf("transient chain error in %s: %v", e.Op, e.Err)
}

func (e *TransientChainError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed durable commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable chain reader failure.
func IsTransient(err error) bool {
	var te *TransientChainError
	return errors.As(err, &te)
}

// IsFatal reports whether err requires operator-driven resync.
func IsFatal(err error) bool {
	return errors.Is(err, ErrGap) ||
		errors.Is(err, ErrReorgTooDeep) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrCommitRejected)
}
