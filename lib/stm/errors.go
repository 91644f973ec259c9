package stm

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of a transaction failure.
type ErrorCode uint8

const (
	CodeDeadTransaction ErrorCode = iota + 1
	CodePreparedTransaction
	CodeReadWriteConflict
	CodeNoRetryPossible
	CodeReadonly
	CodeSpeculativeConfiguration
	CodeIllegalArgument
	CodeStmMismatch
	CodeNullArgument
	CodeTimeout
	CodeTooManyRetries
	CodeRetry
)

func (c ErrorCode) String() string {
	switch c {
	case CodeDeadTransaction:
		return "DeadTransaction"
	case CodePreparedTransaction:
		return "PreparedTransaction"
	case CodeReadWriteConflict:
		return "ReadWriteConflict"
	case CodeNoRetryPossible:
		return "NoRetryPossible"
	case CodeReadonly:
		return "Readonly"
	case CodeSpeculativeConfiguration:
		return "SpeculativeConfiguration"
	case CodeIllegalArgument:
		return "IllegalArgument"
	case CodeStmMismatch:
		return "StmMismatch"
	case CodeNullArgument:
		return "NullArgument"
	case CodeTimeout:
		return "Timeout"
	case CodeTooManyRetries:
		return "TooManyRetries"
	case CodeRetry:
		return "Retry"
	default:
		return "Unknown"
	}
}

// ConflictReason tells why a read-write conflict happened.
type ConflictReason uint8

const (
	ConflictNone        ConflictReason = iota
	ConflictVersion                    // the object was changed by another transaction
	ConflictLocked                     // the object is locked by another transaction
	ConflictAbortOnly                  // the transaction was marked abort only
	ConflictUncommitted                // the object was never committed
)

func (r ConflictReason) String() string {
	switch r {
	case ConflictNone:
		return "None"
	case ConflictVersion:
		return "Version"
	case ConflictLocked:
		return "Locked"
	case ConflictAbortOnly:
		return "AbortOnly"
	case ConflictUncommitted:
		return "Uncommitted"
	default:
		return "Unknown"
	}
}

// Error is the error returned by all transaction operations.
// Use errors.Is with the Err* sentinels to check the kind of an error.
type Error struct {
	Code   ErrorCode
	Msg    string
	RefID  uint64 // id of the ref that caused the error (0 if none)
	Reason ConflictReason
}

func (e *Error) Error() string {
	s := e.Code.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.RefID != 0 {
		s += fmt.Sprintf(" (ref %d)", e.RefID)
	}
	if e.Reason != ConflictNone {
		s += fmt.Sprintf(" [%s]", e.Reason)
	}
	return s
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrDeadTransaction          = &Error{Code: CodeDeadTransaction}
	ErrPreparedTransaction      = &Error{Code: CodePreparedTransaction}
	ErrReadWriteConflict        = &Error{Code: CodeReadWriteConflict}
	ErrNoRetryPossible          = &Error{Code: CodeNoRetryPossible}
	ErrReadonly                 = &Error{Code: CodeReadonly}
	ErrSpeculativeConfiguration = &Error{Code: CodeSpeculativeConfiguration}
	ErrIllegalArgument          = &Error{Code: CodeIllegalArgument}
	ErrStmMismatch              = &Error{Code: CodeStmMismatch}
	ErrNullArgument             = &Error{Code: CodeNullArgument}
	ErrTimeout                  = &Error{Code: CodeTimeout}
	ErrTooManyRetries           = &Error{Code: CodeTooManyRetries}

	// ErrRetry is returned by a transaction body to block until one of the
	// objects it has read changes. See Executor.Execute and
	// Transaction.RegisterChangeListenerAndAbort.
	ErrRetry = &Error{Code: CodeRetry, Msg: "retry requested"}
)

// ConflictReasonOf returns the conflict reason of err, or ConflictNone.
func ConflictReasonOf(err error) ConflictReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ConflictNone
}

// IsRetryable reports whether a transaction that failed with err can succeed
// when it is executed again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrReadWriteConflict) || errors.Is(err, ErrSpeculativeConfiguration)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func newConflict(ref *Ref, reason ConflictReason, op string) *Error {
	e := &Error{Code: CodeReadWriteConflict, Reason: reason, Msg: op}
	if ref != nil {
		e.RefID = ref.id
	}
	return e
}
