// Package errs defines the error taxonomy shared by the balance engine, the
// ledger service and the recurring scheduler.
//
// Every error carries a Kind. Callers match kinds with errors.Is against the
// exported sentinels, so a scheduler error that wraps a not-found error still
// satisfies errors.Is(err, errs.ErrNotFound).
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindOther Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientFunds
	KindDatabase
	KindConflict
	KindScheduler
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDatabase          = errors.New("database error")
	ErrConflict          = errors.New("conflict")
	ErrScheduler         = errors.New("scheduler error")

	// ErrAccountUnavailable marks accounts that are inactive, deleted or
	// outside the caller's scope. It is always carried by a NotFound error.
	ErrAccountUnavailable = errors.New("account inactive or not found")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindDatabase:
		return "database"
	case KindConflict:
		return "conflict"
	case KindScheduler:
		return "scheduler"
	default:
		return "other"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	case KindDatabase:
		return ErrDatabase
	case KindConflict:
		return ErrConflict
	case KindScheduler:
		return ErrScheduler
	default:
		return nil
	}
}

// Error is a classified error. Op names the operation that failed
// (e.g. "balance.Apply"), Msg is the human readable reason.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(op, format string, args ...any) error {
	return &Error{Kind: KindInsufficientFunds, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// AccountUnavailable is a NotFound error that also matches
// ErrAccountUnavailable.
func AccountUnavailable(op string, accountID int64) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("account %d", accountID), Err: ErrAccountUnavailable}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Database wraps a store-level failure. Errors that are already classified
// pass through untouched so a NotFound raised below the store keeps its kind.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindDatabase, Op: op, Err: err}
}

// Scheduler wraps err for the scheduler's outward API.
func Scheduler(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindScheduler, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}
