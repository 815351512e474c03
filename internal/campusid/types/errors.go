package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindDecryption       ErrorKind = "decryption"
	KindExpired          ErrorKind = "expired"
	KindNotFound         ErrorKind = "not_found"
	KindLockout          ErrorKind = "lockout"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindConflict         ErrorKind = "conflict"
	KindSystem           ErrorKind = "system"
)

// Kind sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrDecryption       = &Error{Kind: KindDecryption}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrLockout          = &Error{Kind: KindLockout}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrSystem           = &Error{Kind: KindSystem}
)

// Error is the domain error. Reason is a short machine code
// ("already_active", "store_unavailable") surfaced to clients.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func NewError(kind ErrorKind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels, which carry only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Reason: "invalid_request", Err: fmt.Errorf(format, args...)}
}
