package domain

import (
	"errors"
	"fmt"
)

// Infrastructure errors raised outside program execution.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrDuplicate    = errors.New("duplicate request")
	ErrBadSignature = errors.New("invalid signature")
	ErrExpired      = errors.New("request expired")
)

// ErrorKind classifies a rejected instruction. Every kind aborts the whole
// atomic unit; the kind only tells the caller what went wrong.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindAuthorization ErrorKind = "authorization"
	KindArithmetic    ErrorKind = "arithmetic"
	KindCapacity      ErrorKind = "capacity"
	KindConsistency   ErrorKind = "consistency"
	KindNotFound      ErrorKind = "not_found"
)

// Error is a protocol rejection: the kind plus the check that failed.
type Error struct {
	Kind  ErrorKind
	Check string
}

func (e *Error) Error() string {
	if e.Check == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Check
}

// Is matches any *Error of the same kind when the target carries no check,
// so errors.Is(err, ErrCapacity) holds for every capacity failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Check == "" || t.Check == e.Check
}

// Kind sentinels for errors.Is.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrArithmetic    = &Error{Kind: KindArithmetic}
	ErrCapacity      = &Error{Kind: KindCapacity}
	ErrConsistency   = &Error{Kind: KindConsistency}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// Errorf builds a protocol error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Check: fmt.Sprintf(format, args...)}
}

// KindOf reports the protocol kind carried by err, or "" for
// infrastructure errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
