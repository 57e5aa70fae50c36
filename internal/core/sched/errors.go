package sched

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by the scheduler wraps exactly one of
// these kinds, so callers can classify with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrResourceExhaustion  = errors.New("resource exhaustion")
	ErrDependencyViolation = errors.New("dependency violation")
)

// Error carries a kind from the taxonomy plus detail.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrAlreadyInitialized = &Error{Kind: ErrConfiguration, Msg: "scheduler already initialized"}
	ErrNotInitialized     = &Error{Kind: ErrConfiguration, Msg: "scheduler not initialized"}
	ErrTerminated         = &Error{Kind: ErrConfiguration, Msg: "scheduler terminated"}
	ErrNoAffinity         = &Error{Kind: ErrConfiguration, Msg: "affinity selects no worker"}
	ErrPoolExhausted      = &Error{Kind: ErrResourceExhaustion, Msg: "task pool exhausted"}
	ErrCycle              = &Error{Kind: ErrDependencyViolation, Msg: "dependency cycle"}
	ErrAlreadyKicked      = &Error{Kind: ErrDependencyViolation, Msg: "task already kicked"}
	ErrStaleHandle        = &Error{Kind: ErrDependencyViolation, Msg: "stale or invalid task handle"}
)

func configErrorf(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func dependencyErrorf(format string, args ...any) error {
	return &Error{Kind: ErrDependencyViolation, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err belongs to a class the frame graph cannot
// recover from mid-frame.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrResourceExhaustion) ||
		errors.Is(err, ErrDependencyViolation)
}
