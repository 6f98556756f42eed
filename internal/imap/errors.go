package imap

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol failure so callers never have to inspect error
// text. Transient failures are retryable; not-found means the remote
// resource (usually a mailbox) no longer exists; auth and permission
// failures require operator action.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindAuth
	KindPermission
)

// String returns the kind's name for log output.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	default:
		return "transient"
	}
}

// Error is a classified protocol failure.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "open mailbox"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imap %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err (or any error in its chain) is a protocol
// error for a missing remote resource.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return hasKind(err, KindAuth)
}

// IsTransient reports whether err is a retryable protocol failure.
// Unclassified errors (network failures and the like) count as transient.
func IsTransient(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == KindTransient
	}
	return true
}

func hasKind(err error, kind Kind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}
