// Package apperr defines the error taxonomy surfaced by the core operations.
//
// Every surfaced error carries a stable machine-readable Kind plus a human
// message. Callers match kinds with errors.Is against the package sentinels:
//
//	if errors.Is(err, apperr.ErrUnauthorized) { ... }
package apperr

import (
	"errors"
	"fmt"
	"log"
	"runtime/debug"
)

// Kind is the stable machine-readable error category.
type Kind string

const (
	KindUnauthorized               Kind = "unauthorized"
	KindNotFound                   Kind = "not_found"
	KindInvalidTransition          Kind = "invalid_transition"
	KindMissingField               Kind = "missing_field"
	KindRolesUnavailable           Kind = "roles_unavailable"
	KindInvalidContractAddress     Kind = "invalid_contract_address"
	KindVerificationUnavailable    Kind = "verification_unavailable"
	KindNotificationDispatchFailed Kind = "notification_dispatch_failed"
	KindInternal                   Kind = "internal"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized               = &Error{Kind: KindUnauthorized, Message: "actor is not authorized"}
	ErrNotFound                   = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidTransition          = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrMissingField               = &Error{Kind: KindMissingField, Message: "missing field"}
	ErrRolesUnavailable           = &Error{Kind: KindRolesUnavailable, Message: "roles unavailable"}
	ErrInvalidContractAddress     = &Error{Kind: KindInvalidContractAddress, Message: "invalid contract address"}
	ErrVerificationUnavailable    = &Error{Kind: KindVerificationUnavailable, Message: "verification unavailable"}
	ErrNotificationDispatchFailed = &Error{Kind: KindNotificationDispatchFailed, Message: "notification dispatch failed"}
	ErrInternal                   = &Error{Kind: KindInternal, Message: "internal error"}
)

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human message of a classified error, or a generic
// message for anything else so internals are not leaked to callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}

// Recover converts a panic into an internal error assigned to *errp. It must
// be deferred directly by the public operation it guards:
//
//	defer apperr.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("apperr: recovered panic: %v\n%s", r, debug.Stack())
	*errp = &Error{Kind: KindInternal, Message: ErrInternal.Message, Err: fmt.Errorf("panic: %v", r)}
}
