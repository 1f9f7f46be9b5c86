package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to bot users
type ErrorKind uint8

const (
	// KindUnknown is for unclassified errors
	KindUnknown ErrorKind = iota
	// KindInvalidFormat is for malformed phone, code, filter value or pattern
	KindInvalidFormat
	// KindQuotaExceeded is returned when the owner already holds the maximum number of credentials
	KindQuotaExceeded
	// KindNothingToDelete is returned when a delete flow starts with no stored credentials
	KindNothingToDelete
	// KindInvalidSelection is for a delete choice that is not a valid 1-based index
	KindInvalidSelection
	// KindTransport is for connection or code delivery failures reported by the platform
	KindTransport
	// KindAuth is for rejected codes or passwords
	KindAuth
	// KindInvalidCredential is for stored blobs that no longer authorize
	KindInvalidCredential
	// KindInvalidFilterKind is for filter kinds outside keyword/regex/all
	KindInvalidFilterKind
	// KindNotFound is for missing credentials
	KindNotFound
	// KindNotAttached is returned when a filter targets a credential that is not monitored
	KindNotAttached
	// KindStore is for persistence failures
	KindStore
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown",
	KindInvalidFormat:     "invalid format",
	KindQuotaExceeded:     "quota exceeded",
	KindNothingToDelete:   "nothing to delete",
	KindInvalidSelection:  "invalid selection",
	KindTransport:         "transport error",
	KindAuth:              "auth error",
	KindInvalidCredential: "invalid credential",
	KindInvalidFilterKind: "invalid filter kind",
	KindNotFound:          "not found",
	KindNotAttached:       "not attached",
	KindStore:             "store error",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinels for errors.Is; they match any *Error of the same kind
var (
	ErrInvalidFormat     = &Error{kind: KindInvalidFormat}
	ErrQuotaExceeded     = &Error{kind: KindQuotaExceeded}
	ErrNothingToDelete   = &Error{kind: KindNothingToDelete}
	ErrInvalidSelection  = &Error{kind: KindInvalidSelection}
	ErrTransport         = &Error{kind: KindTransport}
	ErrAuth              = &Error{kind: KindAuth}
	ErrInvalidCredential = &Error{kind: KindInvalidCredential}
	ErrInvalidFilterKind = &Error{kind: KindInvalidFilterKind}
	ErrNotFound          = &Error{kind: KindNotFound}
	ErrNotAttached       = &Error{kind: KindNotAttached}
	ErrStore             = &Error{kind: KindStore}
)

// Error is the structured error returned by usecases
// msg is user facing; orig is the wrapped cause
type Error struct {
	kind ErrorKind
	msg  string
	orig error
}

// NewError creates an *Error of the given kind
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// WrapError creates an *Error of the given kind wrapping err
func WrapError(kind ErrorKind, err error, msg string) *Error {
	return &Error{kind: kind, msg: msg, orig: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.msg
	if msg == "" {
		msg = e.kind.String()
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", msg, e.orig)
	}
	return msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Kind returns the error kind
func (e *Error) Kind() ErrorKind { return e.kind }

// Message returns the user facing message without the wrapped cause
func (e *Error) Message() string {
	if e.msg == "" {
		return e.kind.String()
	}
	return e.msg
}

// Is matches sentinels by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.msg == "" && t.orig == nil && t.kind == e.kind
}

// KindOf extracts the ErrorKind from any error, defaulting to KindUnknown
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// MessageOf returns the user facing message of err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
