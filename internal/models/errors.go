// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an error for propagation and HTTP status mapping.
type ErrorKind int

const (
	// KindInternal is the zero value: anything unclassified.
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthRequired
	KindPermission
	KindNotFound
	KindConflict
	KindUnsupportedSource
	KindBackendTransient
	KindCapacity
	KindBusy
)

var kindNames = map[ErrorKind]string{
	KindInternal:          "internal",
	KindValidation:        "validation",
	KindAuthRequired:      "auth_required",
	KindPermission:        "permission",
	KindNotFound:          "not_found",
	KindConflict:          "conflict",
	KindUnsupportedSource: "unsupported_source",
	KindBackendTransient:  "backend_transient",
	KindCapacity:          "capacity",
	KindBusy:              "busy",
}

// String returns the snake_case name used in logs and metrics labels.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// HTTPStatus maps the kind onto the response status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnsupportedSource:
		return http.StatusUnsupportedMediaType
	case KindBackendTransient, KindCapacity, KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error carried across component boundaries.
//
// Field names the offending parameter for validation errors. Data is an
// optional payload returned to the client alongside the message (for
// example the id of the task already holding a lock).
type Error struct {
	Kind    ErrorKind
	Op      string
	Field   string
	Message string
	Data    any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// InvalidParameter reports a parameter value outside its domain.
func InvalidParameter(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown source, template, folder or task.
func NotFound(what string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %v", what, id)}
}

// Forbidden reports insufficient access for an authenticated or anonymous caller.
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// AuthRequired reports a missing or invalid credential.
func AuthRequired(msg string) *Error {
	return &Error{Kind: KindAuthRequired, Message: msg}
}

// Conflict reports an existing destination, a held lock, or a resource in use.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedSource reports a corrupt or undecodable original. It is terminal.
func UnsupportedSource(path string, err error) *Error {
	return &Error{Kind: KindUnsupportedSource, Message: "unsupported or corrupt source " + path, Err: err}
}

// Transient reports a retryable backend failure such as resource exhaustion.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindBackendTransient, Op: op, Message: "imaging backend temporarily unavailable", Err: err}
}

// Capacity reports that too many builds are already in flight.
func Capacity(limit int) *Error {
	return &Error{Kind: KindCapacity, Message: fmt.Sprintf("too many concurrent image builds (limit %d)", limit)}
}

// Busy reports that a bounded wait elapsed before a result was available.
func Busy(msg string) *Error {
	return &Error{Kind: KindBusy, Message: msg}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}
