// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package status holds the WebDAV/HTTP status taxonomy the engine emits:
// the numeric-code table and the error Kind that every component raises
// instead of a bare Go error, so the dispatcher can turn any failure into
// the right wire status without type-switching on strings.
package status

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Extension codes RFC 4918 adds on top of HTTP/1.1.
const (
	Processing           = 102
	MultiStatus          = 207
	UnprocessableEntity  = 422
	Locked               = 423
	FailedDependency     = 424
	InsufficientStorage  = 507
)

// reasons pairs the WebDAV/HTTP codes of spec.md §4.1 (plus 500) with
// their short and long reason strings. Other codes the engine emits (206,
// 304, 501) are not in the table; Text falls back to http.StatusText for
// them.
var reasons = map[int][2]string{
	http.StatusContinue:           {"Continue", "Continue"},
	Processing:                    {"Processing", "Processing"},
	http.StatusOK:                 {"OK", "OK"},
	http.StatusCreated:            {"Created", "Created"},
	http.StatusNoContent:          {"No Content", "No Content"},
	MultiStatus:                   {"Multi-Status", "Multi-Status"},
	http.StatusBadRequest:         {"Bad Request", "The request could not be understood"},
	http.StatusForbidden:          {"Forbidden", "The operation is forbidden"},
	http.StatusNotFound:           {"Not Found", "The resource could not be found"},
	http.StatusMethodNotAllowed:   {"Method Not Allowed", "The method is not allowed on this resource"},
	http.StatusConflict:           {"Conflict", "The request conflicts with the state of the resource"},
	http.StatusPreconditionFailed: {"Precondition Failed", "A precondition evaluated to false"},
	http.StatusUnsupportedMediaType: {"Unsupported Media Type", "The request body's media type is not supported"},
	UnprocessableEntity:           {"Unprocessable Entity", "The request was well-formed but semantically invalid"},
	Locked:                        {"Locked", "The resource is locked"},
	FailedDependency:              {"Failed Dependency", "The method could not be performed because a dependent action failed"},
	http.StatusBadGateway:         {"Bad Gateway", "Bad Gateway"},
	InsufficientStorage:           {"Insufficient Storage", "The server lacks storage to complete the request"},
	http.StatusInternalServerError: {"Internal Server Error", "Internal Server Error"},
}

// Text returns the (short, long) reason pair for code, falling back to the
// standard library's http.StatusText for anything outside the fixed table.
func Text(code int) (short, long string) {
	if p, ok := reasons[code]; ok {
		return p[0], p[1]
	}
	t := http.StatusText(code)
	return t, t
}

// Kind identifies the category of failure a component raised. Each Kind
// maps to exactly one wire status code, except Secret, which never reaches
// the wire at all: property retrieval that raises Secret is silently
// omitted from the response instead of surfaced as an error (spec.md §4.1).
type Kind int

const (
	_ Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindPreconditionFailed
	KindLockedResource
	KindFailedDependency
	KindUnsupportedMedia
	KindInsufficientStorage
	KindBadRequest
	KindSecret
)

var kindCode = map[Kind]int{
	KindNotFound:            http.StatusNotFound,
	KindForbidden:           http.StatusForbidden,
	KindConflict:            http.StatusConflict,
	KindPreconditionFailed:  http.StatusPreconditionFailed,
	KindLockedResource:      Locked,
	KindFailedDependency:    FailedDependency,
	KindUnsupportedMedia:    http.StatusUnsupportedMediaType,
	KindInsufficientStorage: InsufficientStorage,
	KindBadRequest:          http.StatusBadRequest,
}

// Code returns the HTTP status code for k. It panics for KindSecret, which
// by definition never produces a wire status — callers must check IsSecret
// before converting a Kind to a code.
func (k Kind) Code() int {
	c, ok := kindCode[k]
	if !ok {
		panic(fmt.Sprintf("status: Kind %d has no wire code", k))
	}
	return c
}

// Error is the common error type raised by every engine component. It
// carries a Kind (for routing to the right wire status) and an optional
// cause (for diagnostics — never sent to the client).
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// Wrap builds an Error around an underlying cause, using pkg/errors so the
// cause chain survives further wrapping and errors.Cause(…) unwraps it.
func Wrap(k Kind, cause error, message string) *Error {
	return &Error{Kind: k, Message: message, cause: errors.Wrap(cause, message)}
}

func (e *Error) Error() string {
	short, _ := Text(0)
	if e.Kind != KindSecret {
		short, _ = Text(e.Kind.Code())
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (%v)", short, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", short, e.Message)
}

// Unwrap lets errors.Is/errors.As and pkg/errors.Cause see through to the
// underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause implements pkg/errors' causer interface, so errors.Cause(…) walks
// past the *Error to the underlying cause.
func (e *Error) Cause() error {
	return e.cause
}

// IsSecret reports whether err is (or wraps) a KindSecret status.Error.
func IsSecret(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindSecret
	}
	return false
}

// As reports whether err is (or wraps) a *Error, returning it if so.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var (
	ErrNotFound           = New(KindNotFound, "not found")
	ErrForbidden          = New(KindForbidden, "forbidden")
	ErrConflict           = New(KindConflict, "conflict")
	ErrPreconditionFailed = New(KindPreconditionFailed, "precondition failed")
	ErrLocked             = New(KindLockedResource, "locked")
	ErrFailedDependency   = New(KindFailedDependency, "failed dependency")
	ErrUnsupportedMedia   = New(KindUnsupportedMedia, "unsupported media type")
	ErrInsufficientStore  = New(KindInsufficientStorage, "insufficient storage")
	ErrBadRequest         = New(KindBadRequest, "bad request")
	ErrSecret             = New(KindSecret, "secret")
)
