// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package errors defines the error-kind taxonomy shared by every component
// of the CRO Analysis Core. Internal packages return *CoreError; HTTP status
// mapping happens only at the httpapi boundary.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError for transport-layer mapping and for the "kind"
// field of the error payload the agent loop returns for a failed tool call.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindBadRequest          Kind = "bad_request"
	KindConflict            Kind = "conflict"
	KindUnauthorized        Kind = "unauthorized"
	KindPermissionDenied    Kind = "permission_denied"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout             Kind = "timeout"
	KindValidation          Kind = "validation"
	KindInternal            Kind = "internal"
)

// CoreError wraps a Kind, a human-readable message, and an optional cause.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) *CoreError   { return New(KindNotFound, message) }
func BadRequest(message string) *CoreError { return New(KindBadRequest, message) }
func Conflict(message string) *CoreError   { return New(KindConflict, message) }
func Validation(message string) *CoreError { return New(KindValidation, message) }
func Internal(message string, cause error) *CoreError {
	return Wrap(KindInternal, message, cause)
}

// kindOf extracts the Kind from err if it is (or wraps) a *CoreError.
func kindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func IsNotFound(err error) bool     { k, ok := kindOf(err); return ok && k == KindNotFound }
func IsBadRequest(err error) bool   { k, ok := kindOf(err); return ok && k == KindBadRequest }
func IsConflict(err error) bool     { k, ok := kindOf(err); return ok && k == KindConflict }
func IsValidation(err error) bool   { k, ok := kindOf(err); return ok && k == KindValidation }
func IsUnauthorized(err error) bool { k, ok := kindOf(err); return ok && k == KindUnauthorized }
func IsPermissionDenied(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermissionDenied
}
func IsUpstreamUnavailable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUpstreamUnavailable
}
func IsTimeout(err error) bool  { k, ok := kindOf(err); return ok && k == KindTimeout }
func IsInternal(err error) bool { k, ok := kindOf(err); return ok && k == KindInternal }

// HTTPStatus maps a Kind to its HTTP status code. Only the httpapi package
// should call this.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return 404
	case KindBadRequest:
		return 400
	case KindConflict:
		return 409
	case KindUnauthorized:
		return 401
	case KindPermissionDenied:
		return 403
	case KindUpstreamUnavailable:
		return 503
	case KindTimeout:
		return 504
	case KindValidation:
		return 422
	default:
		return 500
	}
}
