// GoMailFW
// Copyright (C) 2016 The GoMailFW Authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/satori/go.uuid"
)

// Error wraps errors with a context prefix. The uuid avoids double
// prefixing when the same Error instance wraps an already wrapped error.
type Error struct {
	prefix string
	uuid   uuid.UUID
}

type errorError struct {
	prefix string
	err    error
	uuid   uuid.UUID
}

func New(prefix string) *Error {
	return &Error{prefix, uuid.NewV1()}
}

func (e *Error) E(err error) error {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*errorError); ok {
		if ee.uuid == e.uuid {
			return &errorError{e.prefix, ee.err, e.uuid}
		}
	}
	return &errorError{e.prefix, err, e.uuid}
}

func (e *errorError) Error() string {
	return fmt.Sprintf("[%s] %s", e.prefix, e.err.Error())
}

func (e *errorError) Unwrap() error {
	return e.err
}

// ConnectionError reports a network or authentication failure while talking
// to a repository. Transient, the caller may retry.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

func Connectionf(format string, args ...interface{}) error {
	return &ConnectionError{fmt.Errorf(format, args...)}
}

func IsConnection(err error) bool {
	var e *ConnectionError
	return stderrors.As(err, &e)
}

// WriteError reports a refused mutation on a repository. Reported
// per-message, it aborts the task only past the configured error threshold.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "write error: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

func Writef(format string, args ...interface{}) error {
	return &WriteError{fmt.Errorf(format, args...)}
}

func IsWrite(err error) bool {
	var e *WriteError
	return stderrors.As(err, &e)
}

// QuotaError reports a mutation refused because the repository is full.
type QuotaError struct {
	Err error
}

func (e *QuotaError) Error() string { return "quota error: " + e.Err.Error() }
func (e *QuotaError) Unwrap() error { return e.Err }

func Quotaf(format string, args ...interface{}) error {
	return &QuotaError{fmt.Errorf(format, args...)}
}

func IsQuota(err error) bool {
	var e *QuotaError
	return stderrors.As(err, &e)
}

// IntegrityError reports a driver contract violation (e.g. the same UID
// returned for two different messages). Fatal for the account task, never
// retried automatically.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return "integrity error: " + e.Err.Error() }
func (e *IntegrityError) Unwrap() error { return e.Err }

func Integrityf(format string, args ...interface{}) error {
	return &IntegrityError{fmt.Errorf(format, args...)}
}

func IsIntegrity(err error) bool {
	var e *IntegrityError
	return stderrors.As(err, &e)
}

// ResourceExhausted reports connection pool starvation past the bounded
// wait. Retryable after backoff.
type ResourceExhausted struct {
	Err error
}

func (e *ResourceExhausted) Error() string { return "resource exhausted: " + e.Err.Error() }
func (e *ResourceExhausted) Unwrap() error { return e.Err }

func ResourceExhaustedf(format string, args ...interface{}) error {
	return &ResourceExhausted{fmt.Errorf(format, args...)}
}

func IsResourceExhausted(err error) bool {
	var e *ResourceExhausted
	return stderrors.As(err, &e)
}

// HookTimeout reports a lifecycle hook that did not signal completion within
// its allowed time. Fatal for the hook only, it must never change the sync
// exit status.
type HookTimeout struct {
	Hook string
}

func (e *HookTimeout) Error() string { return fmt.Sprintf("hook %q timed out", e.Hook) }

func IsHookTimeout(err error) bool {
	var e *HookTimeout
	return stderrors.As(err, &e)
}

// Is and As are re-exported so callers don't need to import both this
// package and the standard library one.
func Is(err, target error) bool             { return stderrors.Is(err, target) }
func As(err error, target interface{}) bool { return stderrors.As(err, target) }
