// Package api
// Author: momentics <momentics@gmail.com>
//
// Portable I/O error taxonomy shared by layers, the event loop and callers.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode is the portable classification of an I/O outcome.
// The zero value means success; every other value is usable as an error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeWouldBlock
	ErrCodeInvalid
	ErrCodeDisconnect
	ErrCodeNotConnected
	ErrCodeAddrInUse
	ErrCodeConnRefused
	ErrCodeConnReset
	ErrCodeConnAborted
	ErrCodeNetUnreachable
	ErrCodeTimeout
	ErrCodeNotFound
	ErrCodeNotSupported
	ErrCodeError
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeOK:             "success",
	ErrCodeWouldBlock:     "operation would block",
	ErrCodeInvalid:        "invalid argument",
	ErrCodeDisconnect:     "disconnected",
	ErrCodeNotConnected:   "not connected",
	ErrCodeAddrInUse:      "address in use",
	ErrCodeConnRefused:    "connection refused",
	ErrCodeConnReset:      "connection reset",
	ErrCodeConnAborted:    "connection aborted",
	ErrCodeNetUnreachable: "network unreachable",
	ErrCodeTimeout:        "operation timed out",
	ErrCodeNotFound:       "not found",
	ErrCodeNotSupported:   "not supported",
	ErrCodeError:          "generic error",
}

// Error implements the error interface.
func (c ErrorCode) Error() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("io error %d", int(c))
}

// IsCritical reports whether the code ends the life of a connection.
// Success and would-block are the only non-critical outcomes.
func (c ErrorCode) IsCritical() bool {
	return c != ErrCodeOK && c != ErrCodeWouldBlock
}

// Error carries a portable code together with the raw OS error number that produced it.
type Error struct {
	Code ErrorCode
	Sys  int    // raw errno / WSA error, 0 when synthesized
	Op   string // failing operation, e.g. "connect"
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Sys == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s (errno %d)", e.Op, e.Code, e.Sys)
}

// Unwrap exposes the portable code to errors.Is.
func (e *Error) Unwrap() error { return e.Code }

// NewError builds an Error for op.
func NewError(op string, code ErrorCode, sys int) *Error {
	return &Error{Code: code, Sys: sys, Op: op}
}

// CodeOf extracts the portable code from err. nil maps to ErrCodeOK and
// unknown errors to ErrCodeError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrCodeError
}
