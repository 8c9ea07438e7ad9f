// Package kernelerr defines the kernel's exhaustive, stable error
// taxonomy (spec.md §7). Every precondition violation surfaced to a
// caller is one of these codes; nothing else reaches the request
// surface in a correct build.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error identifier. Transports (JSON-RPC,
// HTTP, whatever) serialize Code verbatim so callers can switch on it
// without string matching.
type Code string

const (
	TerminalBusy     Code = "TerminalBusy"
	TerminalNotOwned Code = "TerminalNotOwned"
	WalCorrupt       Code = "WalCorrupt"
	IoFatal          Code = "IoFatal"

	SessionNotFound Code = "SessionNotFound"
	SessionBusy     Code = "SessionBusy"

	TxNotFound   Code = "TxNotFound"
	InvalidState Code = "InvalidState"

	LineNotFound     Code = "LineNotFound"
	ParentVoided     Code = "ParentVoided"
	InvalidItemType  Code = "InvalidItemType"
	InvalidQuantity  Code = "InvalidQuantity"

	CurrencyMismatch       Code = "CurrencyMismatch"
	DecimalPlacesMismatch  Code = "DecimalPlacesMismatch"
	InvalidCurrency        Code = "InvalidCurrency"
	Arithmetic             Code = "Arithmetic"

	// Internal is reserved for bug reports; it should never reach a
	// caller in a correct build (spec.md §7).
	Internal Code = "Internal"
)

// Error is the concrete error type every kernel component returns.
// Offset and Reason are populated only for WalCorrupt; Cause wraps an
// underlying I/O error for IoFatal so callers can still unwrap to it.
type Error struct {
	Code    Code
	Message string
	Offset  int64 // WalCorrupt only
	Reason  string // WalCorrupt only
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, kernelerr.New(code, "")) to match purely on
// Code, ignoring Message/Offset/Reason/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds a plain *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a plain *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that wraps an underlying cause (used for
// IoFatal, where the cause is the OS-level write/fsync failure).
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WalCorruptAt builds the WalCorrupt{offset, reason} variant spec.md §4.5
// and §4.6 require recovery to surface.
func WalCorruptAt(offset int64, reason string) *Error {
	return &Error{Code: WalCorrupt, Offset: offset, Reason: reason, Message: fmt.Sprintf("wal corrupt at offset %d: %s", offset, reason)}
}

// Sentinel returns a bare *Error carrying only a Code, suitable as the
// target of errors.Is.
func Sentinel(code Code) *Error { return &Error{Code: code} }

// CodeOf extracts the Code from err if it is (or wraps) a *Error, and
// reports ok=false otherwise — callers that need to classify an
// arbitrary error (e.g. the RPC transport) use this instead of a type
// assertion.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
