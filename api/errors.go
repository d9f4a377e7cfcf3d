// File: api/errors.go
// License: Apache-2.0
//
// Error kinds shared by the socket, codec and server layers.

package api

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorCode classifies an Error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBind
	ErrCodeListen
	ErrCodeAccept
	ErrCodeWouldBlock
	ErrCodeReceive
	ErrCodeSend
	ErrCodeTruncatedFrame
	ErrCodeProtocolViolation
	ErrCodeHandshake
	ErrCodeClosed
	ErrCodeNotSupported
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "ok",
	ErrCodeBind:              "bind",
	ErrCodeListen:            "listen",
	ErrCodeAccept:            "accept",
	ErrCodeWouldBlock:        "would block",
	ErrCodeReceive:           "receive",
	ErrCodeSend:              "send",
	ErrCodeTruncatedFrame:    "truncated frame",
	ErrCodeProtocolViolation: "protocol violation",
	ErrCodeHandshake:         "handshake",
	ErrCodeClosed:            "closed",
	ErrCodeNotSupported:      "not supported",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrBind              = &Error{Code: ErrCodeBind, Message: "bind failed"}
	ErrListen            = &Error{Code: ErrCodeListen, Message: "listen failed"}
	ErrAccept            = &Error{Code: ErrCodeAccept, Message: "accept failed"}
	ErrWouldBlock        = &Error{Code: ErrCodeWouldBlock, Message: "operation would block"}
	ErrReceive           = &Error{Code: ErrCodeReceive, Message: "receive failed"}
	ErrSend              = &Error{Code: ErrCodeSend, Message: "send failed"}
	ErrTruncatedFrame    = &Error{Code: ErrCodeTruncatedFrame, Message: "truncated frame"}
	ErrProtocolViolation = &Error{Code: ErrCodeProtocolViolation, Message: "protocol violation"}
	ErrHandshake         = &Error{Code: ErrCodeHandshake, Message: "handshake failed"}
	ErrClosed            = &Error{Code: ErrCodeClosed, Message: "use of closed connection"}
	ErrNotSupported      = &Error{Code: ErrCodeNotSupported, Message: "operation not supported on this platform"}
)

// Error is a structured error with a kind, the failing operation, the
// underlying errno when a syscall was involved, and free-form context.
type Error struct {
	Code    ErrorCode
	Message string
	Op      string
	Errno   syscall.Errno
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Errno != 0 {
		fmt.Fprintf(&b, " (errno %d: %s)", int(e.Errno), e.Errno.Error())
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Context) > 0 {
		fmt.Fprintf(&b, " (context: %+v)", e.Context)
	}
	return b.String()
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SyscallError wraps a failed syscall. A syscall.Errno cause is recorded in Errno.
func SyscallError(code ErrorCode, op string, err error) *Error {
	e := &Error{Code: code, Message: code.String() + " failed", Op: op}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	} else {
		e.Err = err
	}
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the kind of err, or ErrCodeOK when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}
