// File: router/errors.go
// License: Apache-2.0

package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wordrush/wsreactor/protocol"
)

// Error is a handler failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Errorf builds an *Error.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest is shorthand for a 400 error.
func BadRequest(format string, args ...any) *Error {
	return Errorf(http.StatusBadRequest, format, args...)
}

// errorResponse renders err as {"message": ...}. Errors that are not an
// *Error become a 500.
func errorResponse(err error) *protocol.Response {
	var e *Error
	if errors.As(err, &e) {
		return protocol.ErrorJSON(e.Status, e.Message)
	}
	return protocol.ErrorJSON(http.StatusInternalServerError, err.Error())
}
