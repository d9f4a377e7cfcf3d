// File: router/json.go
// License: Apache-2.0

package router

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/wordrush/wsreactor/protocol"
	"github.com/wordrush/wsreactor/server"
)

// Validator is a request body that checks its own fields.
type Validator interface {
	Validate() error
}

// Empty is the body of requests that carry none.
type Empty struct{}

func (Empty) Validate() error { return nil }

// JSON adapts fn to a HandlerFunc. The request body is decoded into T (an
// empty body leaves the zero value), validated, and fn's result is encoded
// as a 200 JSON response. Decode and validation failures answer 400.
func JSON[T Validator](fn func(body T) (any, error)) HandlerFunc {
	return func(_ *server.Conn, req *protocol.Request) (*protocol.Response, error) {
		var body T
		if len(bytes.TrimSpace(req.Body)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(req.Body))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&body); err != nil {
				return nil, BadRequest("invalid request body: %v", err)
			}
		}
		if err := body.Validate(); err != nil {
			return nil, BadRequest("%v", err)
		}
		out, err := fn(body)
		if err != nil {
			return nil, err
		}
		return protocol.JSON(http.StatusOK, out), nil
	}
}
