// File: protocol/http_response.go
// License: Apache-2.0
//
// HTTP/1.1 response model and serialization.

package protocol

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Response is an HTTP response ready to serialize.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    Headers
	Body       []byte

	head bool
}

// NewResponse creates a response with the standard reason phrase.
func NewResponse(status int) *Response {
	return &Response{Version: "HTTP/1.1", StatusCode: status, Reason: http.StatusText(status)}
}

// SetBody sets the body and its content type.
func (r *Response) SetBody(contentType string, body []byte) *Response {
	r.Headers.Set("Content-Type", contentType)
	r.Body = body
	return r
}

// JSON creates a response with v encoded as the body. An encoding failure
// yields a 500 with an error message body.
func JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return ErrorJSON(http.StatusInternalServerError, err.Error())
	}
	return NewResponse(status).SetBody("application/json", body)
}

// ErrorJSON creates a {"message": ...} response.
func ErrorJSON(status int, message string) *Response {
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{message})
	return NewResponse(status).SetBody("application/json", body)
}

// ForHead marks r as the answer to a HEAD request: Content-Length still
// describes Body, but the body is not written.
func (r *Response) ForHead() *Response {
	r.head = true
	return r
}

// NoContent creates a 204 response.
func NoContent() *Response { return NewResponse(http.StatusNoContent) }

// Options creates the 204 answer to an OPTIONS request listing allowed.
func Options(allowed []Method) *Response {
	names := make([]string, len(allowed))
	for i, m := range allowed {
		names[i] = m.String()
	}
	r := NoContent()
	r.Headers.Set("Allow", strings.Join(names, ", "))
	return r
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func (r *Response) writeTo(bb *bytebufferpool.ByteBuffer) {
	version := r.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	reason := r.Reason
	if reason == "" {
		reason = http.StatusText(r.StatusCode)
	}
	bb.WriteString(version)
	bb.WriteByte(' ')
	bb.B = strconv.AppendInt(bb.B, int64(r.StatusCode), 10)
	bb.WriteByte(' ')
	bb.WriteString(reason)
	bb.WriteString("\r\n")
	for _, h := range r.Headers {
		bb.WriteString(h.Name)
		bb.WriteString(": ")
		bb.WriteString(h.Value)
		bb.WriteString("\r\n")
	}
	if bodyAllowed(r.StatusCode) && !r.Headers.Has("Content-Length") {
		bb.WriteString("Content-Length: ")
		bb.B = strconv.AppendInt(bb.B, int64(len(r.Body)), 10)
		bb.WriteString("\r\n")
	}
	bb.WriteString("\r\n")
	if bodyAllowed(r.StatusCode) && !r.head {
		bb.Write(r.Body)
	}
}

// AppendTo appends the serialized response to dst.
func (r *Response) AppendTo(dst []byte) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	r.writeTo(bb)
	return append(dst, bb.B...)
}

// Bytes returns the serialized response.
func (r *Response) Bytes() []byte { return r.AppendTo(nil) }

// WriteTo writes the serialized response to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	r.writeTo(bb)
	return bb.WriteTo(w)
}
