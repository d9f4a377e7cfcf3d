// File: protocol/http_request.go
// License: Apache-2.0
//
// HTTP/1.1 request framing and parsing over raw bytes.

package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/wordrush/wsreactor/api"
)

// MaxHeaderBytes bounds the request line plus headers.
const MaxHeaderBytes = 8 << 10

// MaxBodyBytes bounds the declared Content-Length of a request.
const MaxBodyBytes = 1 << 20

var headerEnd = []byte("\r\n\r\n")

// Method is a parsed HTTP method.
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodOptions
	MethodHead
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodPatch:   "PATCH",
	MethodOptions: "OPTIONS",
	MethodHead:    "HEAD",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return methodNames[MethodUnknown]
	}
	return methodNames[m]
}

// ParseMethod maps a request-line token to a Method.
func ParseMethod(s string) Method {
	for m, name := range methodNames {
		if m != int(MethodUnknown) && name == s {
			return Method(m)
		}
	}
	return MethodUnknown
}

// Header is one name/value pair in wire order.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list with case-insensitive lookup.
type Headers []Header

// Get returns the first value for name.
func (h Headers) Get(name string) string {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return true
		}
	}
	return false
}

// Add appends a header.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces every value of name with value.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every value of name.
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, kv := range *h {
		if !strings.EqualFold(kv.Name, name) {
			out = append(out, kv)
		}
	}
	*h = out
}

// ContainsToken reports whether the comma-separated values of name contain
// token, ignoring case.
func (h Headers) ContainsToken(name, token string) bool {
	for _, kv := range h {
		if !strings.EqualFold(kv.Name, name) {
			continue
		}
		for _, part := range strings.Split(kv.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Request is a parsed HTTP request.
type Request struct {
	Method    Method
	RawMethod string
	Target    string // request-target as sent
	Path      string // Target without the query
	Query     string
	Version   string
	Headers   Headers
	Body      []byte
}

// RequestLength reports the size of the first complete request in buf:
// the header block plus Content-Length body bytes. It returns
// api.ErrTruncatedFrame while bytes are missing.
func RequestLength(buf []byte) (int, error) {
	end := bytes.Index(buf, headerEnd)
	if end < 0 {
		if len(buf) > MaxHeaderBytes {
			return 0, api.Errorf(api.ErrCodeProtocolViolation, "request header exceeds %d bytes", MaxHeaderBytes)
		}
		return 0, api.ErrTruncatedFrame
	}
	if end > MaxHeaderBytes {
		return 0, api.Errorf(api.ErrCodeProtocolViolation, "request header exceeds %d bytes", MaxHeaderBytes)
	}
	block := buf[:end]
	contentLength := 0
	for len(block) > 0 {
		var line []byte
		if i := bytes.Index(block, []byte("\r\n")); i >= 0 {
			line, block = block[:i], block[i+2:]
		} else {
			line, block = block, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return 0, api.Errorf(api.ErrCodeProtocolViolation, "invalid Content-Length %q", value)
			}
			if n > MaxBodyBytes {
				return 0, api.Errorf(api.ErrCodeProtocolViolation, "Content-Length %d exceeds %d bytes", n, MaxBodyBytes)
			}
			contentLength = n
		case strings.EqualFold(name, "Transfer-Encoding") && !strings.EqualFold(value, "identity"):
			return 0, api.Errorf(api.ErrCodeProtocolViolation, "unsupported Transfer-Encoding %q", value)
		}
	}
	total := end + len(headerEnd) + contentLength
	if len(buf) < total {
		return 0, api.ErrTruncatedFrame
	}
	return total, nil
}

// ParseRequest parses one complete request. Bytes after the blank line are
// the body, verbatim.
func ParseRequest(raw []byte) (*Request, error) {
	head, body := raw, []byte(nil)
	if i := bytes.Index(raw, headerEnd); i >= 0 {
		head, body = raw[:i], raw[i+len(headerEnd):]
	}
	lines := strings.Split(string(head), "\r\n")
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, api.Errorf(api.ErrCodeProtocolViolation, "malformed request line %q", lines[0])
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, api.Errorf(api.ErrCodeProtocolViolation, "unsupported version %q", parts[2])
	}
	req := &Request{
		Method:    ParseMethod(parts[0]),
		RawMethod: parts[0],
		Target:    parts[1],
		Path:      parts[1],
		Version:   parts[2],
	}
	if i := strings.IndexByte(req.Target, '?'); i >= 0 {
		req.Path, req.Query = req.Target[:i], req.Target[i+1:]
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, api.Errorf(api.ErrCodeProtocolViolation, "malformed header line %q", line)
		}
		req.Headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}
