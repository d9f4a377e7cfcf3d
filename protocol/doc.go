// File: protocol/doc.go
// License: Apache-2.0

// Package protocol holds the pure wire codecs used by the server: RFC 6455
// frame encoding and decoding, the opening handshake, and HTTP/1.1 request
// parsing and response serialization. Nothing here performs I/O; decoders
// report api.ErrTruncatedFrame when more bytes are needed.
package protocol
