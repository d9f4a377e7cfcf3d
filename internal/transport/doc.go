// File: internal/transport/doc.go
// License: Apache-2.0
//
// Package transport wraps raw non-blocking TCP descriptors. A Socket owns
// its descriptor, its receive and send buffers and a small amount of
// connection metadata. Reads and writes drain the kernel until EAGAIN so
// the socket can be driven by an edge-triggered poller.
package transport
