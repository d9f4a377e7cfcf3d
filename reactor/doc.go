// File: reactor/doc.go
// License: Apache-2.0

// Package reactor provides the readiness multiplexer under the server loop:
// an edge-triggered epoll poller on Linux with an eventfd used to interrupt
// a blocked Wait.
package reactor
