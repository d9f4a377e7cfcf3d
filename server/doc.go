// File: server/doc.go
// License: Apache-2.0

// Package server implements the reactor-driven HTTP/WebSocket server.
//
// One reactor goroutine waits on epoll, accepts connections and hands
// readiness to a single-flight worker pool. Workers run the connection
// state machine (Connected, Idle, Reading, Writing, Closing), segment input
// with the connection's framing strategy and pass complete messages to a
// Handler. Upgraded connections join a Pool, which broadcasts to all of
// them.
package server
