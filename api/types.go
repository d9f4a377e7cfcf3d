// File: api/types.go
// License: Apache-2.0
//
// Shared type declarations and constants.

package api

// ConnState is the lifecycle position of one client connection.
type ConnState int32

const (
	StateConnected ConnState = iota
	StateIdle
	StateReading
	StateWriting
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
