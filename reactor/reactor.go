// File: reactor/reactor.go
// License: Apache-2.0
//
// Platform-neutral poller interface.

package reactor

import "time"

// FDEventType is a readiness bit set.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	// EventHangup reports that the peer closed its write side (RDHUP).
	EventHangup
	// EventError covers EPOLLERR and EPOLLHUP.
	EventError
)

// Interest selects what a registration reports.
type Interest uint32

const (
	// InterestAccept watches a listening socket for pending connections.
	InterestAccept Interest = iota
	// InterestStream watches a connection for input, output room and hangup.
	InterestStream
)

// Event is one readiness notification. Token is the value given to Add.
type Event struct {
	Token uint64
	Type  FDEventType
}

// Has reports whether all bits in t are set.
func (e Event) Has(t FDEventType) bool { return e.Type&t == t }

// Poller multiplexes readiness for many descriptors. All registrations are
// edge-triggered. Add, Remove and Wake are safe to call from any goroutine.
type Poller interface {
	// Add registers fd. Events for it carry token.
	Add(fd int, token uint64, interest Interest) error

	// Remove deregisters fd. Call it before closing the descriptor.
	Remove(fd int) error

	// Wait blocks up to timeout (negative blocks indefinitely) and fills
	// events. A Wake or a signal interruption returns early with n == 0.
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// Wake interrupts a concurrent Wait.
	Wake() error

	// Close releases the poller.
	Close() error
}
