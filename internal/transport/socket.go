// File: internal/transport/socket.go
// License: Apache-2.0
//
// Socket owns one non-blocking stream descriptor together with its receive
// and send buffers. The descriptor is closed exactly once.

package transport

import (
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wordrush/wsreactor/api"
)

const (
	// NoTimeout disables idle reaping for a socket.
	NoTimeout time.Duration = 0

	// DefaultMaxBuffered caps unconsumed inbound bytes per socket.
	DefaultMaxBuffered = 4 << 20

	readChunk = 16 << 10
)

// Socket is a non-blocking TCP endpoint. Buffers are not synchronized: the
// caller guarantees a single goroutine drives I/O at a time. Activity,
// state and the half-closed flag are atomic so the reaper may inspect them.
type Socket struct {
	fd   atomic.Int64
	host string
	port int

	lastActivity atomic.Int64 // unix nanos
	state        atomic.Int32
	halfClosed   atomic.Bool

	recvBuf     []byte
	sendBuf     []byte
	maxBuffered int

	metaMu sync.Mutex
	meta   map[string]string

	shutdownOnce sync.Once
	closeOnce    sync.Once
}

func newSocket(fd int, host string, port int) *Socket {
	s := &Socket{
		host:        host,
		port:        port,
		maxBuffered: DefaultMaxBuffered,
	}
	s.fd.Store(int64(fd))
	s.touch()
	return s
}

// FromFD adopts an already connected descriptor and switches it to
// non-blocking mode.
func FromFD(fd int, host string, port int) (*Socket, error) {
	if err := setNonblock(fd); err != nil {
		return nil, api.SyscallError(api.ErrCodeAccept, "set nonblock", err)
	}
	return newSocket(fd, host, port), nil
}

// Fd returns the descriptor, or -1 once the socket is closed.
func (s *Socket) Fd() int { return int(s.fd.Load()) }

// Host returns the peer host, empty for listeners.
func (s *Socket) Host() string { return s.host }

// Port returns the peer port for accepted sockets and the bound port for
// listeners.
func (s *Socket) Port() int { return s.port }

// Peer returns host:port.
func (s *Socket) Peer() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// SetMaxBuffered overrides the inbound buffer cap.
func (s *Socket) SetMaxBuffered(n int) {
	if n > 0 {
		s.maxBuffered = n
	}
}

// State returns the connection state stored on the socket.
func (s *Socket) State() api.ConnState { return api.ConnState(s.state.Load()) }

// SetState stores the connection state.
func (s *Socket) SetState(st api.ConnState) { s.state.Store(int32(st)) }

// HalfClosed reports whether the peer or the reaper ended the read side.
func (s *Socket) HalfClosed() bool { return s.halfClosed.Load() }

// MarkHalfClosed records that no more input will be read.
func (s *Socket) MarkHalfClosed() { s.halfClosed.Store(true) }

// LastActivity returns the time of the last successful read or write.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Socket) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// ShouldTimeout reports whether the socket has been quiet longer than
// threshold. A threshold of NoTimeout or less never expires.
func (s *Socket) ShouldTimeout(threshold time.Duration) bool {
	if threshold <= NoTimeout {
		return false
	}
	return time.Since(s.LastActivity()) > threshold
}

// Meta returns a metadata value.
func (s *Socket) Meta(key string) (string, bool) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	v, ok := s.meta[key]
	return v, ok
}

// SetMeta stores a metadata value.
func (s *Socket) SetMeta(key, value string) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if s.meta == nil {
		s.meta = make(map[string]string)
	}
	s.meta[key] = value
}

// Buffered returns the unconsumed inbound bytes. The slice is valid until
// the next read or Consume.
func (s *Socket) Buffered() []byte { return s.recvBuf }

// Consume drops n bytes from the front of the receive buffer.
func (s *Socket) Consume(n int) {
	if n >= len(s.recvBuf) {
		s.recvBuf = s.recvBuf[:0]
		return
	}
	m := copy(s.recvBuf, s.recvBuf[n:])
	s.recvBuf = s.recvBuf[:m]
}

// QueueSend appends p to the send buffer.
func (s *Socket) QueueSend(p []byte) { s.sendBuf = append(s.sendBuf, p...) }

// Pending returns the number of bytes waiting to be written.
func (s *Socket) Pending() int { return len(s.sendBuf) }

// ReadAllAvailable reads until the kernel has nothing more (EAGAIN) or the
// peer closed its side, in which case eof is true.
func (s *Socket) ReadAllAvailable() (eof bool, err error) {
	fd := s.Fd()
	if fd < 0 {
		return false, api.ErrClosed
	}
	for {
		if len(s.recvBuf) >= s.maxBuffered {
			return false, api.NewError(api.ErrCodeReceive, "receive buffer limit exceeded").
				WithContext("limit", s.maxBuffered)
		}
		s.recvBuf = slices.Grow(s.recvBuf, readChunk)
		free := s.recvBuf[len(s.recvBuf):cap(s.recvBuf)]
		n, err := sysRead(fd, free)
		switch {
		case err == errAgain:
			return false, nil
		case err != nil:
			return false, api.SyscallError(api.ErrCodeReceive, "read", err)
		case n == 0:
			return true, nil
		}
		s.recvBuf = s.recvBuf[:len(s.recvBuf)+n]
		s.touch()
	}
}

// WriteAllAvailable writes from the send buffer until it is empty or the
// kernel would block. drained reports an empty send buffer.
func (s *Socket) WriteAllAvailable() (drained bool, err error) {
	fd := s.Fd()
	if fd < 0 {
		return false, api.ErrClosed
	}
	for len(s.sendBuf) > 0 {
		n, err := sysWrite(fd, s.sendBuf)
		if err == errAgain {
			return false, nil
		}
		if err != nil {
			return false, api.SyscallError(api.ErrCodeSend, "write", err)
		}
		m := copy(s.sendBuf, s.sendBuf[n:])
		s.sendBuf = s.sendBuf[:m]
		s.touch()
	}
	return true, nil
}

// ShutdownRead disables further receives. Safe to call repeatedly and after
// HardClose.
func (s *Socket) ShutdownRead() {
	s.shutdownOnce.Do(func() {
		s.halfClosed.Store(true)
		if fd := s.Fd(); fd >= 0 {
			_ = sysShutdownRead(fd)
		}
	})
}

// HardClose closes the descriptor. Later calls are no-ops and Fd returns -1.
func (s *Socket) HardClose() error {
	var err error
	s.closeOnce.Do(func() {
		fd := int(s.fd.Swap(-1))
		if fd >= 0 {
			err = sysClose(fd)
		}
	})
	return err
}
