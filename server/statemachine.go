// File: server/statemachine.go
// License: Apache-2.0
//
// Per-connection state machine, run by the worker pool. One run advances a
// connection until it is Idle, blocked in Writing, or closed.

package server

import (
	"errors"

	"github.com/wordrush/wsreactor/api"
	"go.uber.org/zap"
)

// serve is the worker pool handler.
func (s *Server) serve(id uint64) {
	c := s.lookup(id)
	if c == nil {
		return
	}
	st := c.sock.State()
	if c.hangup.Load() {
		st = api.StateClosing
	}
	for {
		switch st {
		case api.StateConnected, api.StateIdle:
			st = api.StateReading
		case api.StateReading:
			st = s.read(c)
			if st == api.StateIdle {
				c.sock.SetState(api.StateIdle)
				return
			}
		case api.StateWriting:
			next := s.write(c)
			if next == api.StateWriting {
				// Kernel buffer full; the next EPOLLOUT edge resumes us.
				c.sock.SetState(api.StateWriting)
				return
			}
			st = next
		case api.StateClosing:
			s.close(c, c.closeReason())
			return
		default:
			st = api.StateClosing
		}
		if c.hangup.Load() {
			st = api.StateClosing
		}
	}
}

func (s *Server) read(c *Conn) api.ConnState {
	c.sock.SetState(api.StateReading)
	if !c.sock.HalfClosed() {
		eof, err := c.sock.ReadAllAvailable()
		if err != nil {
			s.log.Debug("read failed", zap.Uint64("conn", c.id), zap.Error(err))
			c.reason = "read_error"
			return api.StateClosing
		}
		if eof {
			c.sock.MarkHalfClosed()
		}
	}
	s.process(c)
	c.drainMailbox()
	switch {
	case c.sock.Pending() > 0:
		return api.StateWriting
	case c.sock.HalfClosed():
		return api.StateClosing
	default:
		return api.StateIdle
	}
}

// process dispatches every complete message in the receive buffer.
func (s *Server) process(c *Conn) {
	for len(c.sock.Buffered()) > 0 {
		buf := c.sock.Buffered()
		cd := c.codec
		n, err := cd.frame(buf)
		if errors.Is(err, api.ErrTruncatedFrame) {
			return
		}
		if err == nil && (n <= 0 || n > len(buf)) {
			err = api.Errorf(api.ErrCodeProtocolViolation, "message length %d outside buffer of %d bytes", n, len(buf))
		}
		if err == nil {
			err = cd.handle(c, buf[:n])
		}
		switch {
		case err == nil:
			c.sock.Consume(n)
		case errors.Is(err, errCloseAfterFlush):
			c.reason = "close"
			s.stopReading(c)
			return
		default:
			s.log.Info("protocol violation",
				zap.Uint64("conn", c.id),
				zap.String("peer", c.Peer()),
				zap.Error(err),
			)
			c.reason = "protocol"
			cd.reject(c, err)
			s.stopReading(c)
			return
		}
	}
}

// stopReading half-closes the connection and discards unread input so the
// state machine flushes and closes.
func (s *Server) stopReading(c *Conn) {
	c.sock.ShutdownRead()
	c.sock.Consume(len(c.sock.Buffered()))
}

func (s *Server) write(c *Conn) api.ConnState {
	c.sock.SetState(api.StateWriting)
	c.drainMailbox()
	drained, err := c.sock.WriteAllAvailable()
	switch {
	case err != nil:
		s.log.Debug("write failed", zap.Uint64("conn", c.id), zap.Error(err))
		c.reason = "write_error"
		return api.StateClosing
	case !drained:
		return api.StateWriting
	case c.sock.HalfClosed():
		return api.StateClosing
	default:
		// Input may have arrived while the write was blocked.
		return api.StateReading
	}
}

// close tears a connection down. It runs on the connection's worker, so it
// is the only goroutine touching the socket; the descriptor leaves epoll
// before it is closed so a reused number cannot receive stale events.
func (s *Server) close(c *Conn, reason string) {
	c.sock.SetState(api.StateClosing)
	s.mu.Lock()
	_, present := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if !present {
		return
	}
	s.pool.Remove(c)
	c.markClosed()
	if fd := c.sock.Fd(); fd >= 0 {
		if err := s.poller.Remove(fd); err != nil {
			s.log.Debug("epoll remove failed", zap.Uint64("conn", c.id), zap.Error(err))
		}
	}
	if err := c.sock.HardClose(); err != nil {
		s.log.Debug("close failed", zap.Uint64("conn", c.id), zap.Error(err))
	}
	s.workers.Dequeue(c.id)
	s.metrics.ConnClosed(s.cfg.Name, reason)
	s.log.Debug("connection closed",
		zap.Uint64("conn", c.id),
		zap.String("peer", c.Peer()),
		zap.String("reason", reason),
	)
}
