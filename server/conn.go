// File: server/conn.go
// License: Apache-2.0
//
// Conn is one entry of the connection table.

package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wordrush/wsreactor/api"
	"github.com/wordrush/wsreactor/internal/transport"
	"github.com/wordrush/wsreactor/protocol"
	"golang.org/x/time/rate"
)

const metaWebSocket = "websocket"

// Conn is a client connection. Its socket buffers and framing strategy
// belong to whichever worker currently runs it; other goroutines reach it
// only through Send, which posts into a mailbox.
type Conn struct {
	id   uint64
	uid  uuid.UUID
	sock *transport.Socket
	srv  *Server

	codec   codec // worker-owned
	reason  string
	limiter *rate.Limiter

	mu      sync.Mutex
	mailbox [][]byte
	closed  bool

	hangup atomic.Bool
	reaped atomic.Bool
}

func newConn(id uint64, sock *transport.Socket, srv *Server) *Conn {
	c := &Conn{
		id:    id,
		uid:   uuid.New(),
		sock:  sock,
		srv:   srv,
		codec: httpCodec{},
	}
	if srv.limit > 0 {
		c.limiter = rate.NewLimiter(srv.limit, srv.burst)
	}
	sock.SetMaxBuffered(srv.cfg.MaxBuffered)
	sock.SetState(api.StateConnected)
	return c
}

// ID returns the table id. Ids are never reused within a server.
func (c *Conn) ID() uint64 { return c.id }

// UUID returns a globally unique id for logs and clients.
func (c *Conn) UUID() string { return c.uid.String() }

// Peer returns the remote host:port.
func (c *Conn) Peer() string { return c.sock.Peer() }

// State returns the current state machine position.
func (c *Conn) State() api.ConnState { return c.sock.State() }

// IsWebSocket reports whether the handshake completed.
func (c *Conn) IsWebSocket() bool {
	v, _ := c.sock.Meta(metaWebSocket)
	return v == "true"
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn %d (%s)", c.id, c.sock.Peer())
}

// Send queues raw bytes for delivery and schedules the connection. It is
// safe to call from any goroutine.
func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return api.ErrClosed
	}
	c.mailbox = append(c.mailbox, p)
	c.mu.Unlock()
	if err := c.srv.workers.Enqueue(c.id); err != nil {
		return fmt.Errorf("%s: %w", c, api.ErrClosed)
	}
	return nil
}

// SendFrame queues an encoded frame.
func (c *Conn) SendFrame(f *protocol.Frame) error { return c.Send(f.Encode()) }

// SendText queues a text frame.
func (c *Conn) SendText(s string) error { return c.SendFrame(protocol.Text(s)) }

// drainMailbox moves posted messages into the send buffer.
func (c *Conn) drainMailbox() {
	c.mu.Lock()
	box := c.mailbox
	c.mailbox = nil
	c.mu.Unlock()
	for _, p := range box {
		c.sock.QueueSend(p)
	}
}

// markClosed rejects further Send calls.
func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mailbox = nil
	c.mu.Unlock()
}

func (c *Conn) closeReason() string {
	switch {
	case c.hangup.Load():
		return "hangup"
	case c.reaped.Load():
		return "idle"
	case c.reason != "":
		return c.reason
	default:
		return "eof"
	}
}
