// File: server/framing.go
// License: Apache-2.0
//
// Framing strategies. A connection starts with httpCodec and switches to
// wsCodec after a successful upgrade; bytes already buffered behind the
// upgrade request are decoded as frames.

package server

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/wordrush/wsreactor/api"
	"github.com/wordrush/wsreactor/protocol"
	"go.uber.org/zap"
)

// errCloseAfterFlush asks the state machine to stop reading, flush what is
// queued and close.
var errCloseAfterFlush = errors.New("close after flush")

type codec interface {
	// frame returns the size of the first complete message in buf, or
	// api.ErrTruncatedFrame.
	frame(buf []byte) (int, error)
	// handle processes one complete message and queues any reply.
	handle(c *Conn, msg []byte) error
	// reject queues the answer to a framing error before the connection
	// is closed.
	reject(c *Conn, err error)
}

type httpCodec struct{}

func (httpCodec) frame(buf []byte) (int, error) { return protocol.RequestLength(buf) }

func (httpCodec) reject(c *Conn, err error) {
	resp := protocol.ErrorJSON(http.StatusBadRequest, err.Error())
	resp.Headers.Set("Connection", "close")
	c.sock.QueueSend(resp.Bytes())
}

func (h httpCodec) handle(c *Conn, msg []byte) error {
	s := c.srv
	req, err := protocol.ParseRequest(msg)
	if err != nil {
		return err
	}
	if req.Path == s.cfg.WebSocketPath && req.Method == protocol.MethodGet {
		return h.upgrade(c, req)
	}

	start := time.Now()
	resp := s.handler.HandleHTTP(c, req)
	s.metrics.Message(s.cfg.Name, "http", time.Since(start))
	if resp == nil {
		resp = protocol.ErrorJSON(http.StatusNotFound, "not found")
	}
	if req.Method == protocol.MethodHead {
		resp.ForHead()
	}
	c.sock.QueueSend(resp.Bytes())
	if req.Headers.ContainsToken("Connection", "close") {
		return errCloseAfterFlush
	}
	return nil
}

func (httpCodec) upgrade(c *Conn, req *protocol.Request) error {
	s := c.srv
	resp, err := protocol.Handshake(req)
	if err != nil {
		s.metrics.Upgrade(s.cfg.Name, false)
		s.log.Warn("websocket handshake rejected",
			zap.Uint64("conn", c.id),
			zap.String("peer", c.Peer()),
			zap.Error(err),
		)
		c.sock.QueueSend(protocol.ErrorJSON(http.StatusBadRequest, err.Error()).Bytes())
		return nil
	}
	c.sock.QueueSend(resp.Bytes())
	c.sock.SetMeta(metaWebSocket, "true")
	c.codec = wsCodec{}
	s.pool.Add(c)
	s.metrics.Upgrade(s.cfg.Name, true)
	s.log.Info("websocket connection established",
		zap.Uint64("conn", c.id),
		zap.String("uuid", c.UUID()),
		zap.String("peer", c.Peer()),
	)
	return nil
}

type wsCodec struct{}

func (wsCodec) frame(buf []byte) (int, error) {
	n, err := protocol.FrameLength(buf)
	if err != nil {
		return 0, err
	}
	if len(buf) < n {
		return 0, api.ErrTruncatedFrame
	}
	return n, nil
}

func (wsCodec) reject(c *Conn, err error) {
	c.sock.QueueSend(protocol.Close(protocol.CloseCodeFor(err), "").Encode())
}

func (wsCodec) handle(c *Conn, msg []byte) error {
	s := c.srv
	f, _, err := protocol.DecodeFrame(msg)
	if err != nil {
		return err
	}
	if !f.Masked {
		return protocol.Violation(protocol.CloseProtocolError, "client frame is not masked")
	}
	if f.IsFragment() || f.Opcode == protocol.OpcodeContinuation {
		return protocol.Violation(protocol.CloseUnsupportedData, "fragmented messages are not supported")
	}

	switch f.Opcode {
	case protocol.OpcodePing:
		c.sock.QueueSend(protocol.Pong(f.Payload).Encode())
		return nil
	case protocol.OpcodePong:
		return nil
	case protocol.OpcodeClose:
		code, _, ok := f.CloseDetails()
		if !ok {
			code = protocol.CloseNormalClosure
		}
		c.sock.QueueSend(protocol.Close(code, "").Encode())
		return errCloseAfterFlush
	}

	if f.Opcode == protocol.OpcodeText && !utf8.Valid(f.Payload) {
		return protocol.Violation(protocol.CloseInvalidPayloadData, "text frame is not valid UTF-8")
	}
	if c.limiter != nil && !c.limiter.Allow() {
		s.metrics.FrameDropped(s.cfg.Name)
		s.log.Debug("frame dropped by rate limiter", zap.Uint64("conn", c.id))
		return nil
	}

	start := time.Now()
	reply, err := s.handler.HandleMessage(c, f)
	s.metrics.Message(s.cfg.Name, "ws", time.Since(start))
	if err != nil {
		s.log.Error("message handler failed", zap.Uint64("conn", c.id), zap.Error(err))
		c.sock.QueueSend(protocol.Close(protocol.CloseInternalServerErr, "internal error").Encode())
		return errCloseAfterFlush
	}
	if reply != nil {
		c.sock.QueueSend(reply.Encode())
	}
	return nil
}
