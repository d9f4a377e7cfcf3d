// File: server/types.go
// License: Apache-2.0
//
// Server configuration and the handler seam.

package server

import (
	"time"

	"github.com/wordrush/wsreactor/internal/transport"
	"github.com/wordrush/wsreactor/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Name          string        // label used in logs and metrics
	Address       string        // bind address, e.g. "0.0.0.0"
	Port          int           // bind port, 0 picks an ephemeral port
	Backlog       int           // listen backlog, <= 0 uses SOMAXCONN
	Workers       int           // worker pool size
	IdleTimeout   time.Duration // reap connections quiet for longer; 0 never reaps
	TickInterval  time.Duration // reactor wait timeout and reaper period
	MaxEvents     int           // events fetched per wait
	MaxBuffered   int           // unconsumed inbound bytes allowed per connection
	WebSocketPath string        // request path that performs the upgrade
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "http",
		Address:       "0.0.0.0",
		Port:          8080,
		Backlog:       128,
		Workers:       10,
		IdleTimeout:   30 * time.Second,
		TickInterval:  time.Second,
		MaxEvents:     256,
		MaxBuffered:   transport.DefaultMaxBuffered,
		WebSocketPath: "/ws",
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = d.MaxBuffered
	}
	if c.WebSocketPath == "" {
		c.WebSocketPath = d.WebSocketPath
	}
}

// Handler receives complete messages from the connection state machine.
// Both methods run on a worker goroutine and never concurrently for the
// same connection.
type Handler interface {
	// HandleHTTP answers a request. A nil response becomes a 404.
	HandleHTTP(c *Conn, req *protocol.Request) *protocol.Response

	// HandleMessage receives a text or binary frame and may return a frame
	// to send back. An error closes the connection with status 1011.
	HandleMessage(c *Conn, f *protocol.Frame) (*protocol.Frame, error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are allowed.
type HandlerFuncs struct {
	HTTP    func(c *Conn, req *protocol.Request) *protocol.Response
	Message func(c *Conn, f *protocol.Frame) (*protocol.Frame, error)
}

func (h HandlerFuncs) HandleHTTP(c *Conn, req *protocol.Request) *protocol.Response {
	if h.HTTP == nil {
		return nil
	}
	return h.HTTP(c, req)
}

func (h HandlerFuncs) HandleMessage(c *Conn, f *protocol.Frame) (*protocol.Frame, error) {
	if h.Message == nil {
		return nil, nil
	}
	return h.Message(c, f)
}
