// File: server/server.go
// License: Apache-2.0
//
// Server owns the listening socket, the poller, the connection table and
// the worker pool. A single reactor goroutine accepts connections, turns
// readiness events into worker runs and reaps idle connections once per
// tick.

package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wordrush/wsreactor/api"
	"github.com/wordrush/wsreactor/control"
	"github.com/wordrush/wsreactor/internal/concurrency"
	"github.com/wordrush/wsreactor/internal/transport"
	"github.com/wordrush/wsreactor/reactor"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// listenerToken identifies the listening socket; connection ids start at 1.
const listenerToken = 0

var ErrAlreadyRunning = errors.New("server already running")

// Server is a reactor-driven HTTP and WebSocket server.
type Server struct {
	cfg     *Config
	handler Handler
	pool    *Pool
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes
	limit   rate.Limit
	burst   int

	listener *transport.Socket
	poller   reactor.Poller
	workers  *concurrency.WorkerPool

	mu     sync.Mutex
	conns  map[uint64]*Conn
	nextID atomic.Uint64

	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

// New builds a server. cfg may be nil for defaults; a nil handler answers
// every HTTP request with 404 and ignores WebSocket messages.
func New(cfg *Config, h Handler, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.normalize()
	if h == nil {
		h = HandlerFuncs{}
	}
	s := &Server{
		cfg:     &c,
		handler: h,
		log:     zap.NewNop(),
		conns:   make(map[uint64]*Conn),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("server", c.Name))
	if s.pool == nil {
		s.pool = NewPool(s.log, s.metrics)
	}
	return s
}

// Pool returns the WebSocket pool upgraded connections join.
func (s *Server) Pool() *Pool { return s.pool }

// Port returns the bound port, useful when configured with port 0.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.cfg.Port
	}
	return s.listener.Port()
}

// Len returns the number of connections in the table.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start binds the listener and launches the reactor and workers. Bind and
// listen failures are returned as api.ErrBind / api.ErrListen.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ln, err := transport.Listen(s.cfg.Address, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		s.started.Store(false)
		return err
	}
	poller, err := reactor.NewPoller()
	if err != nil {
		ln.HardClose()
		s.started.Store(false)
		return fmt.Errorf("server %s: %w", s.cfg.Name, err)
	}
	if err := poller.Add(ln.Fd(), listenerToken, reactor.InterestAccept); err != nil {
		poller.Close()
		ln.HardClose()
		s.started.Store(false)
		return fmt.Errorf("server %s: %w", s.cfg.Name, err)
	}
	s.listener = ln
	s.poller = poller
	s.workers = concurrency.NewWorkerPool(s.cfg.Workers, s.serve, concurrency.WithLogger(s.log))
	s.done = make(chan struct{})
	s.registerProbes()

	go s.loop()
	s.log.Info("server listening",
		zap.String("address", s.cfg.Address),
		zap.Int("port", ln.Port()),
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("idle_timeout", s.cfg.IdleTimeout),
	)
	return nil
}

// Run starts the server and blocks until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops accepting, joins the reactor and the workers, then closes
// the remaining connections and the poller.
func (s *Server) Shutdown() error {
	if !s.started.Load() || !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.poller.Remove(s.listener.Fd())
	s.listener.HardClose()
	s.poller.Wake()
	<-s.done

	s.workers.Close()

	s.mu.Lock()
	remaining := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		remaining = append(remaining, c)
	}
	s.conns = make(map[uint64]*Conn)
	s.mu.Unlock()
	for _, c := range remaining {
		s.pool.Remove(c)
		c.markClosed()
		c.sock.HardClose()
		s.metrics.ConnClosed(s.cfg.Name, "shutdown")
	}

	err := s.poller.Close()
	s.log.Info("server stopped", zap.Int("closed", len(remaining)))
	return err
}

func (s *Server) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	events := make([]reactor.Event, s.cfg.MaxEvents)
	lastReap := time.Now()
	for {
		n, err := s.poller.Wait(events, s.cfg.TickInterval)
		if s.stopping.Load() {
			return
		}
		if err != nil {
			s.log.Error("poll failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		for _, ev := range events[:n] {
			if ev.Token == listenerToken {
				s.acceptAll()
				continue
			}
			if ev.Has(reactor.EventError) {
				s.markHangup(ev.Token)
			}
			s.workers.Enqueue(ev.Token)
		}
		if time.Since(lastReap) >= s.cfg.TickInterval {
			s.reap()
			lastReap = time.Now()
		}
	}
}

// acceptAll drains the listen backlog; edge-triggered readiness is not
// repeated for connections left pending.
func (s *Server) acceptAll() {
	for {
		sock, err := s.listener.Accept()
		if errors.Is(err, api.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.log.Error("accept failed", zap.Error(err))
			return
		}
		id := s.nextID.Add(1)
		c := newConn(id, sock, s)
		s.mu.Lock()
		s.conns[id] = c
		s.mu.Unlock()
		if err := s.poller.Add(sock.Fd(), id, reactor.InterestStream); err != nil {
			s.mu.Lock()
			delete(s.conns, id)
			s.mu.Unlock()
			sock.HardClose()
			s.log.Error("register connection failed", zap.String("peer", sock.Peer()), zap.Error(err))
			continue
		}
		s.metrics.ConnAccepted(s.cfg.Name)
		s.log.Debug("connection accepted",
			zap.Uint64("conn", id),
			zap.String("uuid", c.UUID()),
			zap.String("peer", sock.Peer()),
		)
	}
}

func (s *Server) lookup(id uint64) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *Server) markHangup(id uint64) {
	if c := s.lookup(id); c != nil {
		c.hangup.Store(true)
	}
}

// reap half-closes connections idle longer than the configured timeout and
// schedules them; the state machine finishes the close. The shutdown runs
// under the table lock so it cannot race with a worker closing the
// descriptor.
func (s *Server) reap() {
	if s.cfg.IdleTimeout <= transport.NoTimeout {
		return
	}
	var stale []uint64
	s.mu.Lock()
	for id, c := range s.conns {
		if c.sock.ShouldTimeout(s.cfg.IdleTimeout) {
			if !c.reaped.Swap(true) {
				s.metrics.ConnReaped(s.cfg.Name)
				s.log.Debug("reaping idle connection", zap.Uint64("conn", id), zap.String("peer", c.Peer()))
			}
			c.sock.ShutdownRead()
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.workers.Enqueue(id)
	}
}

func (s *Server) registerProbes() {
	if s.probes == nil {
		return
	}
	prefix := "server." + s.cfg.Name
	s.probes.RegisterProbe(prefix+".connections", func() any { return s.Len() })
	s.probes.RegisterProbe(prefix+".workers", func() any { return s.workers.Stats() })
}
