// File: server/pool.go
// License: Apache-2.0
//
// Pool is the registry of upgraded WebSocket connections and the broadcast
// seam used by application code.

package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wordrush/wsreactor/control"
	"github.com/wordrush/wsreactor/protocol"
	"go.uber.org/zap"
)

// Pool tracks WebSocket connections, possibly from several servers.
type Pool struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	log     *zap.Logger
	metrics *control.Metrics
}

// NewPool creates an empty pool. Both arguments may be nil.
func NewPool(log *zap.Logger, m *control.Metrics) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{conns: make(map[*Conn]struct{}), log: log, metrics: m}
}

// Add registers c.
func (p *Pool) Add(c *Conn) {
	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()
}

// Remove unregisters c. Removing an unknown connection is a no-op.
func (p *Pool) Remove(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

// Len returns the number of registered connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Pool) snapshot() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out
}

// BroadcastFrame queues f on every registered connection and returns how
// many accepted it. A connection that fails is logged and skipped.
func (p *Pool) BroadcastFrame(f *protocol.Frame) int {
	wire := f.Encode()
	delivered := 0
	for _, c := range p.snapshot() {
		if err := c.Send(wire); err != nil {
			p.log.Debug("broadcast skipped connection", zap.Uint64("conn", c.ID()), zap.Error(err))
			continue
		}
		delivered++
	}
	p.metrics.Broadcast(delivered)
	return delivered
}

// Broadcast sends payload as a text frame to every connection.
func (p *Pool) Broadcast(payload []byte) int {
	return p.BroadcastFrame(protocol.Text(string(payload)))
}

// BroadcastJSON encodes v and broadcasts it as text.
func (p *Pool) BroadcastJSON(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("broadcast: %w", err)
	}
	return p.Broadcast(b), nil
}
