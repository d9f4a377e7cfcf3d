// File: internal/concurrency/workerpool.go
// License: Apache-2.0
//
// WorkerPool runs a handler for connection ids on a fixed set of goroutines.
// Runs for the same id never overlap: readiness that arrives while an id is
// queued or running is coalesced into at most one follow-up run.

package concurrency

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Enqueue after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// HandlerFunc processes one id. It is never invoked concurrently for the
// same id.
type HandlerFunc func(id uint64)

type tracking struct {
	pending int // enqueues not yet consumed by a run
	queued  bool
	active  bool
	removed bool
}

type entry struct {
	id uint64
	tr *tracking
}

// WorkerPool is a bounded single-flight executor.
type WorkerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	fifo    *queue.Queue
	tracked map[uint64]*tracking
	closed  bool

	handler HandlerFunc
	size    int
	log     *zap.Logger
	wg      sync.WaitGroup

	executed atomic.Int64
	panics   atomic.Int64
}

// PoolOption customizes a WorkerPool.
type PoolOption func(*WorkerPool)

// WithLogger sets the logger used for recovered handler panics.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *WorkerPool) {
		if l != nil {
			p.log = l
		}
	}
}

// NewWorkerPool starts size workers. size <= 0 means one worker.
func NewWorkerPool(size int, handler HandlerFunc, opts ...PoolOption) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		fifo:    queue.New(),
		tracked: make(map[uint64]*tracking),
		handler: handler,
		size:    size,
		log:     zap.NewNop(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Enqueue schedules a run for id. If id is already queued or running the
// request is folded into a single follow-up run.
func (p *WorkerPool) Enqueue(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	tr := p.tracked[id]
	if tr == nil {
		tr = &tracking{}
		p.tracked[id] = tr
	}
	if tr.removed {
		return nil
	}
	tr.pending++
	if !tr.queued && !tr.active {
		tr.queued = true
		p.fifo.Add(entry{id: id, tr: tr})
		p.cond.Signal()
	}
	return nil
}

// Dequeue forgets id: a queued run is skipped and a running one is not
// followed up. Further Enqueue calls for id are ignored until the in-flight
// run, if any, returns.
func (p *WorkerPool) Dequeue(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr := p.tracked[id]
	if tr == nil {
		return
	}
	tr.removed = true
	tr.pending = 0
	if !tr.active {
		delete(p.tracked, id)
	}
}

// Close stops the workers and waits for in-flight runs. Queued runs are
// dropped.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Stats returns counters for debug probes.
func (p *WorkerPool) Stats() map[string]int64 {
	p.mu.Lock()
	queued, tracked := p.fifo.Length(), len(p.tracked)
	p.mu.Unlock()
	return map[string]int64{
		"workers":  int64(p.size),
		"queued":   int64(queued),
		"tracked":  int64(tracked),
		"executed": p.executed.Load(),
		"panics":   p.panics.Load(),
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		e, ok := p.next()
		if !ok {
			return
		}
		p.run(e.id)
		p.finish(e)
	}
}

// next blocks for the next live entry.
func (p *WorkerPool) next() (entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for p.fifo.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			return entry{}, false
		}
		e := p.fifo.Remove().(entry)
		if p.tracked[e.id] != e.tr || e.tr.removed {
			continue
		}
		e.tr.queued = false
		e.tr.active = true
		e.tr.pending = 0
		return e, true
	}
}

func (p *WorkerPool) finish(e entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr := e.tr
	tr.active = false
	switch {
	case tr.removed:
		if p.tracked[e.id] == tr {
			delete(p.tracked, e.id)
		}
	case tr.pending > 0 && !p.closed:
		tr.queued = true
		p.fifo.Add(e)
		p.cond.Signal()
	default:
		delete(p.tracked, e.id)
	}
}

func (p *WorkerPool) run(id uint64) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("worker handler panic",
				zap.Uint64("id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		p.executed.Add(1)
	}()
	p.handler(id)
}
