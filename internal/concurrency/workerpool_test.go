package concurrency_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wordrush/wsreactor/internal/concurrency"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerPoolSingleFlightCoalesces(t *testing.T) {
	var runs, inFlight, overlap atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 8)

	p := concurrency.NewWorkerPool(4, func(id uint64) {
		if inFlight.Add(1) > 1 {
			overlap.Add(1)
		}
		n := runs.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		inFlight.Add(-1)
	})
	defer p.Close()

	if err := p.Enqueue(7); err != nil {
		t.Fatal(err)
	}
	<-started
	// Five readiness notifications while the first run is blocked.
	for i := 0; i < 5; i++ {
		if err := p.Enqueue(7); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	<-started

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want exactly one follow-up run", got)
	}
	if overlap.Load() != 0 {
		t.Fatal("handler ran concurrently for the same id")
	}
}

func TestWorkerPoolRunsDistinctIDsInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	gate := make(chan struct{})
	p := concurrency.NewWorkerPool(3, func(id uint64) {
		wg.Done()
		<-gate
	})
	defer p.Close()
	for id := uint64(1); id <= 3; id++ {
		p.Enqueue(id)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("distinct ids were not run in parallel")
	}
	close(gate)
}

func TestWorkerPoolDequeueSkipsQueuedRun(t *testing.T) {
	var ran sync.Map
	gate := make(chan struct{})
	p := concurrency.NewWorkerPool(1, func(id uint64) {
		if id == 1 {
			<-gate
		}
		ran.Store(id, true)
	})
	defer p.Close()

	p.Enqueue(1)
	waitFor(t, "first run", func() bool { return p.Stats()["queued"] == 0 })
	p.Enqueue(2)
	p.Dequeue(2)
	p.Enqueue(3)
	close(gate)
	waitFor(t, "id 3", func() bool { _, ok := ran.Load(uint64(3)); return ok })
	if _, ok := ran.Load(uint64(2)); ok {
		t.Fatal("dequeued id ran")
	}
}

func TestWorkerPoolDequeueDuringRunSuppressesFollowUp(t *testing.T) {
	var runs atomic.Int32
	var p *concurrency.WorkerPool
	p = concurrency.NewWorkerPool(2, func(id uint64) {
		runs.Add(1)
		p.Enqueue(id)
		p.Dequeue(id)
	})
	defer p.Close()
	p.Enqueue(11)
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
	waitFor(t, "tracking cleared", func() bool { return p.Stats()["tracked"] == 0 })
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	var calls atomic.Int32
	p := concurrency.NewWorkerPool(1, func(id uint64) {
		calls.Add(1)
		if id == 1 {
			panic("boom")
		}
	})
	defer p.Close()
	p.Enqueue(1)
	p.Enqueue(2)
	waitFor(t, "both runs", func() bool { return calls.Load() == 2 })
	if p.Stats()["panics"] != 1 {
		t.Fatalf("stats = %v", p.Stats())
	}
}

func TestWorkerPoolClose(t *testing.T) {
	p := concurrency.NewWorkerPool(2, func(uint64) {})
	p.Close()
	p.Close()
	if err := p.Enqueue(1); !errors.Is(err, concurrency.ErrPoolClosed) {
		t.Fatalf("Enqueue after close = %v", err)
	}
}
