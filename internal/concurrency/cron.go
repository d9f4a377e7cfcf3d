// File: internal/concurrency/cron.go
// License: Apache-2.0
//
// Cron runs named jobs on a fixed tick. A job fires once its next-run time
// has passed; periodic jobs are rescheduled, one-shot jobs switch off.

package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCronTick is the resolution of the job loop.
const DefaultCronTick = 10 * time.Millisecond

var (
	ErrJobExists   = errors.New("cron job already exists")
	ErrJobNotFound = errors.New("cron job not found")
)

// JobMode controls whether and how often a job fires.
type JobMode int

const (
	JobOff JobMode = iota
	JobOnce
	JobPeriodic
)

func (m JobMode) String() string {
	switch m {
	case JobOnce:
		return "once"
	case JobPeriodic:
		return "periodic"
	default:
		return "off"
	}
}

type cronJob struct {
	fn       func()
	interval time.Duration
	nextRun  time.Time
	mode     JobMode
}

// Cron is a ticking job scheduler.
type Cron struct {
	mu   sync.Mutex
	jobs map[string]*cronJob
	tick time.Duration
	now  func() time.Time
	log  *zap.Logger

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewCron creates a stopped scheduler. tick <= 0 selects DefaultCronTick.
func NewCron(tick time.Duration, log *zap.Logger) *Cron {
	if tick <= 0 {
		tick = DefaultCronTick
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cron{
		jobs: make(map[string]*cronJob),
		tick: tick,
		now:  time.Now,
		log:  log,
	}
}

// AddJob registers fn under id. The first run is one interval from now.
func (c *Cron) AddJob(id string, interval time.Duration, mode JobMode, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[id]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	c.jobs[id] = &cronJob{fn: fn, interval: interval, mode: mode, nextRun: c.now().Add(interval)}
	return nil
}

// RemoveJob deletes id and reports whether it existed.
func (c *Cron) RemoveJob(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[id]
	delete(c.jobs, id)
	return ok
}

// Mode returns the mode of id.
func (c *Cron) Mode(id string) (JobMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return JobOff, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.mode, nil
}

// SetMode changes the mode of id without moving its next run.
func (c *Cron) SetMode(id string, mode JobMode) error {
	return c.update(id, func(j *cronJob) { j.mode = mode })
}

// Interval returns the interval of id.
func (c *Cron) Interval(id string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.interval, nil
}

// NextRun returns when id fires next.
func (c *Cron) NextRun(id string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.nextRun, nil
}

// SetInterval changes the interval used for future reschedules.
func (c *Cron) SetInterval(id string, interval time.Duration) error {
	return c.update(id, func(j *cronJob) { j.interval = interval })
}

// ResetNextRun moves the next run to one interval from now.
func (c *Cron) ResetNextRun(id string) error {
	return c.update(id, func(j *cronJob) { j.nextRun = c.now().Add(j.interval) })
}

// SetJobSettings sets interval and mode and restarts the countdown.
func (c *Cron) SetJobSettings(id string, interval time.Duration, mode JobMode) error {
	return c.update(id, func(j *cronJob) {
		j.interval = interval
		j.mode = mode
		j.nextRun = c.now().Add(interval)
	})
}

func (c *Cron) update(id string, fn func(*cronJob)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	fn(j)
	return nil
}

// Start launches the tick loop. Calling Start twice is a no-op.
func (c *Cron) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.loop(c.stop)
}

// Stop halts the loop and waits for a running callback to return.
func (c *Cron) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cron) loop(stop <-chan struct{}) {
	defer c.wg.Done()
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.runDue(c.now())
		}
	}
}

// runDue fires every job whose next run is not after now. Callbacks run
// without the lock so they may reconfigure jobs.
func (c *Cron) runDue(now time.Time) int {
	var due []func()
	var names []string
	c.mu.Lock()
	for id, j := range c.jobs {
		if j.mode == JobOff || now.Before(j.nextRun) {
			continue
		}
		due = append(due, j.fn)
		names = append(names, id)
		if j.mode == JobOnce {
			j.mode = JobOff
		}
		j.nextRun = now.Add(j.interval)
	}
	c.mu.Unlock()
	for i, fn := range due {
		c.invoke(names[i], fn)
	}
	return len(due)
}

func (c *Cron) invoke(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cron job panic", zap.String("job", id), zap.Any("panic", r))
		}
	}()
	fn()
}
