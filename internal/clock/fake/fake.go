// Package fake provides a manually driven clock for deterministic tests and
// trace replays. Scheduled callbacks fire synchronously inside Advance.
package fake

import (
	"sync"
	"time"
)

// Clock is a controllable clock. It is safe for concurrent use, but callbacks
// registered with Every run on the goroutine that calls Advance.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*task
}

type task struct {
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

// New returns a Clock frozen at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps the clock to t without firing any scheduled callbacks. It models
// wall-clock adjustments, including jumps backwards.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := t.Sub(c.now)
	c.now = t
	for _, tk := range c.tasks {
		tk.next = tk.next.Add(delta)
	}
}

// Every schedules fn every interval, starting one interval from now.
func (c *Clock) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 || fn == nil {
		return func() {}
	}
	c.mu.Lock()
	tk := &task{interval: interval, next: c.now.Add(interval), fn: fn}
	c.tasks = append(c.tasks, tk)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tk.stopped = true
	}
}

// Advance moves time forward by d, firing due callbacks in chronological order.
// Ties fire in registration order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		due := c.nextDue(target)
		if due == nil {
			c.now = target
			c.prune()
			c.mu.Unlock()
			return
		}
		c.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
}

// Pending reports how many scheduled callbacks are still active.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tk := range c.tasks {
		if !tk.stopped {
			n++
		}
	}
	return n
}

func (c *Clock) nextDue(target time.Time) *task {
	var due *task
	for _, tk := range c.tasks {
		if tk.stopped || tk.next.After(target) {
			continue
		}
		if due == nil || tk.next.Before(due.next) {
			due = tk
		}
	}
	return due
}

func (c *Clock) prune() {
	live := c.tasks[:0]
	for _, tk := range c.tasks {
		if !tk.stopped {
			live = append(live, tk)
		}
	}
	c.tasks = live
}
