// Package system provides a real clock implementation.
package system

import (
	"sync"
	"time"
)

// Clock implements the engine clock capabilities using time.Now and time.Ticker.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Every runs fn on its own goroutine once per interval until the returned stop
// function is called. Stop blocks until an in-flight fn has returned, so it
// must not be called from inside fn.
func (Clock) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 || fn == nil {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
		<-finished
	}
}
