// Package timeutil lets task timing be stamped from a substitutable clock.
package timeutil

import (
	"sync"
	"time"
)

// Clock stamps task start and finish times.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// StepClock returns a fixed sequence of instants: every Now call yields the
// current value and then moves it forward by the step. Records stamped with
// it have deterministic, distinct start and finish times.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepClock starts at t. A zero step freezes the clock.
func NewStepClock(t time.Time, step time.Duration) *StepClock {
	return &StepClock{next: t, step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

// Skip moves the clock forward by d without returning an instant.
func (c *StepClock) Skip(d time.Duration) {
	c.mu.Lock()
	c.next = c.next.Add(d)
	c.mu.Unlock()
}
