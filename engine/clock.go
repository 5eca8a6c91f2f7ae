package engine

import (
	"sync/atomic"
	"time"
)

// Clock yields monotonic instants in nanoseconds. Successive readings from the
// same clock are strictly increasing.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() int64

// Now calls f.
func (f ClockFunc) Now() int64 { return f() }

type monotonicClock struct {
	base time.Time
	last atomic.Int64
}

// NewMonotonicClock returns a clock reading the process monotonic clock. Two
// readings that land on the same nanosecond are pushed apart by one.
func NewMonotonicClock() Clock {
	return &monotonicClock{base: time.Now()}
}

func (c *monotonicClock) Now() int64 {
	now := int64(time.Since(c.base))
	for {
		last := c.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// arrivals stamps orders at construction time and is the engine's default
// clock, so construction stamps and arrival stamps share one timeline.
var arrivals = NewMonotonicClock()
