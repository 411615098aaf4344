// Package clock provides the time source used to stamp entities.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// System is the wall clock in UTC.
var System Clock = Func(func() time.Time { return time.Now().UTC() })

// Stepping returns start on the first call and advances by step on every call
// after that. It is safe for concurrent use.
type Stepping struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepping creates a Stepping clock.
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{next: start, step: step}
}

func (s *Stepping) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.next
	s.next = s.next.Add(s.step)
	return now
}

// Fixed always returns the same instant.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}
