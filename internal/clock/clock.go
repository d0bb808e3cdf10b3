package clock

import (
	"sync"
	"time"
)

// Clock is the single time source for policy decisions
type Clock interface {
	Now() time.Time
}

// Real reads the system clock
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Frozen is a settable clock for tests
type Frozen struct {
	mu  sync.Mutex
	now time.Time
}

func NewFrozen(now time.Time) *Frozen {
	return &Frozen{now: now}
}

func (f *Frozen) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t
func (f *Frozen) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d
func (f *Frozen) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
