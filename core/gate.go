package core

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultGateCapacity bounds simultaneous codec operations when no capacity
// is configured.
const DefaultGateCapacity = 5

// Gate is the batch-wide admission control for codec work.  Every decode and
// every variant job of every source passes through the same Gate.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewGate returns a Gate admitting at most capacity holders at once.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultGateCapacity
	}
	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), capacity: int64(capacity)}
}

// Acquire blocks until a slot is free or ctx is done.  A nil error must be
// paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Release returns one slot.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Do runs fn while holding one slot.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Capacity returns the configured number of slots.
func (g *Gate) Capacity() int { return int(g.capacity) }

// InFlight returns the number of currently admitted holders.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Peak returns the highest InFlight value observed so far.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// lease is one job's hold on a Gate.  It tracks whether the slot is held so
// that release is safe on every exit path, including after a failed
// re-acquire.
type lease struct {
	gate *Gate
	held bool
}

func (l *lease) acquire(ctx context.Context) error {
	if err := l.gate.Acquire(ctx); err != nil {
		return err
	}
	l.held = true
	return nil
}

func (l *lease) release() {
	if l.held {
		l.held = false
		l.gate.Release()
	}
}

// pause hands the slot back for d and then waits to be admitted again.
func (l *lease) pause(ctx context.Context, d time.Duration) error {
	l.release()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return l.acquire(ctx)
}
