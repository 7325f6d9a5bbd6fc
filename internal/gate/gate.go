// Package gate provides the single-permit FIFO gate that serializes
// every upstream provider call in the process.
package gate

import (
	"context"
	"sync"
)

// Gate admits at most one caller at a time into the upstream region.
// Waiters are admitted strictly in arrival order; there is no priority
// and no reentrancy.
type Gate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New returns a gate with a single free permit.
func New() *Gate {
	return &Gate{}
}

// Acquire blocks until the caller holds the permit or ctx ends. When
// Acquire returns a context error the caller does not hold the permit
// and must not call Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return nil
	}

	// Buffered so a handoff racing with cancellation never blocks
	// the releasing goroutine.
	ready := make(chan struct{}, 1)
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// Not in the queue anymore: the permit was handed to us
		// between Done firing and the lock. Pass it on.
		<-ready
		g.Release()
		return ctx.Err()
	}
}

// Release hands the permit to the longest-waiting caller, or frees it
// when nobody waits. Releasing an unheld gate is a programming error
// and panics.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		panic("gate: release of unheld permit")
	}

	if len(g.waiters) == 0 {
		g.held = false
		return
	}

	// The permit transfers directly; held stays true so arrivals
	// cannot barge ahead of the queue.
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	next <- struct{}{}
}

// Waiters reports how many callers are queued behind the permit.
func (g *Gate) Waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
