// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package shutdown implements the core's graceful-shutdown controller: a
// one-shot trigger, a cooperative cancellation token every long-running
// component selects on, and a drain phase that waits for in-flight
// connections to finish (or a timeout to expire) before returning.
package shutdown

import (
	"context"
	"sync"
	"time"
)

// Controller coordinates an orderly shutdown across the inbounds,
// dispatcher, and background loops (health checker, cache prefetch).
// Grounded on the teacher's supervisor-style shutdown idiom: cancel a
// shared context first, then wait on a WaitGroup with a bounded timeout
// rather than blocking forever on stragglers.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	wg   sync.WaitGroup
}

// New builds a Controller derived from parent.
func New(parent context.Context) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{ctx: ctx, cancel: cancel}
}

// Done returns the cooperative cancellation signal; components select on
// this (or pass Context() directly) to notice a shutdown request.
func (c *Controller) Done() <-chan struct{} { return c.ctx.Done() }

// Context returns the cancellation token passed down to components.
func (c *Controller) Context() context.Context { return c.ctx }

// Track registers one in-flight unit of work (a connection, a listener's
// Serve loop) that Drain should wait for.
func (c *Controller) Track() func() {
	c.wg.Add(1)
	var once sync.Once
	return func() { once.Do(c.wg.Done) }
}

// Trigger signals shutdown exactly once; subsequent calls are no-ops.
func (c *Controller) Trigger() {
	c.once.Do(c.cancel)
}

// Drain triggers shutdown if not already triggered, then waits for every
// tracked unit of work to finish or timeout to elapse, whichever comes
// first. Returns true if drain completed cleanly, false on timeout.
func (c *Controller) Drain(timeout time.Duration) bool {
	c.Trigger()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
