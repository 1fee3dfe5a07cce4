// Package abort implements the cancellation signal tree (C9): parent-child
// linkage where aborting a parent aborts every live child, aborting a
// child never reaches back up, and cleanup detaches one edge without
// touching siblings or the child's own state. Every suspension point in
// C3/C4/C6/C7 selects on a Controller's Done() channel the way the
// teacher's worker loop selects on ctx.Done() alongside its write queue
// (internal/engine/concurrent/worker.go).
package abort

import (
	"context"
	"sync"
	"time"
)

// Controller is a node in the cancellation tree.
type Controller struct {
	mu       sync.Mutex
	done     chan struct{}
	aborted  bool
	children map[*Controller]struct{}
}

// New creates a root controller with no parent.
func New() *Controller {
	return &Controller{done: make(chan struct{})}
}

// NewChild creates a controller linked beneath parent. If parent is
// already aborted, the child becomes aborted synchronously before
// NewChild returns. cleanup detaches the child from parent; calling it
// any number of times after the first is a no-op, and once detached the
// child observes no further transitions from parent (it keeps whatever
// abort state it already had).
func NewChild(parent *Controller) (child *Controller, cleanup func()) {
	child = New()
	if parent == nil {
		return child, func() {}
	}

	parent.mu.Lock()
	if parent.aborted {
		parent.mu.Unlock()
		child.Abort()
		return child, func() {}
	}
	if parent.children == nil {
		parent.children = make(map[*Controller]struct{})
	}
	parent.children[child] = struct{}{}
	parent.mu.Unlock()

	var once sync.Once
	cleanup = func() {
		once.Do(func() {
			parent.mu.Lock()
			delete(parent.children, child)
			parent.mu.Unlock()
		})
	}
	return child, cleanup
}

// NewChildren creates n controllers linked beneath parent, plus a single
// cleanup that detaches all of them.
func NewChildren(n int, parent *Controller) (children []*Controller, cleanup func()) {
	children = make([]*Controller, n)
	cleanups := make([]func(), n)
	for i := 0; i < n; i++ {
		children[i], cleanups[i] = NewChild(parent)
	}
	return children, func() {
		for _, c := range cleanups {
			c()
		}
	}
}

// Abort cancels c and every live child currently linked beneath it.
// Idempotent: aborting an already-aborted controller is a no-op.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	close(c.done)
	children := c.children
	c.children = nil
	c.mu.Unlock()

	for child := range children {
		child.Abort()
	}
}

// Aborted reports whether c has been aborted.
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Done returns the channel closed on abort.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Context adapts c to context.Context, so it can be threaded through
// anything written against the standard library (HTTP calls, time.After
// selects in C3/C4).
func (c *Controller) Context() context.Context {
	return ctxAdapter{c}
}

type ctxAdapter struct{ c *Controller }

func (a ctxAdapter) Deadline() (time.Time, bool) { return time.Time{}, false }
func (a ctxAdapter) Done() <-chan struct{}       { return a.c.Done() }
func (a ctxAdapter) Err() error {
	if a.c.Aborted() {
		return context.Canceled
	}
	return nil
}
func (a ctxAdapter) Value(key any) any { return nil }
