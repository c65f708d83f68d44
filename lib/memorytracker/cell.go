package memorytracker

import (
	"context"
)

// Cell is the active-tracker slot of a single worker goroutine.
//
// It holds the Tracker the goroutine's allocations are currently attributed
// to, or nil if they aren't attributed to anything. The request-dispatch
// layer sets the cell when the goroutine starts working on a tracked scope
// and clears it when the goroutine moves to another scope or to idle work.
//
// A Cell is owned by exactly one goroutine and needs no synchronization.
// This is the Go counterpart of a thread-local active-tracker pointer.
type Cell struct {
	mt *Tracker
}

// Set makes mt the tracker charged for the owner goroutine's allocations.
//
// Pass nil in order to stop the attribution.
func (c *Cell) Set(mt *Tracker) {
	c.mt = mt
}

// Get returns the tracker currently occupying the cell, or nil.
func (c *Cell) Get() *Tracker {
	return c.mt
}

// Alloc charges size bytes against the tracker in the cell.
//
// It is a no-op if the cell is nil or empty.
func (c *Cell) Alloc(size int64) error {
	if c == nil || c.mt == nil {
		return nil
	}
	return c.mt.Alloc(size)
}

// Free returns size bytes to the tracker in the cell.
//
// It is a no-op if the cell is nil or empty.
func (c *Cell) Free(size int64) {
	if c == nil || c.mt == nil {
		return
	}
	c.mt.Free(size)
}

// Realloc charges the difference between newSize and oldSize against
// the tracker in the cell.
//
// It is a no-op if the cell is nil or empty.
func (c *Cell) Realloc(oldSize, newSize int64) error {
	if c == nil || c.mt == nil {
		return nil
	}
	return c.mt.Realloc(oldSize, newSize)
}

// Suppress empties the cell and returns a function restoring its previous
// contents.
//
// Use it around code which must not charge its allocations to the ambient
// tracker, e.g. bookkeeping structures of the tracker machinery itself:
//
//	restore := cell.Suppress()
//	defer restore()
//
// The returned function is idempotent, so the deferred call restores the cell
// exactly once even if it was already called on a non-panicking path.
func (c *Cell) Suppress() (restore func()) {
	prev := c.mt
	c.mt = nil
	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		c.mt = prev
	}
}

type cellContextKey struct{}

// ContextWithCell returns a derived context carrying the given cell.
//
// The dispatch layer uses it for handing the worker's cell through
// the request-processing call graph.
func ContextWithCell(ctx context.Context, c *Cell) context.Context {
	return context.WithValue(ctx, cellContextKey{}, c)
}

// CellFromContext returns the cell attached to ctx, or nil if there is none.
//
// The returned cell may be nil. Cell methods handle a nil receiver,
// so the result can be used without a nil check.
func CellFromContext(ctx context.Context) *Cell {
	c, _ := ctx.Value(cellContextKey{}).(*Cell)
	return c
}
