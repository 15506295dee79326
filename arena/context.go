package arena

import "sync/atomic"

// Context is a named sub-allocator over a shared Arena, tracking running
// allocation/free totals the way spec.md §4.1's memory_context does, so an
// introspection collaborator can report per-component memory pressure
// without walking the allocator's free lists itself.
type Context struct {
	name      string
	allocator *Allocator
	allocated atomic.Uint64
	freed     atomic.Uint64
}

// NewContext creates a named sub-allocator drawing blocks from a's
// allocator.
func NewContext(name string, a *Arena) *Context {
	return &Context{name: name, allocator: a.Allocator()}
}

// Name returns the context's identifying name (e.g. "acl", "fwstate").
func (c *Context) Name() string { return c.name }

// Alloc reserves n bytes and records the allocation in the running totals.
func (c *Context) Alloc(n uint64) (Ref[byte], error) {
	r, err := c.allocator.Alloc(n)
	if err != nil {
		return Ref[byte]{}, err
	}
	c.allocated.Add(BlockSizeFor(n))
	return r, nil
}

// Free releases a block previously obtained from Alloc with the same size.
func (c *Context) Free(r Ref[byte], n uint64) {
	c.allocator.Free(r, n)
	c.freed.Add(BlockSizeFor(n))
}

// Stats returns the (allocated, freed) byte totals observed by this
// context since creation. allocated-freed is the context's current live
// footprint.
func (c *Context) Stats() (allocated, freed uint64) {
	return c.allocated.Load(), c.freed.Load()
}
