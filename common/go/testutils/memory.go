// Package testutils provides small helpers for tests that need a real
// memory arena rather than a mock: grounded on the teacher's
// common/go/testutils/memory.go, which wrapped the C allocator directly
// through cgo. This module's allocator (package arena) is pure Go, so no
// cgo bridge is needed here any more.
package testutils

import (
	"github.com/c2h5oh/datasize"

	"github.com/yanetcore/fastpath/arena"
)

// MemoryContext is a disposable arena plus a named sub-allocator over it,
// sized for one test's worth of allocations.
type MemoryContext struct {
	arena *arena.Arena
	ctx   *arena.Context
}

// NewMemoryContext mmaps an arena of size and wraps it in a named
// allocation context, mirroring the original's memory_context_init over a
// malloc'd block allocator arena.
func NewMemoryContext(name string, size datasize.ByteSize) (MemoryContext, error) {
	a, err := arena.New(uint64(size))
	if err != nil {
		return MemoryContext{}, err
	}
	return MemoryContext{arena: a, ctx: arena.NewContext(name, a)}, nil
}

// Free releases the underlying arena's backing memory. Safe to call once;
// the MemoryContext must not be used afterwards.
func (m *MemoryContext) Free() error {
	return m.arena.Close()
}

// Context returns the named allocation context for use against this
// arena's allocator.
func (m *MemoryContext) Context() *arena.Context {
	return m.ctx
}

// Arena returns the backing arena, for tests exercising arena-level APIs
// directly (e.g. Ref resolution) rather than going through the context.
func (m *MemoryContext) Arena() *arena.Arena {
	return m.arena
}

// CPAlignmentOverhead returns the per-allocation rounding overhead a test
// should budget for above the raw byte count it requests, mirroring the
// original's block allocator alignment accounting. Unlike the teacher's
// cgo version this package carries no sanitizer-build variant, so there is
// no ASAN red-zone term to add.
func CPAlignmentOverhead() datasize.ByteSize {
	return datasize.ByteSize(arena.BlockSizeFor(0))
}
