// Package arena implements the offset-relative pointer and block allocator
// primitives: a structure placed inside an Arena is addressed by offset
// rather than by Go pointer, so the layout survives being mapped at a
// different base address in another process. The lpm tables, fwmap shards
// and layer map in this module are ordinary Go values and do not allocate
// from an Arena; common/go/testutils is its only user outside this package.
package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Ref is an offset-relative reference into an Arena, tagged with the
// pointee's type so callers can't accidentally resolve it against the
// wrong arena's layout. The zero Ref is the null reference, mirroring
// ADDR_OF(0) in the original's offset-pointer scheme.
type Ref[T any] struct {
	offset uint64
}

// IsNil reports whether r is the null reference.
func (r Ref[T]) IsNil() bool { return r.offset == 0 }

// Offset returns the raw byte offset backing r.
func (r Ref[T]) Offset() uint64 { return r.offset }

// RefAt constructs a Ref from a raw byte offset, as when deserializing a
// layout built by a control-plane compiler (e.g. an LPM block index).
func RefAt[T any](offset uint64) Ref[T] { return Ref[T]{offset: offset} }

// Arena is a flat byte buffer, backed by an anonymous shared mapping so the
// offset-relative addressing discipline is exercised against real shared
// memory semantics rather than a plain Go slice (which a GC is free to
// move, defeating the whole point of offset pointers).
type Arena struct {
	mem   []byte
	alloc *Allocator
}

// New allocates an Arena of the given size (rounded up to a page multiple
// by the kernel) and initializes a block allocator over it.
func New(size uint64) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("arena: size must be > 0")
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap %d bytes: %w", size, err)
	}
	a := &Arena{mem: mem}
	a.alloc = newAllocator(a)
	return a, nil
}

// Close unmaps the backing memory. The Arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Size returns the arena's total capacity in bytes.
func (a *Arena) Size() uint64 { return uint64(len(a.mem)) }

// Allocator returns the arena's block allocator.
func (a *Arena) Allocator() *Allocator { return a.alloc }

// Bytes returns the n-byte slice at r's offset. Resolving a Ref against an
// arena it was not allocated from is caller error, exactly as dereferencing
// a raw offset pointer against the wrong base would be.
func Bytes[T any](a *Arena, r Ref[T], n int) []byte {
	if r.IsNil() {
		panic("arena: dereference of nil Ref")
	}
	off := r.offset
	if off+uint64(n) > uint64(len(a.mem)) {
		panic("arena: Ref out of bounds")
	}
	return a.mem[off : off+uint64(n)]
}

// At resolves r to a typed value copy of size n (the caller passes the
// concrete struct's encoded width since Go cannot express "sizeof(T)" for
// an arbitrary T without unsafe, and this package avoids unsafe entirely).
func At[T any](a *Arena, r Ref[T], decode func([]byte) T, n int) T {
	return decode(Bytes(a, r, n))
}
