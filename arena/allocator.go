package arena

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// minBlockSize is the smallest size class; blocks double from here up to
// the arena's own size. 64 bytes holds a free-list next-pointer (8 bytes)
// comfortably while staying small enough that fwmap buckets and LPM nodes
// don't waste much on internal fragmentation.
const minBlockSize = 64

// maxSizeClasses bounds the free-list table; an arena larger than
// minBlockSize<<maxSizeClasses than would need a bigger allocator, which
// no component in this module requires.
const maxSizeClasses = 32

// Allocator is a power-of-two block allocator over an Arena. Each size
// class keeps a singly linked free list whose "next" pointer is stored in
// the first 8 bytes of the free block itself — no side-table bookkeeping,
// so the allocator's live state is entirely serialized inside the arena
// the way a real shared-memory allocator's free lists would have to be.
type Allocator struct {
	arena *Arena
	heads [maxSizeClasses]uint64 // 0 = empty; otherwise 1+offset of head block
	brk   uint64                 // next never-allocated offset
}

func newAllocator(a *Arena) *Allocator {
	return &Allocator{arena: a, brk: minBlockSize} // offset 0 is reserved as "null"
}

func sizeClass(n uint64) (int, uint64) {
	if n < minBlockSize {
		n = minBlockSize
	}
	blockSize := uint64(minBlockSize)
	class := 0
	for blockSize < n {
		blockSize <<= 1
		class++
	}
	return class, blockSize
}

// Alloc reserves a block of at least n bytes and returns its offset
// reference. The returned block is not zeroed.
func (al *Allocator) Alloc(n uint64) (Ref[byte], error) {
	class, blockSize := sizeClass(n)
	if class >= maxSizeClasses {
		return Ref[byte]{}, fmt.Errorf("arena: requested size %d exceeds largest size class", n)
	}

	if head := al.heads[class]; head != 0 {
		off := head - 1
		next := binary.LittleEndian.Uint64(al.arena.mem[off : off+8])
		al.heads[class] = next
		return RefAt[byte](off), nil
	}

	if al.brk+blockSize > al.arena.Size() {
		return Ref[byte]{}, fmt.Errorf("arena: out of memory allocating %d bytes (class %d)", n, class)
	}
	off := al.brk
	al.brk += blockSize
	return RefAt[byte](off), nil
}

// Free returns a previously allocated block (of the size class matching n,
// the same size originally requested) to its free list.
func (al *Allocator) Free(r Ref[byte], n uint64) {
	class, _ := sizeClass(n)
	off := r.Offset()
	binary.LittleEndian.PutUint64(al.arena.mem[off:off+8], al.heads[class])
	al.heads[class] = off + 1
}

// BlockSizeFor returns the real block size backing a request of n bytes,
// i.e. the size class's rounded-up capacity.
func BlockSizeFor(n uint64) uint64 {
	_, blockSize := sizeClass(n)
	return blockSize
}

// classIndexForSize returns the size-class index for a given power-of-two
// block size. Nothing in this module calls it.
func classIndexForSize(blockSize uint64) int {
	return bits.Len64(blockSize/minBlockSize) - 1
}
