// Package lpm implements the longest-prefix-match trie described by the
// data model: an 8-bit-stride, 256-entry-per-node trie over IPv4 or IPv6
// keys, resolving to a 32-bit value id. Lookup and insert are both
// O(address length) — 4 steps for IPv4, 16 for IPv6.
package lpm

import "net/netip"

// Invalid is the value id returned by Lookup on a miss.
const Invalid uint32 = 0xFFFFFFFF

const (
	blockRefMask   = 0xC0000000
	blockIndexMask = 0x3FFFFFFF
	prefixLenShift = 24
	valueIDMask    = 0x00FFFFFF

	blockWidth = 256
)

type block [blockWidth]uint32

// Table is a single-family LPM trie (construct one per address family —
// callers needing both v4 and v6 keep two Tables, matching the data
// model's fw4state/fw6state and ACL compiler's split net dimensions).
type Table struct {
	blocks []block
}

// New constructs an empty table with its root block allocated.
func New() *Table {
	return &Table{blocks: []block{{}}}
}

func blockWithValue(initValue uint32) block {
	var b block
	if initValue != 0 {
		for i := range b {
			b[i] = initValue
		}
	}
	return b
}

func isBlockRef(v uint32) bool { return v&blockRefMask == blockRefMask }
func isInvalid(v uint32) bool  { return v == 0 }

func encodeValue(valueID uint32, prefixLen int) uint32 {
	return (uint32(prefixLen+1) << prefixLenShift) | (valueID & valueIDMask)
}

func decodeValue(encoded uint32) (valueID uint32, prefixLen int) {
	return encoded & valueIDMask, int(encoded>>prefixLenShift) - 1
}

func decodeBlockRef(encoded uint32) int { return int(encoded & blockIndexMask) }
func encodeBlockRef(idx int) uint32     { return blockRefMask | uint32(idx) }

func (t *Table) propagate(blockIdx int, valueID uint32, prefixLen int, start, end uint8) {
	newVal := encodeValue(valueID, prefixLen)
	for i := int(start); i <= int(end); i++ {
		cur := t.blocks[blockIdx][i]
		switch {
		case isBlockRef(cur):
			t.propagate(decodeBlockRef(cur), valueID, prefixLen, 0, blockWidth-1)
		case isInvalid(cur):
			t.blocks[blockIdx][i] = newVal
		default:
			_, existingLen := decodeValue(cur)
			if prefixLen >= existingLen {
				t.blocks[blockIdx][i] = newVal
			}
		}
	}
}

// Insert maps prefix to valueID. A narrower (more specific) prefix always
// wins over a broader one previously inserted; inserting the same prefix
// twice overwrites with the later value.
//
// valueID must fit in 24 bits (the top byte of each trie slot encodes
// prefix length); callers needing more than 16M distinct values should
// shard across multiple tables.
func (t *Table) Insert(prefix netip.Prefix, valueID uint32) {
	prefixLen := prefix.Bits()
	blockIdx := 0

	addrBytes := prefix.Addr().AsSlice()
	for idx, b := range addrBytes {
		tail := (idx+1)*8 - prefixLen
		if tail >= 0 {
			mask := uint8(0xff << uint(tail))
			start := b & mask
			end := start | ^mask
			t.propagate(blockIdx, valueID, prefixLen, start, end)
			return
		}

		cur := t.blocks[blockIdx][b]
		if isBlockRef(cur) {
			blockIdx = decodeBlockRef(cur)
			continue
		}

		newBlockIdx := len(t.blocks)
		t.blocks[blockIdx][b] = encodeBlockRef(newBlockIdx)
		t.blocks = append(t.blocks, blockWithValue(cur))
		blockIdx = newBlockIdx
	}
}

// Lookup returns the value id of the longest prefix covering addr, or
// Invalid if no inserted prefix matches.
func (t *Table) Lookup(addr netip.Addr) uint32 {
	blockIdx := 0
	for _, b := range addr.AsSlice() {
		v := t.blocks[blockIdx][b]
		switch {
		case isBlockRef(v):
			blockIdx = decodeBlockRef(v)
		case isInvalid(v):
			return Invalid
		default:
			valueID, _ := decodeValue(v)
			return valueID
		}
	}
	return Invalid
}

// BlockCount returns the number of trie nodes allocated, for introspection.
func (t *Table) BlockCount() int { return len(t.blocks) }
