package acl

import (
	"sort"

	"github.com/yanetcore/fastpath/common/go/bitset"
)

// maxRules bounds how many rules a single Compiler instance can classify:
// each rule occupies one bit of a bitset.TinyBitset (carried over from the
// teacher unmodified), which is fixed-width.
const maxRules = bitset.MaxBitsetWords * 64

// bitsetInterner deduplicates TinyBitset values into small dense ids, so
// every value table this package builds can use a plain uint32 class id
// as its cell type instead of carrying a 128-byte bitset per cell.
type bitsetInterner struct {
	list  []bitset.TinyBitset
	index map[bitset.TinyBitset]uint32
}

func newBitsetInterner() *bitsetInterner {
	in := &bitsetInterner{index: map[bitset.TinyBitset]uint32{}}
	in.intern(bitset.TinyBitset{})
	return in
}

func (in *bitsetInterner) intern(bs bitset.TinyBitset) uint32 {
	if id, ok := in.index[bs]; ok {
		return id
	}
	id := uint32(len(in.list))
	in.list = append(in.list, bs)
	in.index[bs] = id
	return id
}

func (in *bitsetInterner) get(id uint32) bitset.TinyBitset { return in.list[id] }

func (in *bitsetInterner) count() uint32 { return uint32(len(in.list)) }

func withBit(bs bitset.TinyBitset, bit uint32) bitset.TinyBitset {
	bs.Insert(bit)
	return bs
}

// and computes the intersection of two bitsets using only bitset's public
// API (Traverse/Insert) — the type intentionally exposes no internal word
// access since it's meant to double as a comparable map key.
func and(a, b bitset.TinyBitset) bitset.TinyBitset {
	inB := make(map[uint32]struct{}, 8)
	b.Traverse(func(i uint32) bool {
		inB[i] = struct{}{}
		return true
	})
	var out bitset.TinyBitset
	a.Traverse(func(i uint32) bool {
		if _, ok := inB[i]; ok {
			out.Insert(i)
		}
		return true
	})
	return out
}

// orderedActions expands a rule-membership bitset into the ordered action
// list the registry stores: rule declaration order is preserved because
// TinyBitset.Traverse visits bits from least to most significant, and
// rule index IS bit index.
func orderedActions(bs bitset.TinyBitset, encoded []uint32) []uint32 {
	var out []uint32
	bs.Traverse(func(rule uint32) bool {
		out = append(out, encoded[rule])
		return true
	})
	return out
}

// ruleRange is one rule's contribution to a single-dimension classifier.
type ruleRange struct {
	rule   uint32
	lo, hi uint32 // inclusive, within the dimension's domain
}

// classPlan partitions a bounded integer domain into disjoint elementary
// intervals via coordinate compression, each tagged with the interned
// rule-membership bitset of every rule whose range fully covers it.
type classPlan struct {
	breakpoints []uint32 // sorted, len = n+1; interval i is [breakpoints[i], breakpoints[i+1]-1]
	classAt     []uint32 // per elementary interval
	interner    *bitsetInterner
}

// buildClasses partitions [0, domainHi] using ranges, reusing interner so
// class ids line up with other dimensions built against the same rule set
// when their bitsets happen to coincide (not required for correctness,
// just avoids needless duplication across dimensions).
func buildClasses(domainHi uint32, ranges []ruleRange, interner *bitsetInterner) classPlan {
	bset := map[uint32]struct{}{0: {}}
	if domainHi < ^uint32(0) {
		bset[domainHi+1] = struct{}{}
	}
	for _, r := range ranges {
		lo, hi := r.lo, r.hi
		if hi > domainHi {
			hi = domainHi
		}
		if lo > hi {
			continue
		}
		bset[lo] = struct{}{}
		if hi+1 <= domainHi+1 {
			bset[hi+1] = struct{}{}
		}
	}

	breakpoints := make([]uint32, 0, len(bset))
	for b := range bset {
		breakpoints = append(breakpoints, b)
	}
	sort.Slice(breakpoints, func(i, j int) bool { return breakpoints[i] < breakpoints[j] })

	classAt := make([]uint32, len(breakpoints)-1)
	for i := 0; i < len(breakpoints)-1; i++ {
		lo, hi := breakpoints[i], breakpoints[i+1]-1
		var bs bitset.TinyBitset
		for _, r := range ranges {
			rlo, rhi := r.lo, r.hi
			if rhi > domainHi {
				rhi = domainHi
			}
			if rlo <= lo && hi <= rhi {
				bs.Insert(r.rule)
			}
		}
		classAt[i] = interner.intern(bs)
	}

	return classPlan{breakpoints: breakpoints, classAt: classAt, interner: interner}
}

// classFor returns the class id for point (point must be within the
// domain the plan was built over).
func (p classPlan) classFor(point uint32) uint32 {
	i := sort.Search(len(p.breakpoints)-1, func(i int) bool { return p.breakpoints[i+1] > point })
	return p.classAt[i]
}

// classCount reports how many distinct classes a dimension has, i.e. the
// row/column extent to size a joining value table against. Classes are
// identified by interned bitset id, which may be shared with other
// dimensions, so this returns the interner's total count — callers index
// value tables by interned id directly rather than a dimension-local one.
func (p classPlan) classCount() uint32 { return p.interner.count() }
