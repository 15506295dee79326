package fwstate

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// Layer is one generation of connection state. L0 (the layer at the head
// of a LayerMap) is the active, write-targeted generation; every layer
// behind it is read-only history kept around only so in-flight
// connections don't lose their state across a generation rollover.
type Layer struct {
	ID        xid.ID
	Map       *Fwmap
	CreatedAt uint64
	next      *Layer
}

// LayerMap is the generational chain described in spec.md's layer map:
// InsertNewLayer publishes a fresh L0 by swapping an atomic head pointer,
// so readers already walking the old chain keep a consistent view and
// need no explicit grace period — the unlinked tail layer simply becomes
// unreachable once the last reader drops it, and Go's GC reclaims it.
// This subsumes the original's manual RCU-style deferred destruction,
// which exists there only because C has no garbage collector.
type LayerMap struct {
	head atomic.Pointer[Layer]

	shardCount int
	hash       HashFunc
}

func NewLayerMap(shardCount int, hash HashFunc) *LayerMap {
	lm := &LayerMap{shardCount: shardCount, hash: hash}
	lm.head.Store(&Layer{ID: xid.New(), Map: NewFwmap(shardCount, hash)})
	return lm
}

// InsertNewLayer publishes a new active generation, retaining the
// previous chain behind it.
func (lm *LayerMap) InsertNewLayer(now uint64) *Layer {
	prev := lm.head.Load()
	next := &Layer{ID: xid.New(), Map: NewFwmap(lm.shardCount, lm.hash), CreatedAt: now, next: prev}
	lm.head.Store(next)
	return next
}

// Active returns the current write-targeted layer (L0).
func (lm *LayerMap) Active() *Layer { return lm.head.Load() }

// Lookup walks the chain from L0 backward, returning the first live
// match. stale reports whether the match came from any layer other than
// L0 — lookup.c's value_from_stale_layer signal, which the handler uses
// to decide a sync re-announcement is due even if the packet-count
// threshold hasn't been hit, since the state hasn't been carried into the
// active generation yet.
func (lm *LayerMap) Lookup(key []byte, now uint64) (v *Value, stale bool, found bool) {
	layer := lm.head.Load()
	for i := 0; layer != nil; i++ {
		if val, ok := layer.Map.Get(key, now); ok {
			return val, i > 0, true
		}
		layer = layer.next
	}
	return nil, false, false
}

// Depth returns the number of layers reachable from L0, for introspection
// and tests.
func (lm *LayerMap) Depth() int {
	n := 0
	for l := lm.head.Load(); l != nil; l = l.next {
		n++
	}
	return n
}

// TotalEntries sums Len() across every reachable layer, for introspection
// (a fwmap size gauge covering the whole generational chain, not just L0).
func (lm *LayerMap) TotalEntries() int {
	n := 0
	for l := lm.head.Load(); l != nil; l = l.next {
		n += l.Map.Len()
	}
	return n
}

// Trim drops every layer older than maxAge behind the current L0, by
// truncating the next pointer of the last layer to keep. Already-running
// lookups holding a reference to a trimmed layer still see it correctly;
// they simply won't be handed it again once Trim returns, since new
// lookups start from the current head.
func (lm *LayerMap) Trim(now uint64, maxAge uint64) {
	head := lm.head.Load()
	if head == nil {
		return
	}
	l := head
	for l.next != nil {
		if now-l.next.CreatedAt > maxAge {
			l.next = nil
			return
		}
		l = l.next
	}
}
