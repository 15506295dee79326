package fwstate

import (
	"hash/crc32"
	"iter"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFunc hashes an encoded key to a shard/bucket selector. Defaults to
// xxhash (also used by the teacher's dataplane for device/pipeline
// selection); callers running on constrained targets may substitute
// crc32 or any other fast non-cryptographic hash.
type HashFunc func(key []byte) uint64

func DefaultHashFunc(key []byte) uint64 { return xxhash.Sum64(key) }

// CRC32HashFunc is the lighter-weight alternative bucket hash for
// constrained targets, using the IEEE polynomial from the standard
// library: a plain checksum has no domain-specific behavior worth
// pulling a third-party crate in for, unlike xxhash which is already the
// corpus's default fast-hash choice elsewhere.
func CRC32HashFunc(key []byte) uint64 { return uint64(crc32.ChecksumIEEE(key)) }

const defaultShardCount = 64

// Fwmap is one generation's connection table: a fixed number of
// independently-locked shards, each a plain Go map keyed by the encoded
// 5-tuple. The original fwmap is an open-addressing table over a single
// mmap'd arena with per-bucket spinlocks and fingerprint probing; a
// sharded map[string]*entry is the idiomatic Go rendering of "many
// independently lockable buckets" without resorting to unsafe pointer
// arithmetic over a byte arena (see DESIGN.md).
type Fwmap struct {
	hash   HashFunc
	shards []shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*bucketEntry
}

type bucketEntry struct {
	value    *Value
	deadline uint64
}

// NewFwmap constructs an empty generation. shardCount should be a power
// of two; 0 selects defaultShardCount.
func NewFwmap(shardCount int, hash HashFunc) *Fwmap {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	if hash == nil {
		hash = DefaultHashFunc
	}
	m := &Fwmap{hash: hash, shards: make([]shard, shardCount)}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*bucketEntry)
	}
	return m
}

func (m *Fwmap) shardFor(key []byte) *shard {
	idx := m.hash(key) % uint64(len(m.shards))
	return &m.shards[idx]
}

// Upsert inserts a new entry or merges into an existing non-expired one,
// returning the resident Value (shared mutable state callers can update
// atomic counters on after the call without holding any lock).
func (m *Fwmap) Upsert(key []byte, external bool, typ uint8, flags Flags, deadline, now uint64) *Value {
	s := m.shardFor(key)
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok && e.deadline > now {
		e.value.Merge(external, typ, flags, deadline)
		e.deadline = deadline
		return e.value
	}

	v := NewValue(external, typ, flags, deadline)
	s.entries[k] = &bucketEntry{value: v, deadline: deadline}
	return v
}

// Get returns the live (non-expired) entry for key, if any. Expiry is
// checked lazily here; actual removal happens in Evict, so a reader never
// blocks on eviction work.
func (m *Fwmap) Get(key []byte, now uint64) (*Value, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[string(key)]
	if !ok || e.deadline <= now {
		return nil, false
	}
	return e.value, true
}

// ApplySync installs or refreshes state announced by a peer's sync
// frame: external is always true (the entry didn't originate from
// locally observed traffic), flags accumulate, and the deadline is
// computed fresh from the local TTL configuration since the wire frame
// itself carries no counters or deadline (see SyncFrame's doc comment).
func (m *Fwmap) ApplySync(key []byte, typ uint8, flags Flags, deadline, now uint64) *Value {
	s := m.shardFor(key)
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		v := NewValue(true, typ, flags, deadline)
		e = &bucketEntry{value: v, deadline: deadline}
		s.entries[k] = e
		return v
	}

	e.value.Merge(true, typ, flags, deadline)
	e.deadline = deadline
	return e.value
}

// Delete removes key unconditionally, regardless of its deadline. Handler
// never calls it: entries leave a layer only by expiring and being
// dropped by Evict.
func (m *Fwmap) Delete(key []byte) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.entries, string(key))
	s.mu.Unlock()
}

// Evict drops every expired entry. Intended to run periodically from a
// background goroutine; each shard is locked only for its own scan.
func (m *Fwmap) Evict(now uint64) (removed int) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if e.deadline <= now {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of resident entries, expired or not.
func (m *Fwmap) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].entries)
		m.shards[i].mu.RUnlock()
	}
	return n
}

// Each calls fn for every live entry, for sync emission and introspection.
func (m *Fwmap) Each(now uint64, fn func(key string, v *Value, deadline uint64)) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, e := range s.entries {
			if e.deadline > now {
				fn(k, e.value, e.deadline)
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns a single-use iterator over the encoded keys of every live
// entry, a range-over-func counterpart to Each for callers (tests,
// diagnostic dumps) that want to compose it with the standard iterator
// helpers rather than a callback.
func (m *Fwmap) Keys(now uint64) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := range m.shards {
			s := &m.shards[i]
			s.mu.RLock()
			for k, e := range s.entries {
				if e.deadline > now {
					if !yield(k) {
						s.mu.RUnlock()
						return
					}
				}
			}
			s.mu.RUnlock()
		}
	}
}
