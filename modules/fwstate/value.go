package fwstate

import "sync/atomic"

// Value is the tracked state of one connection. Packet counters are
// atomic so a lookup on the forward path and a lookup on the reverse path
// can update the same entry concurrently without the bucket lock covering
// the whole struct (grounded on original_source/lib/fwstate/types.h's
// fw_state_value, whose pps_pkt_* counters are updated with atomic
// fetch-add under a shared bucket rwlock).
type Value struct {
	External bool  // set if the packet that created this entry arrived on an external (untrusted) device
	Type     uint8 // transport proto (tcp=6, udp=17, ...)
	Flags    Flags // union of FIN/SYN/RST/ACK seen on the forward direction

	packetsForward  atomic.Uint64
	packetsBackward atomic.Uint64

	PacketsSinceLastSync uint64 // snapshot at LastSync, used to decide when a re-sync is due
	LastSync             uint64 // last sync timestamp (handler clock units)
	Deadline             uint64 // absolute expiry, handler clock units
}

func NewValue(external bool, typ uint8, flags Flags, deadline uint64) *Value {
	return &Value{External: external, Type: typ, Flags: flags, Deadline: deadline}
}

func (v *Value) AddForward(n uint64)  { v.packetsForward.Add(n) }
func (v *Value) AddBackward(n uint64) { v.packetsBackward.Add(n) }
func (v *Value) PacketsForward() uint64  { return v.packetsForward.Load() }
func (v *Value) PacketsBackward() uint64 { return v.packetsBackward.Load() }

// TotalPackets is the count fwmap_lookup's sync_required decision is based
// on: total traffic observed over the entry's lifetime. SyncRequired
// subtracts the PacketsSinceLastSync snapshot to get the unsynced part.
func (v *Value) TotalPackets() uint64 {
	return v.packetsForward.Load() + v.packetsBackward.Load()
}

// SyncRequired reports whether enough unsynced traffic has passed through
// this entry to warrant emitting another sync frame, per
// fwstate_sync_is_required in the original: a fixed packet-count
// threshold since the value was last announced.
func (v *Value) SyncRequired(threshold uint64) bool {
	return v.TotalPackets()-v.PacketsSinceLastSync >= threshold
}

// Merge folds an update into an existing entry: flags accumulate (a
// connection's flag history only grows across its lifetime), the
// direction-agnostic fields (external/type) take the new observation's
// values, and the deadline is renewed. Packet counters are left as they
// are; callers add to them with AddForward/AddBackward.
func (v *Value) Merge(external bool, typ uint8, flags Flags, deadline uint64) {
	v.External = external
	v.Type = typ
	v.Flags |= flags
	v.Deadline = deadline
}

// Snapshot is a point-in-time, race-free copy of a Value's fields, the
// shape sync-frame encoding and introspection reads operate on.
type Snapshot struct {
	External        bool
	Type            uint8
	Flags           Flags
	PacketsForward  uint64
	PacketsBackward uint64
	LastSync        uint64
	Deadline        uint64
}

// Snapshot reads a race-free copy of v for sync-frame encoding.
func (v *Value) Snapshot() Snapshot {
	return Snapshot{
		External:        v.External,
		Type:            v.Type,
		Flags:           v.Flags,
		PacketsForward:  v.packetsForward.Load(),
		PacketsBackward: v.packetsBackward.Load(),
		LastSync:        v.LastSync,
		Deadline:        v.Deadline,
	}
}
