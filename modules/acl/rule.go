// Package acl implements the ACL compiler and handler: rules are reduced
// at compile time into a fixed chain of LPM and value-table lookups, so
// the dataplane handler never walks the rule list per packet.
package acl

import "net/netip"

// ActionKind is the base action a matching rule resolves to.
type ActionKind uint8

const (
	ActionPass ActionKind = iota + 1
	ActionDeny
	ActionCount
	ActionCheckState
)

// Range is an inclusive [Lo, Hi] span over one classification dimension
// (ports 0-65535, proto<<8|flags 0-65535, vlan 0-4095).
type Range struct {
	Lo, Hi uint32
}

// Action is the fully-encoded outcome of a matching rule: which devices
// it applies to, whether evaluation continues past it, and any
// action-kind-specific flags (e.g. a counter-bucket index for Count).
type Action struct {
	Kind         ActionKind
	DeviceMask   uint16
	NonTerminate bool
	Flags        uint8
}

// Encode packs a into the 32-bit wire form: category_mask<<16 |
// non_terminate<<15 | kind&0x7F | flags<<7. Field boundaries are
// test-vector-binding — see DESIGN.md Open Question decision #2.
func (a Action) Encode() uint32 {
	var nonTerm uint32
	if a.NonTerminate {
		nonTerm = 1
	}
	return uint32(a.DeviceMask)<<16 | nonTerm<<15 | uint32(a.Kind)&0x7F | uint32(a.Flags)<<7
}

// DecodeAction reverses Action.Encode.
func DecodeAction(encoded uint32) Action {
	return Action{
		Kind:         ActionKind(encoded & 0x7F),
		Flags:        uint8((encoded >> 7) & 0xFF),
		NonTerminate: (encoded>>15)&1 == 1,
		DeviceMask:   uint16(encoded >> 16),
	}
}

// Rule is one ACL entry. Any empty dimension list is a wildcard (matches
// every value on that dimension); a non-empty list is the union of its
// entries ("OR" semantics within a dimension, "AND" across dimensions).
type Rule struct {
	SrcNets    []netip.Prefix
	DstNets    []netip.Prefix
	ProtoFlags []Range // proto<<8|flags, domain [0, 0xFFFF]
	SrcPorts   []Range // domain [0, 0xFFFF]
	DstPorts   []Range // domain [0, 0xFFFF]
	VLANs      []Range // domain [0, 0xFFF]
	Action     Action
}

// ProtoFlagsAny matches proto on any flags value (used for UDP/ICMP/etc,
// where tcp_flags is meaningless).
func ProtoFlagsAny(proto uint8) Range {
	lo := uint32(proto) << 8
	return Range{Lo: lo, Hi: lo + 0xFF}
}

// ProtoFlagsRange matches a specific proto with a flags byte range.
func ProtoFlagsRange(proto, flagsLo, flagsHi uint8) Range {
	base := uint32(proto) << 8
	return Range{Lo: base + uint32(flagsLo), Hi: base + uint32(flagsHi)}
}
