// Package fwstate implements the stateful firewall's connection-tracking
// core: 5-tuple keys, the merge-on-update value struct, the sharded TTL
// hash map (fwmap), the generational layer map, the cross-node sync wire
// frame, and the handler that ties lookup and sync ingestion/emission
// together.
package fwstate

import "net/netip"

// Key4 is a 5-tuple over IPv4 addresses.
type Key4 struct {
	SrcAddr [4]byte
	DstAddr [4]byte
	SrcPort uint16
	DstPort uint16
	Proto   uint8
}

// Key6 is a 5-tuple over IPv6 addresses.
type Key6 struct {
	SrcAddr [16]byte
	DstAddr [16]byte
	SrcPort uint16
	DstPort uint16
	Proto   uint8
}

// Reverse swaps src/dst, the key used to look up the matching state for a
// reply packet (lookup.c's fwstate_build_state_key_v4/v6 swap src/dst
// when building the reverse-direction key).
func (k Key4) Reverse() Key4 {
	return Key4{SrcAddr: k.DstAddr, DstAddr: k.SrcAddr, SrcPort: k.DstPort, DstPort: k.SrcPort, Proto: k.Proto}
}

func (k Key6) Reverse() Key6 {
	return Key6{SrcAddr: k.DstAddr, DstAddr: k.SrcAddr, SrcPort: k.DstPort, DstPort: k.SrcPort, Proto: k.Proto}
}

// Bytes encodes the key canonically for hashing/map storage.
func (k Key4) Bytes() [13]byte {
	var b [13]byte
	copy(b[0:4], k.SrcAddr[:])
	copy(b[4:8], k.DstAddr[:])
	b[8], b[9] = byte(k.SrcPort>>8), byte(k.SrcPort)
	b[10], b[11] = byte(k.DstPort>>8), byte(k.DstPort)
	b[12] = k.Proto
	return b
}

func (k Key6) Bytes() [37]byte {
	var b [37]byte
	copy(b[0:16], k.SrcAddr[:])
	copy(b[16:32], k.DstAddr[:])
	b[32], b[33] = byte(k.SrcPort>>8), byte(k.SrcPort)
	b[34], b[35] = byte(k.DstPort>>8), byte(k.DstPort)
	b[36] = k.Proto
	return b
}

// Key4FromAddrPort builds a Key4 from netip types, the shape a Descriptor
// hands the handler.
func Key4FromAddrPort(src, dst netip.Addr, srcPort, dstPort uint16, proto uint8) Key4 {
	k := Key4{SrcPort: srcPort, DstPort: dstPort, Proto: proto}
	copy(k.SrcAddr[:], src.As4()[:])
	copy(k.DstAddr[:], dst.As4()[:])
	return k
}

func Key6FromAddrPort(src, dst netip.Addr, srcPort, dstPort uint16, proto uint8) Key6 {
	k := Key6{SrcPort: srcPort, DstPort: dstPort, Proto: proto}
	copy(k.SrcAddr[:], src.As16()[:])
	copy(k.DstAddr[:], dst.As16()[:])
	return k
}

// Flags is the folded subset of TCP control bits the firewall tracks:
// only FIN/SYN/RST/ACK, per fwstate_flags_from_tcp in the original —
// everything else (PSH in particular) folds onto ACK.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagACK
)

// FlagsFromTCP folds a raw TCP flags byte (as carried by
// pipeline.Descriptor.TCPFlags) into the tracked subset.
func FlagsFromTCP(raw uint8) Flags {
	var f Flags
	if raw&0x01 != 0 {
		f |= FlagFIN
	}
	if raw&0x02 != 0 {
		f |= FlagSYN
	}
	if raw&0x04 != 0 {
		f |= FlagRST
	}
	if raw&(0x10|0x08) != 0 { // ACK or PSH both fold onto ACK
		f |= FlagACK
	}
	return f
}
