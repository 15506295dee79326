package fwstate

import "encoding/binary"

// SyncFrame is one connection announcement exchanged between peer nodes,
// grounded exactly on spec.md §3's fw_state_sync_frame: 56 bytes, packed,
// little-endian except the raw IPv6 address bytes. It carries only the
// identifying tuple plus flags — not packet counters or deadlines, which
// are local pacing state (Value.PacketsSinceLastSync/LastSync) recomputed
// independently by whichever node re-announces next.
type SyncFrame struct {
	IsIPv6 bool
	// Fib doubles as a direction tag, matching fwstate_build_value in the
	// original dataplane: 0 means the sender observed this packet on
	// ingress (forward), anything else means egress (backward).
	Fib   uint8
	Proto uint8
	Flags   Flags
	Key4    Key4
	Key6    Key6
	FlowID6 uint32 // IPv6 flow label correlation, opaque
	Extra   uint32 // reserved for forward compatibility
}

// SyncFrameSize is the frame's fixed wire length.
const SyncFrameSize = 56

// Wire values for the addr_type byte, pinned by
// original_source/lib/fwstate/types.h's FW_STATE_ADDR_TYPE_IP4/IP6 and
// dispatched on exactly by dataplane.c's fwstate_process_sync_v4/v6.
const (
	addrTypeIPv4 uint8 = 4
	addrTypeIPv6 uint8 = 6
)

func addrTypeOf(isIPv6 bool) uint8 {
	if isIPv6 {
		return addrTypeIPv6
	}
	return addrTypeIPv4
}

// Encode serializes f into dst, which must be at least SyncFrameSize
// bytes.
func (f SyncFrame) Encode(dst []byte) {
	_ = dst[:SyncFrameSize]

	if f.IsIPv6 {
		binary.LittleEndian.PutUint32(dst[0:4], 0)
		binary.LittleEndian.PutUint32(dst[4:8], 0)
		binary.LittleEndian.PutUint16(dst[8:10], f.Key6.DstPort)
		binary.LittleEndian.PutUint16(dst[10:12], f.Key6.SrcPort)
		dst[13] = f.Key6.Proto
		copy(dst[16:32], f.Key6.DstAddr[:])
		copy(dst[32:48], f.Key6.SrcAddr[:])
	} else {
		binary.LittleEndian.PutUint32(dst[0:4], be4ToUint32(f.Key4.DstAddr))
		binary.LittleEndian.PutUint32(dst[4:8], be4ToUint32(f.Key4.SrcAddr))
		binary.LittleEndian.PutUint16(dst[8:10], f.Key4.DstPort)
		binary.LittleEndian.PutUint16(dst[10:12], f.Key4.SrcPort)
		dst[13] = f.Key4.Proto
		for i := 16; i < 48; i++ {
			dst[i] = 0
		}
	}

	dst[12] = f.Fib
	dst[14] = byte(f.Flags)
	dst[15] = addrTypeOf(f.IsIPv6)
	binary.LittleEndian.PutUint32(dst[48:52], f.FlowID6)
	binary.LittleEndian.PutUint32(dst[52:56], f.Extra)
}

// DecodeSyncFrame parses a wire frame produced by Encode. It returns
// false if src is too short to be a sync frame at all — callers treat
// that as WireFormat per spec.md §7: silently drop, not an error to the
// sender.
func DecodeSyncFrame(src []byte) (SyncFrame, bool) {
	if len(src) < SyncFrameSize {
		return SyncFrame{}, false
	}

	var f SyncFrame
	f.Fib = src[12]
	f.Proto = src[13]
	f.Flags = Flags(src[14])
	f.IsIPv6 = src[15] == addrTypeIPv6
	f.FlowID6 = binary.LittleEndian.Uint32(src[48:52])
	f.Extra = binary.LittleEndian.Uint32(src[52:56])

	if f.IsIPv6 {
		copy(f.Key6.DstAddr[:], src[16:32])
		copy(f.Key6.SrcAddr[:], src[32:48])
		f.Key6.DstPort = binary.LittleEndian.Uint16(src[8:10])
		f.Key6.SrcPort = binary.LittleEndian.Uint16(src[10:12])
		f.Key6.Proto = f.Proto
	} else {
		uint32ToBE4(binary.LittleEndian.Uint32(src[0:4]), &f.Key4.DstAddr)
		uint32ToBE4(binary.LittleEndian.Uint32(src[4:8]), &f.Key4.SrcAddr)
		f.Key4.DstPort = binary.LittleEndian.Uint16(src[8:10])
		f.Key4.SrcPort = binary.LittleEndian.Uint16(src[10:12])
		f.Key4.Proto = f.Proto
	}

	return f, true
}

// Key returns the frame's announced 5-tuple key, encoded canonically.
func (f SyncFrame) Key() []byte {
	if f.IsIPv6 {
		b := f.Key6.Bytes()
		return b[:]
	}
	b := f.Key4.Bytes()
	return b[:]
}

func be4ToUint32(addr [4]byte) uint32 {
	return uint32(addr[0])<<24 | uint32(addr[1])<<16 | uint32(addr[2])<<8 | uint32(addr[3])
}

func uint32ToBE4(v uint32, dst *[4]byte) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
