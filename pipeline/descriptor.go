// Package pipeline implements the worker-local packet_front: a batch of
// packet descriptors moving through intrusive input/output/drop/bypass
// queues as a pipeline's stages run in sequence, each stage rotating the
// previous stage's output into its own input.
package pipeline

import "net/netip"

// Transport identifies the L4 protocol at TransportOffset, using the IANA
// protocol numbers directly (TCP=6, UDP=17) since that's what both IPv4's
// protocol field and IPv6's next-header field already carry.
type Transport uint8

const (
	TransportOther Transport = 0
	TransportTCP   Transport = 6
	TransportUDP   Transport = 17
)

// NetworkType identifies the L3 protocol carried after the Ethernet
// header (and any 802.1Q tag), using the EtherType values directly.
type NetworkType uint16

const (
	NetworkOther NetworkType = 0
	NetworkIPv4  NetworkType = 0x0800
	NetworkIPv6  NetworkType = 0x86DD
)

// MbufMaxSize caps a descriptor's backing buffer, mirroring the dataplane
// collaborator's fixed-size packet buffer pool (spec.md §3's mbuf
// reference, bounded so pdump snaplen truncation and fwstate sync-frame
// capacity checks have a fixed worst case to reason about).
const MbufMaxSize = 9216

// Mbuf is the packet's raw bytes, standing in for the NIC collaborator's
// DMA buffer. Only Data is ever touched by this module — headroom/tailroom
// management belongs to that external collaborator.
type Mbuf struct {
	Data []byte
}

// Descriptor is one packet moving through a pipeline: the raw buffer plus
// the header offsets and classification fields every module needs,
// computed once by the ingestion adapter so stages never re-parse.
type Descriptor struct {
	Mbuf *Mbuf

	L2PayloadOffset int // offset of the first byte after the Ethernet header (and VLAN tag, if present)
	L3PayloadOffset int // offset of the first byte after the IPv4/IPv6 header
	L4PayloadOffset int // offset of the first byte after the TCP/UDP header

	Network   NetworkType
	Transport Transport

	VLANID   uint16
	HasVLAN  bool
	RxDevice uint16
	TxDevice uint16

	SrcAddr netip.Addr
	DstAddr netip.Addr
	SrcPort uint16
	DstPort uint16
	// TCPFlags holds the raw TCP flags byte (SYN=0x02, ACK=0x10, FIN=0x01,
	// RST=0x04, PSH=0x08 ...) when Transport == TransportTCP.
	TCPFlags uint8

	next *Descriptor
}

// Bytes returns the full backing buffer.
func (d *Descriptor) Bytes() []byte { return d.Mbuf.Data }

// L3 returns the network-layer header and payload.
func (d *Descriptor) L3() []byte { return d.Mbuf.Data[d.L2PayloadOffset:] }

// L4 returns the transport-layer header and payload.
func (d *Descriptor) L4() []byte {
	if d.L4PayloadOffset == 0 {
		return nil
	}
	return d.Mbuf.Data[d.L3PayloadOffset:]
}

// Payload returns the transport payload (after the TCP/UDP header).
func (d *Descriptor) Payload() []byte {
	if d.L4PayloadOffset == 0 || d.L4PayloadOffset > len(d.Mbuf.Data) {
		return nil
	}
	return d.Mbuf.Data[d.L4PayloadOffset:]
}
