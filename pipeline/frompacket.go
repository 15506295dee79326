package pipeline

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// FromGoPacket builds a Descriptor from a parsed gopacket.Packet, the
// non-DPDK ingestion path used by tests and by any embedder that doesn't
// own a NIC collaborator of its own. It mirrors the header-offset
// conventions of the teacher's xpacket helpers.
func FromGoPacket(pkt gopacket.Packet, rxDevice uint16) (*Descriptor, error) {
	data := pkt.Data()
	if len(data) > MbufMaxSize {
		return nil, fmt.Errorf("pipeline: packet of %d bytes exceeds mbuf capacity %d", len(data), MbufMaxSize)
	}

	d := &Descriptor{
		Mbuf:     &Mbuf{Data: data},
		RxDevice: rxDevice,
	}

	l2Offset := 0
	if eth := pkt.Layer(layers.LayerTypeEthernet); eth != nil {
		l2Offset = len(eth.LayerContents())
	}

	if dot1q := pkt.Layer(layers.LayerTypeDot1Q); dot1q != nil {
		vlan, _ := dot1q.(*layers.Dot1Q)
		d.HasVLAN = true
		d.VLANID = vlan.VLANIdentifier
		l2Offset += len(dot1q.LayerContents())
	}
	d.L2PayloadOffset = l2Offset

	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		v4, _ := ip4.(*layers.IPv4)
		d.Network = NetworkIPv4
		d.L3PayloadOffset = l2Offset + len(ip4.LayerContents())
		if addr, ok := netip.AddrFromSlice(v4.SrcIP.To4()); ok {
			d.SrcAddr = addr
		}
		if addr, ok := netip.AddrFromSlice(v4.DstIP.To4()); ok {
			d.DstAddr = addr
		}
		fillTransport(d, v4.Protocol, pkt)
		return d, nil
	}

	if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		v6, _ := ip6.(*layers.IPv6)
		d.Network = NetworkIPv6
		d.L3PayloadOffset = l2Offset + len(ip6.LayerContents())
		if addr, ok := netip.AddrFromSlice(v6.SrcIP.To16()); ok {
			d.SrcAddr = addr
		}
		if addr, ok := netip.AddrFromSlice(v6.DstIP.To16()); ok {
			d.DstAddr = addr
		}
		fillTransport(d, v6.NextHeader, pkt)
		return d, nil
	}

	return d, nil
}

func fillTransport(d *Descriptor, proto layers.IPProtocol, pkt gopacket.Packet) {
	switch proto {
	case layers.IPProtocolTCP:
		d.Transport = TransportTCP
		if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
			tcp, _ := tcpLayer.(*layers.TCP)
			d.L4PayloadOffset = d.L3PayloadOffset + len(tcpLayer.LayerContents())
			d.SrcPort = uint16(tcp.SrcPort)
			d.DstPort = uint16(tcp.DstPort)
			d.TCPFlags = tcpFlagsByte(tcp)
		}
	case layers.IPProtocolUDP:
		d.Transport = TransportUDP
		if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp, _ := udpLayer.(*layers.UDP)
			d.L4PayloadOffset = d.L3PayloadOffset + len(udpLayer.LayerContents())
			d.SrcPort = uint16(udp.SrcPort)
			d.DstPort = uint16(udp.DstPort)
		}
	default:
		d.Transport = TransportOther
	}
}

// tcpFlagsByte packs gopacket's individually-named TCP flag bits back into
// the single raw flags byte the wire format carries (FIN=0x01, SYN=0x02,
// RST=0x04, PSH=0x08, ACK=0x10, URG=0x20, ECE=0x40, CWR=0x80).
func tcpFlagsByte(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= 0x01
	}
	if tcp.SYN {
		f |= 0x02
	}
	if tcp.RST {
		f |= 0x04
	}
	if tcp.PSH {
		f |= 0x08
	}
	if tcp.ACK {
		f |= 0x10
	}
	if tcp.URG {
		f |= 0x20
	}
	if tcp.ECE {
		f |= 0x40
	}
	if tcp.CWR {
		f |= 0x80
	}
	return f
}
