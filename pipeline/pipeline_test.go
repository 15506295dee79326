package pipeline

import (
	"context"
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yanetcore/fastpath/common/go/xpacket"
)

func buildTCPPacket(t *testing.T) gopacket.Packet {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
		Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{SrcPort: 1234, DstPort: 80, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	return xpacket.LayersToPacket(t, eth, ip, tcp, gopacket.Payload([]byte("hello")))
}

func TestFromGoPacketComputesOffsets(t *testing.T) {
	pkt := buildTCPPacket(t)
	d, err := FromGoPacket(pkt, 3)
	require.NoError(t, err)

	require.Equal(t, NetworkIPv4, d.Network)
	require.Equal(t, TransportTCP, d.Transport)
	require.Equal(t, uint16(3), d.RxDevice)
	require.Equal(t, "hello", string(d.Payload()))
}

type passThrough struct{}

func (passThrough) Name() string { return "pass" }
func (passThrough) HandlePackets(_ context.Context, _ uint64, f *Front) {
	f.Pass()
}

func TestRuntimeRotatesBetweenStages(t *testing.T) {
	front1 := &Front{}
	front2 := &Front{}
	d := &Descriptor{Mbuf: &Mbuf{Data: []byte("x")}}
	front1.Input.PushBack(d)

	rt := &Runtime{Stages: []Stage{
		{Handler: passThrough{}, Front: front1},
		{Handler: passThrough{}, Front: front2},
	}}

	bypass, drop := rt.RunBatch(context.Background(), 0)

	require.Equal(t, 0, bypass.Len())
	require.Equal(t, 0, drop.Len())
	require.Equal(t, 1, front2.Output.Len())
	require.Equal(t, 0, front1.Output.Len())
}
