package fwstate

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanetcore/fastpath/common/go/xiter"
	"github.com/yanetcore/fastpath/common/go/xpacket"
	"github.com/yanetcore/fastpath/pipeline"
)

func tcpDescriptor(t *testing.T, src, dst string, sport, dport uint16, syn bool, rx uint16) *pipeline.Descriptor {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11}, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4(), Protocol: layers.IPProtocolTCP}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: syn, ACK: !syn}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	pkt := xpacket.LayersToPacket(t, eth, ip, tcp)
	d, err := pipeline.FromGoPacket(pkt, rx)
	require.NoError(t, err)
	return d
}

// S1: a SYN creates forward state; the reply (return traffic on the
// reverse tuple) is recognized as belonging to the same connection.
func TestForwardThenReverseSharesState(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar())

	front := &pipeline.Front{}
	front.Input.PushBack(tcpDescriptor(t, "10.0.0.1", "93.184.216.34", 5555, 443, true, 1))
	h.HandlePackets(context.Background(), 100, front)
	require.Equal(t, 1, front.Output.Len())

	require.Equal(t, 1, h.Layers().Active().Map.Len())

	front2 := &pipeline.Front{}
	front2.Input.PushBack(tcpDescriptor(t, "93.184.216.34", "10.0.0.1", 443, 5555, false, 0))
	h.HandlePackets(context.Background(), 101, front2)
	require.Equal(t, 1, front2.Output.Len())

	require.Equal(t, 1, h.Layers().Active().Map.Len(), "reverse traffic should update the existing entry, not create a second one")
}

// S6: check_state reports true only while the connection is live, not
// after it expires.
func TestCheckStateExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TCPSynTimeout = 10
	h := NewHandler(cfg, nil, zap.NewNop().Sugar())

	front := &pipeline.Front{}
	d := tcpDescriptor(t, "10.0.0.1", "1.2.3.4", 1111, 80, true, 1)
	front.Input.PushBack(d)
	h.HandlePackets(context.Background(), 0, front)

	reply := tcpDescriptor(t, "1.2.3.4", "10.0.0.1", 80, 1111, false, 0)
	require.True(t, h.CheckState(5, reply))
	require.False(t, h.CheckState(20, reply), "entry should have expired by now=20 with a SYN TTL of 10")
}

func TestCheckStateMatchesReverseTuple(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar())

	front := &pipeline.Front{}
	front.Input.PushBack(tcpDescriptor(t, "10.0.0.1", "1.2.3.4", 1111, 80, true, 1))
	h.HandlePackets(context.Background(), 0, front)

	reply := tcpDescriptor(t, "1.2.3.4", "10.0.0.1", 80, 1111, false, 0)
	require.True(t, h.CheckState(1, reply))
}

type recordingEmitter struct{ frames []SyncFrame }

func (r *recordingEmitter) EmitSync(f SyncFrame) { r.frames = append(r.frames, f) }

func TestSyncEmittedAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncThreshold = 2
	emitter := &recordingEmitter{}
	h := NewHandler(cfg, emitter, zap.NewNop().Sugar())

	for i := 0; i < 3; i++ {
		front := &pipeline.Front{}
		front.Input.PushBack(tcpDescriptor(t, "10.0.0.1", "1.2.3.4", 1111, 80, i == 0, 1))
		h.HandlePackets(context.Background(), uint64(i), front)
	}

	require.NotEmpty(t, emitter.frames, "a sync frame should have been emitted once the packet threshold was reached")
}

func TestSyncFrameRoundTrip(t *testing.T) {
	frame := SyncFrame{
		IsIPv6:  false,
		Fib:     1,
		Proto:   6,
		Flags:   FlagSYN | FlagACK,
		Key4:    Key4FromAddrPort(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("1.2.3.4"), 1111, 80, 6),
		Extra:   7,
		FlowID6: 0,
	}
	buf := make([]byte, SyncFrameSize)
	frame.Encode(buf)

	got, ok := DecodeSyncFrame(buf)
	require.True(t, ok)
	require.Equal(t, frame.Key4, got.Key4)
	require.Equal(t, frame.Fib, got.Fib)
	require.Equal(t, frame.Proto, got.Proto)
	require.Equal(t, frame.Flags, got.Flags)
	require.Equal(t, frame.Extra, got.Extra)
	require.False(t, got.IsIPv6)
}

func TestDecodeSyncFrameRejectsShortBuffer(t *testing.T) {
	_, ok := DecodeSyncFrame(make([]byte, SyncFrameSize-1))
	require.False(t, ok, "a truncated frame is WireFormat: silently dropped, not an error")
}

func TestIngestSyncInstallsState(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar())
	frame := SyncFrame{
		Proto: 6,
		Flags: FlagSYN,
		Key4:  Key4FromAddrPort(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("1.2.3.4"), 1111, 80, 6),
	}
	h.ingestSync(10, frame)

	reply := tcpDescriptor(t, "1.2.3.4", "10.0.0.1", 80, 1111, false, 0)
	require.True(t, h.CheckState(10, reply), "return traffic on the installed connection's reverse tuple should be recognized")
}

func TestLayerMapTrimDropsOldGenerations(t *testing.T) {
	lm := NewLayerMap(4, nil)
	lm.InsertNewLayer(100)
	lm.InsertNewLayer(200)
	require.Equal(t, 3, lm.Depth())

	lm.Trim(250, 150)
	require.Equal(t, 2, lm.Depth(), "the generation created at t=0, older than maxAge relative to now=250, should be dropped")
}

func syncPacketDescriptor(t *testing.T, srcIP, dstIP string, payload []byte) *pipeline.Descriptor {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{0x33, 0x33, 0, 0, 0, 1}, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{Version: 6, HopLimit: 64, SrcIP: net.ParseIP(srcIP), DstIP: net.ParseIP(dstIP), NextHeader: layers.IPProtocolUDP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(SyncUDPPort), DstPort: layers.UDPPort(SyncUDPPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	pkt := xpacket.LayersToPacket(t, eth, ip, udp, gopacket.Payload(payload))
	d, err := pipeline.FromGoPacket(pkt, 1)
	require.NoError(t, err)
	return d
}

func TestInternalSyncPacketIsRewrittenAndForwarded(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar()).
		WithTransport(SyncTransport{LocalAddr: netip.MustParseAddr("2001:db8::1")})

	frame := SyncFrame{Proto: 6, Flags: FlagSYN, Key4: Key4FromAddrPort(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("1.2.3.4"), 1111, 80, 6)}
	buf := make([]byte, SyncFrameSize)
	frame.Encode(buf)

	d := syncPacketDescriptor(t, "::", "ff02::1", buf) // :: (unspecified) marks a locally generated sync packet
	front := &pipeline.Front{}
	front.Input.PushBack(d)
	h.HandlePackets(context.Background(), 5, front)

	require.Equal(t, 1, front.Output.Len(), "an internally generated sync packet is rewritten and forwarded, not dropped")
	require.Equal(t, 0, front.Drop.Len())
	require.Equal(t, 1, h.Layers().Active().Map.Len(), "the frame is still ingested into local state before forwarding")
}

func TestExternalSyncPacketIsDropped(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar()).
		WithTransport(SyncTransport{LocalAddr: netip.MustParseAddr("2001:db8::1")})

	frame := SyncFrame{Proto: 6, Flags: FlagSYN, Key4: Key4FromAddrPort(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("1.2.3.4"), 1111, 80, 6)}
	buf := make([]byte, SyncFrameSize)
	frame.Encode(buf)

	d := syncPacketDescriptor(t, "2001:db8::2", "ff02::1", buf)
	front := &pipeline.Front{}
	front.Input.PushBack(d)
	h.HandlePackets(context.Background(), 5, front)

	require.Equal(t, 0, front.Output.Len())
	require.Equal(t, 1, front.Drop.Len(), "a sync packet received from the network is consumed here, not re-forwarded")
}

func TestMultiFrameSyncPacketIngestsEveryFrame(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar())

	frameA := SyncFrame{Proto: 6, Flags: FlagSYN, Key4: Key4FromAddrPort(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("1.2.3.4"), 1111, 80, 6)}
	frameB := SyncFrame{Proto: 6, Flags: FlagSYN, Key4: Key4FromAddrPort(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("5.6.7.8"), 2222, 443, 6)}
	buf := make([]byte, 2*SyncFrameSize)
	frameA.Encode(buf[:SyncFrameSize])
	frameB.Encode(buf[SyncFrameSize:])

	d := syncPacketDescriptor(t, "2001:db8::2", "ff02::1", buf)
	front := &pipeline.Front{}
	front.Input.PushBack(d)
	h.HandlePackets(context.Background(), 5, front)

	require.Equal(t, 2, h.Layers().Active().Map.Len(), "both enclosed frames should be ingested, not just the first")
}

func TestMalformedSyncPayloadLengthIsDropped(t *testing.T) {
	h := NewHandler(DefaultConfig(), nil, zap.NewNop().Sugar())

	d := syncPacketDescriptor(t, "2001:db8::2", "ff02::1", make([]byte, SyncFrameSize+1))
	front := &pipeline.Front{}
	front.Input.PushBack(d)
	h.HandlePackets(context.Background(), 5, front)

	require.Equal(t, 0, h.Layers().Active().Map.Len(), "a payload whose length isn't a multiple of SyncFrameSize is WireFormat: silently dropped")
	require.Equal(t, 1, front.Drop.Len())
}

func TestFwmapKeysIteratorMatchesLen(t *testing.T) {
	m := NewFwmap(4, nil)
	m.Upsert([]byte("key-a"), false, 6, 0, 100, 0)
	m.Upsert([]byte("key-b"), false, 6, 0, 100, 0)

	seen := map[int]string{}
	for i, k := range xiter.Enumerate(m.Keys(0)) {
		seen[i] = k
	}
	require.Len(t, seen, m.Len())
}

func TestFwmapEviction(t *testing.T) {
	m := NewFwmap(4, nil)
	m.Upsert([]byte("key-a"), false, 6, 0, 10, 0)
	m.Upsert([]byte("key-b"), false, 6, 0, 1000, 0)

	removed := m.Evict(20)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, m.Len())
}
