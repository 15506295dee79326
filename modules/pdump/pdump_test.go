package pdump

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanetcore/fastpath/common/go/xpacket"
	"github.com/yanetcore/fastpath/pipeline"
)

func udpDescriptor(t *testing.T, payloadLen int) *pipeline.Descriptor {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11}, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, SrcIP: net.ParseIP("10.0.0.1").To4(), DstIP: net.ParseIP("10.0.0.2").To4(), Protocol: layers.IPProtocolUDP}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	payload := gopacket.Payload(bytes.Repeat([]byte{0xAB}, payloadLen))
	pkt := xpacket.LayersToPacket(t, eth, ip, udp, payload)
	d, err := pipeline.FromGoPacket(pkt, 1)
	require.NoError(t, err)
	return d
}

func TestRingWriteAndReadRoundTrip(t *testing.T) {
	ring, err := NewRing(64 * 1024)
	require.NoError(t, err)
	ring.WriteMessage(Header{PacketLen: 100, WorkerIdx: 1, Queue: QueueInput}, []byte("hello"))
	ring.WriteMessage(Header{PacketLen: 200, WorkerIdx: 1, Queue: QueueDrop}, []byte("world!!"))

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(4096)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("hello"), msgs[0].Data)
	require.Equal(t, QueueInput, msgs[0].Header.Queue)
	require.Equal(t, []byte("world!!"), msgs[1].Data)
	require.Equal(t, QueueDrop, msgs[1].Header.Queue)
}

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	for _, size := range []uint32{0, 100, 1000, 4097} {
		_, err := NewRing(size)
		require.Error(t, err, "size %d is not a power of two", size)
	}
}

func TestRingOverflowInvariantHoldsAtSmallSize(t *testing.T) {
	ring, err := NewRing(128)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ring.WriteMessage(Header{PacketLen: uint32(i), WorkerIdx: 0}, bytes.Repeat([]byte{byte(i)}, 32))
	}

	writeIdx := ring.writeIdx.Load()
	readableIdx := ring.readableIdx.Load()
	require.LessOrEqual(t, writeIdx-readableIdx, uint64(128))
	require.Greater(t, readableIdx, uint64(0))

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(1 << 20)
	for _, m := range msgs {
		require.Len(t, m.Data, 32)
	}
}

func TestRingOverwriteOldestWhenFull(t *testing.T) {
	ring, err := NewRing(4096)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		ring.WriteMessage(Header{PacketLen: uint32(i), WorkerIdx: 0}, bytes.Repeat([]byte{byte(i)}, 32))
	}

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(1 << 20)
	require.NotEmpty(t, msgs, "reader should recover by resyncing to the oldest still-readable message rather than erroring")
	for _, m := range msgs {
		require.Len(t, m.Data, 32)
	}
}

func TestCaptureHandlerRespectsModeMask(t *testing.T) {
	ring, err := NewRing(64 * 1024)
	require.NoError(t, err)
	h := NewCaptureHandler(ring, Config{Mode: ModeDrop, Snaplen: 64}, 0, zap.NewNop().Sugar())

	front := &pipeline.Front{}
	front.Input.PushBack(udpDescriptor(t, 16))
	front.Drop.PushBack(udpDescriptor(t, 16))

	h.HandlePackets(context.Background(), 1000, front)

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(4096)
	require.Len(t, msgs, 1, "only the Drop queue should be captured under ModeDrop")
	require.Equal(t, QueueDrop, msgs[0].Header.Queue)

	require.Equal(t, 1, front.Output.Len(), "Input should still pass through regardless of capture mode")
}

func TestCaptureHandlerTruncatesToSnaplen(t *testing.T) {
	ring, err := NewRing(64 * 1024)
	require.NoError(t, err)
	h := NewCaptureHandler(ring, Config{Mode: ModeInput, Snaplen: 40}, 0, zap.NewNop().Sugar())

	front := &pipeline.Front{}
	front.Input.PushBack(udpDescriptor(t, 500))
	h.HandlePackets(context.Background(), 0, front)

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(4096)
	require.Len(t, msgs, 1)
	require.LessOrEqual(t, len(msgs[0].Data), 40)
	require.Greater(t, msgs[0].Header.PacketLen, uint32(40), "PacketLen records the untruncated original length")
}

func TestWrapCapturesAnotherStagesDrops(t *testing.T) {
	ring, err := NewRing(64 * 1024)
	require.NoError(t, err)
	capture := NewCaptureHandler(ring, Config{Mode: ModeDrop}, 0, zap.NewNop().Sugar())

	dropEverything := handlerFunc(func(ctx context.Context, now uint64, front *pipeline.Front) {
		for d := front.Input.PopFront(); d != nil; d = front.Input.PopFront() {
			front.Drop.PushBack(d)
		}
	})

	wrapped := Wrap(dropEverything, capture)
	front := &pipeline.Front{}
	front.Input.PushBack(udpDescriptor(t, 16))
	wrapped.HandlePackets(context.Background(), 0, front)

	require.Equal(t, 1, front.Drop.Len())

	rd := NewReader(ring, zap.NewNop().Sugar())
	msgs := rd.Read(4096)
	require.Len(t, msgs, 1, "Wrap should let CaptureHandler observe the inner stage's drop before the runtime drains it")
}

type handlerFunc func(ctx context.Context, now uint64, front *pipeline.Front)

func (f handlerFunc) Name() string { return "test" }
func (f handlerFunc) HandlePackets(ctx context.Context, now uint64, front *pipeline.Front) {
	f(ctx, now, front)
}

func TestRunReadersDeliversMessages(t *testing.T) {
	ring, err := NewRing(64 * 1024)
	require.NoError(t, err)
	ring.WriteMessage(Header{PacketLen: 10}, []byte("abc"))

	rd := NewReader(ring, zap.NewNop().Sugar())
	out := make(chan Message, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	go RunReaders(ctx, []*Reader{rd}, out, time.Millisecond)

	select {
	case msg := <-out:
		require.Equal(t, []byte("abc"), msg.Data)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for a message")
	}
}
