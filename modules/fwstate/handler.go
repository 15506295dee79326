package fwstate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yanetcore/fastpath/pipeline"
)

// SyncUDPPort is the destination port that marks a packet as a
// cross-node sync frame rather than ordinary traffic, grounded on
// is_fw_state_sync_packet's port check in
// original_source/modules/fwstate/dataplane/dataplane.c.
const SyncUDPPort uint16 = 2706

// Emitter sends a sync frame to peer nodes. Implementations wrap
// whatever transport the deployment uses (multicast UDP socket, a
// control-plane RPC, etc); this package only builds the frame.
type Emitter interface {
	EmitSync(frame SyncFrame)
}

// Config bounds a Handler's TTL and sync-announcement behavior. The TCP
// timeouts mirror fwstate_build_value's per-flag TTL selection
// (dataplane.c / slow_worker.cpp:496): a connection's entry is kept
// longer or shorter depending on how far its handshake/teardown has
// progressed, not just on its protocol. Every timeout is in the same
// monotonic nanosecond clock as the now passed to HandlePackets.
type Config struct {
	TCPTimeout       uint64 // established TCP traffic with no FIN/SYN/ACK-only signal, i.e. mid-stream data
	TCPSynTimeout    uint64 // SYN seen, no ACK yet: handshake in flight
	TCPSynAckTimeout uint64 // ACK seen (with or without SYN): handshake completing/complete
	TCPFinTimeout    uint64 // FIN seen: teardown in progress, short-lived
	UDPTimeout       uint64
	DefaultTimeout   uint64 // neither TCP nor UDP
	SyncThreshold    uint64 // packets since last sync before re-announcing
	ShardCount       int
	HashFunc         HashFunc
}

// DefaultConfig matches spec.md §4.8's stated TTL-table defaults (tcp=120s,
// udp=30s, default_=16s). The original's fwstate_timeouts leaves
// tcp_syn_ack/tcp_syn/tcp_fin as unspecified "// default" placeholders;
// this picks shorter TTLs for those transitional states, since a
// handshake in flight or a connection already tearing down doesn't
// warrant the full established-connection budget (see DESIGN.md).
func DefaultConfig() Config {
	return Config{
		TCPTimeout:       120 * uint64(time.Second),
		TCPSynTimeout:    10 * uint64(time.Second),
		TCPSynAckTimeout: 60 * uint64(time.Second),
		TCPFinTimeout:    10 * uint64(time.Second),
		UDPTimeout:       30 * uint64(time.Second),
		DefaultTimeout:   16 * uint64(time.Second),
		SyncThreshold:    4,
	}
}

// Handler is both the dataplane stage that tracks connection state for
// ordinary traffic and the StateChecker modules/acl dispatches
// check_state actions to.
type Handler struct {
	layers    *LayerMap
	cfg       Config
	emit      Emitter
	transport *SyncTransport // nil disables re-emission: every sync packet is just consumed
	log       *zap.SugaredLogger
}

func NewHandler(cfg Config, emit Emitter, log *zap.SugaredLogger) *Handler {
	return &Handler{
		layers: NewLayerMap(cfg.ShardCount, cfg.HashFunc),
		cfg:    cfg,
		emit:   emit,
		log:    log,
	}
}

// WithTransport enables re-emission of internally generated sync packets
// toward peers (source-address rewrite + UDP checksum recompute), rather
// than dropping every sync packet after ingestion.
func (h *Handler) WithTransport(t SyncTransport) *Handler {
	h.transport = &t
	return h
}

func (h *Handler) Name() string { return "fwstate" }

// Layers exposes the generational chain for introspection and for tests
// that need to roll a new generation.
func (h *Handler) Layers() *LayerMap { return h.layers }

func (h *Handler) HandlePackets(ctx context.Context, now uint64, front *pipeline.Front) {
	for d := front.Input.PopFront(); d != nil; d = front.Input.PopFront() {
		if h.isSyncPacket(d) {
			if frames, ok := decodeSyncFrames(d.Payload()); ok {
				for _, frame := range frames {
					h.ingestSync(now, frame)
				}
			}
			if h.transport != nil && h.transport.IsInternal(d.SrcAddr) {
				h.transport.Rewrite(d.L3(), d.L3PayloadOffset-d.L2PayloadOffset)
				d.SrcAddr = h.transport.LocalAddr
				front.Output.PushBack(d) // internally generated: forward on to peers
				continue
			}
			front.Drop.PushBack(d) // externally received: consumed here, not re-forwarded
			continue
		}
		h.track(now, d)
		front.Output.PushBack(d)
	}
}

// nearExpiryWindow is spec.md §4.8.A's re-announce threshold: a hit whose
// deadline is closer than this forces a sync even if the packet-count
// threshold hasn't been reached, since the entry might vanish from this
// layer before the next ordinary sync would fire.
const nearExpiryWindow = 8 * uint64(time.Second)

// CheckState implements modules/acl.StateChecker: the check_state action's
// lookup for ordinary data traffic. It builds the reverse key (this
// packet's reply direction) and probes the layer chain; on a hit it counts
// the packet as backward traffic and, if the match came from a
// non-active layer or its deadline is within nearExpiryWindow, forces a
// sync re-announcement regardless of the packet-count threshold.
func (h *Handler) CheckState(now uint64, d *pipeline.Descriptor) bool {
	_, rev := h.keysFor(d)
	if rev == nil {
		return false
	}
	v, stale, found := h.layers.Lookup(rev, now)
	if !found {
		return false
	}
	v.AddBackward(1)
	if stale || v.Deadline-now < nearExpiryWindow {
		h.emitSync(now, d, rev, v, true)
	}
	return true
}

// keysFor returns the encoded forward key and, when the descriptor
// carries enough information, the reverse key, for either address
// family.
func (h *Handler) keysFor(d *pipeline.Descriptor) (fwd []byte, rev []byte) {
	if d.Network == pipeline.NetworkIPv6 {
		k := Key6FromAddrPort(d.SrcAddr, d.DstAddr, d.SrcPort, d.DstPort, uint8(d.Transport))
		fb := k.Bytes()
		rb := k.Reverse().Bytes()
		return fb[:], rb[:]
	}
	k := Key4FromAddrPort(d.SrcAddr, d.DstAddr, d.SrcPort, d.DstPort, uint8(d.Transport))
	fb := k.Bytes()
	rb := k.Reverse().Bytes()
	return fb[:], rb[:]
}

// ttlFor selects a deadline window per spec.md §4.8's TTL table: protocol
// first, then (for TCP) how far the handshake/teardown has progressed —
// FIN always wins regardless of what else is set, then ACK, then SYN,
// then the established-connection default.
func (h *Handler) ttlFor(proto uint8, flags Flags) uint64 {
	switch proto {
	case uint8(pipeline.TransportUDP):
		return h.cfg.UDPTimeout
	case uint8(pipeline.TransportTCP):
		switch {
		case flags&FlagFIN != 0:
			return h.cfg.TCPFinTimeout
		case flags&FlagACK != 0:
			return h.cfg.TCPSynAckTimeout
		case flags&FlagSYN != 0:
			return h.cfg.TCPSynTimeout
		default:
			return h.cfg.TCPTimeout
		}
	default:
		return h.cfg.DefaultTimeout
	}
}

// track records d against connection state: a hit on the forward key
// extends the forward counters, a hit on the reverse key (return
// traffic matching an already-tracked connection) extends the backward
// counters, and a miss on both creates a new forward entry. When enough
// unsynced traffic has passed, it builds and emits a sync frame, mirroring
// fwstate_handle_packets in the original.
func (h *Handler) track(now uint64, d *pipeline.Descriptor) {
	fwdKey, revKey := h.keysFor(d)
	flags := FlagsFromTCP(0)
	if d.Transport == pipeline.TransportTCP {
		flags = FlagsFromTCP(d.TCPFlags)
	}
	deadline := now + h.ttlFor(uint8(d.Transport), flags)

	active := h.layers.Active().Map

	if v, found := active.Get(revKey, now); found {
		v.AddBackward(1)
		active.Upsert(revKey, v.External, v.Type, 0, deadline, now)
		h.maybeSync(now, d, revKey, v, true)
		return
	}
	if v, found := active.Get(fwdKey, now); found {
		v.AddForward(1)
		active.Upsert(fwdKey, v.External, v.Type, flags, deadline, now)
		h.maybeSync(now, d, fwdKey, v, false)
		return
	}

	// Traffic already tracked in an older generation: renew it into the
	// active layer rather than starting a new connection from scratch.
	if v, stale, found := h.layers.Lookup(revKey, now); found && stale {
		v.AddBackward(1)
		active.Upsert(revKey, v.External, v.Type, v.Flags, deadline, now)
		return
	}
	if v, stale, found := h.layers.Lookup(fwdKey, now); found && stale {
		v.AddForward(1)
		active.Upsert(fwdKey, v.External, v.Type, v.Flags, deadline, now)
		return
	}

	external := d.RxDevice != 0 // device 0 reserved for the trusted/internal side by convention
	v := active.Upsert(fwdKey, external, uint8(d.Transport), flags, deadline, now)
	v.AddForward(1)
	h.maybeSync(now, d, fwdKey, v, false)
}

// maybeSync emits a sync frame only once the packet-count threshold is
// reached.
func (h *Handler) maybeSync(now uint64, d *pipeline.Descriptor, key []byte, v *Value, reverseKeyUsed bool) {
	if v.SyncRequired(h.cfg.SyncThreshold) {
		h.emitSync(now, d, key, v, reverseKeyUsed)
	}
}

// emitSync unconditionally builds and emits a sync frame for v, resetting
// its pacing counters.
func (h *Handler) emitSync(now uint64, d *pipeline.Descriptor, key []byte, v *Value, reverseKeyUsed bool) {
	if h.emit == nil {
		return
	}
	var fib uint8
	if reverseKeyUsed {
		fib = 1
	}
	frame := SyncFrame{
		IsIPv6: d.Network == pipeline.NetworkIPv6,
		Fib:    fib,
		Proto:  v.Type,
		Flags:  v.Flags,
	}
	if frame.IsIPv6 {
		frame.Key6 = keyFromBytes6(key, reverseKeyUsed)
	} else {
		frame.Key4 = keyFromBytes4(key, reverseKeyUsed)
	}
	h.emit.EmitSync(frame)
	v.PacketsSinceLastSync = v.TotalPackets()
	v.LastSync = now
}

func keyFromBytes4(b []byte, reversed bool) Key4 {
	var k Key4
	copy(k.SrcAddr[:], b[0:4])
	copy(k.DstAddr[:], b[4:8])
	k.SrcPort = uint16(b[8])<<8 | uint16(b[9])
	k.DstPort = uint16(b[10])<<8 | uint16(b[11])
	k.Proto = b[12]
	if reversed {
		return k.Reverse()
	}
	return k
}

func keyFromBytes6(b []byte, reversed bool) Key6 {
	var k Key6
	copy(k.SrcAddr[:], b[0:16])
	copy(k.DstAddr[:], b[16:32])
	k.SrcPort = uint16(b[32])<<8 | uint16(b[33])
	k.DstPort = uint16(b[34])<<8 | uint16(b[35])
	k.Proto = b[36]
	if reversed {
		return k.Reverse()
	}
	return k
}

// isSyncPacket recognizes a cross-node sync packet by its UDP
// destination port, mirroring is_fw_state_sync_packet.
func (h *Handler) isSyncPacket(d *pipeline.Descriptor) bool {
	return d.Transport == pipeline.TransportUDP && d.DstPort == SyncUDPPort
}

// decodeSyncFrames splits a sync packet's UDP payload into its enclosed
// fixed-size frames, mirroring dataplane.c's
// frame_count = udp_payload_len / sizeof(frame) loop over
// fwstate_process_sync_v4/v6 (spec.md §4.8.B: "For each enclosed frame:
// ..."). A payload whose length isn't a non-zero multiple of
// SyncFrameSize, or that contains a frame failing shape validation, is
// WireFormat per spec.md §7: silently dropped, not treated as an error.
func decodeSyncFrames(payload []byte) ([]SyncFrame, bool) {
	if len(payload) == 0 || len(payload)%SyncFrameSize != 0 {
		return nil, false
	}
	frames := make([]SyncFrame, 0, len(payload)/SyncFrameSize)
	for off := 0; off < len(payload); off += SyncFrameSize {
		frame, ok := DecodeSyncFrame(payload[off : off+SyncFrameSize])
		if !ok {
			return nil, false
		}
		frames = append(frames, frame)
	}
	return frames, true
}

// ingestSync installs a peer's announcement into the active layer. The
// deadline is computed from local TTL configuration, since the wire
// frame carries no deadline of its own (see SyncFrame's doc comment).
// Fib doubles as a direction tag (fwstate_build_value in dataplane.c):
// 0 means the peer observed this packet on ingress (forward), anything
// else means egress (backward), and the corresponding counter ticks once.
func (h *Handler) ingestSync(now uint64, frame SyncFrame) {
	deadline := now + h.ttlFor(frame.Proto, frame.Flags)
	v := h.layers.Active().Map.ApplySync(frame.Key(), frame.Proto, frame.Flags, deadline, now)
	if frame.Fib == 0 {
		v.AddForward(1)
	} else {
		v.AddBackward(1)
	}
}
