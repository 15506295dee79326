package pdump

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yanetcore/fastpath/pipeline"
)

// CaptureHandler taps a worker's packet queues and writes a truncated
// copy of each matched packet into that worker's ring, exactly mirroring
// process_queue/pdump_handle_packets in
// original_source/modules/pdump/dataplane/dataplane.c: drop queue first,
// then input, then bypass, each gated by the mode bitmask, snaplen
// truncating the captured payload.
type CaptureHandler struct {
	ring        *Ring
	cfg         Config
	workerIdx   uint32
	pipelineIdx uint32
	log         *zap.SugaredLogger

	captured [3]atomic.Uint64 // indexed by queueIndex(kind), for introspection
}

func queueIndex(kind Queue) int {
	switch kind {
	case QueueDrop:
		return 1
	case QueueBypass:
		return 2
	default:
		return 0
	}
}

// Captured returns the running per-queue-kind message counts (input, drop,
// bypass), the generalization of the original's module-local capture
// counters into something a collaborator can scrape.
func (h *CaptureHandler) Captured() (input, drop, bypass uint64) {
	return h.captured[0].Load(), h.captured[1].Load(), h.captured[2].Load()
}

func NewCaptureHandler(ring *Ring, cfg Config, workerIdx uint32, log *zap.SugaredLogger) *CaptureHandler {
	return &CaptureHandler{ring: ring, cfg: cfg, workerIdx: workerIdx, pipelineIdx: cfg.PipelineIdx, log: log}
}

func (h *CaptureHandler) Name() string { return "pdump" }

// HandlePackets captures from its own Front's Input (any Drop/Bypass
// present are captured too, so this also supports composition via Wrap,
// where it sees the queues a preceding stage has already populated in
// the same tick) and finally passes Input through to Output, matching
// packet_front_pass at the end of pdump_handle_packets.
func (h *CaptureHandler) HandlePackets(ctx context.Context, now uint64, front *pipeline.Front) {
	h.Observe(now, front)
	front.Pass()
}

// Observe captures from front's queues without otherwise touching them —
// the piece Wrap uses to tap another stage's Front before its Drop/Bypass
// are drained by the runtime.
func (h *CaptureHandler) Observe(now uint64, front *pipeline.Front) {
	if h.cfg.Mode&ModeDrop != 0 {
		h.captureQueue(now, &front.Drop, QueueDrop)
	}
	if h.cfg.Mode&ModeInput != 0 {
		h.captureQueue(now, &front.Input, QueueInput)
	}
	if h.cfg.Mode&ModeBypass != 0 {
		h.captureQueue(now, &front.Bypass, QueueBypass)
	}
}

func (h *CaptureHandler) captureQueue(now uint64, q *pipeline.Queue, kind Queue) {
	snaplen := h.cfg.snaplen()
	idx := queueIndex(kind)
	q.Each(func(d *pipeline.Descriptor) {
		full := d.Bytes()
		capLen := uint32(len(full))
		if capLen > snaplen {
			capLen = snaplen
		}

		hdr := Header{
			PacketLen:   uint32(len(full)),
			Timestamp:   now,
			WorkerIdx:   h.workerIdx,
			PipelineIdx: h.pipelineIdx,
			RxDevice:    d.RxDevice,
			TxDevice:    d.TxDevice,
			Queue:       kind,
		}
		h.ring.WriteMessage(hdr, full[:capLen])
		h.captured[idx].Add(1)
	})
}

// Wrap returns a pipeline.Handler that runs inner, then taps the
// resulting Front with capture before the runtime drains Drop/Bypass —
// the composition a deployment uses to observe another stage's drops
// without pdump owning that stage's Front.
func Wrap(inner pipeline.Handler, capture *CaptureHandler) pipeline.Handler {
	return &tappedHandler{inner: inner, capture: capture}
}

type tappedHandler struct {
	inner   pipeline.Handler
	capture *CaptureHandler
}

func (t *tappedHandler) Name() string { return t.inner.Name() }

func (t *tappedHandler) HandlePackets(ctx context.Context, now uint64, front *pipeline.Front) {
	t.inner.HandlePackets(ctx, now, front)
	t.capture.Observe(now, front)
}
