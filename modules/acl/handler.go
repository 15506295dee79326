package acl

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/yanetcore/fastpath/pipeline"
)

// StateChecker is the fwstate lookup capability a check_state action
// dispatches to (spec.md §4.8.A: "Lookup for ordinary data traffic, called
// by ACL's check_state"). Defined here rather than importing
// modules/fwstate directly so the two modules don't form an import cycle;
// modules/fwstate.Handler satisfies this interface.
type StateChecker interface {
	CheckState(now uint64, d *pipeline.Descriptor) bool
}

// Handler is the ACL pipeline stage: for every input packet it resolves
// the compiled action list and walks it front-to-back, applying the first
// action whose device mask includes the packet's input device, continuing
// past it only if that action is marked non-terminating.
//
// Grounded on original_source/modules/acl/dataplane/action.h's
// process_packet_actions and dataplane.c's acl_handle_packets main loop.
type Handler struct {
	compiler *Compiler
	checker  StateChecker
	log      *zap.SugaredLogger

	countersMu sync.Mutex
	counters   map[uint8]uint64 // action.Flags -> hit count, for ActionCount
}

// NewHandler constructs an ACL handler bound to a compiled rule set. The
// StateChecker may be nil if no rule uses ActionCheckState.
func NewHandler(compiler *Compiler, checker StateChecker, log *zap.SugaredLogger) *Handler {
	return &Handler{
		compiler: compiler,
		checker:  checker,
		log:      log,
		counters: make(map[uint8]uint64),
	}
}

// Counters returns a point-in-time copy of the ActionCount hit registry,
// the generalized stand-in for the original's per-rule result_registry:
// safe to call from a collaborator (e.g. a prometheus collector) on a
// goroutine other than the worker driving HandlePackets.
func (h *Handler) Counters() map[uint8]uint64 {
	h.countersMu.Lock()
	defer h.countersMu.Unlock()
	out := make(map[uint8]uint64, len(h.counters))
	for k, v := range h.counters {
		out[k] = v
	}
	return out
}

func (h *Handler) Name() string { return "acl" }

func (h *Handler) HandlePackets(ctx context.Context, now uint64, front *pipeline.Front) {
	for d := front.Input.PopFront(); d != nil; d = front.Input.PopFront() {
		switch h.evaluate(now, d) {
		case outcomePass:
			front.Output.PushBack(d)
		case outcomeDrop:
			front.Drop.PushBack(d)
		}
	}
}

type outcome int

const (
	outcomePass outcome = iota
	outcomeDrop
)

// evaluate resolves d's classification and walks its action list,
// matching process_packet_actions: the first action whose device mask
// contains d.RxDevice is applied; if NonTerminate is set, evaluation
// continues to the next matching action instead of stopping.
func (h *Handler) evaluate(now uint64, d *pipeline.Descriptor) outcome {
	input := Input{
		IsIPv6:   d.Network == pipeline.NetworkIPv6,
		SrcAddr:  d.SrcAddr,
		DstAddr:  d.DstAddr,
		Proto:    uint8(d.Transport),
		TCPFlags: d.TCPFlags,
		SrcPort:  d.SrcPort,
		DstPort:  d.DstPort,
		VLAN:     d.VLANID,
	}

	actions := h.compiler.Match(input)

	result := outcomePass
	for _, encoded := range actions {
		a := DecodeAction(encoded)
		if a.DeviceMask != 0 && a.DeviceMask&(1<<d.RxDevice) == 0 {
			continue
		}

		switch a.Kind {
		case ActionPass:
			result = outcomePass
		case ActionDeny:
			result = outcomeDrop
		case ActionCount:
			h.countersMu.Lock()
			h.counters[a.Flags]++
			h.countersMu.Unlock()
		case ActionCheckState:
			if h.checker != nil && h.checker.CheckState(now, d) {
				result = outcomePass
			} else {
				result = outcomeDrop
			}
		}

		if !a.NonTerminate {
			break
		}
	}

	return result
}
