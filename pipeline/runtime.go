package pipeline

import "context"

// Handler is a pipeline stage: given the current time (a monotonic
// nanosecond counter the embedding program supplies — this module never
// reads a clock itself, per spec.md's non-goal on TSC/clock handling) and
// a Front, it classifies/transforms Input packets into Output/Drop/Bypass.
type Handler interface {
	Name() string
	HandlePackets(ctx context.Context, now uint64, front *Front)
}

// Stage pairs a Handler with the Front it reads and writes within one
// pipeline tick.
type Stage struct {
	Handler Handler
	Front   *Front
}

// Runtime runs a fixed, ordered chain of stages over a single batch,
// rotating each stage's Output into the next stage's Input — the
// dataplane's "packet moves forward one stage per tick" execution model
// (spec.md §4.10), bypass queues are collected separately so the caller
// can re-inject them past whichever later stage they were meant to skip.
type Runtime struct {
	Stages []Stage
}

// RunBatch drives every stage once, in order, rotating queues between
// them. It returns the terminal Bypass and Drop queues (pooled across all
// stages) so the caller can dispose of dropped packets and re-route
// bypassed ones.
func (r *Runtime) RunBatch(ctx context.Context, now uint64) (bypassed, dropped *Queue) {
	bypass := &Queue{}
	drop := &Queue{}

	for i, stage := range r.Stages {
		stage.Handler.HandlePackets(ctx, now, stage.Front)

		stage.Front.Bypass.drainInto(bypass)
		stage.Front.Drop.drainInto(drop)

		if i+1 < len(r.Stages) {
			stage.Front.Rotate(r.Stages[i+1].Front)
		}
	}

	return bypass, drop
}
