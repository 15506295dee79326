package pipeline

// Front is the per-worker packet_front: the four intrusive queues a
// module handler reads from and writes to in a single pipeline tick.
//
//   - Input: packets handed to this stage.
//   - Output: packets this stage wants the next stage to see.
//   - Drop: packets this stage has decided to discard.
//   - Bypass: packets this stage wants to skip straight past the rest of
//     the pipeline (e.g. already-classified traffic a later ACL shouldn't
//     re-evaluate).
type Front struct {
	Input, Output, Drop, Bypass Queue
}

// Pass moves every packet still in Input to Output unchanged, the
// behavior of an observer stage (e.g. pdump) that captures packets without
// altering their disposition.
func (f *Front) Pass() {
	f.Input.drainInto(&f.Output)
}

// Rotate moves this stage's Output into dst's Input, the per-stage
// transition a Runtime performs between pipeline stages. Drop and Bypass
// queues are left for the runtime to drain separately (bypass packets
// re-enter at a configured later stage; dropped packets are freed).
func (f *Front) Rotate(dst *Front) {
	f.Output.drainInto(&dst.Input)
}

// Reset empties all four queues, preparing the front for the next batch.
func (f *Front) Reset() {
	f.Input.Reset()
	f.Output.Reset()
	f.Drop.Reset()
	f.Bypass.Reset()
}
