package introspect

import "sync/atomic"

// Snapshot is one consistent, immutable view of the whole topology.
// Registry publishes a new Snapshot by swapping an atomic pointer, the
// same RCU-style publish pattern modules/fwstate.LayerMap uses for its
// generational chain: a reader holding an old Snapshot never observes a
// torn mix of old and new data, and never blocks a writer.
type Snapshot struct {
	DataplaneModules []DataplaneModule
	ControlModules   []ControlModule
	Pipelines        []Pipeline
	Functions        []Function
	Devices          []Device
	Agents           []Agent
}

// Registry holds the current Snapshot. The zero value is ready to use
// (an empty topology) until the first Update.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry returns a Registry publishing an empty initial snapshot.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{})
	return r
}

// Update publishes snap as the new current view. Callers build a
// complete Snapshot (not a delta) since readers only ever see whole,
// self-consistent generations.
func (r *Registry) Update(snap Snapshot) {
	r.current.Store(&snap)
}

// Current returns the most recently published Snapshot. Safe to call
// concurrently with Update from any number of goroutines.
func (r *Registry) Current() *Snapshot {
	s := r.current.Load()
	if s == nil {
		return &Snapshot{}
	}
	return s
}

func (r *Registry) DataplaneModules() []DataplaneModule { return r.Current().DataplaneModules }
func (r *Registry) ControlModules() []ControlModule     { return r.Current().ControlModules }
func (r *Registry) Pipelines() []Pipeline               { return r.Current().Pipelines }
func (r *Registry) Functions() []Function               { return r.Current().Functions }
func (r *Registry) Devices() []Device                   { return r.Current().Devices }
func (r *Registry) Agents() []Agent                     { return r.Current().Agents }
