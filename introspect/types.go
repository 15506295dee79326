// Package introspect exposes read-only, lock-free snapshots of the
// running dataplane/control-plane topology, grounded on the teacher's
// cgo agent/info tool (yanet_get_dp_module_list_info,
// yanet_get_cp_module_list_info, yanet_get_cp_pipeline_list_info,
// yanet_get_cp_agent_list_info and friends) reimplemented as plain Go
// data plus prometheus collectors, since the CLI/RPC surface that would
// normally serve this data is out of scope.
package introspect

// DataplaneModule is one compiled-in dataplane module: name only, per
// spec.md §6 ("List dataplane modules: names only").
type DataplaneModule struct {
	Name string
}

// ControlModule is one control-plane module instance bound to a
// dataplane module by index, mirroring cp_module_info's
// (type, name, generation) triple.
type ControlModule struct {
	Type       string // the dataplane module this configuration targets
	Name       string // the control-plane config's own name
	Generation uint64 // bumped on every successful reconfiguration
}

// Chain is one weighted link in a function's module chain, mirroring
// cp_function's chain entries.
type Chain struct {
	Name       string
	Weight     uint32
	ModuleRefs []string // ControlModule.Name values, in evaluation order
}

// Function is a named group of chains a pipeline can reference.
type Function struct {
	Name   string
	Chains []Chain
}

// Pipeline is an ordered list of function names a device's traffic is
// run through, mirroring cp_pipeline_info.
type Pipeline struct {
	Name      string
	Functions []string
}

// Device is one dataplane I/O device (a physical port or a virtual
// interface) and the pipelines bound to its ingress/egress.
type Device struct {
	Type            string
	Name            string
	InputPipelines  []string
	OutputPipelines []string
}

// AgentInstance is one control-plane agent process's memory accounting,
// mirroring cp_agent_instance_info — the per-agent counterpart to
// memory_context's allocation totals (spec.md §4.1).
type AgentInstance struct {
	PID         int32
	MemoryLimit uint64
	Allocated   uint64
	Freed       uint64
	Generation  uint64
}

// Agent is a named control-plane agent and its running instances (a
// rolling restart briefly has more than one).
type Agent struct {
	Name      string
	Instances []AgentInstance
}
