package introspect

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ACLCounters is the subset of modules/acl.Handler this package depends
// on, kept as a local interface (the same pattern modules/acl.StateChecker
// uses to avoid an import cycle back into modules/acl).
type ACLCounters interface {
	Counters() map[uint8]uint64
}

// FwmapSizer is the subset of modules/fwstate.LayerMap this package
// depends on.
type FwmapSizer interface {
	TotalEntries() int
	Depth() int
}

// PdumpCounters is the subset of modules/pdump.CaptureHandler this
// package depends on.
type PdumpCounters interface {
	Captured() (input, drop, bypass uint64)
}

// MetricsCollector is a prometheus.Collector exposing the introspection
// Registry's topology as gauges, plus the per-module operational counters
// (ACL rule hits, fwmap occupancy, pdump capture counts) that generalize
// spec.md §4.1's memory_context allocation totals and §6's introspection
// API into something a monitoring collaborator can scrape, following the
// Describe/Collect shape used by the pack's own prometheus collector
// (runZeroInc-sockstats' TCPInfoCollector).
type MetricsCollector struct {
	registry *Registry

	acl   map[string]ACLCounters
	fwmap map[string]FwmapSizer
	pdump map[string]PdumpCounters

	dpModuleInfo       *prometheus.Desc
	cpModuleGeneration *prometheus.Desc
	pipelineFuncCount  *prometheus.Desc
	agentMemoryLimit   *prometheus.Desc
	agentAllocated     *prometheus.Desc
	agentFreed         *prometheus.Desc
	agentGeneration    *prometheus.Desc

	aclActionHits   *prometheus.Desc
	fwmapEntries    *prometheus.Desc
	fwmapLayerDepth *prometheus.Desc
	pdumpCaptured   *prometheus.Desc
}

// NewMetricsCollector builds a collector over reg. The acl/fwmap/pdump
// maps are keyed by an arbitrary label (typically a worker or pipeline
// name) identifying which running instance a counter belongs to; pass
// nil or an empty map for any that aren't wired up yet.
func NewMetricsCollector(reg *Registry, acl map[string]ACLCounters, fwmap map[string]FwmapSizer, pdump map[string]PdumpCounters) *MetricsCollector {
	return &MetricsCollector{
		registry: reg,
		acl:      acl,
		fwmap:    fwmap,
		pdump:    pdump,

		dpModuleInfo: prometheus.NewDesc(
			"fastpath_dataplane_module_info", "Present dataplane module (constant 1).",
			[]string{"module"}, nil,
		),
		cpModuleGeneration: prometheus.NewDesc(
			"fastpath_control_module_generation", "Current generation of a control-plane module's configuration.",
			[]string{"type", "name"}, nil,
		),
		pipelineFuncCount: prometheus.NewDesc(
			"fastpath_pipeline_function_count", "Number of functions chained into a pipeline.",
			[]string{"pipeline"}, nil,
		),
		agentMemoryLimit: prometheus.NewDesc(
			"fastpath_agent_memory_limit_bytes", "Configured memory limit for an agent instance.",
			[]string{"agent", "pid"}, nil,
		),
		agentAllocated: prometheus.NewDesc(
			"fastpath_agent_memory_allocated_bytes", "Cumulative bytes allocated by an agent instance's memory_context.",
			[]string{"agent", "pid"}, nil,
		),
		agentFreed: prometheus.NewDesc(
			"fastpath_agent_memory_freed_bytes", "Cumulative bytes freed by an agent instance's memory_context.",
			[]string{"agent", "pid"}, nil,
		),
		agentGeneration: prometheus.NewDesc(
			"fastpath_agent_generation", "Current generation of an agent instance.",
			[]string{"agent", "pid"}, nil,
		),
		aclActionHits: prometheus.NewDesc(
			"fastpath_acl_action_hits_total", "ACL count-action hit registry, keyed by the action's flags byte.",
			[]string{"instance", "flags"}, nil,
		),
		fwmapEntries: prometheus.NewDesc(
			"fastpath_fwstate_entries", "Live connection-state entries across a fwmap's generational chain.",
			[]string{"instance"}, nil,
		),
		fwmapLayerDepth: prometheus.NewDesc(
			"fastpath_fwstate_layer_depth", "Number of generations reachable from a fwmap's active layer.",
			[]string{"instance"}, nil,
		),
		pdumpCaptured: prometheus.NewDesc(
			"fastpath_pdump_captured_total", "Packets written into a pdump ring, by queue kind.",
			[]string{"instance", "queue"}, nil,
		),
	}
}

func (c *MetricsCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.dpModuleInfo
	descs <- c.cpModuleGeneration
	descs <- c.pipelineFuncCount
	descs <- c.agentMemoryLimit
	descs <- c.agentAllocated
	descs <- c.agentFreed
	descs <- c.agentGeneration
	descs <- c.aclActionHits
	descs <- c.fwmapEntries
	descs <- c.fwmapLayerDepth
	descs <- c.pdumpCaptured
}

func (c *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.registry.Current()

	for _, m := range snap.DataplaneModules {
		metrics <- prometheus.MustNewConstMetric(c.dpModuleInfo, prometheus.GaugeValue, 1, m.Name)
	}
	for _, m := range snap.ControlModules {
		metrics <- prometheus.MustNewConstMetric(c.cpModuleGeneration, prometheus.GaugeValue, float64(m.Generation), m.Type, m.Name)
	}
	for _, p := range snap.Pipelines {
		metrics <- prometheus.MustNewConstMetric(c.pipelineFuncCount, prometheus.GaugeValue, float64(len(p.Functions)), p.Name)
	}
	for _, a := range snap.Agents {
		for _, inst := range a.Instances {
			pid := pidLabel(inst.PID)
			metrics <- prometheus.MustNewConstMetric(c.agentMemoryLimit, prometheus.GaugeValue, float64(inst.MemoryLimit), a.Name, pid)
			metrics <- prometheus.MustNewConstMetric(c.agentAllocated, prometheus.CounterValue, float64(inst.Allocated), a.Name, pid)
			metrics <- prometheus.MustNewConstMetric(c.agentFreed, prometheus.CounterValue, float64(inst.Freed), a.Name, pid)
			metrics <- prometheus.MustNewConstMetric(c.agentGeneration, prometheus.GaugeValue, float64(inst.Generation), a.Name, pid)
		}
	}

	for instance, counters := range c.acl {
		for flags, hits := range counters.Counters() {
			metrics <- prometheus.MustNewConstMetric(c.aclActionHits, prometheus.CounterValue, float64(hits), instance, flagsLabel(flags))
		}
	}
	for instance, m := range c.fwmap {
		metrics <- prometheus.MustNewConstMetric(c.fwmapEntries, prometheus.GaugeValue, float64(m.TotalEntries()), instance)
		metrics <- prometheus.MustNewConstMetric(c.fwmapLayerDepth, prometheus.GaugeValue, float64(m.Depth()), instance)
	}
	for instance, p := range c.pdump {
		input, drop, bypass := p.Captured()
		metrics <- prometheus.MustNewConstMetric(c.pdumpCaptured, prometheus.CounterValue, float64(input), instance, "input")
		metrics <- prometheus.MustNewConstMetric(c.pdumpCaptured, prometheus.CounterValue, float64(drop), instance, "drop")
		metrics <- prometheus.MustNewConstMetric(c.pdumpCaptured, prometheus.CounterValue, float64(bypass), instance, "bypass")
	}
}

func pidLabel(pid int32) string {
	return itoa(int64(pid))
}

func flagsLabel(flags uint8) string {
	return itoa(int64(flags))
}

// itoa avoids pulling in strconv just for these two single-purpose label
// conversions.
func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
