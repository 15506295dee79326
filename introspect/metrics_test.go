package introspect

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type fakeACL struct{ counts map[uint8]uint64 }

func (f fakeACL) Counters() map[uint8]uint64 { return f.counts }

type fakeFwmap struct{ entries, depth int }

func (f fakeFwmap) TotalEntries() int { return f.entries }
func (f fakeFwmap) Depth() int        { return f.depth }

type fakePdump struct{ input, drop, bypass uint64 }

func (f fakePdump) Captured() (uint64, uint64, uint64) { return f.input, f.drop, f.bypass }

func gatherDesc(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == name {
			return fam.GetMetric()
		}
	}
	return nil
}

func TestMetricsCollectorExposesTopology(t *testing.T) {
	reg := NewRegistry()
	reg.Update(Snapshot{
		DataplaneModules: []DataplaneModule{{Name: "acl"}, {Name: "fwstate"}},
		ControlModules:   []ControlModule{{Type: "acl", Name: "acl0", Generation: 3}},
		Pipelines:        []Pipeline{{Name: "main", Functions: []string{"f0", "f1"}}},
	})

	c := NewMetricsCollector(reg, nil, nil, nil)
	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(c))

	dp := gatherDesc(t, promReg, "fastpath_dataplane_module_info")
	require.Len(t, dp, 2)

	pipelineMetrics := gatherDesc(t, promReg, "fastpath_pipeline_function_count")
	require.Len(t, pipelineMetrics, 1)
	require.Equal(t, float64(2), pipelineMetrics[0].GetGauge().GetValue())
}

func TestMetricsCollectorExposesModuleCounters(t *testing.T) {
	reg := NewRegistry()
	c := NewMetricsCollector(
		reg,
		map[string]ACLCounters{"worker0": fakeACL{counts: map[uint8]uint64{1: 42}}},
		map[string]FwmapSizer{"worker0": fakeFwmap{entries: 7, depth: 2}},
		map[string]PdumpCounters{"worker0": fakePdump{input: 5, drop: 1, bypass: 0}},
	)
	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(c))

	aclMetrics := gatherDesc(t, promReg, "fastpath_acl_action_hits_total")
	require.Len(t, aclMetrics, 1)
	require.Equal(t, float64(42), aclMetrics[0].GetCounter().GetValue())

	fwmapEntries := gatherDesc(t, promReg, "fastpath_fwstate_entries")
	require.Len(t, fwmapEntries, 1)
	require.Equal(t, float64(7), fwmapEntries[0].GetGauge().GetValue())

	pdumpMetrics := gatherDesc(t, promReg, "fastpath_pdump_captured_total")
	require.Len(t, pdumpMetrics, 3, "one series per queue kind (input, drop, bypass)")
}

func TestRegistryUpdateIsAtomicAndConcurrentSafe(t *testing.T) {
	reg := NewRegistry()
	require.Empty(t, reg.DataplaneModules())

	reg.Update(Snapshot{DataplaneModules: []DataplaneModule{{Name: "pdump"}}})
	require.Equal(t, []DataplaneModule{{Name: "pdump"}}, reg.DataplaneModules())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			reg.Update(Snapshot{Agents: []Agent{{Name: "agent0"}}})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = reg.Current()
	}
	<-done
}
