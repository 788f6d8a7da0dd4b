package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// value returns the counter or gauge value of the series of family name whose
// labels include all of want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(want) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick(0.1)
	m.RecordScan()
	m.RecordTransition("LOADED", true, "load")
	m.SetChunkStates(map[string]int{"LOADED": 1}, 1, 1)
	m.RecordSave("ok", 0.1)
	m.SetSaveQueue(1, 1)
	m.RecordEdit("place", "applied")
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTransition("LOADED", false, "load")
	m.RecordTransition("UNLOADED", true, "load")
	m.RecordSave("ok", 0.01)
	m.RecordSave("IO_FAILURE", 0.02)
	m.SetChunkStates(map[string]int{"LOADED": 7, "LOAD_REQUESTED": 2}, 3, 0)
	m.SetSaveQueue(2, 1)

	if got := value(t, reg, "voxel_chunk_transitions_total", map[string]string{"to": "LOADED"}); got != 1 {
		t.Fatalf("transitions=%v want=1", got)
	}
	if got := value(t, reg, "voxel_chunk_failures_total", map[string]string{"op": "load"}); got != 1 {
		t.Fatalf("failures=%v want=1", got)
	}
	if got := value(t, reg, "voxel_saves_total", map[string]string{"result": "IO_FAILURE"}); got != 1 {
		t.Fatalf("failed saves=%v want=1", got)
	}
	if got := value(t, reg, "voxel_chunks", map[string]string{"state": "LOADED"}); got != 7 {
		t.Fatalf("loaded gauge=%v want=7", got)
	}
	if got := value(t, reg, "voxel_chunk_deferred", map[string]string{"op": "load"}); got != 3 {
		t.Fatalf("deferred gauge=%v want=3", got)
	}
	if got := value(t, reg, "voxel_saves_pending", nil); got != 2 {
		t.Fatalf("pending=%v want=2", got)
	}
}
