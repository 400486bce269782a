package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/swarmguard/gateway/internal/model"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	c.MustRegister(reg)
}

func TestObserveDispatch_IncrementsCounter(t *testing.T) {
	c := New()
	c.ObserveDispatch(model.VerdictBlocked)
	c.ObserveDispatch(model.VerdictBlocked)
	c.ObserveDispatch(model.VerdictSafe)

	metric := &dto.Metric{}
	m, err := c.DispatchTotal.GetMetricWithLabelValues(string(model.VerdictBlocked))
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := m.Write(metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("BLOCKED count = %v, want 2", got)
	}
}

func TestObserveGate_LabelsOutcomeCorrectly(t *testing.T) {
	c := New()
	c.ObserveGate(2.5, true, false)
	c.ObserveGate(1.0, false, true)
	c.ObserveGate(0.5, false, false)

	metric := &dto.Metric{}
	m, err := c.GateEscalations.GetMetricWithLabelValues("escalate")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := m.Write(metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("escalate count = %v, want 1", got)
	}
}

func TestObserveLayer_RecordsFailures(t *testing.T) {
	c := New()
	c.ObserveLayer(model.LayerVerdict{LayerTag: model.LayerL1, Error: "boom"})

	metric := &dto.Metric{}
	m, err := c.LayerFailuresTotal.GetMetricWithLabelValues(string(model.LayerL1))
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := m.Write(metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}
