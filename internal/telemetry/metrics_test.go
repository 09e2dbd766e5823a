package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postflow/internal/project"
)

func TestCollectorRecordsPublishOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPublishOutcome(project.PlatformLinkedIn, OutcomePublished)
	c.RecordPublishOutcome(project.PlatformLinkedIn, OutcomePublished)
	c.RecordPublishOutcome(project.PlatformX, OutcomeFailed)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != "postflow_publish_attempts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	if total != 3 {
		t.Fatalf("expected 3 publish attempts recorded, got %v", total)
	}
}

func TestCollectorRecordsDispatchCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDispatchCycle(250*time.Millisecond, 4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "postflow_dispatch_claimed_total" {
			found = true
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 4 {
				t.Fatalf("dispatch_claimed_total = %v, want 4", got)
			}
		}
	}
	if !found {
		t.Fatal("expected dispatch_claimed_total metric")
	}
}
