package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew_RegistersAgainstProvidedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.PublishedTotal.Inc()
	c.DroppedTotal.WithLabelValues("drop_oldest").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, fam := range families {
		if fam.GetName() == "meshbus_messages_published_total" {
			found = true
			if got := fam.Metric[0].GetCounter().GetValue(); got != 1 {
				t.Errorf("published total = %v, want 1", got)
			}
		}
	}
	if !found {
		t.Error("expected meshbus_messages_published_total to be registered")
	}
}

func TestNew_TwoInstancesDoNotCollide(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	// Same metric names registered against two independent registries
	// must not panic (this would panic against a single shared registry
	// or package-level promauto globals).
	_ = New(regA)
	_ = New(regB)
}

func TestNew_NilRegistererIsUsableStandalone(t *testing.T) {
	c := New(nil)
	c.EndpointsActive.Set(3)

	var m dto.Metric
	if err := c.EndpointsActive.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetGauge().GetValue() != 3 {
		t.Errorf("EndpointsActive = %v, want 3", m.GetGauge().GetValue())
	}
}
