package metricsx

import (
	"strings"
	"testing"

	"github.com/VictoriaMetrics/metrics"
)

func TestNetCounterLazyCreation(t *testing.T) {
	set := metrics.NewSet()
	c := NewNetCounter(set, "frames_forwarded_total")

	c.Inc(7)
	c.Inc(7)
	c.Inc(12)

	var buf strings.Builder
	set.WritePrometheus(&buf)
	out := buf.String()

	if !strings.Contains(out, `frames_forwarded_total{net="7"} 2`) {
		t.Errorf("expected net=7 counter at 2, got: %s", out)
	}
	if !strings.Contains(out, `frames_forwarded_total{net="12"} 1`) {
		t.Errorf("expected net=12 counter at 1, got: %s", out)
	}
}
