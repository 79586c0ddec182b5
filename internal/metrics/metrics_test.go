package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestCollector_RecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg, zap.NewNop())

	c.RecordRequest("app.example", "ssr", 0.25)
	c.RecordRequest("app.example", "ssr", 0.5)
	c.RecordRequest("app.example", "static", 0.01)

	families := gather(t, reg)

	total := families["renderx_requests_total"]
	require.NotNil(t, total)
	require.Len(t, total.Metric, 2)

	for _, m := range total.Metric {
		labels := map[string]string{}
		for _, l := range m.Label {
			labels[l.GetName()] = l.GetValue()
		}
		switch labels["mode"] {
		case "ssr":
			assert.Equal(t, 2.0, m.Counter.GetValue())
		case "static":
			assert.Equal(t, 1.0, m.Counter.GetValue())
		default:
			t.Fatalf("unexpected mode %q", labels["mode"])
		}
	}
}

func TestCollector_CacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg, zap.NewNop())

	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCacheMiss()

	families := gather(t, reg)
	assert.Equal(t, 2.0, families["renderx_cache_hits_total"].Metric[0].Counter.GetValue())
	assert.Equal(t, 1.0, families["renderx_cache_misses_total"].Metric[0].Counter.GetValue())
}

func TestCollector_ActiveRendersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(reg, zap.NewNop())

	c.RenderStarted()
	c.RenderStarted()
	c.RenderFinished()

	families := gather(t, reg)
	assert.Equal(t, 1.0, families["renderx_active_renders"].Metric[0].Gauge.GetValue())
}

func TestCollector_NilIsNoOp(t *testing.T) {
	var c *Collector
	// must not panic
	c.RecordRequest("h", "m", 1)
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordRender(1)
	c.RecordRenderFailure("timeout")
	c.RenderStarted()
	c.RenderFinished()
	c.RecordRateLimitRejection()
}
