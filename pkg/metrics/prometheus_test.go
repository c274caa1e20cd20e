package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c *PrometheusCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Gatherer().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestPrometheusCollector_StandardMetrics(t *testing.T) {
	c := NewPrometheusCollector()
	require.NoError(t, c.RegisterStandardMetrics())

	assert.Len(t, c.MetricNames(), len(StandardMetrics))
	assert.Error(t, c.RegisterStandardMetrics(), "duplicate registration must fail")
}

func TestPrometheusCollector_Counters(t *testing.T) {
	c := NewPrometheusCollector()
	require.NoError(t, c.RegisterStandardMetrics())

	labels := Labels("operation", "create", "status", "success")
	c.IncrementCounter(RegistryOperations.Name, labels)
	c.AddCounter(RegistryOperations.Name, 2, labels)
	c.IncrementCounter("legion_unknown_total", labels)

	assert.Equal(t, float64(3), counterValue(t, c, RegistryOperations.Name, labels))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector()
	require.NoError(t, c.RegisterStandardMetrics())
	c.ObserveDuration(PipelineStageDuration.Name, time.Now(), Labels("stage", "emulate", "status", "success"))
	c.SetGauge(RegisteredAgents.Name, 4, Labels("agent_type", "Oracle", "status", "online"))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "legion_pipeline_stage_duration_seconds")
	assert.Contains(t, rec.Body.String(), `legion_registered_agents{agent_type="Oracle",status="online"} 4`)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "success", StatusLabel(nil))
	assert.Equal(t, "error", StatusLabel(assert.AnError))
}
