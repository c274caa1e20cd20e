package metrics

import (
	"net/http"
	"time"
)

// Collector records legion metrics
type Collector interface {
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, value float64, labels map[string]string)

	SetGauge(name string, value float64, labels map[string]string)

	ObserveHistogram(name string, value float64, labels map[string]string)
	ObserveDuration(name string, start time.Time, labels map[string]string)

	Handler() http.Handler
}

// Metric represents a metric definition
type Metric struct {
	Name    string
	Type    MetricType
	Help    string
	Labels  []string
	Buckets []float64
}

// MetricType represents the type of metric
type MetricType string

const (
	CounterType   MetricType = "counter"
	GaugeType     MetricType = "gauge"
	HistogramType MetricType = "histogram"
)

// Standard legion metrics
var (
	RegistryOperations = Metric{
		Name:   "legion_registry_operations_total",
		Type:   CounterType,
		Help:   "Total number of agent registry operations",
		Labels: []string{"operation", "status"},
	}

	RegisteredAgents = Metric{
		Name:   "legion_registered_agents",
		Type:   GaugeType,
		Help:   "Number of registered agents by type and status",
		Labels: []string{"agent_type", "status"},
	}

	AgentsSpawned = Metric{
		Name:   "legion_agents_spawned_total",
		Type:   CounterType,
		Help:   "Total number of spawn attempts",
		Labels: []string{"agent_type", "status"},
	}

	AgentsRecalled = Metric{
		Name:   "legion_agents_recalled_total",
		Type:   CounterType,
		Help:   "Total number of agents recalled",
		Labels: []string{"status"},
	}

	StaleAgents = Metric{
		Name:   "legion_stale_agents_total",
		Type:   CounterType,
		Help:   "Agents moved to error after missing heartbeats",
		Labels: []string{"agent_type"},
	}

	MissionTransitions = Metric{
		Name:   "legion_mission_transitions_total",
		Type:   CounterType,
		Help:   "Mission status transitions",
		Labels: []string{"status"},
	}

	PipelineRuns = Metric{
		Name:   "legion_pipeline_runs_total",
		Type:   CounterType,
		Help:   "ECRR pipeline runs by outcome",
		Labels: []string{"target_type", "status"},
	}

	PipelineStageDuration = Metric{
		Name:    "legion_pipeline_stage_duration_seconds",
		Type:    HistogramType,
		Help:    "Duration of ECRR pipeline stages in seconds",
		Labels:  []string{"stage", "status"},
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}

	EventsPublished = Metric{
		Name:   "legion_events_published_total",
		Type:   CounterType,
		Help:   "Events published to the event bus",
		Labels: []string{"topic", "status"},
	}
)

// StandardMetrics lists every metric registered by RegisterStandardMetrics
var StandardMetrics = []Metric{
	RegistryOperations,
	RegisteredAgents,
	AgentsSpawned,
	AgentsRecalled,
	StaleAgents,
	MissionTransitions,
	PipelineRuns,
	PipelineStageDuration,
	EventsPublished,
}

// Labels creates a labels map from key-value pairs
func Labels(kvs ...string) map[string]string {
	labels := make(map[string]string)
	for i := 0; i < len(kvs)-1; i += 2 {
		labels[kvs[i]] = kvs[i+1]
	}
	return labels
}

// StatusLabel maps an error to the "status" label value
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Discard is a Collector that records nothing
type Discard struct{}

func (Discard) IncrementCounter(string, map[string]string) {}
func (Discard) AddCounter(string, float64, map[string]string) {}
func (Discard) SetGauge(string, float64, map[string]string) {}
func (Discard) ObserveHistogram(string, float64, map[string]string) {}
func (Discard) ObserveDuration(string, time.Time, map[string]string) {}
func (Discard) Handler() http.Handler { return http.NotFoundHandler() }
