// Package spawner creates agents against the registry: single agents, units,
// whole swarms, pipeline output and quick-deploy templates.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
)

// Registrar is the subset of the registry used to bring agents to life
type Registrar interface {
	Create(ctx context.Context, spec registry.CreateSpec) (models.Agent, error)
	CompleteSpawn(ctx context.Context, id string) (models.Agent, error)
	AbortSpawn(ctx context.Context, id string) error
}

// SwarmRegistrar records a swarm deployment. The draft carries swarm id,
// type, controller, members and configuration; the registrar fills in the
// rest.
type SwarmRegistrar interface {
	Register(ctx context.Context, draft models.SwarmDeployment) (models.SwarmDeployment, error)
}

// Config describes one agent to spawn
type Config struct {
	Name          string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Type          models.AgentType       `json:"type" yaml:"type"`
	Role          string                 `json:"role" yaml:"role"`
	Skills        []string               `json:"skills,omitempty" yaml:"skills,omitempty"`
	Tools         []string               `json:"tools,omitempty" yaml:"tools,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Performance   *models.Performance    `json:"performance,omitempty" yaml:"performance,omitempty"`
}

// Clone returns a copy that shares no slices or maps with c
func (c Config) Clone() Config {
	out := c
	out.Skills = append([]string(nil), c.Skills...)
	out.Tools = append([]string(nil), c.Tools...)
	if c.Configuration != nil {
		out.Configuration = make(map[string]interface{}, len(c.Configuration))
		for k, v := range c.Configuration {
			out.Configuration[k] = v
		}
	}
	if c.Performance != nil {
		p := *c.Performance
		out.Performance = &p
	}
	return out
}

// Parent relationship labels reported on a SpawnResult
const (
	ParentEstablished = "established"
	ParentIndependent = "independent"
)

// SpawnResult is the outcome of spawning one agent
type SpawnResult struct {
	SpawnID            string       `json:"spawn_id"`
	Agent              models.Agent `json:"agent"`
	SpawnedAt          time.Time    `json:"spawn_timestamp"`
	CapabilitiesLoaded int          `json:"capabilities_loaded"`
	ToolsEquipped      int          `json:"tools_equipped"`
	ParentRelationship string       `json:"parent_relationship"`
}

// Request pairs a config with the parent it should be spawned under
type Request struct {
	Config   Config
	ParentID string
}

// Spawner creates agents
type Spawner struct {
	registrar   Registrar
	swarms      SwarmRegistrar
	emitter     *events.Emitter
	metrics     metrics.Collector
	logger      logging.Logger
	concurrency int
	now         func() time.Time
}

// Option configures a Spawner
type Option func(*Spawner)

// WithSwarmRegistrar enables SpawnSwarm
func WithSwarmRegistrar(r SwarmRegistrar) Option {
	return func(s *Spawner) { s.swarms = r }
}

// WithEmitter publishes agent.spawned events
func WithEmitter(e *events.Emitter) Option {
	return func(s *Spawner) { s.emitter = e }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(s *Spawner) { s.metrics = c }
}

// WithLogger sets the structured logger
func WithLogger(l logging.Logger) Option {
	return func(s *Spawner) { s.logger = l }
}

// WithConcurrency bounds parallel spawns in SpawnMany
func WithConcurrency(n int) Option {
	return func(s *Spawner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Spawner) { s.now = now }
}

// DefaultConcurrency is the SpawnMany bound when none is configured
const DefaultConcurrency = 4

// New creates a spawner over registrar
func New(registrar Registrar, opts ...Option) *Spawner {
	s := &Spawner{
		registrar:   registrar,
		metrics:     metrics.Discard{},
		logger:      logging.NewNopLogger(),
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String("component", "spawner"))
	return s
}

// Concurrency returns the SpawnMany bound
func (s *Spawner) Concurrency() int {
	return s.concurrency
}

// SpawnAgent creates the agent in the spawning state, initializes its
// capabilities and brings it online
func (s *Spawner) SpawnAgent(ctx context.Context, cfg Config, parentID string) (result SpawnResult, err error) {
	spawnID := uuid.New().String()
	agentType := cfg.Type
	if agentType == "" {
		agentType = models.AgentTypeModular
	}
	defer func() {
		s.metrics.IncrementCounter(metrics.AgentsSpawned.Name, metrics.Labels(
			"agent_type", string(agentType),
			"status", metrics.StatusLabel(err),
		))
	}()

	name := cfg.Name
	if name == "" {
		name = "Agent-" + spawnID[:8]
	}
	role := cfg.Role
	if role == "" {
		role = "General Purpose"
	}
	skills, tools := initializeCapabilities(cfg.Skills, cfg.Tools)

	configuration := make(map[string]interface{}, len(cfg.Configuration)+1)
	for k, v := range cfg.Configuration {
		configuration[k] = v
	}
	configuration["spawn_id"] = spawnID

	agent, err := s.registrar.Create(ctx, registry.CreateSpec{
		Name:          name,
		Type:          agentType,
		Role:          role,
		Status:        models.AgentStatusSpawning,
		Performance:   cfg.Performance,
		Skills:        skills,
		Tools:         tools,
		Configuration: configuration,
		ParentID:      parentID,
	})
	if err != nil {
		return SpawnResult{}, fmt.Errorf("failed to spawn %s agent: %w", agentType, err)
	}

	created := agent
	agent, err = s.registrar.CompleteSpawn(ctx, created.ID)
	if err != nil {
		if abortErr := s.registrar.AbortSpawn(ctx, created.ID); abortErr != nil {
			s.logger.WithContext(logging.WithAgentID(ctx, created.ID)).Error("failed to remove half-spawned agent",
				logging.Err(abortErr),
			)
		}
		return SpawnResult{}, fmt.Errorf("failed to bring agent %s online: %w", name, err)
	}

	relationship := ParentIndependent
	if parentID != "" {
		relationship = ParentEstablished
	}
	result = SpawnResult{
		SpawnID:            spawnID,
		Agent:              agent,
		SpawnedAt:          s.now(),
		CapabilitiesLoaded: len(skills),
		ToolsEquipped:      len(tools),
		ParentRelationship: relationship,
	}

	s.emitter.Emit(ctx, events.EventAgentSpawned, map[string]interface{}{
		"spawn_id":   spawnID,
		"agent_id":   agent.ID,
		"agent_type": string(agent.Type),
		"parent_id":  parentID,
	})
	s.logger.WithContext(logging.WithAgentID(ctx, agent.ID)).Debug("agent spawned",
		logging.String("agent_type", string(agent.Type)),
		logging.String("parent_relationship", relationship),
	)
	return result, nil
}

// initializeCapabilities drops empty and duplicate skill and tool names,
// keeping first-seen order
func initializeCapabilities(skills, tools []string) ([]string, []string) {
	return dedupe(skills), dedupe(tools)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SpawnMany spawns reqs with at most Concurrency spawns in flight. Results
// of successful spawns are returned in request order; failures are joined.
func (s *Spawner) SpawnMany(ctx context.Context, reqs []Request) ([]SpawnResult, error) {
	results := make([]SpawnResult, len(reqs))
	errs := make([]error, len(reqs))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i], errs[i] = s.SpawnAgent(ctx, req.Config, req.ParentID)
		}(i, req)
	}
	wg.Wait()

	out := make([]SpawnResult, 0, len(reqs))
	var failed []error
	for i := range reqs {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, results[i])
	}
	return out, errors.Join(failed...)
}
