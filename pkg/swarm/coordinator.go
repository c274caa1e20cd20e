// Package swarm groups agents into swarm deployments, recalls them and
// aggregates legion-wide status.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/store"
)

// Agents is the subset of the registry the coordinator needs
type Agents interface {
	Get(ctx context.Context, id string) (models.Agent, error)
	List(ctx context.Context, filter registry.Filter) ([]models.Agent, error)
	Update(ctx context.Context, id string, patch registry.Patch) (models.Agent, error)
}

// MissionCounter reports missions per status
type MissionCounter interface {
	Counts(ctx context.Context) (map[models.MissionStatus]int, error)
}

// Coordinator owns swarm deployments
type Coordinator struct {
	store    store.Store
	agents   Agents
	missions MissionCounter
	activity *activity.Log
	emitter  *events.Emitter
	metrics  metrics.Collector
	logger   logging.Logger
	now      func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMissions enables mission counts in Status
func WithMissions(m MissionCounter) Option {
	return func(c *Coordinator) { c.missions = m }
}

// WithEmitter publishes swarm events
func WithEmitter(e *events.Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the structured logger
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a swarm coordinator
func NewCoordinator(st store.Store, agents Agents, log *activity.Log, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    st,
		agents:   agents,
		activity: log,
		metrics:  metrics.Discard{},
		logger:   logging.NewNopLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records a swarm deployment over existing agents. SwarmID is
// generated when the draft has none; id, status and timestamps are always
// assigned here.
func (c *Coordinator) Register(ctx context.Context, draft models.SwarmDeployment) (models.SwarmDeployment, error) {
	if len(draft.AgentIDs) == 0 {
		return models.SwarmDeployment{}, models.Validationf("swarm needs at least one member")
	}
	members := dedupeIDs(draft.AgentIDs)
	for _, id := range members {
		if _, err := c.agents.Get(ctx, id); err != nil {
			return models.SwarmDeployment{}, fmt.Errorf("swarm member: %w", err)
		}
	}
	if draft.ControllerID != "" {
		if _, err := c.agents.Get(ctx, draft.ControllerID); err != nil {
			return models.SwarmDeployment{}, fmt.Errorf("swarm controller: %w", err)
		}
	}

	now := c.now()
	d := draft.Clone()
	d.ID = uuid.New().String()
	if d.SwarmID == "" {
		d.SwarmID = uuid.New().String()
	}
	if d.SwarmType == "" {
		d.SwarmType = "custom"
	}
	d.AgentIDs = members
	d.Status = models.SwarmActive
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := c.store.PutSwarm(ctx, d); err != nil {
		return models.SwarmDeployment{}, fmt.Errorf("failed to store swarm: %w", err)
	}
	if _, err := c.activity.Record(ctx, activity.Entry{
		AgentID: d.ControllerID,
		Type:    models.LogSystem,
		Method:  "swarm_register",
		Content: fmt.Sprintf("Swarm %s (%s) registered with %d agents", shortID(d.SwarmID), d.SwarmType, len(d.AgentIDs)),
		Metadata: map[string]interface{}{
			"deployment_id": d.ID,
			"swarm_id":      d.SwarmID,
			"swarm_type":    d.SwarmType,
			"agent_count":   len(d.AgentIDs),
		},
	}); err != nil {
		return models.SwarmDeployment{}, err
	}

	c.emitter.Emit(ctx, events.EventSwarmRegistered, map[string]interface{}{
		"deployment_id": d.ID,
		"swarm_id":      d.SwarmID,
		"swarm_type":    d.SwarmType,
		"controller_id": d.ControllerID,
		"agent_ids":     d.AgentIDs,
	})
	c.logger.WithContext(logging.WithSwarmID(ctx, d.SwarmID)).Info("swarm registered",
		logging.String("swarm_type", d.SwarmType),
		logging.Int("agents", len(d.AgentIDs)),
	)
	return d.Clone(), nil
}

// Get resolves a deployment by deployment id or swarm id
func (c *Coordinator) Get(ctx context.Context, ref string) (models.SwarmDeployment, error) {
	d, err := c.store.GetSwarm(ctx, ref)
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return d, err
	}
	all, err := c.store.ListSwarms(ctx)
	if err != nil {
		return models.SwarmDeployment{}, err
	}
	for _, d := range all {
		if d.SwarmID == ref {
			return d, nil
		}
	}
	return models.SwarmDeployment{}, models.NotFoundf("swarm %s", ref)
}

// List returns every deployment, most recent first
func (c *Coordinator) List(ctx context.Context) ([]models.SwarmDeployment, error) {
	return c.store.ListSwarms(ctx)
}

// RecallRequest selects the agents to recall. Exactly one selector is used.
type RecallRequest struct {
	SwarmID  string
	AgentIDs []string
	All      bool
}

// RecallResult reports which agents went offline
type RecallResult struct {
	RecalledCount int       `json:"recalled_count"`
	AgentIDs      []string  `json:"agent_ids"`
	SwarmID       string    `json:"swarm_id,omitempty"`
	Failed        []string  `json:"failed,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recall sets every selected agent offline. Each agent flips on its own;
// failures are collected per agent and returned joined with the partial
// result. A recalled swarm is marked recalled once its members are handled.
func (c *Coordinator) Recall(ctx context.Context, req RecallRequest) (RecallResult, error) {
	selectors := 0
	if req.SwarmID != "" {
		selectors++
	}
	if len(req.AgentIDs) > 0 {
		selectors++
	}
	if req.All {
		selectors++
	}
	if selectors != 1 {
		return RecallResult{}, models.Validationf("recall needs exactly one of swarm id, agent ids or all")
	}

	var targets []string
	var deployment *models.SwarmDeployment
	switch {
	case req.All:
		agents, err := c.agents.List(ctx, registry.Filter{})
		if err != nil {
			return RecallResult{}, err
		}
		for _, a := range agents {
			targets = append(targets, a.ID)
		}
	case req.SwarmID != "":
		d, err := c.Get(ctx, req.SwarmID)
		if err != nil {
			return RecallResult{}, err
		}
		deployment = &d
		targets = append([]string(nil), d.AgentIDs...)
		if d.ControllerID != "" {
			targets = append(targets, d.ControllerID)
		}
	default:
		targets = req.AgentIDs
	}
	targets = dedupeIDs(targets)

	result := RecallResult{AgentIDs: []string{}}
	offline := models.AgentStatusOffline
	var errs []error
	for _, id := range targets {
		_, err := c.agents.Update(ctx, id, registry.Patch{Status: &offline})
		c.metrics.IncrementCounter(metrics.AgentsRecalled.Name, metrics.Labels("status", metrics.StatusLabel(err)))
		if err != nil {
			// members deleted since the swarm formed are already gone
			if deployment != nil && errors.Is(err, models.ErrNotFound) {
				continue
			}
			result.Failed = append(result.Failed, id)
			errs = append(errs, fmt.Errorf("recall %s: %w", id, err))
			continue
		}
		result.AgentIDs = append(result.AgentIDs, id)
	}
	result.RecalledCount = len(result.AgentIDs)

	if deployment != nil {
		result.SwarmID = deployment.SwarmID
		if err := c.markRecalled(ctx, *deployment, result.RecalledCount); err != nil {
			errs = append(errs, err)
		}
	}
	result.Timestamp = c.now()

	c.emitter.Emit(ctx, events.EventSwarmRecalled, map[string]interface{}{
		"swarm_id":       result.SwarmID,
		"recall_all":     req.All,
		"recalled_count": result.RecalledCount,
	})
	return result, errors.Join(errs...)
}

func (c *Coordinator) markRecalled(ctx context.Context, d models.SwarmDeployment, recalled int) error {
	before := d.Clone()
	d.Status = models.SwarmRecalled
	d.UpdatedAt = c.now()
	if err := c.store.PutSwarm(ctx, d); err != nil {
		return fmt.Errorf("failed to mark swarm recalled: %w", err)
	}
	if _, err := c.activity.Record(ctx, activity.Entry{
		Type:    models.LogSystem,
		Method:  "swarm_recall",
		Content: fmt.Sprintf("Swarm %s recalled (%d agents offline)", shortID(d.SwarmID), recalled),
		Metadata: map[string]interface{}{
			"deployment_id":  d.ID,
			"swarm_id":       d.SwarmID,
			"recalled_count": recalled,
		},
	}); err != nil {
		if undoErr := c.store.PutSwarm(ctx, before); undoErr != nil {
			c.logger.WithContext(ctx).Error("failed to roll back swarm recall", logging.Err(undoErr))
		}
		return err
	}
	return nil
}

// Status is a legion-wide snapshot
type Status struct {
	TotalAgents     int                                                `json:"total_agents"`
	OnlineAgents    int                                                `json:"online_agents"`
	AgentCounts     map[models.AgentType]map[models.AgentStatus]int    `json:"agent_counts"`
	AverageMetrics  models.Performance                                 `json:"average_metrics"`
	MissionCounts   map[models.MissionStatus]int                       `json:"mission_counts"`
	ActiveMissions  int                                                `json:"active_missions"`
	PendingMissions int                                                `json:"pending_missions"`
	ActiveSwarms    int                                                `json:"active_swarms"`
	SystemHealth    string                                             `json:"system_health"`
	Timestamp       time.Time                                          `json:"timestamp"`
}

// Health labels
const (
	HealthHealthy = "healthy"
	HealthWarning = "warning"
)

// Status cross-tabulates agents by type and status, averages performance
// over online agents and counts missions and active swarms. It reads a
// snapshot and may interleave with concurrent spawns.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	agents, err := c.agents.List(ctx, registry.Filter{})
	if err != nil {
		return Status{}, err
	}

	st := Status{
		TotalAgents: len(agents),
		AgentCounts: make(map[models.AgentType]map[models.AgentStatus]int, len(models.AgentTypes)),
		Timestamp:   c.now(),
	}
	for _, t := range models.AgentTypes {
		row := make(map[models.AgentStatus]int, len(models.AgentStatuses))
		for _, s := range models.AgentStatuses {
			row[s] = 0
		}
		st.AgentCounts[t] = row
	}

	var sum models.Performance
	for _, a := range agents {
		if row, ok := st.AgentCounts[a.Type]; ok {
			row[a.Status]++
		}
		if a.Status != models.AgentStatusOnline {
			continue
		}
		st.OnlineAgents++
		sum.Efficiency += a.Performance.Efficiency
		sum.Accuracy += a.Performance.Accuracy
		sum.Adaptability += a.Performance.Adaptability
		sum.Specialization += a.Performance.Specialization
	}
	if n := float64(st.OnlineAgents); n > 0 {
		st.AverageMetrics = models.Performance{
			Efficiency:     sum.Efficiency / n,
			Accuracy:       sum.Accuracy / n,
			Adaptability:   sum.Adaptability / n,
			Specialization: sum.Specialization / n,
		}
	}

	if c.missions != nil {
		counts, err := c.missions.Counts(ctx)
		if err != nil {
			return Status{}, err
		}
		st.MissionCounts = counts
		st.ActiveMissions = counts[models.MissionActive]
		st.PendingMissions = counts[models.MissionPending]
	}

	swarms, err := c.store.ListSwarms(ctx)
	if err != nil {
		return Status{}, err
	}
	for _, d := range swarms {
		if d.Status == models.SwarmActive {
			st.ActiveSwarms++
		}
	}

	st.SystemHealth = HealthWarning
	if st.OnlineAgents > 0 {
		st.SystemHealth = HealthHealthy
	}
	return st, nil
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
