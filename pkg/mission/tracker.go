// Package mission tracks units of work and their assignment to agents.
package mission

import (
	"context"
	"fmt"
	"strings"
	"sync"
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

// Agents is the subset of the registry the tracker needs
type Agents interface {
	Get(ctx context.Context, id string) (models.Agent, error)
	List(ctx context.Context, filter registry.Filter) ([]models.Agent, error)
}

// Spec describes a new mission
type Spec struct {
	Name        string
	Description string
	Priority    models.Priority
	AgentID     string
	Parameters  map[string]interface{}
}

// Filter narrows List results; zero values match everything
type Filter struct {
	Status   models.MissionStatus
	Priority models.Priority
	AgentID  string
}

// Matches reports whether mission passes the filter
func (f Filter) Matches(m models.Mission) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Priority != "" && m.Priority != f.Priority {
		return false
	}
	if f.AgentID != "" && m.AssignedAgentID != f.AgentID {
		return false
	}
	return true
}

// DispatchRequest creates a mission and assigns it in one step. When AgentID
// is empty the best online agent holding RequiredSkills is chosen.
type DispatchRequest struct {
	Mission        Spec
	AgentID        string
	RequiredSkills []string
}

// Tracker owns missions
type Tracker struct {
	store    store.Store
	agents   Agents
	activity *activity.Log
	emitter  *events.Emitter
	metrics  metrics.Collector
	logger   logging.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

// WithEmitter publishes mission transitions
func WithEmitter(e *events.Emitter) Option {
	return func(t *Tracker) { t.emitter = e }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// WithLogger sets the structured logger
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a mission tracker
func NewTracker(st store.Store, agents Agents, log *activity.Log, opts ...Option) *Tracker {
	t := &Tracker{
		store:    st,
		agents:   agents,
		activity: log,
		metrics:  metrics.Discard{},
		logger:   logging.NewNopLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create stores a pending mission. Priority defaults to medium; a given
// AgentID must name an existing agent.
func (t *Tracker) Create(ctx context.Context, spec Spec) (models.Mission, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return models.Mission{}, models.Validationf("mission name is required")
	}
	priority := spec.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return models.Mission{}, models.Validationf("unknown priority %q", spec.Priority)
	}
	if spec.AgentID != "" {
		if _, err := t.agents.Get(ctx, spec.AgentID); err != nil {
			return models.Mission{}, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	m := models.Mission{
		ID:              uuid.New().String(),
		Name:            spec.Name,
		Description:     spec.Description,
		Status:          models.MissionPending,
		Priority:        priority,
		AssignedAgentID: spec.AgentID,
		Parameters:      spec.Parameters,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.store.PutMission(ctx, m); err != nil {
		return models.Mission{}, fmt.Errorf("failed to store mission: %w", err)
	}
	if _, err := t.activity.Record(ctx, activity.Entry{
		AgentID: m.AssignedAgentID,
		Type:    models.LogSystem,
		Method:  "mission_create",
		Content: fmt.Sprintf("Mission %q created (%s)", m.Name, m.Priority),
		Metadata: map[string]interface{}{
			"mission_id": m.ID,
			"priority":   string(m.Priority),
		},
	}); err != nil {
		if delErr := t.store.DeleteMission(ctx, m.ID); delErr != nil {
			t.logger.WithContext(ctx).Error("failed to roll back mission create",
				logging.String("mission_id", m.ID),
				logging.Err(delErr),
			)
		}
		return models.Mission{}, err
	}
	return m.Clone(), nil
}

// Get returns a mission by id
func (t *Tracker) Get(ctx context.Context, id string) (models.Mission, error) {
	return t.store.GetMission(ctx, id)
}

// List returns missions matching filter in creation order
func (t *Tracker) List(ctx context.Context, filter Filter) ([]models.Mission, error) {
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, models.Validationf("unknown priority %q", filter.Priority)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.Validationf("unknown mission status %q", filter.Status)
	}
	all, err := t.store.ListMissions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Mission, 0, len(all))
	for _, m := range all {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Assign hands a mission to an agent. Both ids must exist and the
// mission must not have finished.
func (t *Tracker) Assign(ctx context.Context, missionID, agentID string) (models.Mission, error) {
	if _, err := t.agents.Get(ctx, agentID); err != nil {
		return models.Mission{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.store.GetMission(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	if m.Status.Terminal() {
		return models.Mission{}, fmt.Errorf("%w: mission %s is already %s", models.ErrInvalidTransition, missionID, m.Status)
	}

	before := m.Clone()
	m.AssignedAgentID = agentID
	m.UpdatedAt = t.now()
	if err := t.store.PutMission(ctx, m); err != nil {
		return models.Mission{}, fmt.Errorf("failed to store mission: %w", err)
	}
	if _, err := t.activity.Record(ctx, activity.Entry{
		AgentID: agentID,
		Type:    models.LogInfo,
		Method:  "mission_assign",
		Content: fmt.Sprintf("Assigned mission %q", m.Name),
		Metadata: map[string]interface{}{
			"mission_id":        m.ID,
			"previous_agent_id": before.AssignedAgentID,
		},
	}); err != nil {
		t.restore(ctx, before)
		return models.Mission{}, err
	}
	return m.Clone(), nil
}

// Transition moves a mission forward along pending, active, then completed
// or failed. Result is merged into the mission result when finishing.
func (t *Tracker) Transition(ctx context.Context, missionID string, next models.MissionStatus, result map[string]interface{}) (models.Mission, error) {
	if !next.Valid() {
		return models.Mission{}, models.Validationf("unknown mission status %q", next)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.store.GetMission(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	if !m.Status.CanTransitionTo(next) {
		return models.Mission{}, fmt.Errorf("%w: mission %s cannot move from %s to %s",
			models.ErrInvalidTransition, missionID, m.Status, next)
	}

	before := m.Clone()
	now := t.now()
	prev := m.Status
	m.Status = next
	m.UpdatedAt = now
	switch next {
	case models.MissionActive:
		m.StartedAt = &now
	case models.MissionCompleted, models.MissionFailed:
		m.CompletedAt = &now
		if len(result) > 0 {
			if m.Result == nil {
				m.Result = make(map[string]interface{}, len(result))
			}
			for k, v := range result {
				m.Result[k] = v
			}
		}
	}

	if err := t.store.PutMission(ctx, m); err != nil {
		return models.Mission{}, fmt.Errorf("failed to store mission: %w", err)
	}
	logType := models.LogInfo
	if next == models.MissionFailed {
		logType = models.LogError
	}
	if _, err := t.activity.Record(ctx, activity.Entry{
		AgentID: m.AssignedAgentID,
		Type:    logType,
		Method:  "mission_transition",
		Content: fmt.Sprintf("Mission %q %s -> %s", m.Name, prev, next),
		Metadata: map[string]interface{}{
			"mission_id":      m.ID,
			"previous_status": string(prev),
			"status":          string(next),
		},
	}); err != nil {
		t.restore(ctx, before)
		return models.Mission{}, err
	}

	t.metrics.IncrementCounter(metrics.MissionTransitions.Name, metrics.Labels("status", string(next)))
	t.emitter.Emit(ctx, events.EventMissionTransition, map[string]interface{}{
		"mission_id": m.ID,
		"agent_id":   m.AssignedAgentID,
		"from":       string(prev),
		"to":         string(next),
	})
	return m.Clone(), nil
}

// Dispatch creates a mission and assigns it, selecting an agent by skill
// when none is named
func (t *Tracker) Dispatch(ctx context.Context, req DispatchRequest) (models.Mission, error) {
	agentID := req.AgentID
	if agentID == "" {
		online, err := t.agents.List(ctx, registry.Filter{Status: models.AgentStatusOnline})
		if err != nil {
			return models.Mission{}, err
		}
		agent, err := registry.SelectAgent(online, req.RequiredSkills)
		if err != nil {
			return models.Mission{}, err
		}
		agentID = agent.ID
	}

	spec := req.Mission
	spec.AgentID = agentID
	m, err := t.Create(ctx, spec)
	if err != nil {
		return models.Mission{}, err
	}
	t.logger.WithContext(ctx).Info("mission dispatched",
		logging.String("mission_id", m.ID),
		logging.String("agent_id", agentID),
	)
	return m, nil
}

// Counts returns the number of missions per status
func (t *Tracker) Counts(ctx context.Context) (map[models.MissionStatus]int, error) {
	all, err := t.store.ListMissions(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[models.MissionStatus]int{
		models.MissionPending:   0,
		models.MissionActive:    0,
		models.MissionCompleted: 0,
		models.MissionFailed:    0,
	}
	for _, m := range all {
		counts[m.Status]++
	}
	return counts, nil
}

func (t *Tracker) restore(ctx context.Context, before models.Mission) {
	if err := t.store.PutMission(ctx, before); err != nil {
		t.logger.WithContext(ctx).Error("failed to roll back mission write",
			logging.String("mission_id", before.ID),
			logging.Err(err),
		)
	}
}
