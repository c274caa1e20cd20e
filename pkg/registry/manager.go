package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/store"
)

// SpawnCompleteMessage is the log content written when a spawning agent comes online
const SpawnCompleteMessage = "Agent capabilities successfully initialized and online"

// Manager implements Registry over a Store. Every mutation runs under one
// write lock so parent/child links are validated and persisted atomically
// with the activity entry describing them.
type Manager struct {
	store    store.Store
	activity *activity.Log
	logger   logging.Logger
	metrics  metrics.Collector
	now      func() time.Time
	writeMu  sync.Mutex
}

var _ Registry = (*Manager)(nil)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the structured logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(collector metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a registry over st recording activity to log
func NewManager(st store.Store, log *activity.Log, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		activity: log,
		logger:   logging.NewNopLogger(),
		metrics:  metrics.Discard{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.String("component", "registry"))
	return m
}

func (m *Manager) observe(op string, err error) {
	m.metrics.IncrementCounter(metrics.RegistryOperations.Name, metrics.Labels(
		"operation", op,
		"status", metrics.StatusLabel(err),
	))
}

// commit persists after and records entry; if the entry cannot be written the
// agent is restored to before (or removed when before is nil)
func (m *Manager) commit(ctx context.Context, before *models.Agent, after models.Agent, entry activity.Entry) error {
	if err := m.store.PutAgent(ctx, after); err != nil {
		return fmt.Errorf("failed to persist agent: %w", err)
	}
	if _, err := m.activity.Record(ctx, entry); err != nil {
		var undoErr error
		if before == nil {
			undoErr = m.store.DeleteAgent(ctx, after.ID)
		} else {
			undoErr = m.store.PutAgent(ctx, *before)
		}
		if undoErr != nil {
			m.logger.WithContext(ctx).Error("failed to roll back agent write",
				logging.String("agent_id", after.ID),
				logging.Err(undoErr),
			)
		}
		return err
	}
	return nil
}

// checkParent verifies that parentID exists and that making it the parent
// of childID keeps the hierarchy acyclic
func (m *Manager) checkParent(ctx context.Context, childID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == childID {
		return fmt.Errorf("%w: %w: agent %s cannot be its own parent", models.ErrValidation, models.ErrHierarchyCycle, childID)
	}

	visited := map[string]bool{}
	cursor := parentID
	for cursor != "" {
		if cursor == childID {
			return fmt.Errorf("%w: %w: agent %s is an ancestor of %s", models.ErrValidation, models.ErrHierarchyCycle, childID, parentID)
		}
		if visited[cursor] {
			return fmt.Errorf("%w: %w: existing cycle through %s", models.ErrValidation, models.ErrHierarchyCycle, cursor)
		}
		visited[cursor] = true

		ancestor, err := m.store.GetAgent(ctx, cursor)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				if cursor == parentID {
					return models.Validationf("parent agent %s does not exist", parentID)
				}
				return nil
			}
			return err
		}
		cursor = ancestor.ParentID
	}
	return nil
}

// Create validates spec and persists a new agent with exactly one activity entry
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (agent models.Agent, err error) {
	defer func() { m.observe("create", err) }()

	if !spec.Type.Valid() {
		return models.Agent{}, fmt.Errorf("%w: unknown agent type %q", models.ErrValidation, spec.Type)
	}
	if strings.TrimSpace(spec.Role) == "" {
		return models.Agent{}, models.Validationf("role is required")
	}
	if spec.ExperiencePoints < 0 {
		return models.Agent{}, models.Validationf("experience points must be non-negative, got %d", spec.ExperiencePoints)
	}
	status := spec.Status
	if status == "" {
		status = models.AgentStatusOffline
	}
	if !status.Valid() {
		return models.Agent{}, models.Validationf("unknown agent status %q", status)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := m.store.GetAgent(ctx, id); err == nil {
		return models.Agent{}, models.Validationf("agent %s already exists", id)
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.Agent{}, err
	}

	if err := m.checkParent(ctx, id, spec.ParentID); err != nil {
		return models.Agent{}, err
	}

	now := m.now()
	perf := models.DefaultPerformance
	if spec.Performance != nil {
		perf = spec.Performance.Clamp()
	}
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", spec.Type, id[:min(8, len(id))])
	}

	agent = models.Agent{
		ID:               id,
		Name:             name,
		Type:             spec.Type,
		Role:             spec.Role,
		Status:           status,
		ExperiencePoints: spec.ExperiencePoints,
		Level:            models.LevelForExperience(spec.ExperiencePoints),
		Performance:      perf,
		Skills:           append([]string{}, spec.Skills...),
		Tools:            make([]models.ToolRecord, 0, len(spec.Tools)),
		Configuration:    copyConfig(spec.Configuration),
		ParentID:         spec.ParentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, tool := range spec.Tools {
		if tool == "" || agent.HasTool(tool) {
			continue
		}
		agent.Tools = append(agent.Tools, models.ToolRecord{Name: tool, AcquiredAt: now})
	}

	logType := models.LogSystem
	content := fmt.Sprintf("Agent %s registered as %s", agent.Name, agent.Type)
	if status == models.AgentStatusSpawning {
		// the system entry for a spawn is written by CompleteSpawn
		logType = models.LogInfo
		content = fmt.Sprintf("Spawning agent %s as %s", agent.Name, agent.Type)
	}
	err = m.commit(ctx, nil, agent, activity.Entry{
		AgentID: agent.ID,
		Type:    logType,
		Method:  "create",
		Content: content,
		Metadata: map[string]interface{}{
			"agent_type":      string(agent.Type),
			"role":            agent.Role,
			"parent_agent_id": agent.ParentID,
		},
	})
	if err != nil {
		return models.Agent{}, err
	}

	m.logger.WithContext(ctx).Debug("agent created",
		logging.String("agent_id", agent.ID),
		logging.String("agent_type", string(agent.Type)),
	)
	return agent, nil
}

// Get returns an agent by id
func (m *Manager) Get(ctx context.Context, id string) (models.Agent, error) {
	return m.store.GetAgent(ctx, id)
}

// List returns agents matching filter ordered by creation time
func (m *Manager) List(ctx context.Context, filter Filter) ([]models.Agent, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown agent type %q", models.ErrValidation, filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.Validationf("unknown agent status %q", filter.Status)
	}

	all, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Agent, 0, len(all))
	for _, a := range all {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Update applies a partial update of name, role, status, skills or configuration
func (m *Manager) Update(ctx context.Context, id string, patch Patch) (agent models.Agent, err error) {
	defer func() { m.observe("update", err) }()

	if patch.empty() {
		return models.Agent{}, models.Validationf("no fields to update")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return models.Agent{}, err
	}
	agent = before.Clone()

	var changed []string
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return models.Agent{}, models.Validationf("name must not be empty")
		}
		agent.Name = *patch.Name
		changed = append(changed, "name")
	}
	if patch.Role != nil {
		if strings.TrimSpace(*patch.Role) == "" {
			return models.Agent{}, models.Validationf("role must not be empty")
		}
		agent.Role = *patch.Role
		changed = append(changed, "role")
	}
	if patch.Status != nil {
		if !agent.Status.CanTransitionTo(*patch.Status) {
			return models.Agent{}, fmt.Errorf("%w: agent %s cannot move from %s to %s",
				models.ErrInvalidTransition, id, agent.Status, *patch.Status)
		}
		agent.Status = *patch.Status
		changed = append(changed, "status")
	}
	if patch.Skills != nil {
		agent.Skills = append([]string{}, patch.Skills...)
		changed = append(changed, "skills")
	}
	if patch.Configuration != nil {
		agent.Configuration = copyConfig(patch.Configuration)
		changed = append(changed, "configuration")
	}
	agent.UpdatedAt = m.now()

	metadata := map[string]interface{}{"fields": changed}
	if patch.Status != nil {
		metadata["previous_status"] = string(before.Status)
		metadata["status"] = string(agent.Status)
	}
	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID:  id,
		Type:     models.LogSystem,
		Method:   "update",
		Content:  fmt.Sprintf("Agent updated: %s", strings.Join(changed, ", ")),
		Metadata: metadata,
	})
	if err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// Heartbeat stamps the agent's last heartbeat and applies optional status and
// performance updates. Status and each score are last-writer-wins by heartbeat
// time, so any delivery order of the same heartbeats converges on the same
// agent. A heartbeat that changes nothing is a no-op and writes no entry.
func (m *Manager) Heartbeat(ctx context.Context, id string, update HeartbeatUpdate) (at time.Time, err error) {
	defer func() { m.observe("heartbeat", err) }()

	scores, err := normalizeMetrics(update.Metrics)
	if err != nil {
		return time.Time{}, err
	}
	if update.Status != nil && !update.Status.Valid() {
		return time.Time{}, models.Validationf("unknown agent status %q", *update.Status)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return time.Time{}, err
	}

	at = update.At
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()

	agent := before.Clone()
	if agent.HeartbeatStamps == nil {
		agent.HeartbeatStamps = make(map[string]time.Time)
	}
	newer := func(field string) bool {
		stamp, ok := agent.HeartbeatStamps[field]
		return !ok || at.After(stamp)
	}

	changed := false
	if update.Status != nil && newer(statusField) {
		if *update.Status != agent.Status {
			if !agent.Status.CanTransitionTo(*update.Status) {
				return time.Time{}, fmt.Errorf("%w: agent %s cannot move from %s to %s",
					models.ErrInvalidTransition, id, agent.Status, *update.Status)
			}
			agent.Status = *update.Status
		}
		agent.HeartbeatStamps[statusField] = at
		changed = true
	}
	for field, v := range scores {
		if !newer(field) {
			continue
		}
		setScore(&agent.Performance, field, v)
		agent.HeartbeatStamps[field] = at
		changed = true
	}
	if before.LastHeartbeat == nil || at.After(*before.LastHeartbeat) {
		agent.LastHeartbeat = &at
		changed = true
	}
	if !changed {
		return *before.LastHeartbeat, nil
	}
	agent.UpdatedAt = m.now()

	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogInfo,
		Method:  "heartbeat",
		Content: fmt.Sprintf("Heartbeat received (%s)", agent.Status),
		Metadata: map[string]interface{}{
			"status":         string(agent.Status),
			"metrics":        update.Metrics,
			"heartbeat_time": at.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return time.Time{}, err
	}
	return *agent.LastHeartbeat, nil
}

const statusField = "status"

// normalizeMetrics lower-cases score names and clamps each value to [0,1].
// Unknown names and non-finite values are rejected.
func normalizeMetrics(scores map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(scores))
	for key, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, models.Validationf("performance metric %q must be finite", key)
		}
		name := strings.ToLower(key)
		switch name {
		case "efficiency", "accuracy", "adaptability", "specialization":
		default:
			return nil, models.Validationf("unknown performance metric %q", key)
		}
		out[name] = math.Min(1, math.Max(0, v))
	}
	return out, nil
}

func setScore(p *models.Performance, name string, v float64) {
	switch name {
	case "efficiency":
		p.Efficiency = v
	case "accuracy":
		p.Accuracy = v
	case "adaptability":
		p.Adaptability = v
	case "specialization":
		p.Specialization = v
	}
}

// AddExperience adds non-negative xp and recomputes the level
func (m *Manager) AddExperience(ctx context.Context, id string, xp int) (change LevelChange, err error) {
	defer func() { m.observe("add_experience", err) }()

	if xp < 0 {
		return LevelChange{}, models.Validationf("experience must be non-negative, got %d", xp)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return LevelChange{}, err
	}
	if xp > math.MaxInt-before.ExperiencePoints {
		return LevelChange{}, models.Validationf("experience gain %d overflows agent %s total", xp, id)
	}
	agent := before.Clone()
	agent.ExperiencePoints += xp
	agent.Level = models.LevelForExperience(agent.ExperiencePoints)
	agent.UpdatedAt = m.now()

	change = LevelChange{
		AgentID:          id,
		PreviousLevel:    before.Level,
		NewLevel:         agent.Level,
		ExperiencePoints: agent.ExperiencePoints,
		LeveledUp:        agent.Level > before.Level,
	}

	content := fmt.Sprintf("Gained %d experience", xp)
	if change.LeveledUp {
		content = fmt.Sprintf("Gained %d experience and reached level %d", xp, agent.Level)
	}
	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogInfo,
		Method:  "add_experience",
		Content: content,
		Metadata: map[string]interface{}{
			"experience_gained": xp,
			"previous_level":    change.PreviousLevel,
			"new_level":         change.NewLevel,
			"leveled_up":        change.LeveledUp,
		},
	})
	if err != nil {
		return LevelChange{}, err
	}
	return change, nil
}

// AddTool equips a new tool; equipping a tool the agent already holds fails
func (m *Manager) AddTool(ctx context.Context, id, name string, data map[string]interface{}) (agent models.Agent, err error) {
	defer func() { m.observe("add_tool", err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return models.Agent{}, models.Validationf("tool name is required")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return models.Agent{}, err
	}
	if before.HasTool(name) {
		return models.Agent{}, models.Validationf("agent %s already holds tool %q", id, name)
	}

	now := m.now()
	agent = before.Clone()
	agent.Tools = append(agent.Tools, models.ToolRecord{
		Name:       name,
		AcquiredAt: now,
		Data:       copyConfig(data),
	})
	agent.UpdatedAt = now

	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID:  id,
		Type:     models.LogInfo,
		Method:   "add_tool",
		Content:  fmt.Sprintf("Acquired tool %s", name),
		Metadata: map[string]interface{}{"tool": name},
	})
	if err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// UseTool increments the usage count of a held tool
func (m *Manager) UseTool(ctx context.Context, id, name string) (tool models.ToolRecord, err error) {
	defer func() { m.observe("use_tool", err) }()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return models.ToolRecord{}, err
	}
	idx := before.ToolIndex(name)
	if idx < 0 {
		return models.ToolRecord{}, models.NotFoundf("agent %s holds no tool %q", id, name)
	}

	agent := before.Clone()
	agent.Tools[idx].UsageCount++
	agent.UpdatedAt = m.now()
	tool = agent.Tools[idx]

	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogOutput,
		Method:  "use_tool",
		Content: fmt.Sprintf("Used tool %s", name),
		Metadata: map[string]interface{}{
			"tool":        name,
			"usage_count": tool.UsageCount,
		},
	})
	if err != nil {
		return models.ToolRecord{}, err
	}
	return tool, nil
}

// Delete removes the agent and its logs and turns its children into roots.
// The single activity entry is registry scoped since the agent's own logs go.
func (m *Manager) Delete(ctx context.Context, id string) (result DeleteResult, err error) {
	defer func() { m.observe("delete", err) }()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	agent, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	childIDs, err := m.store.ChildrenOf(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}

	logs, err := m.store.QueryLogs(ctx, store.LogQuery{AgentID: id})
	if err != nil {
		return DeleteResult{}, err
	}

	result = DeleteResult{AgentID: id, OrphanedChildren: []string{}}
	var (
		orphaned     []models.Agent
		agentDeleted bool
		logsDeleted  bool
	)
	rollback := func() {
		if logsDeleted {
			// logs come back oldest first
			for i := len(logs) - 1; i >= 0; i-- {
				if undoErr := m.store.AppendLog(ctx, logs[i]); undoErr != nil {
					m.logger.WithContext(ctx).Error("failed to restore agent log",
						logging.String("agent_id", id),
						logging.Err(undoErr),
					)
				}
			}
		}
		if agentDeleted {
			if undoErr := m.store.PutAgent(ctx, agent); undoErr != nil {
				m.logger.WithContext(ctx).Error("failed to restore deleted agent",
					logging.String("agent_id", id),
					logging.Err(undoErr),
				)
			}
		}
		for _, child := range orphaned {
			if undoErr := m.store.PutAgent(ctx, child); undoErr != nil {
				m.logger.WithContext(ctx).Error("failed to restore child parent link",
					logging.String("agent_id", child.ID),
					logging.Err(undoErr),
				)
			}
		}
	}

	for _, childID := range childIDs {
		child, err := m.store.GetAgent(ctx, childID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			rollback()
			return DeleteResult{}, err
		}
		root := child.Clone()
		root.ParentID = ""
		root.UpdatedAt = m.now()
		if err := m.store.PutAgent(ctx, root); err != nil {
			rollback()
			return DeleteResult{}, fmt.Errorf("failed to orphan child %s: %w", childID, err)
		}
		orphaned = append(orphaned, child)
		result.OrphanedChildren = append(result.OrphanedChildren, childID)
	}

	if err := m.store.DeleteAgent(ctx, id); err != nil {
		rollback()
		return DeleteResult{}, err
	}
	agentDeleted = true

	if result.LogsDeleted, err = m.activity.DeleteForAgent(ctx, id); err != nil {
		rollback()
		return DeleteResult{}, fmt.Errorf("failed to delete agent logs: %w", err)
	}
	logsDeleted = true

	_, err = m.activity.Record(ctx, activity.Entry{
		Type:    models.LogSystem,
		Method:  "delete",
		Content: fmt.Sprintf("Agent %s deleted", agent.Name),
		Metadata: map[string]interface{}{
			"deleted_agent_id":  id,
			"agent_type":        string(agent.Type),
			"orphaned_children": result.OrphanedChildren,
			"logs_deleted":      result.LogsDeleted,
		},
	})
	if err != nil {
		rollback()
		return DeleteResult{}, err
	}
	return result, nil
}

// Reparent moves an agent under parentID, or to the root when parentID is empty
func (m *Manager) Reparent(ctx context.Context, id, parentID string) (agent models.Agent, err error) {
	defer func() { m.observe("reparent", err) }()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return models.Agent{}, err
	}
	if err := m.checkParent(ctx, id, parentID); err != nil {
		return models.Agent{}, err
	}

	agent = before.Clone()
	agent.ParentID = parentID
	agent.UpdatedAt = m.now()

	content := fmt.Sprintf("Agent moved under %s", parentID)
	if parentID == "" {
		content = "Agent detached to hierarchy root"
	}
	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogSystem,
		Method:  "reparent",
		Content: content,
		Metadata: map[string]interface{}{
			"previous_parent_id": before.ParentID,
			"parent_agent_id":    parentID,
		},
	})
	if err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// Hierarchy builds the agent forest from a parent-id index in one pass over
// all agents. With rootID set, only that agent's subtree is returned. Agents
// whose parent no longer exists are treated as roots.
func (m *Manager) Hierarchy(ctx context.Context, rootID string) ([]*Node, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	children := make(map[string][]models.Agent, len(agents))
	var roots []models.Agent
	for _, a := range agents {
		if _, ok := byID[a.ParentID]; a.ParentID == "" || !ok {
			roots = append(roots, a)
			continue
		}
		children[a.ParentID] = append(children[a.ParentID], a)
	}

	if rootID != "" {
		root, ok := byID[rootID]
		if !ok {
			return nil, models.NotFoundf("agent %s", rootID)
		}
		roots = []models.Agent{root}
	}

	visited := make(map[string]bool, len(agents))
	var build func(a models.Agent) *Node
	build = func(a models.Agent) *Node {
		visited[a.ID] = true
		node := &Node{Agent: a, Children: []*Node{}}
		for _, child := range children[a.ID] {
			if visited[child.ID] {
				continue
			}
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	forest := make([]*Node, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, build(r))
	}
	return forest, nil
}

// CompleteSpawn moves a spawning agent online and stamps its first heartbeat
func (m *Manager) CompleteSpawn(ctx context.Context, id string) (agent models.Agent, err error) {
	defer func() { m.observe("complete_spawn", err) }()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return models.Agent{}, err
	}
	if before.Status != models.AgentStatusSpawning {
		return models.Agent{}, fmt.Errorf("%w: agent %s is %s, not spawning",
			models.ErrInvalidTransition, id, before.Status)
	}

	now := m.now()
	agent = before.Clone()
	agent.Status = models.AgentStatusOnline
	agent.LastHeartbeat = &now
	agent.UpdatedAt = now

	err = m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogSystem,
		Method:  "complete_spawn",
		Content: SpawnCompleteMessage,
		Metadata: map[string]interface{}{
			"capabilities_loaded": len(agent.Skills),
			"tools_equipped":      len(agent.Tools),
		},
	})
	if err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// AbortSpawn removes an agent that never left the spawning state together
// with its logs. No activity entry is written since the spawn never happened.
func (m *Manager) AbortSpawn(ctx context.Context, id string) (err error) {
	defer func() { m.observe("abort_spawn", err) }()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	agent, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent.Status != models.AgentStatusSpawning {
		return fmt.Errorf("%w: agent %s is %s, not spawning",
			models.ErrInvalidTransition, id, agent.Status)
	}
	if _, err := m.activity.DeleteForAgent(ctx, id); err != nil {
		return fmt.Errorf("failed to delete agent logs: %w", err)
	}
	return m.store.DeleteAgent(ctx, id)
}

// MarkStale moves online or busy agents whose last heartbeat (or last update,
// if they never sent one) is older than threshold into the error state
func (m *Manager) MarkStale(ctx context.Context, threshold time.Duration) ([]string, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-threshold)
	var stale []string
	var errs []error
	for _, a := range agents {
		if a.Status != models.AgentStatusOnline && a.Status != models.AgentStatusBusy {
			continue
		}
		seen := a.UpdatedAt
		if a.LastHeartbeat != nil {
			seen = *a.LastHeartbeat
		}
		if !seen.Before(cutoff) {
			continue
		}
		if err := m.markError(ctx, a.ID, seen); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", a.ID, err))
			continue
		}
		stale = append(stale, a.ID)
		m.metrics.IncrementCounter(metrics.StaleAgents.Name, metrics.Labels("agent_type", string(a.Type)))
	}
	return stale, errors.Join(errs...)
}

func (m *Manager) markError(ctx context.Context, id string, lastSeen time.Time) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	before, err := m.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	// re-check under the lock; a heartbeat may have landed meanwhile
	if before.Status != models.AgentStatusOnline && before.Status != models.AgentStatusBusy {
		return nil
	}
	if before.LastHeartbeat != nil && before.LastHeartbeat.After(lastSeen) {
		return nil
	}

	agent := before.Clone()
	agent.Status = models.AgentStatusError
	agent.UpdatedAt = m.now()
	return m.commit(ctx, &before, agent, activity.Entry{
		AgentID: id,
		Type:    models.LogError,
		Method:  "mark_stale",
		Content: "Heartbeat timeout; agent marked as error",
		Metadata: map[string]interface{}{
			"previous_status": string(before.Status),
			"last_seen":       lastSeen.Format(time.RFC3339Nano),
		},
	})
}

// RunSweeper marks stale agents every interval and refreshes the agent
// gauges until ctx is cancelled
func (m *Manager) RunSweeper(ctx context.Context, cfg Config) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := m.MarkStale(ctx, cfg.StaleThreshold)
			if err != nil {
				m.logger.WithContext(ctx).Warn("stale sweep incomplete", logging.Err(err))
			}
			if len(stale) > 0 {
				m.logger.WithContext(ctx).Info("marked stale agents", logging.Int("count", len(stale)))
			}
			if err := m.RefreshGauges(ctx); err != nil {
				m.logger.WithContext(ctx).Warn("failed to refresh agent gauges", logging.Err(err))
			}
		}
	}
}

// RefreshGauges publishes the agent type by status counts
func (m *Manager) RefreshGauges(ctx context.Context) error {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return err
	}
	counts := make(map[models.AgentType]map[models.AgentStatus]int)
	for _, a := range agents {
		if counts[a.Type] == nil {
			counts[a.Type] = make(map[models.AgentStatus]int)
		}
		counts[a.Type][a.Status]++
	}
	for _, t := range models.AgentTypes {
		for _, s := range models.AgentStatuses {
			m.metrics.SetGauge(metrics.RegisteredAgents.Name, float64(counts[t][s]), metrics.Labels(
				"agent_type", string(t),
				"status", string(s),
			))
		}
	}
	return nil
}

func copyConfig(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
