package registry

import (
	"context"
	"time"

	"github.com/legion/legion/pkg/models"
)

// Registry owns agent entities, their hierarchy, leveling, tools and heartbeats
type Registry interface {
	Create(ctx context.Context, spec CreateSpec) (models.Agent, error)
	Get(ctx context.Context, id string) (models.Agent, error)
	List(ctx context.Context, filter Filter) ([]models.Agent, error)
	Update(ctx context.Context, id string, patch Patch) (models.Agent, error)
	Delete(ctx context.Context, id string) (DeleteResult, error)

	Heartbeat(ctx context.Context, id string, update HeartbeatUpdate) (time.Time, error)
	AddExperience(ctx context.Context, id string, xp int) (LevelChange, error)
	AddTool(ctx context.Context, id, name string, data map[string]interface{}) (models.Agent, error)
	UseTool(ctx context.Context, id, name string) (models.ToolRecord, error)

	Reparent(ctx context.Context, id, parentID string) (models.Agent, error)
	Hierarchy(ctx context.Context, rootID string) ([]*Node, error)

	CompleteSpawn(ctx context.Context, id string) (models.Agent, error)
	AbortSpawn(ctx context.Context, id string) error
	MarkStale(ctx context.Context, threshold time.Duration) ([]string, error)
}

// CreateSpec describes a new agent. ID is optional; a fresh uuid is
// allocated when empty.
type CreateSpec struct {
	ID               string
	Name             string
	Type             models.AgentType
	Role             string
	Status           models.AgentStatus
	ExperiencePoints int
	Performance      *models.Performance
	Skills           []string
	Tools            []string
	Configuration    map[string]interface{}
	ParentID         string
}

// Filter narrows List results; zero values match everything
type Filter struct {
	Type     models.AgentType
	Status   models.AgentStatus
	ParentID string
	Skill    string
}

// Matches reports whether agent passes the filter
func (f Filter) Matches(agent models.Agent) bool {
	if f.Type != "" && agent.Type != f.Type {
		return false
	}
	if f.Status != "" && agent.Status != f.Status {
		return false
	}
	if f.ParentID != "" && agent.ParentID != f.ParentID {
		return false
	}
	if f.Skill != "" && !hasSkill(agent.Skills, f.Skill) {
		return false
	}
	return true
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	Name          *string
	Role          *string
	Status        *models.AgentStatus
	Skills        []string
	Configuration map[string]interface{}
}

func (p Patch) empty() bool {
	return p.Name == nil && p.Role == nil && p.Status == nil && p.Skills == nil && p.Configuration == nil
}

// HeartbeatUpdate carries an optional status change and performance scores.
// Metrics keys are efficiency, accuracy, adaptability and specialization.
// A zero At means now.
type HeartbeatUpdate struct {
	Status  *models.AgentStatus
	Metrics map[string]float64
	At      time.Time
}

// LevelChange reports the effect of AddExperience
type LevelChange struct {
	AgentID          string `json:"agent_id"`
	PreviousLevel    int    `json:"previous_level"`
	NewLevel         int    `json:"new_level"`
	ExperiencePoints int    `json:"experience_points"`
	LeveledUp        bool   `json:"leveled_up"`
}

// DeleteResult reports what a delete removed and which children became roots
type DeleteResult struct {
	AgentID          string   `json:"agent_id"`
	LogsDeleted      int      `json:"logs_deleted"`
	OrphanedChildren []string `json:"orphaned_children"`
}

// Node is one agent in a hierarchy tree
type Node struct {
	Agent    models.Agent `json:"agent"`
	Children []*Node      `json:"children"`
}

// Size counts the nodes in the subtree rooted at n
func (n *Node) Size() int {
	total := 1
	for _, c := range n.Children {
		total += c.Size()
	}
	return total
}

// Config holds registry settings
type Config struct {
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns default registry settings
func DefaultConfig() Config {
	return Config{
		StaleThreshold: 90 * time.Second,
		SweepInterval:  30 * time.Second,
	}
}
