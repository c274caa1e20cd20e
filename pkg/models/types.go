package models

import (
	"fmt"
	"strings"
	"time"
)

// AgentType defines the rank of an agent in the legion hierarchy
type AgentType string

const (
	AgentTypeController AgentType = "Controller"
	AgentTypeOracle     AgentType = "Oracle"
	AgentTypeDispatcher AgentType = "Dispatcher"
	AgentTypeModular    AgentType = "Modular"
)

// AgentTypes lists every agent type in hierarchy order
var AgentTypes = []AgentType{AgentTypeController, AgentTypeOracle, AgentTypeDispatcher, AgentTypeModular}

// Valid reports whether t is one of the known agent types
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeController, AgentTypeOracle, AgentTypeDispatcher, AgentTypeModular:
		return true
	}
	return false
}

// ParseAgentType resolves a case-insensitive agent type name
func ParseAgentType(s string) (AgentType, error) {
	for _, t := range AgentTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgentType, s)
}

// AgentStatus represents the lifecycle state of an agent
type AgentStatus string

const (
	AgentStatusOffline  AgentStatus = "offline"
	AgentStatusOnline   AgentStatus = "online"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusError    AgentStatus = "error"
	AgentStatusSpawning AgentStatus = "spawning"
)

// AgentStatuses lists every status in display order
var AgentStatuses = []AgentStatus{
	AgentStatusOnline, AgentStatusOffline, AgentStatusBusy, AgentStatusError, AgentStatusSpawning,
}

// Valid reports whether s is a known status
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOffline, AgentStatusOnline, AgentStatusBusy, AgentStatusError, AgentStatusSpawning:
		return true
	}
	return false
}

// CanTransitionTo reports whether an agent may move from s to next.
// Spawning is only ever entered at creation.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if !next.Valid() || next == AgentStatusSpawning {
		return false
	}
	if s == AgentStatusSpawning {
		return next == AgentStatusOnline || next == AgentStatusError || next == AgentStatusOffline
	}
	return s.Valid()
}

// Performance holds the four normalized agent performance scores
type Performance struct {
	Efficiency     float64 `json:"efficiency"`
	Accuracy       float64 `json:"accuracy"`
	Adaptability   float64 `json:"adaptability"`
	Specialization float64 `json:"specialization"`
}

// DefaultPerformance is assigned to agents created without scores
var DefaultPerformance = Performance{Efficiency: 0.5, Accuracy: 0.5, Adaptability: 0.5, Specialization: 0.5}

// Clamp returns p with every score limited to [0, 1]
func (p Performance) Clamp() Performance {
	return Performance{
		Efficiency:     clampUnit(p.Efficiency),
		Accuracy:       clampUnit(p.Accuracy),
		Adaptability:   clampUnit(p.Adaptability),
		Specialization: clampUnit(p.Specialization),
	}
}

// Average returns the mean of the four scores
func (p Performance) Average() float64 {
	return (p.Efficiency + p.Accuracy + p.Adaptability + p.Specialization) / 4
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ToolRecord is a tool an agent has collected
type ToolRecord struct {
	Name       string                 `json:"name"`
	AcquiredAt time.Time              `json:"acquired_at"`
	UsageCount int                    `json:"usage_count"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Agent is a registered worker entity in the legion
type Agent struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Type             AgentType              `json:"type"`
	Role             string                 `json:"role,omitempty"`
	Status           AgentStatus            `json:"status"`
	Level            int                    `json:"level"`
	ExperiencePoints int                    `json:"experience_points"`
	Performance      Performance            `json:"performance"`
	Skills           []string               `json:"skills"`
	Tools            []ToolRecord           `json:"collected_tools"`
	Configuration    map[string]interface{} `json:"configuration,omitempty"`
	ParentID         string                 `json:"parent_agent_id,omitempty"`
	LastHeartbeat    *time.Time             `json:"last_heartbeat,omitempty"`
	HeartbeatStamps  map[string]time.Time   `json:"heartbeat_stamps,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// HasTool reports whether the agent already holds a tool by name
func (a *Agent) HasTool(name string) bool {
	return a.ToolIndex(name) >= 0
}

// ToolIndex returns the position of the named tool or -1
func (a *Agent) ToolIndex(name string) int {
	for i, t := range a.Tools {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so stored agents are never shared with callers
func (a Agent) Clone() Agent {
	out := a
	out.Skills = append([]string(nil), a.Skills...)
	if a.Tools != nil {
		out.Tools = make([]ToolRecord, len(a.Tools))
		for i, t := range a.Tools {
			t.Data = cloneMap(t.Data)
			out.Tools[i] = t
		}
	}
	out.Configuration = cloneMap(a.Configuration)
	if a.LastHeartbeat != nil {
		hb := *a.LastHeartbeat
		out.LastHeartbeat = &hb
	}
	if a.HeartbeatStamps != nil {
		out.HeartbeatStamps = make(map[string]time.Time, len(a.HeartbeatStamps))
		for k, v := range a.HeartbeatStamps {
			out.HeartbeatStamps[k] = v
		}
	}
	return out
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// LevelForExperience derives the agent level: floor(sqrt(xp/100)) + 1
func LevelForExperience(xp int) int {
	if xp < 0 {
		xp = 0
	}
	n := xp / 100
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r + 1
}

// Priority ranks missions and components
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities from low (1) to critical (4); unknown values rank 0
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// MissionStatus represents the state of a mission
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// Valid reports whether s is a known mission status
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionPending, MissionActive, MissionCompleted, MissionFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a mission may move from s to next
func (s MissionStatus) CanTransitionTo(next MissionStatus) bool {
	switch s {
	case MissionPending:
		return next == MissionActive
	case MissionActive:
		return next == MissionCompleted || next == MissionFailed
	}
	return false
}

// Terminal reports whether no further transitions are allowed
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// Mission is a unit of work that can be assigned to an agent
type Mission struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Status          MissionStatus          `json:"status"`
	Priority        Priority               `json:"priority"`
	AssignedAgentID string                 `json:"assigned_agent_id,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the mission
func (m Mission) Clone() Mission {
	out := m
	out.Parameters = cloneMap(m.Parameters)
	out.Result = cloneMap(m.Result)
	if m.StartedAt != nil {
		t := *m.StartedAt
		out.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// LogType categorizes activity log entries
type LogType string

const (
	LogSystem LogType = "system"
	LogOutput LogType = "output"
	LogError  LogType = "error"
	LogInfo   LogType = "info"
)

// AgentLog is an append-only activity record. An empty AgentID marks a
// registry-scoped entry.
type AgentLog struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Type      LogType                `json:"log_type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SwarmStatus tracks whether a swarm is still deployed
type SwarmStatus string

const (
	SwarmActive   SwarmStatus = "active"
	SwarmRecalled SwarmStatus = "recalled"
)

// SwarmDeployment groups a controller with the agents it commands
type SwarmDeployment struct {
	ID                 string                 `json:"id"`
	SwarmID            string                 `json:"swarm_id"`
	SwarmType          string                 `json:"swarm_type"`
	ControllerID       string                 `json:"controller_agent_id"`
	AgentIDs           []string               `json:"agent_ids"`
	Configuration      map[string]interface{} `json:"configuration,omitempty"`
	PerformanceMetrics map[string]interface{} `json:"performance_metrics,omitempty"`
	Status             SwarmStatus            `json:"status"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the deployment
func (s SwarmDeployment) Clone() SwarmDeployment {
	out := s
	out.AgentIDs = append([]string(nil), s.AgentIDs...)
	out.Configuration = cloneMap(s.Configuration)
	out.PerformanceMetrics = cloneMap(s.PerformanceMetrics)
	return out
}
