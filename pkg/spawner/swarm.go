package spawner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/models"
)

// UnitConfig declares a group of Modular agents spawned together
type UnitConfig struct {
	Type         string   `json:"type" yaml:"type"`
	Size         int      `json:"size" yaml:"size"`
	Skills       []string `json:"skills,omitempty" yaml:"skills,omitempty"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Coordination string   `json:"coordination,omitempty" yaml:"coordination,omitempty"`
}

const defaultUnitType = "general"

// SwarmConfig declares a swarm: an optional controller plus units
type SwarmConfig struct {
	Type              string        `json:"swarm_type" yaml:"swarm_type"`
	IncludeController bool          `json:"include_controller" yaml:"include_controller"`
	Units             []UnitConfig  `json:"units" yaml:"units"`
	Communication     string        `json:"communication,omitempty" yaml:"communication,omitempty"`
	Coordination      string        `json:"coordination,omitempty" yaml:"coordination,omitempty"`
	SyncInterval      time.Duration `json:"sync_interval,omitempty" yaml:"sync_interval,omitempty"`
	AutoReplace       bool          `json:"auto_replace" yaml:"auto_replace"`
}

// FailureHandling describes how a swarm reacts to member failures
type FailureHandling struct {
	DetectionWindow  time.Duration `json:"agent_failure_detection"`
	AutomaticReplace bool          `json:"automatic_replacement"`
	FailoverStrategy string        `json:"failover_strategy"`
	RecoveryProtocol string        `json:"recovery_protocol"`
}

// CoordinationSetup is the communication and coordination contract of a swarm
type CoordinationSetup struct {
	Protocol        string          `json:"communication_protocol"`
	Pattern         string          `json:"coordination_pattern"`
	SyncInterval    time.Duration   `json:"sync_interval"`
	SharedResources []string        `json:"shared_resources"`
	Rules           []string        `json:"coordination_rules"`
	FailureHandling FailureHandling `json:"failure_handling"`
}

// SwarmCapabilities aggregates member performance and skills
type SwarmCapabilities struct {
	SwarmSize              int                `json:"swarm_size"`
	AveragePerformance     models.Performance `json:"average_performance"`
	CollectiveSkills       []string           `json:"collective_skills"`
	SkillDiversity         int                `json:"skill_diversity"`
	CoordinationComplexity string             `json:"coordination_complexity"`
	EstimatedThroughput    float64            `json:"estimated_throughput"`
	ResilienceFactor       float64            `json:"resilience_factor"`
}

// SwarmSpawnResult is the outcome of SpawnSwarm
type SwarmSpawnResult struct {
	SwarmID      string                 `json:"swarm_id"`
	Agents       []SpawnResult          `json:"spawned_agents"`
	SwarmSize    int                    `json:"swarm_size"`
	ControllerID string                 `json:"controller_id,omitempty"`
	Coordination CoordinationSetup      `json:"coordination_setup"`
	Capabilities SwarmCapabilities      `json:"estimated_capabilities"`
	Deployment   models.SwarmDeployment `json:"deployment"`
	SpawnedAt    time.Time              `json:"spawn_timestamp"`
}

// MemberIDs returns the ids of every spawned member in spawn order
func (r SwarmSpawnResult) MemberIDs() []string {
	ids := make([]string, len(r.Agents))
	for i, a := range r.Agents {
		ids[i] = a.Agent.ID
	}
	return ids
}

var (
	unitEfficiency     = scoreRange{0.7, 0.9}
	unitAccuracy       = scoreRange{0.75, 0.9}
	unitAdaptability   = scoreRange{0.6, 0.85}
	unitSpecialization = scoreRange{0.7, 0.85}
)

// unitRequests expands a unit into one spawn request per position
func unitRequests(unit UnitConfig, controllerID, swarmID string) ([]Request, error) {
	if unit.Size < 1 {
		return nil, models.Validationf("unit size must be at least 1, got %d", unit.Size)
	}
	unitType := unit.Type
	if unitType == "" {
		unitType = defaultUnitType
	}
	size := unit.Size
	skills := unit.Skills
	if len(skills) == 0 {
		skills = []string{"execution", "collaboration"}
	}
	coordination := unit.Coordination
	if coordination == "" {
		coordination = "collaborative"
	}

	reqs := make([]Request, size)
	for i := range reqs {
		position := i + 1
		name := fmt.Sprintf("%s-Unit-%d-%s", unitType, position, shortID(swarmID))
		reqs[i] = Request{
			ParentID: controllerID,
			Config: Config{
				Name:   name,
				Type:   models.AgentTypeModular,
				Role:   titleWords(unitType) + " Specialist",
				Skills: append([]string(nil), skills...),
				Tools:  append([]string(nil), unit.Tools...),
				Configuration: map[string]interface{}{
					"unit_type":         unitType,
					"unit_position":     position,
					"swarm_id":          swarmID,
					"coordination_mode": coordination,
				},
				Performance: performanceIn(name, unitEfficiency, unitAccuracy, unitAdaptability, unitSpecialization),
			},
		}
	}
	return reqs, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SpawnUnit spawns size Modular agents for unit, parented to controllerID
// when given. Members are spawned in parallel; the result keeps unit order.
func (s *Spawner) SpawnUnit(ctx context.Context, unit UnitConfig, controllerID, swarmID string) ([]SpawnResult, error) {
	reqs, err := unitRequests(unit, controllerID, swarmID)
	if err != nil {
		return nil, err
	}
	return s.SpawnMany(ctx, reqs)
}

// SpawnSwarm spawns the controller (when requested) and every unit, derives
// the coordination setup and capability summary, and registers the swarm.
// Member failures do not abort the swarm: the survivors are registered and
// the failures are returned joined alongside the result.
func (s *Spawner) SpawnSwarm(ctx context.Context, cfg SwarmConfig) (SwarmSpawnResult, error) {
	if s.swarms == nil {
		return SwarmSpawnResult{}, errors.New("spawner has no swarm registrar")
	}
	for _, u := range cfg.Units {
		if u.Size < 1 {
			return SwarmSpawnResult{}, models.Validationf("unit %q size must be at least 1, got %d", u.Type, u.Size)
		}
	}
	if !cfg.IncludeController && len(cfg.Units) == 0 {
		return SwarmSpawnResult{}, models.Validationf("swarm has neither a controller nor units")
	}

	swarmID := uuid.New().String()
	var members []SpawnResult
	var controllerID string

	if cfg.IncludeController {
		controller, err := s.SpawnAgent(ctx, controllerConfig(swarmID), "")
		if err != nil {
			return SwarmSpawnResult{}, fmt.Errorf("failed to spawn swarm controller: %w", err)
		}
		members = append(members, controller)
		controllerID = controller.Agent.ID
	}

	var reqs []Request
	for _, unit := range cfg.Units {
		unitReqs, err := unitRequests(unit, controllerID, swarmID)
		if err != nil {
			return SwarmSpawnResult{}, err
		}
		reqs = append(reqs, unitReqs...)
	}
	spawned, spawnErr := s.SpawnMany(ctx, reqs)
	members = append(members, spawned...)
	if len(members) == 0 {
		return SwarmSpawnResult{}, fmt.Errorf("no swarm member could be spawned: %w", spawnErr)
	}

	result := SwarmSpawnResult{
		SwarmID:      swarmID,
		Agents:       members,
		SwarmSize:    len(members),
		ControllerID: controllerID,
		Coordination: coordinationSetup(cfg),
		Capabilities: swarmCapabilities(members),
		SpawnedAt:    s.now(),
	}

	swarmType := cfg.Type
	if swarmType == "" {
		swarmType = "custom"
	}
	deployment, err := s.swarms.Register(ctx, models.SwarmDeployment{
		SwarmID:      swarmID,
		SwarmType:    swarmType,
		ControllerID: controllerID,
		AgentIDs:     result.MemberIDs(),
		Configuration: map[string]interface{}{
			"units":                len(cfg.Units),
			"communication":        result.Coordination.Protocol,
			"coordination":         result.Coordination.Pattern,
			"sync_interval_second": int(result.Coordination.SyncInterval / time.Second),
			"auto_replace":         cfg.AutoReplace,
		},
		PerformanceMetrics: map[string]interface{}{
			"efficiency":              result.Capabilities.AveragePerformance.Efficiency,
			"accuracy":                result.Capabilities.AveragePerformance.Accuracy,
			"adaptability":            result.Capabilities.AveragePerformance.Adaptability,
			"specialization":          result.Capabilities.AveragePerformance.Specialization,
			"coordination_complexity": result.Capabilities.CoordinationComplexity,
			"resilience_factor":       result.Capabilities.ResilienceFactor,
		},
	})
	if err != nil {
		return result, errors.Join(spawnErr, fmt.Errorf("failed to register swarm: %w", err))
	}
	result.Deployment = deployment
	return result, spawnErr
}

func coordinationSetup(cfg SwarmConfig) CoordinationSetup {
	protocol := cfg.Communication
	if protocol == "" {
		protocol = "mesh"
	}
	pattern := cfg.Coordination
	if pattern == "" {
		pattern = "hierarchical"
	}
	sync := cfg.SyncInterval
	if sync <= 0 {
		sync = 30 * time.Second
	}
	return CoordinationSetup{
		Protocol:     protocol,
		Pattern:      pattern,
		SyncInterval: sync,
		SharedResources: []string{
			"knowledge_base",
			"task_queue",
			"performance_metrics",
			"communication_channels",
		},
		Rules: []string{
			"Maintain heartbeat every 30 seconds",
			"Report status changes immediately",
			"Share critical discoveries with swarm",
			"Coordinate resource usage",
			"Escalate conflicts to controller",
		},
		FailureHandling: FailureHandling{
			DetectionWindow:  60 * time.Second,
			AutomaticReplace: cfg.AutoReplace,
			FailoverStrategy: "redistribute_tasks",
			RecoveryProtocol: "gradual_reintegration",
		},
	}
}

// CoordinationComplexity classifies a swarm by member count
func CoordinationComplexity(members int) string {
	switch {
	case members > 10:
		return "high"
	case members > 5:
		return "medium"
	default:
		return "low"
	}
}

// ResilienceFactor is min(0.95, 1 - 1/members); zero for an empty swarm
func ResilienceFactor(members int) float64 {
	if members <= 0 {
		return 0
	}
	return math.Min(0.95, 1-1/float64(members))
}

func swarmCapabilities(members []SpawnResult) SwarmCapabilities {
	n := len(members)
	var sum models.Performance
	var skills []string
	seen := make(map[string]struct{})
	for _, m := range members {
		p := m.Agent.Performance
		sum.Efficiency += p.Efficiency
		sum.Accuracy += p.Accuracy
		sum.Adaptability += p.Adaptability
		sum.Specialization += p.Specialization
		for _, skill := range m.Agent.Skills {
			key := strings.ToLower(skill)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			skills = append(skills, skill)
		}
	}

	caps := SwarmCapabilities{
		SwarmSize:              n,
		CollectiveSkills:       skills,
		SkillDiversity:         len(skills),
		CoordinationComplexity: CoordinationComplexity(n),
		ResilienceFactor:       ResilienceFactor(n),
	}
	if n > 0 {
		caps.AveragePerformance = models.Performance{
			Efficiency:     sum.Efficiency / float64(n),
			Accuracy:       sum.Accuracy / float64(n),
			Adaptability:   sum.Adaptability / float64(n),
			Specialization: sum.Specialization / float64(n),
		}
		caps.EstimatedThroughput = float64(n) * caps.AveragePerformance.Efficiency * 10
	}
	return caps
}
