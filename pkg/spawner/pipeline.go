package spawner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/models"
)

// Trace ties spawned agents back to the pipeline run that produced them
type Trace struct {
	PipelineID string
	Target     string
}

func (t Trace) source() string {
	if t.Target == "" {
		return "unknown"
	}
	return t.Target
}

func (t Trace) pipeline() string {
	if t.PipelineID == "" {
		return "unknown"
	}
	return t.PipelineID
}

var (
	componentEfficiency      = scoreRange{0.6, 0.8}
	componentAccuracy        = scoreRange{0.7, 0.9}
	specialistEfficiency     = scoreRange{0.7, 0.9}
	specialistAccuracy       = scoreRange{0.8, 0.95}
	specialistAdaptability   = scoreRange{0.6, 0.8}
	specialistSpecialization = scoreRange{0.8, 0.95}
)

// ComponentConfig maps a repurposed agent component onto a spawn config.
// Adaptability and specialization come straight from the component's
// autonomy and evolution potential.
func ComponentConfig(comp models.AgentComponent, trace Trace, suffix string) Config {
	agentType := comp.AgentType
	if !agentType.Valid() {
		agentType = models.AgentTypeModular
	}
	name := fmt.Sprintf("%s-%s", comp.Role, suffix)
	perf := performanceIn(name+"/"+comp.ID, componentEfficiency, componentAccuracy, scoreRange{}, scoreRange{})
	perf.Adaptability = comp.AutonomyLevel
	perf.Specialization = comp.EvolutionPotential

	return Config{
		Name:   name,
		Type:   agentType,
		Role:   comp.Role,
		Skills: append([]string(nil), comp.Capabilities...),
		Configuration: map[string]interface{}{
			"archetype":             comp.Archetype,
			"component_id":          comp.ID,
			"autonomy_level":        comp.AutonomyLevel,
			"specialization_path":   comp.SpecializationPath,
			"collaboration_needs":   append([]string(nil), comp.CollaborationNeeds...),
			"resource_requirements": comp.ResourceRequirements,
			"evolution_potential":   comp.EvolutionPotential,
			"ecrr_source":           trace.source(),
			"ecrr_pipeline_id":      trace.pipeline(),
		},
		Performance: perf,
	}
}

// SpecialistConfigs returns the spawn configs for a specialization. Only
// critical and high priority specializations produce agents.
func SpecialistConfigs(spec models.Specialization, trace Trace, suffix string) []Config {
	if spec.Priority != models.PriorityCritical && spec.Priority != models.PriorityHigh {
		return nil
	}
	configs := make([]Config, 0, spec.AgentsNeeded)
	for i := 1; i <= spec.AgentsNeeded; i++ {
		name := fmt.Sprintf("%s-%d-%s", spec.Type, i, suffix)
		configs = append(configs, Config{
			Name:   name,
			Type:   models.AgentTypeModular,
			Role:   spec.Type,
			Skills: SpecialistSkills(spec.Type),
			Configuration: map[string]interface{}{
				"specialization_focus": spec.Description,
				"priority_level":       string(spec.Priority),
				"ecrr_source":          trace.source(),
				"ecrr_pipeline_id":     trace.pipeline(),
			},
			Performance: performanceIn(name, specialistEfficiency, specialistAccuracy, specialistAdaptability, specialistSpecialization),
		})
	}
	return configs
}

// Distribution counts spawned agents by type and role
type Distribution struct {
	ByType         map[models.AgentType]int `json:"by_type"`
	ByRole         map[string]int           `json:"by_role"`
	TotalAgents    int                      `json:"total_agents"`
	DiversityScore float64                  `json:"diversity_score"`
}

// EvolutionTarget is an agent worth investing experience in
type EvolutionTarget struct {
	AgentID              string  `json:"agent_id"`
	AgentName            string  `json:"agent_name"`
	EvolutionPotential   float64 `json:"evolution_potential"`
	SpecializationPath   string  `json:"specialization_path"`
	RecommendedEvolution string  `json:"recommended_evolution"`
}

// PipelineSpawnResult is the outcome of SpawnFromPipeline
type PipelineSpawnResult struct {
	SpawnID             string            `json:"ecrr_spawn_id"`
	SourcePipeline      string            `json:"source_ecrr_pipeline"`
	SourceTarget        string            `json:"source_target"`
	Agents              []SpawnResult     `json:"spawned_agents"`
	TotalSpawned        int               `json:"total_agents_spawned"`
	SpawnedAt           time.Time         `json:"spawn_timestamp"`
	Distribution        Distribution      `json:"agent_distribution"`
	ReplicationAccuracy float64           `json:"estimated_replication_accuracy"`
	EvolutionTargets    []EvolutionTarget `json:"next_evolution_targets"`
}

// SpawnFromPipeline spawns one agent per repurposed component of run, plus
// the specialists its critical and high priority specializations call for
func (s *Spawner) SpawnFromPipeline(ctx context.Context, run models.PipelineRun) (PipelineSpawnResult, error) {
	if run.Repurpose == nil {
		return PipelineSpawnResult{}, models.Validationf("pipeline run %s has no repurpose result", run.ID)
	}

	spawnID := uuid.New().String()
	suffix := shortID(spawnID)
	trace := Trace{PipelineID: run.ID, Target: run.Target}

	var reqs []Request
	for _, comp := range run.Repurpose.AgentComponents {
		reqs = append(reqs, Request{Config: ComponentConfig(comp, trace, suffix)})
	}
	for _, spec := range run.Repurpose.Specializations {
		for _, cfg := range SpecialistConfigs(spec, trace, suffix) {
			reqs = append(reqs, Request{Config: cfg})
		}
	}

	spawned, err := s.SpawnMany(ctx, reqs)
	accuracy := 0.8
	if run.Summary != nil {
		accuracy = run.Summary.SuccessRate
	} else if run.Deployment != nil {
		accuracy = run.Deployment.SuccessRate
	}
	return PipelineSpawnResult{
		SpawnID:             spawnID,
		SourcePipeline:      trace.pipeline(),
		SourceTarget:        trace.source(),
		Agents:              spawned,
		TotalSpawned:        len(spawned),
		SpawnedAt:           s.now(),
		Distribution:        AnalyzeDistribution(spawned),
		ReplicationAccuracy: accuracy,
		EvolutionTargets:    EvolutionTargets(spawned),
	}, err
}

// AnalyzeDistribution counts agents by type and role. Diversity is the
// number of distinct types over the number of agents.
func AnalyzeDistribution(results []SpawnResult) Distribution {
	d := Distribution{
		ByType:      make(map[models.AgentType]int),
		ByRole:      make(map[string]int),
		TotalAgents: len(results),
	}
	for _, r := range results {
		d.ByType[r.Agent.Type]++
		d.ByRole[r.Agent.Role]++
	}
	if len(results) > 0 {
		d.DiversityScore = float64(len(d.ByType)) / float64(len(results))
	}
	return d
}

// EvolutionTargets lists agents whose evolution potential exceeds 0.7,
// highest potential first
func EvolutionTargets(results []SpawnResult) []EvolutionTarget {
	var targets []EvolutionTarget
	for _, r := range results {
		potential := floatConfig(r.Agent.Configuration, "evolution_potential", 0.5)
		if potential <= 0.7 {
			continue
		}
		path, _ := r.Agent.Configuration["specialization_path"].(string)
		if path == "" {
			path = "General"
		}
		autonomy := floatConfig(r.Agent.Configuration, "autonomy_level", 0.5)
		targets = append(targets, EvolutionTarget{
			AgentID:              r.Agent.ID,
			AgentName:            r.Agent.Name,
			EvolutionPotential:   potential,
			SpecializationPath:   path,
			RecommendedEvolution: suggestEvolution(path, autonomy),
		})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].EvolutionPotential > targets[j].EvolutionPotential
	})
	return targets
}

func suggestEvolution(path string, autonomy float64) string {
	switch {
	case autonomy > 0.8:
		return fmt.Sprintf("Advanced %s with Leadership Capabilities", path)
	case autonomy > 0.6:
		return fmt.Sprintf("Enhanced %s with Coordination Skills", path)
	default:
		return fmt.Sprintf("Improved %s with Better Autonomy", path)
	}
}

func floatConfig(cfg map[string]interface{}, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return fallback
}
