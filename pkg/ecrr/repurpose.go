package ecrr

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/models"
)

// TableRepurposer maps essential components onto agent archetypes
type TableRepurposer struct {
	clock
}

// NewRepurposer creates the default repurposer
func NewRepurposer(opts ...StageOption) *TableRepurposer {
	return &TableRepurposer{clock: newClock(opts)}
}

// Repurpose turns condensation into agent components and a phased plan
// that fits inside legion
func (r *TableRepurposer) Repurpose(ctx context.Context, condensation *models.CondensationResult, legion models.LegionContext) (*models.RepurposeResult, error) {
	if condensation == nil {
		return nil, models.Validationf("condensation result is required")
	}
	if err := legion.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := newDeriver(condensation.Target, string(condensation.TargetType))
	components := make([]models.AgentComponent, len(condensation.EssentialComponents))
	for i, comp := range condensation.EssentialComponents {
		components[i] = agentComponent(d, comp)
	}

	capacity := legion.Capacity()
	if len(components) > capacity {
		return nil, models.Validationf("%d agent components exceed legion capacity of %d", len(components), capacity)
	}

	strategy := deploymentStrategy(components)
	strategy.CapacityRemaining = capacity - len(components)

	return &models.RepurposeResult{
		ID:                    uuid.New().String(),
		SourceCondensation:    condensation.ID,
		Target:                condensation.Target,
		TargetType:            condensation.TargetType,
		Timestamp:             r.now(),
		AgentComponents:       components,
		Specializations:       specializations(condensation.CorePatterns),
		CommunicationPatterns: communicationPlan(),
		DeploymentStrategy:    strategy,
		LegionIntegration: models.LegionIntegration{
			HierarchyLevel:  HierarchyLevel(len(condensation.EssentialComponents)),
			Coordination:    coordinationNeeds(components),
			SharedResources: append([]models.SharedResource(nil), sharedResources...),
			Scaling:         scalingApproach(),
		},
		SuccessMetrics:   append([]models.SuccessMetric(nil), successMetrics...),
		RollbackStrategy: cloneRollback(rollbackPlan),
	}, nil
}

func agentComponent(d deriver, comp models.Component) models.AgentComponent {
	key := "agent/" + comp.ID
	archetype := Archetype(comp.Type)
	return models.AgentComponent{
		ID:                 d.id(key),
		OriginalComponent:  comp.Name,
		ComponentType:      comp.Type,
		Priority:           comp.Priority,
		Archetype:          archetype,
		AgentType:          AgentTypeFor(archetype),
		Role:               roleFor(comp.Name),
		Capabilities:       capabilitiesFor(comp.Type),
		AutonomyLevel:      AutonomyLevel(comp.Complexity, comp.Priority),
		CollaborationNeeds: collaborationFor(comp.Type),
		ResourceRequirements: models.ResourceProfile{
			CPUIntensity:      levelOf(d.between(key+"/cpu", 0.1, 0.8)),
			MemoryUsage:       levelOf(d.between(key+"/memory", 0.1, 0.6)),
			NetworkDependency: levelOf(d.between(key+"/network", 0.2, 0.9)),
			StorageNeeds:      levelOf(d.between(key+"/storage", 0.1, 0.5)),
		},
		EvolutionPotential: d.between(key+"/evolution", 0.3, 0.9),
		SpecializationPath: specializationFor(comp.Type),
	}
}

func roleFor(name string) string {
	if role, ok := componentRoles[name]; ok {
		return role
	}
	return name + " Specialist"
}

func capabilitiesFor(componentType string) []string {
	extra, ok := typeCapabilities[componentType]
	if !ok {
		extra = []string{"operate"}
	}
	caps := make([]string, 0, len(baseCapabilities)+len(extra))
	caps = append(caps, baseCapabilities...)
	return append(caps, extra...)
}

func collaborationFor(componentType string) []string {
	if needs, ok := collaborationNeeds[componentType]; ok {
		return append([]string(nil), needs...)
	}
	return []string{"coordinator"}
}

func specializationFor(componentType string) string {
	if path, ok := specializationPaths[componentType]; ok {
		return path
	}
	return "General Optimization"
}

// AutonomyLevel is the mean of the complexity and priority factors, capped
// at 0.95
func AutonomyLevel(complexity models.Level, priority models.Priority) float64 {
	pf, ok := priorityFactors[priority]
	if !ok {
		pf = 0.5
	}
	return round3(min(0.95, (complexity.Factor()+pf)/2))
}

// levelOf buckets a unit score into a level
func levelOf(v float64) models.Level {
	switch {
	case v < 0.35:
		return models.LevelLow
	case v < 0.65:
		return models.LevelMedium
	default:
		return models.LevelHigh
	}
}

// HierarchyLevel picks where new agents slot into the legion by how many
// essential components they replace
func HierarchyLevel(essential int) models.AgentType {
	switch {
	case essential <= 3:
		return models.AgentTypeModular
	case essential <= 6:
		return models.AgentTypeDispatcher
	case essential <= 10:
		return models.AgentTypeOracle
	default:
		return models.AgentTypeController
	}
}

func specializations(p models.CorePatterns) []models.Specialization {
	out := []models.Specialization{}
	if p.Architecture == "Microservices" {
		out = append(out, models.Specialization{
			Type:         "Service Mesh Coordinator",
			Description:  "Manages inter-service communication and load balancing",
			Priority:     models.PriorityHigh,
			AgentsNeeded: 1,
		})
	}
	if p.DataFlow == "real-time" {
		out = append(out, models.Specialization{
			Type:         "Stream Processing Specialist",
			Description:  "Handles real-time data processing and streaming",
			Priority:     models.PriorityHigh,
			AgentsNeeded: 2,
		})
	}
	if p.Security == "RBAC" || p.Security == "ABAC" {
		out = append(out, models.Specialization{
			Type:         "Access Control Manager",
			Description:  "Manages complex authorization and access control",
			Priority:     models.PriorityCritical,
			AgentsNeeded: 1,
		})
	}
	if p.Scaling == "horizontal" {
		out = append(out, models.Specialization{
			Type:         "Auto-scaling Controller",
			Description:  "Manages dynamic scaling based on demand",
			Priority:     models.PriorityMedium,
			AgentsNeeded: 1,
		})
	}
	return out
}

func communicationPlan() models.CommunicationPlan {
	return models.CommunicationPlan{
		PrimaryProtocol: "message_queue",
		BackupProtocol:  "direct_api",
		MessagePatterns: append([]models.MessagePattern(nil), messagePatterns...),
		Topology:        "mesh",
		ReliabilityFeatures: []string{
			"message_persistence",
			"retry_mechanisms",
			"circuit_breakers",
			"dead_letter_queues",
		},
		SecurityMeasures: []string{
			"message_encryption",
			"agent_authentication",
			"communication_audit_logs",
		},
	}
}

// deploymentStrategy groups components into the fixed rollout phases.
// Phases keep the component order of the input.
func deploymentStrategy(components []models.AgentComponent) models.DeploymentStrategy {
	phases := make([]models.DeploymentPhase, len(deploymentPhases))
	for i, spec := range deploymentPhases {
		member := make(map[string]bool, len(spec.archetypes))
		for _, a := range spec.archetypes {
			member[a] = true
		}
		phase := models.DeploymentPhase{
			Phase:            i + 1,
			Name:             spec.name,
			Archetypes:       append([]string(nil), spec.archetypes...),
			Components:       []models.AgentComponent{},
			DurationEstimate: spec.duration,
		}
		for _, comp := range components {
			if member[comp.Archetype] {
				phase.Components = append(phase.Components, comp)
			}
		}
		phases[i] = phase
	}
	return models.DeploymentStrategy{
		Phases:          phases,
		RolloutStrategy: "blue_green",
		TestingApproach: "canary_deployment",
		MonitoringRequirements: []string{
			"agent_health_monitoring",
			"performance_metrics",
			"error_rate_tracking",
			"resource_utilization",
		},
		SuccessCriteria: []string{
			"All agents operational within 5 minutes",
			"System performance within 10% of baseline",
			"Zero data loss during deployment",
			"Rollback capability maintained",
		},
	}
}

func coordinationNeeds(components []models.AgentComponent) models.CoordinationNeeds {
	autonomous := 0
	for _, c := range components {
		if c.AutonomyLevel > 0.7 {
			autonomous++
		}
	}
	needs := models.CoordinationNeeds{
		Complexity:              "medium",
		SynchronizationPoints:   len(components) / 2,
		ConflictResolution:      autonomous > 3,
		CentralizedCoordination: len(components) > 8,
		MessagePatterns:         []string{"request_response", "point_to_point"},
	}
	if autonomous > 5 {
		needs.Complexity = "high"
	}
	if len(components) > 5 {
		needs.MessagePatterns[0] = "event_driven"
	}
	if autonomous > 3 {
		needs.MessagePatterns[1] = "publish_subscribe"
	}
	return needs
}

func scalingApproach() models.ScalingApproach {
	return models.ScalingApproach{
		Triggers: []string{
			"cpu_utilization > 70%",
			"memory_usage > 80%",
			"queue_length > 100",
			"response_time > 2s",
		},
		ScaleOutCooldown:  300 * time.Second,
		ScaleInCooldown:   600 * time.Second,
		MinInstances:      1,
		MaxInstances:      10,
		TargetUtilization: 60,
		AgentSpecific: map[string]models.AgentScaling{
			ArchetypeData:       {MaxInstances: 3, Metric: "connection_count"},
			ArchetypeProcessing: {MaxInstances: 10, Metric: "queue_length"},
			ArchetypeInterface:  {MaxInstances: 5, Metric: "concurrent_users"},
		},
	}
}

func cloneRollback(p models.RollbackPlan) models.RollbackPlan {
	p.Triggers = append([]string(nil), p.Triggers...)
	p.Steps = append([]string(nil), p.Steps...)
	p.NotificationChannels = append([]string(nil), p.NotificationChannels...)
	return p
}
