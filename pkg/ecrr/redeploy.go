package ecrr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
)

// AgentSpawner creates agents for a deployment phase
type AgentSpawner interface {
	SpawnMany(ctx context.Context, reqs []spawner.Request) ([]spawner.SpawnResult, error)
}

// Phase statuses
const (
	PhaseCompleted = "completed"
	PhasePartial   = "partial"
	PhaseFailed    = "failed"
)

// SpawnerRedeployer deploys agent components phase by phase through the
// agent spawner
type SpawnerRedeployer struct {
	clock
	spawner AgentSpawner
	logger  logging.Logger
}

// NewRedeployer creates the default redeployer over sp
func NewRedeployer(sp AgentSpawner, log logging.Logger, opts ...StageOption) *SpawnerRedeployer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &SpawnerRedeployer{
		clock:   newClock(opts),
		spawner: sp,
		logger:  log.With(logging.String("component", "redeployer")),
	}
}

// Redeploy runs the deployment phases of repurpose in order. A phase starts
// only after the previous one has finished. It fails only when no agent at
// all could be deployed.
func (r *SpawnerRedeployer) Redeploy(ctx context.Context, repurpose *models.RepurposeResult, cfg models.DeploymentConfig) (*models.DeploymentResult, error) {
	if repurpose == nil {
		return nil, models.Validationf("repurpose result is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = models.DefaultDeploymentConfig().HeartbeatInterval
	}

	phases := repurpose.DeploymentStrategy.Phases
	plan := deploymentPlan(repurpose.AgentComponents, phases)
	trace := spawner.Trace{PipelineID: logging.GetPipelineID(ctx), Target: repurpose.Target}
	log := r.logger.WithContext(ctx)

	var (
		deployed []models.DeployedAgent
		results  = make([]models.PhaseResult, 0, len(phases))
		failures []error
	)
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, agents, err := r.deployPhase(ctx, phase, trace, cfg)
		results = append(results, result)
		deployed = append(deployed, agents...)
		if err != nil {
			failures = append(failures, err)
		}
		log.Info("deployment phase finished",
			logging.Int("phase", phase.Phase),
			logging.String("name", phase.Name),
			logging.Int("succeeded", result.SuccessCount),
			logging.Int("failed", result.FailureCount),
		)
	}

	total, succeeded := 0, 0
	for _, pr := range results {
		total += pr.SuccessCount + pr.FailureCount
		succeeded += pr.SuccessCount
	}
	if total > 0 && succeeded == 0 {
		return nil, fmt.Errorf("failed to deploy any of %d agents: %w", total, errors.Join(failures...))
	}

	now := r.now()
	status := PhaseCompleted
	if succeeded < total {
		status = PhasePartial
	}
	return &models.DeploymentResult{
		ID:              uuid.New().String(),
		SourceRepurpose: repurpose.ID,
		Timestamp:       now,
		Plan:            plan,
		DeployedAgents:  deployed,
		PhaseResults:    results,
		Communication:   communicationSetup(deployed, cfg.HeartbeatInterval),
		Monitoring:      monitoringSetup(),
		Status:          status,
		SuccessRate:     SuccessRate(succeeded, total),
		RollbackPlan:    cloneRollback(repurpose.RollbackStrategy),
		NextSteps:       append([]string(nil), nextSteps...),
		Maintenance:     maintenanceSchedule(now),
	}, nil
}

func (r *SpawnerRedeployer) deployPhase(ctx context.Context, phase models.DeploymentPhase, trace spawner.Trace, cfg models.DeploymentConfig) (models.PhaseResult, []models.DeployedAgent, error) {
	result := models.PhaseResult{
		Phase:     phase.Phase,
		Name:      phase.Name,
		AgentIDs:  []string{},
		Status:    PhaseCompleted,
		StartedAt: r.now(),
	}

	byID := make(map[string]models.AgentComponent, len(phase.Components))
	reqs := make([]spawner.Request, 0, len(phase.Components))
	for _, comp := range phase.Components {
		byID[comp.ID] = comp
		reqs = append(reqs, spawner.Request{
			Config:   spawner.ComponentConfig(comp, trace, shortID(comp.ID)),
			ParentID: cfg.ParentAgentID,
		})
	}

	spawned, err := r.spawnBatches(ctx, reqs, cfg.Concurrency)

	agents := make([]models.DeployedAgent, 0, len(spawned))
	for _, s := range spawned {
		compID, _ := s.Agent.Configuration["component_id"].(string)
		comp := byID[compID]
		agents = append(agents, models.DeployedAgent{
			AgentID:            s.Agent.ID,
			Name:               s.Agent.Name,
			Type:               s.Agent.Type,
			Archetype:          comp.Archetype,
			Role:               s.Agent.Role,
			Phase:              phase.Phase,
			SpecializationPath: comp.SpecializationPath,
			AutonomyLevel:      comp.AutonomyLevel,
		})
		result.AgentIDs = append(result.AgentIDs, s.Agent.ID)
	}

	result.SuccessCount = len(spawned)
	result.FailureCount = len(reqs) - len(spawned)
	if err != nil {
		result.Errors = errorMessages(err)
	}
	switch {
	case result.FailureCount == 0:
		result.Status = PhaseCompleted
	case result.SuccessCount > 0:
		result.Status = PhasePartial
	default:
		result.Status = PhaseFailed
	}
	result.CompletedAt = r.now()

	if err != nil {
		err = fmt.Errorf("phase %d (%s): %w", phase.Phase, phase.Name, err)
	}
	return result, agents, err
}

// spawnBatches hands reqs to the spawner at most size at a time. A
// non-positive size sends everything in one call.
func (r *SpawnerRedeployer) spawnBatches(ctx context.Context, reqs []spawner.Request, size int) ([]spawner.SpawnResult, error) {
	if size <= 0 {
		size = len(reqs)
	}
	var (
		out  []spawner.SpawnResult
		errs []error
	)
	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))
		results, err := r.spawner.SpawnMany(ctx, reqs[start:end])
		out = append(out, results...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// errorMessages flattens a joined error into its messages
func errorMessages(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// SuccessRate is succeeded/total, or 0 when nothing was attempted
func SuccessRate(succeeded, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}

func deploymentPlan(components []models.AgentComponent, phases []models.DeploymentPhase) models.DeploymentPlan {
	var totals models.ResourceTotals
	highAutonomy, evolving := 0, 0
	for _, c := range components {
		totals.CPUCores += c.ResourceRequirements.CPUIntensity.Factor() * 2
		totals.MemoryGB += c.ResourceRequirements.MemoryUsage.Factor() * 4
		totals.StorageGB += c.ResourceRequirements.StorageNeeds.Factor() * 10
		if c.AutonomyLevel > 0.8 {
			highAutonomy++
		}
		if c.EvolutionPotential > 0.7 {
			evolving++
		}
	}
	totals.CPUCores = round3(totals.CPUCores)
	totals.MemoryGB = round3(totals.MemoryGB)
	totals.StorageGB = round3(totals.StorageGB)
	totals.NetworkBandwidth = "medium"
	if len(components) > 5 {
		totals.NetworkBandwidth = "high"
	}

	days := 0
	for _, p := range phases {
		days += phaseDays(p)
	}

	return models.DeploymentPlan{
		TotalAgents:           len(components),
		EstimatedDurationDays: days,
		Resources:             totals,
		Risk:                  assessRisk(highAutonomy, evolving, len(components)),
	}
}

func phaseDays(p models.DeploymentPhase) int {
	for _, spec := range deploymentPhases {
		if spec.name == p.Name {
			return spec.days
		}
	}
	return 7
}

func assessRisk(highAutonomy, evolving, total int) models.RiskAssessment {
	level := models.LevelLow
	if highAutonomy > 3 || evolving > 5 {
		level = models.LevelMedium
	}
	if highAutonomy > 5 && evolving > 7 {
		level = models.LevelHigh
	}
	return models.RiskAssessment{
		Overall: level,
		Factors: []string{
			fmt.Sprintf("%d high-autonomy agents", highAutonomy),
			fmt.Sprintf("%d complex agents", evolving),
			fmt.Sprintf("%d total agents to coordinate", total),
		},
		Mitigations: []string{
			"Gradual rollout with monitoring",
			"Circuit breakers for agent communication",
			"Automated rollback capabilities",
			"Comprehensive testing in staging environment",
		},
	}
}

func communicationSetup(agents []models.DeployedAgent, heartbeat time.Duration) models.CommunicationSetup {
	conns := make([]models.AgentConnection, len(agents))
	for i, a := range agents {
		conns[i] = models.AgentConnection{
			AgentID:           a.AgentID,
			Status:            "connected",
			MessageQueue:      "queue_" + shortID(a.AgentID),
			HeartbeatInterval: heartbeat,
		}
	}
	return models.CommunicationSetup{
		Network:     "established",
		Broker:      "redis_cluster",
		Connections: conns,
	}
}

func monitoringSetup() models.MonitoringSetup {
	return models.MonitoringSetup{
		System: "prometheus_grafana",
		AlertingRules: []string{
			"Agent offline for > 60 seconds",
			"Agent error rate > 5%",
			"Agent resource usage > 90%",
			"Agent response time > 5 seconds",
		},
		Dashboards: []string{
			"Agent Health Overview",
			"Performance Metrics",
			"Resource Utilization",
			"Communication Patterns",
		},
		RetentionPolicy: "30 days",
	}
}

func maintenanceSchedule(now time.Time) models.MaintenanceSchedule {
	return models.MaintenanceSchedule{
		Daily: []string{
			"Health check verification",
			"Performance metrics review",
			"Log analysis for errors",
		},
		Weekly: []string{
			"Agent evolution assessment",
			"Resource optimization review",
			"Security audit",
			"Backup verification",
		},
		Monthly: []string{
			"Comprehensive performance analysis",
			"Agent specialization review",
			"Infrastructure scaling assessment",
			"Disaster recovery testing",
		},
		NextWindow: now.Add(7 * 24 * time.Hour),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
