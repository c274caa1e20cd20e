package ecrr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/models"
)

type clock struct {
	now func() time.Time
}

func newClock(opts []StageOption) clock {
	c := clock{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// StageOption configures one of the default stages
type StageOption func(*clock)

// WithStageClock overrides the timestamp source of a stage
func WithStageClock(now func() time.Time) StageOption {
	return func(c *clock) { c.now = now }
}

// TableEmulator emulates targets from the fixed component tables. Every
// value is derived from the target name and type, so repeated emulations
// of the same target agree on everything except id and timestamp.
type TableEmulator struct {
	clock
}

// NewEmulator creates the table-driven emulator
func NewEmulator(opts ...StageOption) *TableEmulator {
	return &TableEmulator{clock: newClock(opts)}
}

// Emulate builds the emulation result for target
func (e *TableEmulator) Emulate(ctx context.Context, target Target) (*models.EmulationResult, error) {
	start := time.Now()
	target, err := target.Normalize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := newDeriver(target.Name, string(target.Type))

	result := &models.EmulationResult{
		ID:            uuid.New().String(),
		Target:        target.Name,
		TargetType:    target.Type,
		Depth:         target.Depth,
		Timestamp:     e.now(),
		Components:    emulateComponents(d, componentsFor(target.Type, target.Depth)),
		Architecture:  emulateArchitecture(d, target.Type),
		DataFlows:     emulateDataFlows(d),
		Interactions:  emulateInteractions(d),
		BusinessLogic: emulateBusinessLogic(d),
		Dependencies:  emulateDependencies(d),
		Security:      emulateSecurity(d),
		Performance:   emulatePerformance(d),
		Scalability:   emulateScalability(d),
		Integrations:  emulateIntegrations(d),
	}
	result.ComplexityScore, result.SuccessProbability, result.ReplicationFeasibility = headlineScores(result.Components)
	result.AnalysisDuration = time.Since(start)
	return result, nil
}

func emulateComponents(d deriver, specs []componentSpec) []models.Component {
	out := make([]models.Component, len(specs))
	for i, spec := range specs {
		key := fmt.Sprintf("component/%d/%s", i, spec.name)
		out[i] = models.Component{
			ID:                    d.id(key),
			Name:                  spec.name,
			Type:                  spec.kind,
			Complexity:            spec.complexity,
			Priority:              spec.priority,
			EstimatedEffort:       d.intn(key+"/effort", 1, 20),
			Dependencies:          d.indices(key+"/deps", i, 3),
			ReplicationDifficulty: d.between(key+"/difficulty", 0.1, 0.9),
		}
	}
	return out
}

// headlineScores derives the complexity score, success probability and
// replication feasibility from the component list
func headlineScores(components []models.Component) (complexity, success, feasibility float64) {
	if len(components) == 0 {
		return 0, 0.95, 0.95
	}
	var factorSum, difficultySum float64
	for _, c := range components {
		factorSum += c.Complexity.Factor()
		difficultySum += c.ReplicationDifficulty
	}
	n := float64(len(components))
	complexity = round3(factorSum / n)

	success = 0.95 - 0.2*(complexity-0.3)/0.6
	success = round3(min(0.95, max(0.75, success)))

	feasibility = 0.95 - 0.35*(difficultySum/n-0.1)/0.8
	feasibility = round3(min(0.95, max(0.6, feasibility)))
	return complexity, success, feasibility
}

func emulateArchitecture(d deriver, t models.TargetType) models.Architecture {
	patterns := architecturePatterns[t]
	pattern := "Generic"
	if len(patterns) > 0 {
		pattern = d.pick("architecture/pattern", patterns)
	}
	return models.Architecture{
		Pattern:              pattern,
		Scalability:          d.between("architecture/scalability", 0.5, 1.0),
		Maintainability:      d.between("architecture/maintainability", 0.4, 0.9),
		Performance:          d.between("architecture/performance", 0.6, 0.95),
		SecurityRating:       d.between("architecture/security", 0.5, 0.9),
		DeploymentComplexity: d.between("architecture/deployment", 0.2, 0.8),
	}
}

func emulateDataFlows(d deriver) []models.DataFlow {
	out := make([]models.DataFlow, len(dataFlows))
	for i, f := range dataFlows {
		key := fmt.Sprintf("flow/%d", i)
		out[i] = models.DataFlow{
			ID:                     d.id(key),
			Source:                 f.source,
			Destination:            f.destination,
			DataType:               f.dataType,
			Volume:                 f.volume,
			Frequency:              d.pick(key+"/frequency", flowFrequencies),
			SecurityLevel:          models.Level(d.pick(key+"/security", levelNames)),
			TransformationRequired: d.flag(key + "/transform"),
		}
	}
	return out
}

func emulateInteractions(d deriver) []models.Interaction {
	out := make([]models.Interaction, len(interactions))
	for i, in := range interactions {
		key := fmt.Sprintf("interaction/%d", i)
		out[i] = models.Interaction{
			ID:                  d.id(key),
			Action:              in.action,
			Frequency:           in.frequency,
			Complexity:          in.complexity,
			Importance:          in.importance,
			UserTypes:           d.sample(key+"/users", userTypes, 1, 3),
			AutomationPotential: d.between(key+"/automation", 0.1, 0.9),
		}
	}
	return out
}

func emulateBusinessLogic(d deriver) models.BusinessLogic {
	return models.BusinessLogic{
		CoreProcesses:           d.intn("logic/processes", 3, 12),
		DecisionPoints:          d.intn("logic/decisions", 5, 25),
		AutomationLevel:         d.between("logic/automation", 0.2, 0.8),
		RuleComplexity:          d.between("logic/rules", 0.3, 0.9),
		CustomizationNeeds:      d.between("logic/customization", 0.1, 0.7),
		IntegrationRequirements: d.intn("logic/integrations", 2, 8),
	}
}

func emulateDependencies(d deriver) []models.Dependency {
	out := make([]models.Dependency, len(dependencies))
	for i, dep := range dependencies {
		key := fmt.Sprintf("dependency/%d", i)
		out[i] = models.Dependency{
			ID:                    d.id(key),
			Name:                  dep.name,
			Type:                  dep.kind,
			Criticality:           dep.criticality,
			Availability:          d.between(key+"/availability", 0.95, 0.999),
			ReplacementDifficulty: d.between(key+"/replacement", 0.1, 0.9),
			CostFactor:            d.between(key+"/cost", 0.1, 0.8),
		}
	}
	return out
}

func emulateSecurity(d deriver) models.SecurityProfile {
	return models.SecurityProfile{
		AuthenticationMethods:  d.sample("security/authn", authMethods, 1, 3),
		AuthorizationModel:     d.pick("security/authz", authzModels),
		EncryptionLevel:        d.pick("security/encryption", encryptionLevels),
		VulnerabilityScore:     d.between("security/vulnerability", 0.1, 0.6),
		ComplianceRequirements: d.sample("security/compliance", complianceRegimes, 0, 3),
		SecurityMaturity:       d.between("security/maturity", 0.4, 0.9),
	}
}

func emulatePerformance(d deriver) models.PerformanceProfile {
	return models.PerformanceProfile{
		ResponseTimeMs:        d.intn("performance/response", 50, 2000),
		ThroughputRPS:         d.intn("performance/throughput", 100, 10000),
		ConcurrentUsers:       d.intn("performance/users", 10, 50000),
		ResourceUtilization:   d.between("performance/utilization", 0.3, 0.8),
		Bottlenecks:           d.sample("performance/bottlenecks", bottlenecks, 1, 3),
		OptimizationPotential: d.between("performance/optimization", 0.2, 0.7),
	}
}

func emulateScalability(d deriver) models.ScalabilityProfile {
	return models.ScalabilityProfile{
		HorizontalScaling: d.between("scalability/horizontal", 0.3, 0.9),
		VerticalScaling:   d.between("scalability/vertical", 0.5, 0.8),
		AutoScaling:       d.flag("scalability/auto"),
		ScalingTriggers:   d.sample("scalability/triggers", scalingTriggers, 1, 3),
		Limits: models.ScalingLimits{
			MaxInstances: d.intn("scalability/instances", 10, 1000),
			MaxCPU:       d.intn("scalability/cpu", 4, 64),
			MaxMemoryGB:  d.intn("scalability/memory", 8, 512),
		},
	}
}

func emulateIntegrations(d deriver) []models.Integration {
	out := make([]models.Integration, len(integrations))
	for i, in := range integrations {
		key := fmt.Sprintf("integration/%d", i)
		out[i] = models.Integration{
			ID:          d.id(key),
			Name:        in.name,
			Type:        in.kind,
			Protocol:    in.protocol,
			Complexity:  models.Level(d.pick(key+"/complexity", levelNames)),
			Reliability: d.between(key+"/reliability", 0.9, 0.999),
			DataVolume:  models.Level(d.pick(key+"/volume", levelNames)),
			RealTime:    d.flag(key + "/realtime"),
		}
	}
	return out
}
