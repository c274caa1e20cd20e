package ecrr

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/models"
)

// TableCondenser keeps the critical and high priority components of an
// emulation and extracts its dominant patterns
type TableCondenser struct {
	clock
}

// NewCondenser creates the default condenser
func NewCondenser(opts ...StageOption) *TableCondenser {
	return &TableCondenser{clock: newClock(opts)}
}

// Condense reduces emulation to its essential components
func (c *TableCondenser) Condense(ctx context.Context, emulation *models.EmulationResult) (*models.CondensationResult, error) {
	if emulation == nil {
		return nil, models.Validationf("emulation result is required")
	}
	if len(emulation.Components) == 0 {
		return nil, models.Validationf("emulation %s has no components", emulation.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	essential := EssentialComponents(emulation.Components)

	return &models.CondensationResult{
		ID:                     uuid.New().String(),
		SourceEmulation:        emulation.ID,
		Target:                 emulation.Target,
		TargetType:             emulation.TargetType,
		Timestamp:              c.now(),
		EssentialComponents:    essential,
		CorePatterns:           corePatterns(emulation),
		CriticalDependencies:   criticalDependencies(emulation.Dependencies),
		MinimumViableFeatures:  mvpFeatures(emulation),
		ComplexityReduction:    Reduction(len(emulation.Components), len(essential)),
		ImplementationPriority: ImplementationOrder(essential),
		ResourceRequirements:   estimateResources(essential),
		SuccessFactors:         successFactors(emulation),
	}, nil
}

// EssentialComponents returns copies of the critical and high priority
// components in their original order
func EssentialComponents(components []models.Component) []models.Component {
	out := make([]models.Component, 0, len(components))
	for _, comp := range components {
		if comp.Priority == models.PriorityCritical || comp.Priority == models.PriorityHigh {
			out = append(out, cloneComponent(comp))
		}
	}
	return out
}

func cloneComponent(c models.Component) models.Component {
	c.Dependencies = append([]int{}, c.Dependencies...)
	return c
}

// Reduction reports how much of the original component set was dropped
func Reduction(original, essential int) models.ComplexityReduction {
	r := models.ComplexityReduction{
		OriginalComponents:  original,
		EssentialComponents: essential,
	}
	if original > 0 {
		r.ReductionRatio = 1 - float64(essential)/float64(original)
	}
	return r
}

// ImplementationOrder sorts components by priority then effort, both
// descending, and numbers them from 1
func ImplementationOrder(components []models.Component) []models.Component {
	out := make([]models.Component, len(components))
	for i, comp := range components {
		out[i] = cloneComponent(comp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].EstimatedEffort > out[j].EstimatedEffort
	})
	for i := range out {
		out[i].ImplementationOrder = i + 1
	}
	return out
}

func corePatterns(e *models.EmulationResult) models.CorePatterns {
	frequencies := make([]string, len(e.DataFlows))
	for i, f := range e.DataFlows {
		frequencies[i] = f.Frequency
	}
	complexities := make([]string, len(e.Interactions))
	for i, in := range e.Interactions {
		complexities[i] = string(in.Complexity)
	}
	return models.CorePatterns{
		Architecture: e.Architecture.Pattern,
		DataFlow:     modal(frequencies),
		Interaction:  modal(complexities),
		Security:     e.Security.AuthorizationModel,
		Scaling:      scalingPattern(e.Scalability),
	}
}

// modal returns the most frequent value; ties go to the value seen first
func modal(values []string) string {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := "", 0
	for _, v := range values {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func scalingPattern(s models.ScalabilityProfile) string {
	switch {
	case s.HorizontalScaling > s.VerticalScaling:
		return "horizontal"
	case s.VerticalScaling > 0.7:
		return "vertical"
	default:
		return "hybrid"
	}
}

func criticalDependencies(deps []models.Dependency) []models.Dependency {
	out := []models.Dependency{}
	for _, dep := range deps {
		if dep.Criticality == models.LevelHigh {
			out = append(out, dep)
		}
	}
	return out
}

func mvpFeatures(e *models.EmulationResult) []string {
	features := []string{}
	for _, comp := range e.Components {
		if comp.Priority == models.PriorityCritical {
			features = append(features, comp.Name)
		}
	}
	for _, in := range e.Interactions {
		if in.Importance == models.PriorityCritical || in.Importance == models.PriorityHigh {
			features = append(features, in.Action)
		}
	}
	return features
}

var infrastructureTypes = map[string]bool{"infrastructure": true, "database": true, "security": true}

func estimateResources(components []models.Component) models.ResourceEstimate {
	effort := 0
	skills := []string{}
	seen := map[string]bool{}
	needs := []string{}
	for _, comp := range components {
		effort += comp.EstimatedEffort
		if !seen[comp.Type] {
			seen[comp.Type] = true
			skills = append(skills, comp.Type)
		}
		if infrastructureTypes[comp.Type] {
			needs = append(needs, comp.Name)
		}
	}
	return models.ResourceEstimate{
		EstimatedHours:      effort * 8,
		TeamSize:            max(1, effort/10),
		EstimatedWeeks:      max(1, effort/5),
		SkillRequirements:   skills,
		InfrastructureNeeds: needs,
	}
}

func successFactors(e *models.EmulationResult) []string {
	var factors []string
	if e.Architecture.SecurityRating < 0.7 {
		factors = append(factors, "Enhanced security implementation required")
	}
	if e.Architecture.Performance < 0.6 {
		factors = append(factors, "Performance optimization critical")
	}
	if e.ComplexityScore > 0.7 {
		factors = append(factors, "Complexity management and modular approach needed")
	}
	if e.BusinessLogic.AutomationLevel < 0.5 {
		factors = append(factors, "Process automation opportunities available")
	}
	return append(factors,
		"User experience design crucial for adoption",
		"Iterative development and feedback loops essential",
	)
}
