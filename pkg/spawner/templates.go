package spawner

import (
	"fmt"
	"strings"

	"github.com/legion/legion/pkg/models"
)

var quickTemplates = map[models.AgentType]Config{
	models.AgentTypeController: {
		Type:   models.AgentTypeController,
		Role:   "Strategic Command",
		Skills: []string{"leadership", "strategic_planning", "resource_management", "crisis_response"},
		Tools:  []string{"command_interface", "resource_monitor", "agent_coordinator"},
		Performance: &models.Performance{
			Efficiency: 0.85, Accuracy: 0.9, Adaptability: 0.8, Specialization: 0.9,
		},
	},
	models.AgentTypeOracle: {
		Type:   models.AgentTypeOracle,
		Role:   "Intelligence Analysis",
		Skills: []string{"data_analysis", "pattern_recognition", "prediction", "threat_assessment"},
		Tools:  []string{"analytics_engine", "pattern_matcher", "forecast_model"},
		Performance: &models.Performance{
			Efficiency: 0.8, Accuracy: 0.95, Adaptability: 0.75, Specialization: 0.85,
		},
	},
	models.AgentTypeDispatcher: {
		Type:   models.AgentTypeDispatcher,
		Role:   "Task Coordination",
		Skills: []string{"task_management", "load_balancing", "communication", "optimization"},
		Tools:  []string{"task_queue", "load_balancer", "communication_hub"},
		Performance: &models.Performance{
			Efficiency: 0.9, Accuracy: 0.85, Adaptability: 0.85, Specialization: 0.8,
		},
	},
	models.AgentTypeModular: {
		Type:   models.AgentTypeModular,
		Role:   "Adaptive Specialist",
		Skills: []string{"adaptation", "learning", "execution", "collaboration"},
		Tools:  []string{"learning_module", "adaptation_engine", "skill_library"},
		Performance: &models.Performance{
			Efficiency: 0.75, Accuracy: 0.8, Adaptability: 0.9, Specialization: 0.7,
		},
	},
}

// Template returns a copy of the quick-deploy template for t
func Template(t models.AgentType) (Config, error) {
	tmpl, ok := quickTemplates[t]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", models.ErrUnknownAgentType, t)
	}
	return tmpl.Clone(), nil
}

// controllerConfig is the swarm controller spawned ahead of the units
func controllerConfig(swarmID string) Config {
	return Config{
		Name:   "Controller-" + swarmID[:8],
		Type:   models.AgentTypeController,
		Role:   "Swarm Coordinator",
		Skills: []string{"leadership", "coordination", "strategic_planning"},
		Tools:  []string{"swarm_management", "resource_allocation"},
		Performance: &models.Performance{
			Efficiency: 0.8, Accuracy: 0.85, Adaptability: 0.9, Specialization: 0.75,
		},
	}
}

var contextSkillTable = []struct {
	keyword string
	skills  []string
}{
	{"security", []string{"threat_detection", "vulnerability_assessment", "incident_response"}},
	{"data", []string{"data_processing", "analytics", "data_validation"}},
	{"performance", []string{"optimization", "monitoring", "tuning"}},
	{"communication", []string{"messaging", "protocol_handling", "network_management"}},
}

// ContextSkills derives extra skill tags from keywords in a mission context
func ContextSkills(missionContext string) []string {
	lower := strings.ToLower(missionContext)
	var skills []string
	for _, row := range contextSkillTable {
		if strings.Contains(lower, row.keyword) {
			skills = append(skills, row.skills...)
		}
	}
	return skills
}

var specialistSkillTable = map[string][]string{
	"Service Mesh Coordinator":     {"service_discovery", "load_balancing", "circuit_breaking", "monitoring"},
	"Stream Processing Specialist": {"real_time_processing", "data_streaming", "event_handling", "pipeline_management"},
	"Access Control Manager":       {"authentication", "authorization", "policy_enforcement", "audit_logging"},
	"Auto-scaling Controller":      {"resource_monitoring", "scaling_decisions", "performance_optimization", "cost_management"},
}

// SpecialistSkills returns the skill set synthesized for a specialist role
func SpecialistSkills(specialization string) []string {
	if skills, ok := specialistSkillTable[specialization]; ok {
		return append([]string(nil), skills...)
	}
	return []string{"specialization", "optimization", "monitoring"}
}

var baseNextSteps = []string{
	"Verify agent connectivity and heartbeat",
	"Conduct initial capability assessment",
	"Assign first mission or task",
	"Monitor performance metrics",
}

var typeNextSteps = map[models.AgentType][]string{
	models.AgentTypeController: {
		"Establish command hierarchy",
		"Set up resource monitoring",
		"Configure strategic planning modules",
	},
	models.AgentTypeOracle: {
		"Initialize data analysis pipelines",
		"Calibrate prediction models",
		"Set up intelligence gathering protocols",
	},
	models.AgentTypeDispatcher: {
		"Configure task distribution algorithms",
		"Set up load balancing parameters",
		"Initialize communication channels",
	},
	models.AgentTypeModular: {
		"Identify specialization opportunities",
		"Begin adaptive learning cycle",
		"Establish collaboration protocols",
	},
}

func nextSteps(t models.AgentType, missionContext string) []string {
	steps := append([]string(nil), baseNextSteps...)
	steps = append(steps, typeNextSteps[t]...)
	if missionContext != "" {
		steps = append(steps,
			fmt.Sprintf("Optimize for %s context", missionContext),
			"Validate context-specific capabilities",
			"Establish context-aware monitoring",
		)
	}
	return steps
}

// titleWords upper-cases the first letter of each word, treating
// underscores and dashes as separators
func titleWords(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
	}
	return strings.Join(fields, " ")
}
