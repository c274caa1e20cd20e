package swarm

import (
	"fmt"

	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
)

func preset(name string, t models.AgentType, role string, skills ...string) spawner.Config {
	return spawner.Config{Name: name, Type: t, Role: role, Skills: skills}
}

var quickPresets = map[string][]spawner.Config{
	"basic": {
		preset("Controller-Alpha", models.AgentTypeController, "Strategic Oversight", "leadership", "strategic_planning"),
		preset("Oracle-Beta", models.AgentTypeOracle, "Intelligence Analysis", "data_analysis", "pattern_recognition"),
		preset("Dispatcher-Gamma", models.AgentTypeDispatcher, "Task Coordination", "task_management", "resource_allocation"),
	},
	"research": {
		preset("Research-Controller", models.AgentTypeController, "Research Director", "research_planning", "hypothesis_generation"),
		preset("Data-Oracle", models.AgentTypeOracle, "Data Scientist", "statistical_analysis", "machine_learning"),
		preset("Experiment-Dispatcher", models.AgentTypeDispatcher, "Experiment Coordinator", "experiment_design", "protocol_management"),
	},
}

var unitPresets = map[string][]spawner.Config{
	"reconnaissance": {
		preset("Recon-Leader", models.AgentTypeController, "Reconnaissance Leader", "surveillance", "tactical_planning"),
		preset("Intel-Analyst", models.AgentTypeOracle, "Intelligence Analyst", "signal_analysis", "threat_assessment"),
		preset("Scout-Coordinator", models.AgentTypeDispatcher, "Scout Coordinator", "field_coordination", "communication"),
		preset("Scout-1", models.AgentTypeModular, "Field Scout", "stealth", "observation"),
		preset("Scout-2", models.AgentTypeModular, "Field Scout", "stealth", "observation"),
	},
}

// swarmPreset returns a command trio plus size-3 general workers
func swarmPreset(size int) []spawner.Config {
	cfgs := []spawner.Config{
		preset("Swarm-Controller", models.AgentTypeController, "Swarm Commander", "swarm_coordination", "distributed_leadership"),
		preset("Swarm-Oracle", models.AgentTypeOracle, "Collective Intelligence", "distributed_analysis", "consensus_building"),
		preset("Swarm-Dispatcher", models.AgentTypeDispatcher, "Load Balancer", "dynamic_allocation", "performance_optimization"),
	}
	for i := 1; i <= size-3; i++ {
		cfgs = append(cfgs, preset(fmt.Sprintf("Worker-%03d", i), models.AgentTypeModular, "General Worker", "adaptability", "task_execution"))
	}
	return cfgs
}

// PresetNames lists the built-in preset names per mode
func PresetNames() map[Mode][]string {
	return map[Mode][]string{
		ModeQuick: {"basic", "research"},
		ModeUnit:  {"reconnaissance"},
		ModeSwarm: {defaultSwarmType},
	}
}
