package models

import (
	"fmt"
	"strings"
	"time"
)

// TargetType selects the component checklist used to emulate a target
type TargetType string

const (
	TargetApp      TargetType = "app"
	TargetBusiness TargetType = "business"
	TargetSystem   TargetType = "system"
	TargetAPI      TargetType = "api"
	TargetService  TargetType = "service"
)

// TargetTypes lists every supported target type
var TargetTypes = []TargetType{TargetApp, TargetBusiness, TargetSystem, TargetAPI, TargetService}

// ParseTargetType resolves a case-insensitive target type
func ParseTargetType(s string) (TargetType, error) {
	for _, t := range TargetTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", Validationf("unknown target type %q", s)
}

// Depth controls how many component tiers an emulation includes
type Depth string

const (
	DepthSurface       Depth = "surface"
	DepthStandard      Depth = "standard"
	DepthDeep          Depth = "deep"
	DepthComprehensive Depth = "comprehensive"
)

// Rank orders depths; deeper levels include every shallower tier
func (d Depth) Rank() int {
	switch d {
	case DepthSurface:
		return 1
	case DepthStandard:
		return 2
	case DepthDeep:
		return 3
	case DepthComprehensive:
		return 4
	}
	return 0
}

// ParseDepth resolves a case-insensitive depth, defaulting empty input to standard
func ParseDepth(s string) (Depth, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DepthStandard, nil
	}
	d := Depth(s)
	if d.Rank() == 0 {
		return "", Validationf("unknown analysis depth %q", s)
	}
	return d, nil
}

// Level is a three-step qualitative scale used for complexity, criticality and volume
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Factor maps a level onto the unit interval
func (l Level) Factor() float64 {
	switch l {
	case LevelLow:
		return 0.3
	case LevelMedium:
		return 0.6
	case LevelHigh:
		return 0.9
	}
	return 0.5
}

// Rank orders levels from low (1) to high (3)
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	}
	return 0
}

// Component is one emulated building block of a target system
type Component struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Complexity            Level    `json:"complexity"`
	Priority              Priority `json:"priority"`
	EstimatedEffort       int      `json:"estimated_effort"`
	Dependencies          []int    `json:"dependencies"`
	ReplicationDifficulty float64  `json:"replication_difficulty"`
	ImplementationOrder   int      `json:"implementation_order,omitempty"`
}

// Architecture summarizes the emulated architecture pattern
type Architecture struct {
	Pattern              string  `json:"pattern"`
	Scalability          float64 `json:"scalability"`
	Maintainability      float64 `json:"maintainability"`
	Performance          float64 `json:"performance"`
	SecurityRating       float64 `json:"security_rating"`
	DeploymentComplexity float64 `json:"deployment_complexity"`
}

// DataFlow describes data moving between two parts of the target
type DataFlow struct {
	ID                     string `json:"id"`
	Source                 string `json:"source"`
	Destination            string `json:"destination"`
	DataType               string `json:"data_type"`
	Volume                 Level  `json:"volume"`
	Frequency              string `json:"frequency"`
	SecurityLevel          Level  `json:"security_level"`
	TransformationRequired bool   `json:"transformation_required"`
}

// Interaction is a user-facing action the target supports
type Interaction struct {
	ID                  string   `json:"id"`
	Action              string   `json:"action"`
	Frequency           string   `json:"frequency"`
	Complexity          Level    `json:"complexity"`
	Importance          Priority `json:"importance"`
	UserTypes           []string `json:"user_types"`
	AutomationPotential float64  `json:"automation_potential"`
}

// BusinessLogic captures rule and process metrics of the target
type BusinessLogic struct {
	CoreProcesses           int     `json:"core_processes"`
	DecisionPoints          int     `json:"decision_points"`
	AutomationLevel         float64 `json:"automation_level"`
	RuleComplexity          float64 `json:"rule_complexity"`
	CustomizationNeeds      float64 `json:"customization_needs"`
	IntegrationRequirements int     `json:"integration_requirements"`
}

// Dependency is an external collaborator the target relies on
type Dependency struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Type                  string  `json:"type"`
	Criticality           Level   `json:"criticality"`
	Availability          float64 `json:"availability"`
	ReplacementDifficulty float64 `json:"replacement_difficulty"`
	CostFactor            float64 `json:"cost_factor"`
}

// SecurityProfile summarizes the target's security posture
type SecurityProfile struct {
	AuthenticationMethods  []string `json:"authentication_methods"`
	AuthorizationModel     string   `json:"authorization_model"`
	EncryptionLevel        string   `json:"encryption_level"`
	VulnerabilityScore     float64  `json:"vulnerability_score"`
	ComplianceRequirements []string `json:"compliance_requirements"`
	SecurityMaturity       float64  `json:"security_maturity"`
}

// PerformanceProfile summarizes the target's runtime characteristics
type PerformanceProfile struct {
	ResponseTimeMs        int      `json:"response_time_ms"`
	ThroughputRPS         int      `json:"throughput_rps"`
	ConcurrentUsers       int      `json:"concurrent_users"`
	ResourceUtilization   float64  `json:"resource_utilization"`
	Bottlenecks           []string `json:"bottlenecks"`
	OptimizationPotential float64  `json:"optimization_potential"`
}

// ScalingLimits bounds how far the target can scale
type ScalingLimits struct {
	MaxInstances int `json:"max_instances"`
	MaxCPU       int `json:"max_cpu"`
	MaxMemoryGB  int `json:"max_memory_gb"`
}

// ScalabilityProfile scores horizontal and vertical scaling
type ScalabilityProfile struct {
	HorizontalScaling float64       `json:"horizontal_scaling"`
	VerticalScaling   float64       `json:"vertical_scaling"`
	AutoScaling       bool          `json:"auto_scaling"`
	ScalingTriggers   []string      `json:"scaling_triggers"`
	Limits            ScalingLimits `json:"scaling_limits"`
}

// Integration is a third-party system the target talks to
type Integration struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Protocol    string  `json:"protocol"`
	Complexity  Level   `json:"complexity"`
	Reliability float64 `json:"reliability"`
	DataVolume  Level   `json:"data_volume"`
	RealTime    bool    `json:"real_time"`
}

// EmulationResult is the output of the Emulate stage
type EmulationResult struct {
	ID                     string             `json:"id"`
	Target                 string             `json:"target"`
	TargetType             TargetType         `json:"target_type"`
	Depth                  Depth              `json:"analysis_depth"`
	Timestamp              time.Time          `json:"timestamp"`
	AnalysisDuration       time.Duration      `json:"analysis_duration"`
	Components             []Component        `json:"components"`
	Architecture           Architecture       `json:"architecture"`
	DataFlows              []DataFlow         `json:"data_flows"`
	Interactions           []Interaction      `json:"user_interactions"`
	BusinessLogic          BusinessLogic      `json:"business_logic"`
	Dependencies           []Dependency       `json:"dependencies"`
	Security               SecurityProfile    `json:"security_profile"`
	Performance            PerformanceProfile `json:"performance_metrics"`
	Scalability            ScalabilityProfile `json:"scalability_factors"`
	Integrations           []Integration      `json:"integration_points"`
	SuccessProbability     float64            `json:"success_probability"`
	ComplexityScore        float64            `json:"complexity_score"`
	ReplicationFeasibility float64            `json:"replication_feasibility"`
}

// CorePatterns are the dominant patterns extracted during condensation
type CorePatterns struct {
	Architecture string `json:"architecture"`
	DataFlow     string `json:"data_flow"`
	Interaction  string `json:"interaction"`
	Security     string `json:"security"`
	Scaling      string `json:"scaling"`
}

// ComplexityReduction compares the condensed component set with the original
type ComplexityReduction struct {
	OriginalComponents  int     `json:"original_components"`
	EssentialComponents int     `json:"essential_components"`
	ReductionRatio      float64 `json:"reduction_ratio"`
}

// ResourceEstimate is the effort estimate for building the essential set
type ResourceEstimate struct {
	EstimatedHours      int      `json:"estimated_hours"`
	TeamSize            int      `json:"team_size"`
	EstimatedWeeks      int      `json:"estimated_weeks"`
	SkillRequirements   []string `json:"skill_requirements"`
	InfrastructureNeeds []string `json:"infrastructure_needs"`
}

// CondensationResult is the output of the Condense stage
type CondensationResult struct {
	ID                     string              `json:"id"`
	SourceEmulation        string              `json:"source_emulation"`
	Target                 string              `json:"target"`
	TargetType             TargetType          `json:"target_type"`
	Timestamp              time.Time           `json:"timestamp"`
	EssentialComponents    []Component         `json:"essential_components"`
	CorePatterns           CorePatterns        `json:"core_patterns"`
	CriticalDependencies   []Dependency        `json:"critical_dependencies"`
	MinimumViableFeatures  []string            `json:"minimum_viable_features"`
	ComplexityReduction    ComplexityReduction `json:"complexity_reduction"`
	ImplementationPriority []Component         `json:"implementation_priority"`
	ResourceRequirements   ResourceEstimate    `json:"resource_requirements"`
	SuccessFactors         []string            `json:"success_factors"`
}

// ResourceProfile is the qualitative resource footprint of an agent component
type ResourceProfile struct {
	CPUIntensity      Level `json:"cpu_intensity"`
	MemoryUsage       Level `json:"memory_usage"`
	NetworkDependency Level `json:"network_dependency"`
	StorageNeeds      Level `json:"storage_needs"`
}

// AgentComponent is an essential component mapped onto an agent archetype
type AgentComponent struct {
	ID                   string          `json:"id"`
	OriginalComponent    string          `json:"original_component"`
	ComponentType        string          `json:"component_type"`
	Priority             Priority        `json:"priority"`
	Archetype            string          `json:"agent_archetype"`
	AgentType            AgentType       `json:"agent_type"`
	Role                 string          `json:"role"`
	Capabilities         []string        `json:"capabilities"`
	AutonomyLevel        float64         `json:"autonomy_level"`
	CollaborationNeeds   []string        `json:"collaboration_needs"`
	ResourceRequirements ResourceProfile `json:"resource_requirements"`
	EvolutionPotential   float64         `json:"evolution_potential"`
	SpecializationPath   string          `json:"specialization_path"`
}

// Specialization is a recommended specialist role
type Specialization struct {
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Priority     Priority `json:"priority"`
	AgentsNeeded int      `json:"agents_needed"`
}

// MessagePattern names a communication pattern and where it applies
type MessagePattern struct {
	Type  string `json:"type"`
	Usage string `json:"usage"`
}

// CommunicationPlan is the inter-agent communication design
type CommunicationPlan struct {
	PrimaryProtocol     string           `json:"primary_protocol"`
	BackupProtocol      string           `json:"backup_protocol"`
	MessagePatterns     []MessagePattern `json:"message_patterns"`
	Topology            string           `json:"network_topology"`
	ReliabilityFeatures []string         `json:"reliability_features"`
	SecurityMeasures    []string         `json:"security_measures"`
}

// DeploymentPhase groups agent components deployed together
type DeploymentPhase struct {
	Phase            int              `json:"phase"`
	Name             string           `json:"name"`
	Archetypes       []string         `json:"archetypes"`
	Components       []AgentComponent `json:"components"`
	DurationEstimate string           `json:"duration_estimate"`
}

// DeploymentStrategy is the phased rollout plan
type DeploymentStrategy struct {
	Phases                 []DeploymentPhase `json:"phases"`
	RolloutStrategy        string            `json:"rollout_strategy"`
	TestingApproach        string            `json:"testing_approach"`
	MonitoringRequirements []string          `json:"monitoring_requirements"`
	SuccessCriteria        []string          `json:"success_criteria"`
	CapacityRemaining      int               `json:"capacity_remaining"`
}

// CoordinationNeeds describes how much coordination the new agents require
type CoordinationNeeds struct {
	Complexity              string   `json:"complexity"`
	SynchronizationPoints   int      `json:"synchronization_points"`
	ConflictResolution      bool     `json:"conflict_resolution_needed"`
	CentralizedCoordination bool     `json:"centralized_coordination"`
	MessagePatterns         []string `json:"message_patterns"`
}

// SharedResource is a resource used by more than one agent component
type SharedResource struct {
	Resource      string   `json:"resource"`
	SharingAgents []string `json:"sharing_agents"`
}

// AgentScaling is the per-archetype scaling rule
type AgentScaling struct {
	MaxInstances int    `json:"max_instances"`
	Metric       string `json:"scaling_metric"`
}

// ScalingApproach is the scaling policy for the deployed agents
type ScalingApproach struct {
	Triggers          []string                `json:"scaling_triggers"`
	ScaleOutCooldown  time.Duration           `json:"scale_out_cooldown"`
	ScaleInCooldown   time.Duration           `json:"scale_in_cooldown"`
	MinInstances      int                     `json:"min_instances"`
	MaxInstances      int                     `json:"max_instances"`
	TargetUtilization float64                 `json:"target_utilization"`
	AgentSpecific     map[string]AgentScaling `json:"agent_specific"`
}

// LegionIntegration places the new agents inside the existing legion
type LegionIntegration struct {
	HierarchyLevel  AgentType         `json:"hierarchy_level"`
	Coordination    CoordinationNeeds `json:"coordination_requirements"`
	SharedResources []SharedResource  `json:"resource_sharing"`
	Scaling         ScalingApproach   `json:"scaling_approach"`
}

// SuccessMetric is a measurable deployment objective
type SuccessMetric struct {
	Metric      string `json:"metric"`
	Target      string `json:"target"`
	Measurement string `json:"measurement"`
}

// RollbackPlan is recorded for an operator; it is never executed automatically
type RollbackPlan struct {
	Triggers             []string `json:"rollback_triggers"`
	Steps                []string `json:"rollback_steps"`
	TimeTarget           string   `json:"rollback_time_target"`
	DataPreservation     string   `json:"data_preservation"`
	NotificationChannels []string `json:"notification_channels"`
}

// RepurposeResult is the output of the Repurpose stage
type RepurposeResult struct {
	ID                    string             `json:"id"`
	SourceCondensation    string             `json:"source_condensation"`
	Target                string             `json:"target"`
	TargetType            TargetType         `json:"target_type"`
	Timestamp             time.Time          `json:"timestamp"`
	AgentComponents       []AgentComponent   `json:"agent_components"`
	Specializations       []Specialization   `json:"specializations"`
	CommunicationPatterns CommunicationPlan  `json:"communication_patterns"`
	DeploymentStrategy    DeploymentStrategy `json:"deployment_strategy"`
	LegionIntegration     LegionIntegration  `json:"legion_integration"`
	SuccessMetrics        []SuccessMetric    `json:"success_metrics"`
	RollbackStrategy      RollbackPlan       `json:"rollback_strategy"`
}

// ResourcePool describes raw capacity available to the legion
type ResourcePool struct {
	CPU       int `json:"cpu"`
	MemoryGB  int `json:"memory"`
	StorageGB int `json:"storage"`
}

// LegionContext carries the caller's capacity constraints into Repurpose
type LegionContext struct {
	AvailableResources ResourcePool `json:"available_resources"`
	CurrentAgents      int          `json:"current_agents"`
	MaxAgents          int          `json:"max_agents"`
	Environment        string       `json:"deployment_environment"`
}

// DefaultLegionContext is used when the caller supplies none
func DefaultLegionContext() LegionContext {
	return LegionContext{
		AvailableResources: ResourcePool{CPU: 16, MemoryGB: 32, StorageGB: 500},
		CurrentAgents:      0,
		MaxAgents:          100,
		Environment:        "development",
	}
}

// Capacity returns how many more agents the legion can accept
func (c LegionContext) Capacity() int {
	return c.MaxAgents - c.CurrentAgents
}

// Validate rejects negative or inconsistent capacity figures
func (c LegionContext) Validate() error {
	if c.MaxAgents <= 0 {
		return Validationf("max_agents must be positive, got %d", c.MaxAgents)
	}
	if c.CurrentAgents < 0 {
		return Validationf("current_agents must be non-negative, got %d", c.CurrentAgents)
	}
	return nil
}

// DeploymentConfig tunes the Redeploy stage
type DeploymentConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	Concurrency       int           `json:"concurrency"`
	ParentAgentID     string        `json:"parent_agent_id,omitempty"`
}

// DefaultDeploymentConfig returns sensible Redeploy defaults
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		HeartbeatInterval: 30 * time.Second,
		Concurrency:       4,
	}
}

// ResourceTotals is the aggregate resource request of a deployment
type ResourceTotals struct {
	CPUCores         float64 `json:"cpu_cores"`
	MemoryGB         float64 `json:"memory_gb"`
	StorageGB        float64 `json:"storage_gb"`
	NetworkBandwidth string  `json:"network_bandwidth"`
}

// RiskAssessment grades the deployment risk
type RiskAssessment struct {
	Overall     Level    `json:"overall_risk"`
	Factors     []string `json:"risk_factors"`
	Mitigations []string `json:"mitigation_strategies"`
}

// DeploymentPlan summarizes what Redeploy is about to do
type DeploymentPlan struct {
	TotalAgents           int            `json:"total_agents"`
	EstimatedDurationDays int            `json:"estimated_duration_days"`
	Resources             ResourceTotals `json:"resource_allocation"`
	Risk                  RiskAssessment `json:"risk_assessment"`
}

// DeployedAgent links a spawned agent back to its agent component
type DeployedAgent struct {
	AgentID            string    `json:"agent_id"`
	Name               string    `json:"name"`
	Type               AgentType `json:"type"`
	Archetype          string    `json:"archetype"`
	Role               string    `json:"role"`
	Phase              int       `json:"phase"`
	SpecializationPath string    `json:"specialization_path"`
	AutonomyLevel      float64   `json:"autonomy_level"`
}

// PhaseResult reports the outcome of one deployment phase
type PhaseResult struct {
	Phase        int       `json:"phase"`
	Name         string    `json:"name"`
	AgentIDs     []string  `json:"agent_ids"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Errors       []string  `json:"errors,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// AgentConnection is the communication record for one deployed agent
type AgentConnection struct {
	AgentID           string        `json:"agent_id"`
	Status            string        `json:"connection_status"`
	MessageQueue      string        `json:"message_queue"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// CommunicationSetup is the communication network built during Redeploy
type CommunicationSetup struct {
	Network     string            `json:"network_id"`
	Broker      string            `json:"message_broker"`
	Connections []AgentConnection `json:"agent_connections"`
}

// MonitoringSetup lists what is watched after deployment
type MonitoringSetup struct {
	System          string   `json:"monitoring_system"`
	AlertingRules   []string `json:"alerting_rules"`
	Dashboards      []string `json:"dashboards"`
	RetentionPolicy string   `json:"retention_policy"`
}

// MaintenanceSchedule is the recurring care plan for deployed agents
type MaintenanceSchedule struct {
	Daily      []string  `json:"daily"`
	Weekly     []string  `json:"weekly"`
	Monthly    []string  `json:"monthly"`
	NextWindow time.Time `json:"next_maintenance_window"`
}

// DeploymentResult is the output of the Redeploy stage
type DeploymentResult struct {
	ID              string              `json:"id"`
	SourceRepurpose string              `json:"source_repurpose"`
	Timestamp       time.Time           `json:"timestamp"`
	Plan            DeploymentPlan      `json:"deployment_plan"`
	DeployedAgents  []DeployedAgent     `json:"deployed_agents"`
	PhaseResults    []PhaseResult       `json:"phase_results"`
	Communication   CommunicationSetup  `json:"communication_setup"`
	Monitoring      MonitoringSetup     `json:"monitoring_setup"`
	Status          string              `json:"deployment_status"`
	SuccessRate     float64             `json:"success_rate"`
	RollbackPlan    RollbackPlan        `json:"rollback_plan"`
	NextSteps       []string            `json:"next_steps"`
	Maintenance     MaintenanceSchedule `json:"maintenance_schedule"`
}

// PipelineState is a position in the ECRR state machine
type PipelineState string

const (
	StateCreated    PipelineState = "created"
	StateEmulated   PipelineState = "emulated"
	StateCondensed  PipelineState = "condensed"
	StateRepurposed PipelineState = "repurposed"
	StateDeployed   PipelineState = "deployed"
	StateFailed     PipelineState = "failed"
)

// Next returns the state that follows s on success
func (s PipelineState) Next() (PipelineState, error) {
	switch s {
	case StateCreated:
		return StateEmulated, nil
	case StateEmulated:
		return StateCondensed, nil
	case StateCondensed:
		return StateRepurposed, nil
	case StateRepurposed:
		return StateDeployed, nil
	}
	return "", fmt.Errorf("%w: no successor for pipeline state %s", ErrInvalidTransition, s)
}

// Terminal reports whether s ends the pipeline
func (s PipelineState) Terminal() bool {
	return s == StateDeployed || s == StateFailed
}

// RunStatus is the coarse status of a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ValueEstimate is the estimated value delivered by a pipeline run
type ValueEstimate struct {
	ReplicationAccuracy     float64 `json:"replication_accuracy"`
	DeploymentEfficiency    float64 `json:"deployment_efficiency"`
	ResourceOptimization    float64 `json:"resource_optimization"`
	TimeToMarketImprovement float64 `json:"time_to_market_improvement"`
	CostReduction           float64 `json:"cost_reduction_estimate"`
	ScalabilityImprovement  float64 `json:"scalability_improvement"`
}

// LegionImpact describes how a run changes the legion
type LegionImpact struct {
	Growth               string `json:"legion_growth"`
	CapabilityExpansion  int    `json:"capability_expansion"`
	CoordinationIncrease string `json:"coordination_complexity_increase"`
	NewSpecializations   int    `json:"new_specializations"`
	ResourceUtilization  string `json:"resource_utilization_change"`
}

// PipelineSummary aggregates a successful run
type PipelineSummary struct {
	AgentsCreated       int           `json:"agents_created"`
	SuccessRate         float64       `json:"success_rate"`
	ComplexityReduction float64       `json:"complexity_reduction"`
	EstimatedValue      ValueEstimate `json:"estimated_value"`
	LegionImpact        LegionImpact  `json:"legion_impact"`
}

// PipelineRun chains the four stage outputs of one ECRR execution
type PipelineRun struct {
	ID           string              `json:"id"`
	Target       string              `json:"target"`
	TargetType   TargetType          `json:"target_type"`
	Depth        Depth               `json:"analysis_depth"`
	Status       RunStatus           `json:"status"`
	State        PipelineState       `json:"state"`
	FailedStage  PipelineState       `json:"failed_stage,omitempty"`
	Emulation    *EmulationResult    `json:"emulation,omitempty"`
	Condensation *CondensationResult `json:"condensation,omitempty"`
	Repurpose    *RepurposeResult    `json:"repurpose,omitempty"`
	Deployment   *DeploymentResult   `json:"deployment,omitempty"`
	Summary      *PipelineSummary    `json:"summary,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Duration     time.Duration       `json:"pipeline_duration"`
}

// Terminal reports whether the run can no longer change
func (r *PipelineRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
