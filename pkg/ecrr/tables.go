package ecrr

import "github.com/legion/legion/pkg/models"

type componentSpec struct {
	name       string
	kind       string
	complexity models.Level
	priority   models.Priority
}

func comp(name, kind string, c models.Level, p models.Priority) componentSpec {
	return componentSpec{name: name, kind: kind, complexity: c, priority: p}
}

const (
	low    = models.LevelLow
	medium = models.LevelMedium
	high   = models.LevelHigh

	pLow  = models.PriorityLow
	pMed  = models.PriorityMedium
	pHigh = models.PriorityHigh
	pCrit = models.PriorityCritical
)

// baseComponents is the fixed checklist per target type
var baseComponents = map[models.TargetType][]componentSpec{
	models.TargetApp: {
		comp("User Interface", "frontend", medium, pHigh),
		comp("Authentication System", "security", medium, pHigh),
		comp("Data Storage", "database", medium, pHigh),
		comp("API Layer", "backend", medium, pHigh),
		comp("Business Logic", "core", high, pCrit),
		comp("Notification System", "service", low, pMed),
		comp("Analytics Tracking", "monitoring", low, pLow),
	},
	models.TargetBusiness: {
		comp("Customer Management", "process", high, pCrit),
		comp("Inventory System", "data", medium, pHigh),
		comp("Payment Processing", "financial", high, pCrit),
		comp("Order Management", "workflow", medium, pHigh),
		comp("Reporting Dashboard", "analytics", medium, pMed),
		comp("Communication Hub", "service", low, pMed),
	},
	models.TargetSystem: {
		comp("Core Engine", "processing", high, pCrit),
		comp("Data Pipeline", "infrastructure", high, pHigh),
		comp("Monitoring System", "observability", medium, pHigh),
		comp("Configuration Manager", "management", medium, pMed),
		comp("Security Layer", "security", high, pCrit),
		comp("Load Balancer", "infrastructure", medium, pMed),
	},
	models.TargetAPI: {
		comp("API Gateway", "backend", medium, pCrit),
		comp("Authentication System", "security", medium, pHigh),
		comp("Request Validation", "backend", low, pHigh),
		comp("Rate Limiter", "infrastructure", low, pHigh),
		comp("Data Storage", "database", medium, pHigh),
		comp("Usage Analytics", "analytics", low, pMed),
		comp("Developer Portal", "frontend", low, pLow),
	},
	models.TargetService: {
		comp("Service Core", "backend", high, pCrit),
		comp("Message Queue", "infrastructure", medium, pHigh),
		comp("Health Monitoring", "monitoring", medium, pHigh),
		comp("Access Control", "security", medium, pHigh),
		comp("Service Registry", "infrastructure", medium, pMed),
		comp("Integration Adapter", "service", medium, pMed),
	},
}

// deepComponents are appended at deep depth and beyond
var deepComponents = []componentSpec{
	comp("Caching Layer", "performance", medium, pMed),
	comp("Error Handling", "reliability", low, pHigh),
	comp("Logging System", "observability", low, pMed),
}

// comprehensiveComponents are appended at comprehensive depth only
var comprehensiveComponents = []componentSpec{
	comp("Backup System", "reliability", medium, pMed),
	comp("Disaster Recovery", "reliability", high, pLow),
	comp("Performance Optimization", "performance", high, pLow),
}

// componentsFor returns the checklist for t at depth d. Each depth only
// appends to the tiers below it.
func componentsFor(t models.TargetType, d models.Depth) []componentSpec {
	base := baseComponents[t]
	out := make([]componentSpec, 0, len(base)+len(deepComponents)+len(comprehensiveComponents))
	out = append(out, base...)
	if d.Rank() >= models.DepthDeep.Rank() {
		out = append(out, deepComponents...)
	}
	if d.Rank() >= models.DepthComprehensive.Rank() {
		out = append(out, comprehensiveComponents...)
	}
	return out
}

var architecturePatterns = map[models.TargetType][]string{
	models.TargetApp:      {"MVC", "Microservices", "Serverless", "Monolithic"},
	models.TargetBusiness: {"Hierarchical", "Matrix", "Functional", "Process-based"},
	models.TargetSystem:   {"Distributed", "Centralized", "Hybrid", "Event-driven"},
	models.TargetAPI:      {"REST", "GraphQL", "gRPC", "Microservices"},
	models.TargetService:  {"Microservices", "Event-driven", "Serverless", "Layered"},
}

type flowSpec struct {
	source, destination, dataType string
	volume                        models.Level
}

var dataFlows = []flowSpec{
	{"User Input", "Validation Layer", "form_data", medium},
	{"Database", "API Layer", "structured", high},
	{"External API", "Processing Engine", "json", low},
	{"Analytics", "Dashboard", "metrics", medium},
}

var flowFrequencies = []string{"real-time", "batch", "on-demand"}

type interactionSpec struct {
	action, frequency string
	complexity        models.Level
	importance        models.Priority
}

var interactions = []interactionSpec{
	{"Login", "daily", low, pCrit},
	{"Data Entry", "frequent", medium, pHigh},
	{"Report Generation", "weekly", medium, pMed},
	{"Configuration", "rare", high, pLow},
}

var userTypes = []string{"admin", "user", "guest", "manager"}

type dependencySpec struct {
	name, kind  string
	criticality models.Level
}

var dependencies = []dependencySpec{
	{"Database System", "infrastructure", high},
	{"Authentication Service", "service", high},
	{"Payment Gateway", "external", medium},
	{"Email Service", "external", low},
	{"File Storage", "infrastructure", medium},
}

var (
	authMethods       = []string{"password", "oauth", "2fa", "biometric"}
	authzModels       = []string{"RBAC", "ABAC", "ACL", "Custom"}
	encryptionLevels  = []string{"basic", "standard", "advanced", "military"}
	complianceRegimes = []string{"GDPR", "HIPAA", "SOX", "PCI"}
	bottlenecks       = []string{"database", "network", "cpu", "memory"}
	scalingTriggers   = []string{"cpu", "memory", "requests", "queue_length"}
	levelNames        = []string{"low", "medium", "high"}
)

type integrationSpec struct {
	name, kind, protocol string
}

var integrations = []integrationSpec{
	{"CRM System", "bidirectional", "REST"},
	{"Analytics Platform", "outbound", "Webhook"},
	{"Payment Processor", "bidirectional", "API"},
	{"Email Service", "outbound", "SMTP"},
}

// Agent archetypes
const (
	ArchetypeInterface      = "Interface Agent"
	ArchetypeProcessing     = "Processing Agent"
	ArchetypeData           = "Data Agent"
	ArchetypeGuardian       = "Guardian Agent"
	ArchetypeService        = "Service Agent"
	ArchetypeObserver       = "Observer Agent"
	ArchetypeAnalyst        = "Analyst Agent"
	ArchetypeCoordinator    = "Coordinator Agent"
	ArchetypeInfrastructure = "Infrastructure Agent"
	ArchetypeModular        = "Modular Agent"
)

var archetypes = map[string]string{
	"frontend":       ArchetypeInterface,
	"backend":        ArchetypeProcessing,
	"database":       ArchetypeData,
	"security":       ArchetypeGuardian,
	"service":        ArchetypeService,
	"monitoring":     ArchetypeObserver,
	"analytics":      ArchetypeAnalyst,
	"workflow":       ArchetypeCoordinator,
	"infrastructure": ArchetypeInfrastructure,
}

// Archetype maps a component type onto its agent archetype
func Archetype(componentType string) string {
	if a, ok := archetypes[componentType]; ok {
		return a
	}
	return ArchetypeModular
}

// AgentTypeFor maps an archetype onto the registry agent type that hosts it
func AgentTypeFor(archetype string) models.AgentType {
	switch archetype {
	case ArchetypeCoordinator, ArchetypeService:
		return models.AgentTypeDispatcher
	case ArchetypeAnalyst, ArchetypeObserver, ArchetypeData:
		return models.AgentTypeOracle
	}
	return models.AgentTypeModular
}

var componentRoles = map[string]string{
	"User Interface":        "User Interaction Specialist",
	"Authentication System": "Security Gatekeeper",
	"Data Storage":          "Information Custodian",
	"API Layer":             "Communication Facilitator",
	"Business Logic":        "Decision Engine",
	"Notification System":   "Alert Coordinator",
	"Analytics Tracking":    "Performance Monitor",
}

var baseCapabilities = []string{"execute", "monitor", "report"}

var typeCapabilities = map[string][]string{
	"frontend":       {"render", "validate", "interact"},
	"backend":        {"process", "transform", "route"},
	"database":       {"store", "retrieve", "backup"},
	"security":       {"authenticate", "authorize", "encrypt"},
	"service":        {"notify", "communicate", "integrate"},
	"monitoring":     {"observe", "alert", "analyze"},
	"analytics":      {"collect", "aggregate", "visualize"},
	"workflow":       {"orchestrate", "schedule", "delegate"},
	"infrastructure": {"provision", "scale", "balance"},
}

var priorityFactors = map[models.Priority]float64{
	models.PriorityLow:      0.2,
	models.PriorityMedium:   0.5,
	models.PriorityHigh:     0.7,
	models.PriorityCritical: 0.9,
}

var collaborationNeeds = map[string][]string{
	"frontend":   {"backend", "security"},
	"backend":    {"database", "service"},
	"database":   {"backend", "monitoring"},
	"security":   {"frontend", "backend", "monitoring"},
	"service":    {"backend", "monitoring"},
	"monitoring": {"all"},
	"analytics":  {"database", "monitoring"},
}

var specializationPaths = map[string]string{
	"frontend":   "User Experience Optimization",
	"backend":    "Performance Enhancement",
	"database":   "Data Intelligence",
	"security":   "Threat Detection",
	"service":    "Integration Mastery",
	"monitoring": "Predictive Analytics",
	"analytics":  "Business Intelligence",
}

type phaseSpec struct {
	name       string
	archetypes []string
	duration   string
	days       int
}

// deploymentPhases covers every archetype exactly once, in rollout order
var deploymentPhases = []phaseSpec{
	{"Core Infrastructure", []string{ArchetypeData, ArchetypeGuardian, ArchetypeInfrastructure}, "1-2 weeks", 7},
	{"Processing Layer", []string{ArchetypeProcessing, ArchetypeService, ArchetypeModular}, "2-3 weeks", 14},
	{"Interface Layer", []string{ArchetypeInterface, ArchetypeCoordinator}, "1-2 weeks", 7},
	{"Monitoring & Analytics", []string{ArchetypeObserver, ArchetypeAnalyst}, "1 week", 7},
}

var messagePatterns = []models.MessagePattern{
	{Type: "command", Usage: "Direct agent instructions"},
	{Type: "event", Usage: "State change notifications"},
	{Type: "query", Usage: "Information requests"},
	{Type: "heartbeat", Usage: "Health monitoring"},
}

var sharedResources = []models.SharedResource{
	{Resource: "Database Connection Pool", SharingAgents: []string{ArchetypeData, ArchetypeProcessing}},
	{Resource: "Authentication Cache", SharingAgents: []string{ArchetypeGuardian, ArchetypeInterface}},
	{Resource: "Logging Infrastructure", SharingAgents: []string{"all"}},
	{Resource: "Configuration Store", SharingAgents: []string{"all"}},
	{Resource: "Message Queue", SharingAgents: []string{"all"}},
}

var successMetrics = []models.SuccessMetric{
	{Metric: "Agent Deployment Success Rate", Target: "> 95%", Measurement: "percentage"},
	{Metric: "System Response Time", Target: "< 500ms", Measurement: "milliseconds"},
	{Metric: "Agent Uptime", Target: "> 99.5%", Measurement: "percentage"},
	{Metric: "Error Rate", Target: "< 0.1%", Measurement: "percentage"},
	{Metric: "Resource Utilization", Target: "60-80%", Measurement: "percentage"},
	{Metric: "Agent Evolution Rate", Target: "> 1 per week", Measurement: "count"},
}

var rollbackPlan = models.RollbackPlan{
	Triggers: []string{
		"Agent failure rate > 10%",
		"System performance degradation > 50%",
		"Critical security breach detected",
		"Data corruption detected",
	},
	Steps: []string{
		"Stop new agent deployments",
		"Drain traffic from failing agents",
		"Restore previous agent versions",
		"Verify system stability",
		"Resume normal operations",
	},
	TimeTarget:           "< 5 minutes",
	DataPreservation:     "All agent state and learning preserved",
	NotificationChannels: []string{"admin_dashboard", "email_alerts", "slack_integration"},
}

var nextSteps = []string{
	"Monitor agent performance for first 24 hours",
	"Conduct integration testing with existing systems",
	"Begin agent training and optimization cycles",
	"Set up automated scaling policies",
	"Schedule first evolution assessment",
	"Document agent behaviors and patterns",
	"Plan next iteration of agent improvements",
}
