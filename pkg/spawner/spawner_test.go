package spawner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/store"
)

type recordingSwarms struct {
	mu     sync.Mutex
	drafts []models.SwarmDeployment
}

func (r *recordingSwarms) Register(_ context.Context, draft models.SwarmDeployment) (models.SwarmDeployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	draft.ID = "dep-" + draft.SwarmID
	draft.Status = models.SwarmActive
	r.drafts = append(r.drafts, draft)
	return draft, nil
}

type fixture struct {
	spawner *Spawner
	reg     *registry.Manager
	store   *store.MemoryStore
	swarms  *recordingSwarms
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.NewManager(st, activity.New(st, nil))
	swarms := &recordingSwarms{}
	opts = append([]Option{WithSwarmRegistrar(swarms)}, opts...)
	return fixture{
		spawner: New(reg, opts...),
		reg:     reg,
		store:   st,
		swarms:  swarms,
	}
}

func TestSpawnAgent_OracleComesOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.spawner.SpawnAgent(ctx, Config{
		Type:   models.AgentTypeOracle,
		Role:   "Analyst",
		Skills: []string{"x"},
	}, "")
	require.NoError(t, err)

	agent := result.Agent
	assert.Equal(t, models.AgentStatusOnline, agent.Status)
	assert.Equal(t, 1, agent.Level)
	assert.Equal(t, 0, agent.ExperiencePoints)
	assert.NotNil(t, agent.LastHeartbeat)
	assert.Equal(t, 1, result.CapabilitiesLoaded)
	assert.Equal(t, 0, result.ToolsEquipped)
	assert.Equal(t, ParentIndependent, result.ParentRelationship)
	assert.Equal(t, "Agent-"+result.SpawnID[:8], agent.Name)

	systemLogs, err := f.store.QueryLogs(ctx, store.LogQuery{AgentID: agent.ID, Type: models.LogSystem})
	require.NoError(t, err)
	require.Len(t, systemLogs, 1)
	assert.Contains(t, systemLogs[0].Content, "capabilities successfully initialized")
}

func TestSpawnAgent_WithParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.spawner.SpawnAgent(ctx, Config{Type: models.AgentTypeController, Role: "Lead"}, "")
	require.NoError(t, err)

	child, err := f.spawner.SpawnAgent(ctx, Config{Role: "Worker", Skills: []string{"a", "a", "b"}}, parent.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, ParentEstablished, child.ParentRelationship)
	assert.Equal(t, parent.Agent.ID, child.Agent.ParentID)
	assert.Equal(t, models.AgentTypeModular, child.Agent.Type)
	assert.Equal(t, []string{"a", "b"}, child.Agent.Skills)

	_, err = f.spawner.SpawnAgent(ctx, Config{Role: "Worker"}, "ghost")
	assert.ErrorIs(t, err, models.ErrValidation)
}

type slowRegistrar struct {
	Registrar
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowRegistrar) Create(ctx context.Context, spec registry.CreateSpec) (models.Agent, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.Registrar.Create(ctx, spec)
}

func TestSpawnMany_BoundsConcurrency(t *testing.T) {
	st := store.NewMemoryStore()
	slow := &slowRegistrar{Registrar: registry.NewManager(st, activity.New(st, nil))}
	sp := New(slow, WithConcurrency(2))

	reqs := make([]Request, 8)
	for i := range reqs {
		reqs[i] = Request{Config: Config{Role: "Worker", Name: string(rune('A' + i))}}
	}
	results, err := sp.SpawnMany(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, string(rune('A'+i)), r.Agent.Name)
	}
	assert.LessOrEqual(t, slow.peak.Load(), int32(2))
}

func TestSpawnMany_JoinsFailures(t *testing.T) {
	f := newFixture(t)
	results, err := f.spawner.SpawnMany(context.Background(), []Request{
		{Config: Config{Role: "ok"}},
		{Config: Config{Type: "General", Role: "bad"}},
		{Config: Config{Role: "ok"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, results, 2)
}

func TestSpawnUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	controller, err := f.spawner.SpawnAgent(ctx, Config{Type: models.AgentTypeController, Role: "Lead"}, "")
	require.NoError(t, err)

	results, err := f.spawner.SpawnUnit(ctx, UnitConfig{Type: "recon", Size: 2}, controller.Agent.ID, "swarm-abcdef123")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		a := r.Agent
		assert.Equal(t, models.AgentTypeModular, a.Type)
		assert.Equal(t, "Recon Specialist", a.Role)
		assert.Equal(t, controller.Agent.ID, a.ParentID)
		assert.Equal(t, i+1, a.Configuration["unit_position"])
		assert.Equal(t, "swarm-abcdef123", a.Configuration["swarm_id"])
		assert.Equal(t, []string{"execution", "collaboration"}, a.Skills)
		assert.True(t, strings.HasPrefix(a.Name, "recon-Unit-"))
		assert.GreaterOrEqual(t, a.Performance.Efficiency, 0.7)
		assert.LessOrEqual(t, a.Performance.Efficiency, 0.9)
	}

	for _, size := range []int{-1, 0} {
		_, err = f.spawner.SpawnUnit(ctx, UnitConfig{Size: size}, "", "s")
		assert.ErrorIs(t, err, models.ErrValidation, "size %d", size)
	}
	agents, err := f.store.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 3)
}

func TestSpawnSwarm_WithController(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.spawner.SpawnSwarm(ctx, SwarmConfig{
		Type:              "reconnaissance",
		IncludeController: true,
		Units: []UnitConfig{
			{Type: "scout", Size: 3},
			{Type: "analysis", Size: 2, Skills: []string{"data_analysis"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 6, result.SwarmSize)
	require.NotEmpty(t, result.ControllerID)

	controllers := 0
	for _, m := range result.Agents {
		if m.Agent.Type == models.AgentTypeController {
			controllers++
			assert.Equal(t, result.ControllerID, m.Agent.ID)
			continue
		}
		assert.Equal(t, result.ControllerID, m.Agent.ParentID)
	}
	assert.Equal(t, 1, controllers)

	caps := result.Capabilities
	assert.Equal(t, "medium", caps.CoordinationComplexity)
	assert.InDelta(t, 1-1.0/6, caps.ResilienceFactor, 1e-9)
	assert.Contains(t, caps.CollectiveSkills, "leadership")
	assert.Contains(t, caps.CollectiveSkills, "data_analysis")
	assert.Equal(t, "mesh", result.Coordination.Protocol)
	assert.Equal(t, 30*time.Second, result.Coordination.SyncInterval)

	require.Len(t, f.swarms.drafts, 1)
	draft := f.swarms.drafts[0]
	assert.Equal(t, result.SwarmID, draft.SwarmID)
	assert.Equal(t, result.ControllerID, draft.ControllerID)
	assert.Equal(t, result.MemberIDs(), draft.AgentIDs)
	assert.Equal(t, models.SwarmActive, result.Deployment.Status)
}

func TestSpawnSwarm_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.spawner.SpawnSwarm(context.Background(), SwarmConfig{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.spawner.SpawnSwarm(context.Background(), SwarmConfig{Units: []UnitConfig{{Type: "scout"}}})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.swarms.drafts)

	st := store.NewMemoryStore()
	bare := New(registry.NewManager(st, activity.New(st, nil)))
	_, err = bare.SpawnSwarm(context.Background(), SwarmConfig{IncludeController: true})
	assert.Error(t, err)
}

func TestCapabilityFormulas(t *testing.T) {
	assert.Equal(t, "low", CoordinationComplexity(5))
	assert.Equal(t, "medium", CoordinationComplexity(6))
	assert.Equal(t, "medium", CoordinationComplexity(10))
	assert.Equal(t, "high", CoordinationComplexity(11))

	assert.Equal(t, 0.0, ResilienceFactor(1))
	assert.Equal(t, 0.5, ResilienceFactor(2))
	assert.Equal(t, 0.95, ResilienceFactor(100))
}

func TestDeployQuick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.spawner.DeployQuick(ctx, "dispatcher", "security and data performance review")
	require.NoError(t, err)
	agent := result.Spawn.Agent
	assert.Equal(t, models.AgentTypeDispatcher, agent.Type)
	assert.Equal(t, "Task Coordination", agent.Role)
	assert.Contains(t, agent.Skills, "threat_detection")
	assert.Contains(t, agent.Skills, "data_validation")
	assert.Contains(t, agent.Skills, "tuning")
	assert.NotContains(t, agent.Skills, "messaging")
	assert.Len(t, agent.Tools, 3)
	assert.Equal(t, 0.9, agent.Performance.Efficiency)
	assert.Equal(t, "quick_deploy", agent.Configuration["deployment_type"])
	assert.True(t, result.ReadyForMission)
	assert.Equal(t, len(agent.Skills), result.EstimatedCapabilities.SkillCount)
	assert.Contains(t, result.NextSteps, "Configure task distribution algorithms")
	assert.Contains(t, result.NextSteps, "Optimize for security and data performance review context")

	_, err = f.spawner.DeployQuick(ctx, "General", "")
	assert.ErrorIs(t, err, models.ErrUnknownAgentType)
}

func TestTemplate_ReturnsCopies(t *testing.T) {
	a, err := Template(models.AgentTypeOracle)
	require.NoError(t, err)
	a.Skills[0] = "mutated"
	a.Performance.Accuracy = 0

	b, err := Template(models.AgentTypeOracle)
	require.NoError(t, err)
	assert.Equal(t, "data_analysis", b.Skills[0])
	assert.Equal(t, 0.95, b.Performance.Accuracy)
}

func pipelineRun() models.PipelineRun {
	return models.PipelineRun{
		ID:     "run-1",
		Target: "ShopCo",
		Repurpose: &models.RepurposeResult{
			AgentComponents: []models.AgentComponent{
				{ID: "c1", Archetype: "Guardian Agent", AgentType: models.AgentTypeModular, Role: "Security Guardian",
					Capabilities: []string{"communication", "learning", "threat_detection"}, AutonomyLevel: 0.9,
					EvolutionPotential: 0.85, SpecializationPath: "Security Specialist"},
				{ID: "c2", Archetype: "Coordinator Agent", AgentType: models.AgentTypeDispatcher, Role: "Workflow Coordinator",
					Capabilities: []string{"communication", "learning"}, AutonomyLevel: 0.6,
					EvolutionPotential: 0.5, SpecializationPath: "Process Specialist"},
			},
			Specializations: []models.Specialization{
				{Type: "Access Control Manager", Priority: models.PriorityCritical, AgentsNeeded: 2},
				{Type: "Auto-scaling Controller", Priority: models.PriorityMedium, AgentsNeeded: 1},
			},
		},
		Summary: &models.PipelineSummary{SuccessRate: 1},
	}
}

func TestSpawnFromPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.spawner.SpawnFromPipeline(ctx, pipelineRun())
	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalSpawned)
	assert.Equal(t, "run-1", result.SourcePipeline)
	assert.Equal(t, 1.0, result.ReplicationAccuracy)

	guardian := result.Agents[0].Agent
	assert.Equal(t, "Security Guardian", guardian.Role)
	assert.Equal(t, 0.9, guardian.Performance.Adaptability)
	assert.Equal(t, "ShopCo", guardian.Configuration["ecrr_source"])
	assert.Equal(t, "run-1", guardian.Configuration["ecrr_pipeline_id"])

	specialist := result.Agents[2].Agent
	assert.Equal(t, "Access Control Manager", specialist.Role)
	assert.Equal(t, []string{"authentication", "authorization", "policy_enforcement", "audit_logging"}, specialist.Skills)

	assert.Equal(t, 2, result.Distribution.ByRole["Access Control Manager"])
	assert.Equal(t, 3, result.Distribution.ByType[models.AgentTypeModular])

	require.Len(t, result.EvolutionTargets, 1)
	assert.Equal(t, guardian.ID, result.EvolutionTargets[0].AgentID)
	assert.Equal(t, "Advanced Security Specialist with Leadership Capabilities", result.EvolutionTargets[0].RecommendedEvolution)

	_, err = f.spawner.SpawnFromPipeline(ctx, models.PipelineRun{ID: "empty"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestScoreIn_Deterministic(t *testing.T) {
	a := scoreIn("seed", 0.6, 0.8)
	assert.Equal(t, a, scoreIn("seed", 0.6, 0.8))
	assert.GreaterOrEqual(t, a, 0.6)
	assert.LessOrEqual(t, a, 0.8)
}

func TestContextSkills(t *testing.T) {
	assert.Empty(t, ContextSkills("routine patrol"))
	assert.Equal(t, []string{"messaging", "protocol_handling", "network_management"}, ContextSkills("Communication relay"))
}

var errBoom = errors.New("boom")

type failingCompleter struct {
	Registrar
}

func (failingCompleter) CompleteSpawn(context.Context, string) (models.Agent, error) {
	return models.Agent{}, errBoom
}

func TestSpawnAgent_CompleteFailure(t *testing.T) {
	st := store.NewMemoryStore()
	sp := New(failingCompleter{registry.NewManager(st, activity.New(st, nil))})
	ctx := context.Background()
	_, err := sp.SpawnAgent(ctx, Config{Role: "x"}, "")
	assert.ErrorIs(t, err, errBoom)

	agents, err := st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
	logs, err := st.QueryLogs(ctx, store.LogQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
