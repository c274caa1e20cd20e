package swarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/mission"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/spawner"
	"github.com/legion/legion/pkg/store"
)

type fixture struct {
	store       *store.MemoryStore
	reg         *registry.Manager
	missions    *mission.Tracker
	coordinator *Coordinator
	spawner     *spawner.Spawner
	deployer    *Deployer
	bus         *events.MemoryBus
}

func newFixture(t *testing.T, opts ...DeployerOption) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	log := activity.New(st, nil)
	reg := registry.NewManager(st, log)
	missions := mission.NewTracker(st, reg, log)
	bus := events.NewMemoryBus("legion.")
	emitter := events.NewEmitter(bus, "swarm-test", logging.NewNopLogger(), metrics.Discard{})
	coord := NewCoordinator(st, reg, log, WithMissions(missions), WithEmitter(emitter))
	sp := spawner.New(reg, spawner.WithSwarmRegistrar(coord))
	return fixture{
		store:       st,
		reg:         reg,
		missions:    missions,
		coordinator: coord,
		spawner:     sp,
		deployer:    NewDeployer(sp, coord, opts...),
		bus:         bus,
	}
}

func (f fixture) agent(t *testing.T, typ models.AgentType, status models.AgentStatus) models.Agent {
	t.Helper()
	a, err := f.reg.Create(context.Background(), registry.CreateSpec{Type: typ, Role: "Worker", Status: status})
	require.NoError(t, err)
	return a
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ctrl := f.agent(t, models.AgentTypeController, models.AgentStatusOnline)
	a := f.agent(t, models.AgentTypeModular, models.AgentStatusOnline)

	dep, err := f.coordinator.Register(ctx, models.SwarmDeployment{
		ControllerID: ctrl.ID,
		AgentIDs:     []string{a.ID, a.ID},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, dep.ID)
	assert.NotEmpty(t, dep.SwarmID)
	assert.Equal(t, "custom", dep.SwarmType)
	assert.Equal(t, models.SwarmActive, dep.Status)
	assert.Equal(t, []string{a.ID}, dep.AgentIDs)

	bySwarm, err := f.coordinator.Get(ctx, dep.SwarmID)
	require.NoError(t, err)
	assert.Equal(t, dep.ID, bySwarm.ID)
	assert.Len(t, f.bus.OfType(events.EventSwarmRegistered), 1)

	_, err = f.coordinator.Register(ctx, models.SwarmDeployment{AgentIDs: []string{"missing"}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.coordinator.Register(ctx, models.SwarmDeployment{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecall_Swarm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.spawner.SpawnSwarm(ctx, spawner.SwarmConfig{
		Type:              "strike",
		IncludeController: true,
		Units:             []spawner.UnitConfig{{Type: "assault", Size: 2}},
	})
	require.NoError(t, err)
	bystander := f.agent(t, models.AgentTypeOracle, models.AgentStatusOnline)

	recall, err := f.coordinator.Recall(ctx, RecallRequest{SwarmID: res.SwarmID})
	require.NoError(t, err)
	assert.Equal(t, 3, recall.RecalledCount)
	assert.Equal(t, res.SwarmID, recall.SwarmID)

	for _, id := range res.MemberIDs() {
		a, err := f.reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusOffline, a.Status)
	}
	other, err := f.reg.Get(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, other.Status)

	dep, err := f.coordinator.Get(ctx, res.Deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SwarmRecalled, dep.Status)
}

func TestRecall_AllCountsEveryAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.agent(t, models.AgentTypeController, models.AgentStatusOnline)
	f.agent(t, models.AgentTypeOracle, models.AgentStatusBusy)
	f.agent(t, models.AgentTypeModular, models.AgentStatusOffline)
	f.agent(t, models.AgentTypeModular, models.AgentStatusError)

	recall, err := f.coordinator.Recall(ctx, RecallRequest{All: true})
	require.NoError(t, err)

	all, err := f.reg.List(ctx, registry.Filter{})
	require.NoError(t, err)
	assert.Equal(t, len(all), recall.RecalledCount)
	for _, a := range all {
		assert.Equal(t, models.AgentStatusOffline, a.Status)
	}
}

func TestRecall_AgentIDsReportsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, models.AgentTypeModular, models.AgentStatusOnline)

	recall, err := f.coordinator.Recall(ctx, RecallRequest{AgentIDs: []string{a.ID, "ghost"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, recall.RecalledCount)
	assert.Equal(t, []string{"ghost"}, recall.Failed)
}

func TestRecall_RequiresOneSelector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.Recall(ctx, RecallRequest{})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.coordinator.Recall(ctx, RecallRequest{All: true, SwarmID: "x"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	perfA := models.Performance{Efficiency: 0.8, Accuracy: 0.6, Adaptability: 0.4, Specialization: 1}
	perfB := models.Performance{Efficiency: 0.6, Accuracy: 0.8, Adaptability: 0.6, Specialization: 0}
	_, err := f.reg.Create(ctx, registry.CreateSpec{Type: models.AgentTypeOracle, Role: "a", Status: models.AgentStatusOnline, Performance: &perfA})
	require.NoError(t, err)
	_, err = f.reg.Create(ctx, registry.CreateSpec{Type: models.AgentTypeOracle, Role: "b", Status: models.AgentStatusOnline, Performance: &perfB})
	require.NoError(t, err)
	f.agent(t, models.AgentTypeModular, models.AgentStatusOffline)

	_, err = f.missions.Create(ctx, mission.Spec{Name: "pending"})
	require.NoError(t, err)

	st, err := f.coordinator.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalAgents)
	assert.Equal(t, 2, st.OnlineAgents)
	assert.Equal(t, 2, st.AgentCounts[models.AgentTypeOracle][models.AgentStatusOnline])
	assert.Equal(t, 1, st.AgentCounts[models.AgentTypeModular][models.AgentStatusOffline])
	assert.Equal(t, 0, st.AgentCounts[models.AgentTypeController][models.AgentStatusOnline])
	assert.InDelta(t, 0.7, st.AverageMetrics.Efficiency, 1e-9)
	assert.InDelta(t, 0.7, st.AverageMetrics.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, st.AverageMetrics.Adaptability, 1e-9)
	assert.InDelta(t, 0.5, st.AverageMetrics.Specialization, 1e-9)
	assert.Equal(t, 1, st.PendingMissions)
	assert.Equal(t, HealthHealthy, st.SystemHealth)
}

func TestStatus_EmptyLegion(t *testing.T) {
	f := newFixture(t)
	st, err := f.coordinator.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalAgents)
	assert.Equal(t, HealthWarning, st.SystemHealth)
	assert.Equal(t, models.Performance{}, st.AverageMetrics)
}

func TestDeploy_QuickBasic(t *testing.T) {
	f := newFixture(t)
	out, err := f.deployer.Deploy(context.Background(), DeployRequest{Mode: ModeQuick})
	require.NoError(t, err)
	assert.Equal(t, "basic", out.Preset)
	require.Len(t, out.Agents, 3)
	assert.Nil(t, out.Swarm)
	assert.Regexp(t, `^deploy_\d{8}_\d{6}_[0-9a-f]{8}$`, out.ID)

	names := make([]string, len(out.Agents))
	for i, a := range out.Agents {
		names[i] = a.Agent.Name
		assert.Equal(t, models.AgentStatusOnline, a.Agent.Status)
		assert.Empty(t, a.Agent.ParentID)
	}
	assert.ElementsMatch(t, []string{"Controller-Alpha", "Oracle-Beta", "Dispatcher-Gamma"}, names)
}

func TestDeploy_UnitRegistersSwarm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.deployer.Deploy(ctx, DeployRequest{Mode: ModeUnit})
	require.NoError(t, err)
	require.Len(t, out.Agents, 5)
	require.NotNil(t, out.Swarm)

	leader := out.Agents[0].Agent
	assert.Equal(t, "Recon-Leader", leader.Name)
	assert.Equal(t, leader.ID, out.Swarm.ControllerID)
	assert.Equal(t, "unit", out.Swarm.SwarmType)
	assert.Len(t, out.Swarm.AgentIDs, 5)
	for _, a := range out.Agents[1:] {
		assert.Equal(t, leader.ID, a.Agent.ParentID)
	}
}

func TestDeploy_SwarmSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.deployer.Deploy(ctx, DeployRequest{Mode: ModeSwarm, Size: 6})
	require.NoError(t, err)
	require.Len(t, out.Agents, 6)
	workers := 0
	for _, a := range out.Agents {
		if a.Agent.Role == "General Worker" {
			workers++
		}
	}
	assert.Equal(t, 3, workers)

	_, err = f.deployer.Deploy(ctx, DeployRequest{Mode: ModeSwarm, Size: 2})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDeploy_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.deployer.Deploy(ctx, DeployRequest{Mode: "bogus"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.deployer.Deploy(ctx, DeployRequest{Mode: ModeQuick, Preset: "nope"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.deployer.Deploy(ctx, DeployRequest{Mode: ModeCustom})
	assert.ErrorIs(t, err, models.ErrValidation)
}

type staticPresets map[string][]spawner.Config

func (s staticPresets) Preset(mode, name string) ([]spawner.Config, bool) {
	cfgs, ok := s[mode+"/"+name]
	return cfgs, ok
}

func TestDeploy_PresetOverride(t *testing.T) {
	f := newFixture(t, WithPresets(staticPresets{
		"quick/edge": {{Name: "Edge-One", Type: models.AgentTypeModular, Role: "Edge Worker"}},
	}))
	out, err := f.deployer.Deploy(context.Background(), DeployRequest{Mode: ModeQuick, Preset: "edge"})
	require.NoError(t, err)
	require.Len(t, out.Agents, 1)
	assert.Equal(t, "Edge-One", out.Agents[0].Agent.Name)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCustom, m)
	m, err = ParseMode("SWARM")
	require.NoError(t, err)
	assert.Equal(t, ModeSwarm, m)
}
