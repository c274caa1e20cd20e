package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
	"github.com/legion/legion/pkg/swarm"
)

type harness struct {
	t       *testing.T
	sys     *app.System
	cfgPath string
}

// newHarness shares one in-memory system across every command it runs
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultSystemConfig()
	cfg.Presets.Dir = filepath.Join(dir, "presets")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(&cfg, cfgPath))

	ctx := context.Background()
	sys, err := app.New(ctx, cfg, app.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close(ctx) })

	orig := openSystem
	openSystem = func(context.Context, config.SystemConfig) (*app.System, func(), error) {
		return sys, func() {}, nil
	}
	t.Cleanup(func() { openSystem = orig })
	return &harness{t: t, sys: sys, cfgPath: cfgPath}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) runJSON(v interface{}, args ...string) {
	h.t.Helper()
	out := h.mustRun(append(args, "--json")...)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

// resetFlags restores every flag to its default between executions
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("version")
	assert.Contains(t, out, "LEGION dev")
}

func TestConfigValidate(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.mustRun("config", "validate"), "Configuration is valid")
	assert.Contains(t, h.mustRun("config", "show"), "driver: memory")
}

func TestConfigLoadError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte("store:\n  driver: etcd\n"), 0644))

	_, err := h.run("config", "validate")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAgentsLifecycle(t *testing.T) {
	h := newHarness(t)

	var parent models.Agent
	h.runJSON(&parent, "agents", "create", "Overseer", "--type", "controller", "--role", "Commander")
	require.NotEmpty(t, parent.ID)
	assert.Equal(t, models.AgentTypeController, parent.Type)

	var child models.Agent
	h.runJSON(&child, "agents", "create", "Scout", "--type", "modular", "--role", "Field Scout",
		"--parent", parent.ID, "--skills", "recon,mapping")
	assert.Equal(t, []string{"recon", "mapping"}, child.Skills)

	var listed []models.Agent
	h.runJSON(&listed, "agents", "list", "--type", "modular")
	require.Len(t, listed, 1)
	assert.Equal(t, child.ID, listed[0].ID)

	out := h.mustRun("agents", "hierarchy")
	assert.Contains(t, out, "Overseer")
	assert.Contains(t, out, "  Scout")

	var change struct {
		NewLevel  int  `json:"new_level"`
		LeveledUp bool `json:"leveled_up"`
	}
	h.runJSON(&change, "agents", "xp", child.ID, "250")
	assert.True(t, change.LeveledUp)
	assert.Greater(t, change.NewLevel, 1)

	h.mustRun("agents", "heartbeat", child.ID, "--status", "online",
		"--metric", "efficiency=0.9", "--metric", "accuracy=1.5")
	beat, err := h.sys.Registry.Get(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, beat.Status)
	assert.Equal(t, 0.9, beat.Performance.Efficiency)
	assert.Equal(t, 1.0, beat.Performance.Accuracy)

	_, err = h.run("agents", "heartbeat", child.ID, "--metric", "efficiency")
	assert.ErrorIs(t, err, models.ErrValidation)

	h.mustRun("agents", "tool", "add", child.ID, "scanner")
	assert.Contains(t, h.mustRun("agents", "tool", "use", child.ID, "scanner"), "scanner used 1 times")

	out = h.mustRun("agents", "delete", parent.ID)
	assert.Contains(t, out, "1 orphaned children")

	got, err := h.sys.Registry.Get(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)
}

func TestAgentsListRejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("agents", "list", "--type", "wizard")
	assert.ErrorIs(t, err, models.ErrUnknownAgentType)
}

func TestAgentsXPRejectsNonInteger(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("agents", "xp", "some-id", "lots")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSpawnQuick(t *testing.T) {
	h := newHarness(t)

	var res spawner.QuickDeployResult
	h.runJSON(&res, "spawn", "quick", "oracle", "--context", "market analysis")
	assert.Equal(t, models.AgentTypeOracle, res.AgentType)
	assert.True(t, res.ReadyForMission)
	assert.Equal(t, "market analysis", res.MissionContext)

	got, err := h.sys.Registry.Get(context.Background(), res.Spawn.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, got.Status)
}

func TestSpawnAgentUnderParent(t *testing.T) {
	h := newHarness(t)

	var ctrl spawner.SpawnResult
	h.runJSON(&ctrl, "spawn", "agent", "controller")
	var res spawner.SpawnResult
	h.runJSON(&res, "spawn", "agent", "dispatcher", "--role", "Relay", "--parent", ctrl.Agent.ID)

	assert.Equal(t, "Relay", res.Agent.Role)
	assert.Equal(t, ctrl.Agent.ID, res.Agent.ParentID)
	assert.Equal(t, spawner.ParentEstablished, res.ParentRelationship)
}

func TestSpawnSwarm(t *testing.T) {
	h := newHarness(t)

	var res spawner.SwarmSpawnResult
	h.runJSON(&res, "spawn", "swarm", "--units", "2", "--unit-size", "2")
	assert.NotEmpty(t, res.ControllerID)
	assert.Len(t, res.Agents, 5)

	out := h.mustRun("swarms", "list")
	assert.Contains(t, out, res.SwarmID)
}

func TestDeployUnitAndRecall(t *testing.T) {
	h := newHarness(t)

	var dep swarm.Deployment
	h.runJSON(&dep, "deploy", "unit")
	require.NotNil(t, dep.Swarm)
	assert.Len(t, dep.Agents, 5)

	var st swarm.Status
	h.runJSON(&st, "swarms", "status")
	assert.Equal(t, 5, st.TotalAgents)
	assert.Equal(t, 1, st.ActiveSwarms)

	var rec swarm.RecallResult
	h.runJSON(&rec, "swarms", "recall", "--swarm", dep.Swarm.SwarmID)
	assert.Equal(t, dep.Swarm.SwarmID, rec.SwarmID)
	assert.NotZero(t, rec.RecalledCount)

	h.runJSON(&st, "swarms", "status")
	assert.Zero(t, st.OnlineAgents)
	assert.Zero(t, st.ActiveSwarms)
}

func TestRecallNeedsOneSelector(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("swarms", "recall")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDeployCustomFromFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`- name: Ledger
  type: Oracle
  role: Bookkeeper
  skills: [accounting]
- name: Courier
  type: Dispatcher
  role: Runner
`), 0644))

	var dep swarm.Deployment
	h.runJSON(&dep, "deploy", "custom", "--file", path)
	require.Len(t, dep.Agents, 2)
	assert.Nil(t, dep.Swarm)
	names := []string{dep.Agents[0].Agent.Name, dep.Agents[1].Agent.Name}
	assert.ElementsMatch(t, []string{"Ledger", "Courier"}, names)
}

func TestDeployUnknownMode(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("deploy", "legion")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMissionsFlow(t *testing.T) {
	h := newHarness(t)

	var agent spawner.QuickDeployResult
	h.runJSON(&agent, "spawn", "quick", "oracle")

	var m models.Mission
	h.runJSON(&m, "missions", "dispatch", "Map the market", "--priority", "high", "--skills", "data_analysis")
	assert.Equal(t, agent.Spawn.Agent.ID, m.AssignedAgentID)
	assert.Equal(t, models.PriorityHigh, m.Priority)

	h.runJSON(&m, "missions", "transition", m.ID, "active")
	assert.Equal(t, models.MissionActive, m.Status)

	var active []models.Mission
	h.runJSON(&active, "missions", "list", "--status", "active")
	require.Len(t, active, 1)

	_, err := h.run("missions", "transition", m.ID, "pending")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestPipelineRunListGetSpawn(t *testing.T) {
	h := newHarness(t)

	var run models.PipelineRun
	h.runJSON(&run, "pipeline", "run", "Notes", "--type", "app")
	require.Equal(t, models.RunCompleted, run.Status, run.Error)
	assert.Equal(t, models.DepthStandard, run.Depth)
	require.NotNil(t, run.Summary)

	out := h.mustRun("pipeline", "list")
	assert.Contains(t, out, run.ID[:8])
	assert.Contains(t, out, "Notes")

	out = h.mustRun("pipeline", "get", run.ID)
	assert.Contains(t, out, "Agents created:")

	var spawned spawner.PipelineSpawnResult
	h.runJSON(&spawned, "pipeline", "spawn", run.ID)
	assert.Equal(t, run.ID, spawned.SourcePipeline)
	assert.NotZero(t, spawned.TotalSpawned)
}

func TestPipelineRunCapacityFailure(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("pipeline", "run", "Acme", "--type", "business", "--max-agents", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
	assert.Contains(t, out, "Failed stage:")
}

func TestPipelineRunRejectsUnknownTarget(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("pipeline", "run", "Acme", "--type", "galaxy")
	assert.ErrorIs(t, err, models.ErrValidation)
}
