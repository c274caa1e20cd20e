package app

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/ecrr"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/store"
	"github.com/legion/legion/pkg/swarm"
)

func testConfig(t *testing.T) config.SystemConfig {
	t.Helper()
	cfg := config.DefaultSystemConfig()
	cfg.Presets.Dir = t.TempDir()
	return cfg
}

func newSystem(t *testing.T, cfg config.SystemConfig, opts ...Option) *System {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	sys, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close(context.Background()) })
	return sys
}

func TestSystemExecute(t *testing.T) {
	bus := events.NewMemoryBus("legion.")
	sys := newSystem(t, testConfig(t), WithBus(bus))
	ctx := context.Background()

	run := sys.Execute(ctx, ecrr.Request{Target: "Notes", TargetType: models.TargetApp})
	require.Equal(t, models.RunCompleted, run.Status, run.Error)
	assert.Equal(t, models.DepthStandard, run.Depth)

	stored, err := sys.Store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDeployed, stored.State)

	agents, err := sys.Registry.List(ctx, registry.Filter{Status: models.AgentStatusOnline})
	require.NoError(t, err)
	assert.Len(t, agents, run.Summary.AgentsCreated)

	assert.Len(t, bus.OfType(events.EventPipelineCompleted), 1)
	assert.NotEmpty(t, bus.OfType(events.EventAgentSpawned))

	rec := httptest.NewRecorder()
	sys.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "legion_pipeline_runs_total")
	assert.Contains(t, string(body), "legion_pipeline_stage_duration_seconds")
}

func TestSystemConfiguredDepth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.DefaultDepth = string(models.DepthDeep)
	sys := newSystem(t, cfg)

	run := sys.Execute(context.Background(), ecrr.Request{Target: "Ops", TargetType: models.TargetSystem})
	require.Equal(t, models.RunCompleted, run.Status, run.Error)
	assert.Equal(t, models.DepthDeep, run.Depth)
	assert.Len(t, run.Emulation.Components, 9)
}

func TestSystemRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Driver = store.DriverRedis
	cfg.Store.Redis.Address = mr.Addr()
	ctx := context.Background()

	first := newSystem(t, cfg)
	run := first.Execute(ctx, ecrr.Request{Target: "Gateway", TargetType: models.TargetAPI})
	require.Equal(t, models.RunCompleted, run.Status, run.Error)
	require.NoError(t, first.Close(ctx))

	second := newSystem(t, cfg)
	got, err := second.Pipeline.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Summary.AgentsCreated, got.Summary.AgentsCreated)

	agents, err := second.Registry.List(ctx, registry.Filter{})
	require.NoError(t, err)
	assert.Len(t, agents, run.Summary.AgentsCreated)
}

func TestSystemDeployer(t *testing.T) {
	sys := newSystem(t, testConfig(t))
	ctx := context.Background()

	dep, err := sys.Deployer.Deploy(ctx, swarm.DeployRequest{Mode: swarm.ModeUnit})
	require.NoError(t, err)
	require.NotNil(t, dep.Swarm)
	assert.Len(t, dep.Agents, 5)

	status, err := sys.Swarms.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.TotalAgents)
	assert.Equal(t, 1, status.ActiveSwarms)
}

func TestSystemPresetOverride(t *testing.T) {
	cfg := testConfig(t)
	preset := `apiVersion: legion.dev/v1
kind: Preset
metadata:
  name: basic
spec:
  mode: quick
  agents:
    - name: Solo
      type: oracle
      role: Lone Analyst
      skills: [analysis]
`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Presets.Dir, "basic.yaml"), []byte(preset), 0644))
	sys := newSystem(t, cfg)

	dep, err := sys.Deployer.Deploy(context.Background(), swarm.DeployRequest{Mode: swarm.ModeQuick})
	require.NoError(t, err)
	require.Len(t, dep.Agents, 1)
	assert.Equal(t, "Lone Analyst", dep.Agents[0].Agent.Role)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "etcd"

	_, err := New(context.Background(), cfg, WithLogger(logging.NewNopLogger()))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestNewUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Store.Driver = store.DriverRedis
	cfg.Store.Redis.Address = addr

	_, err := New(context.Background(), cfg, WithLogger(logging.NewNopLogger()))
	assert.Error(t, err)
}
