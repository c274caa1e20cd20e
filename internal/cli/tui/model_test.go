package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/ecrr"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/swarm"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Status: swarm.Status{
			TotalAgents:  2,
			OnlineAgents: 1,
			ActiveSwarms: 1,
			SystemHealth: swarm.HealthHealthy,
		},
		Agents: []models.Agent{
			{ID: "a1b2c3d4-0000", Name: "Oracle-a1b2c3d4", Type: models.AgentTypeOracle, Status: models.AgentStatusOnline, Level: 2},
			{ID: "e5f6a7b8-0000", Name: "Modular-e5f6a7b8", Type: models.AgentTypeModular, Status: models.AgentStatusOffline, Level: 1},
		},
		Runs: []models.PipelineRun{
			{ID: "run-0001-abcd", Target: "Acme Shop", TargetType: models.TargetBusiness, Status: models.RunCompleted, State: models.StateDeployed},
		},
		FetchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func staticFetcher(snap Snapshot, err error) Fetcher {
	return func(context.Context) (Snapshot, error) { return snap, err }
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func readyModel(t *testing.T, fetch Fetcher) Model {
	t.Helper()
	m := New(fetch, WithVersion("v1.0.0"))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m
}

func TestPollReturnsSnapshot(t *testing.T) {
	m := New(staticFetcher(sampleSnapshot(), nil))

	msg := m.poll()()
	got, ok := msg.(snapshotMsg)
	require.True(t, ok)
	assert.NoError(t, got.err)
	assert.Len(t, got.snapshot.Agents, 2)
}

func TestViewBeforeFirstSnapshot(t *testing.T) {
	m := New(staticFetcher(Snapshot{}, nil), WithVersion("v1.0.0"))

	view := m.View()
	assert.Contains(t, view, "connecting to the legion")
	assert.Contains(t, view, "v1.0.0")
}

func TestSnapshotRendersAgents(t *testing.T) {
	m := readyModel(t, nil)

	m, cmd := update(t, m, snapshotMsg{snapshot: sampleSnapshot()})
	assert.NotNil(t, cmd, "next poll is scheduled")
	assert.False(t, m.loading)

	view := m.View()
	assert.Contains(t, view, "LEGION")
	assert.Contains(t, view, "AGENTS")
	assert.Contains(t, view, "Oracle-a1b2c3d4")
	assert.Contains(t, view, "a1b2c3d4")
	assert.Contains(t, view, "Agents (2)")
	assert.Contains(t, view, "updated 03:04:05")
}

func TestSwitchToRuns(t *testing.T) {
	m := readyModel(t, nil)
	m, _ = update(t, m, snapshotMsg{snapshot: sampleSnapshot()})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, runsPage, m.page)
	view := m.View()
	assert.Contains(t, view, "Acme Shop")
	assert.NotContains(t, view, "Oracle-a1b2c3d4")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, agentsPage, m.page)
}

func TestPollErrorKeepsLastSnapshot(t *testing.T) {
	m := readyModel(t, nil)
	m, _ = update(t, m, snapshotMsg{snapshot: sampleSnapshot()})

	m, cmd := update(t, m, snapshotMsg{err: errors.New("redis down")})
	assert.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "poll failed: redis down")
	assert.Contains(t, view, "Oracle-a1b2c3d4")
}

func TestTickWhileLoadingIsIgnored(t *testing.T) {
	m := readyModel(t, staticFetcher(sampleSnapshot(), nil))
	require.True(t, m.loading)

	_, cmd := update(t, m, tickMsg(time.Now()))
	assert.Nil(t, cmd)
}

func TestRefreshKey(t *testing.T) {
	m := readyModel(t, staticFetcher(sampleSnapshot(), nil))
	m, _ = update(t, m, snapshotMsg{snapshot: sampleSnapshot()})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, m.loading)
	_, ok := cmd().(snapshotMsg)
	assert.True(t, ok)
}

func TestQuitKey(t *testing.T) {
	m := readyModel(t, nil)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestSystemFetcher(t *testing.T) {
	cfg := config.DefaultSystemConfig()
	cfg.Presets.Dir = t.TempDir()
	ctx := context.Background()
	sys, err := app.New(ctx, cfg, app.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close(ctx) })

	run := sys.Execute(ctx, ecrr.Request{Target: "Notes", TargetType: models.TargetApp})
	require.Equal(t, models.RunCompleted, run.Status, run.Error)

	snap, err := SystemFetcher(sys)(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Runs, 1)
	assert.Len(t, snap.Agents, run.Summary.AgentsCreated)
	assert.Equal(t, run.Summary.AgentsCreated, snap.Status.TotalAgents)
	assert.False(t, snap.FetchedAt.IsZero())
}
