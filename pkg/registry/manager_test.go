package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	reg   *Manager
	store *store.MemoryStore
	clock *testClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	clock := newTestClock()
	log := activity.New(st, nil, activity.WithClock(clock.Now))
	return fixture{
		reg:   NewManager(st, log, WithClock(clock.Now)),
		store: st,
		clock: clock,
	}
}

func (f fixture) logs(t *testing.T, agentID string) []models.AgentLog {
	t.Helper()
	logs, err := f.store.QueryLogs(context.Background(), store.LogQuery{AgentID: agentID})
	require.NoError(t, err)
	return logs
}

func (f fixture) mustCreate(t *testing.T, spec CreateSpec) models.Agent {
	t.Helper()
	a, err := f.reg.Create(context.Background(), spec)
	require.NoError(t, err)
	return a
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)

	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "analysis", Tools: []string{"scanner", "scanner"}})

	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, models.AgentStatusOffline, agent.Status)
	assert.Equal(t, 1, agent.Level)
	assert.Equal(t, 0, agent.ExperiencePoints)
	assert.Equal(t, models.DefaultPerformance, agent.Performance)
	assert.Equal(t, "Oracle-"+agent.ID[:8], agent.Name)
	assert.Len(t, agent.Tools, 1)

	logs := f.logs(t, agent.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogSystem, logs[0].Type)
	assert.Equal(t, "create", logs[0].Metadata[activity.MetaMethod])
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec CreateSpec
	}{
		{"unknown type", CreateSpec{Type: "General", Role: "x"}},
		{"missing role", CreateSpec{Type: models.AgentTypeModular}},
		{"negative xp", CreateSpec{Type: models.AgentTypeModular, Role: "x", ExperiencePoints: -1}},
		{"bad status", CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: "sleeping"}},
		{"missing parent", CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reg.Create(ctx, tt.spec)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	all, err := f.reg.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_DuplicateID(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, CreateSpec{ID: "a1", Type: models.AgentTypeModular, Role: "x"})

	_, err := f.reg.Create(context.Background(), CreateSpec{ID: "a1", Type: models.AgentTypeModular, Role: "x"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreate_LevelFromExperience(t *testing.T) {
	f := newFixture(t)
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ExperiencePoints: 400})
	assert.Equal(t, 3, agent.Level)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	_, err := f.reg.Update(ctx, agent.ID, Patch{})
	assert.ErrorIs(t, err, models.ErrValidation)

	online := models.AgentStatusOnline
	name := "Scout"
	updated, err := f.reg.Update(ctx, agent.ID, Patch{Name: &name, Status: &online})
	require.NoError(t, err)
	assert.Equal(t, "Scout", updated.Name)
	assert.Equal(t, models.AgentStatusOnline, updated.Status)
	assert.True(t, updated.UpdatedAt.After(agent.UpdatedAt))

	spawning := models.AgentStatusSpawning
	_, err = f.reg.Update(ctx, agent.ID, Patch{Status: &spawning})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.reg.Update(ctx, "missing", Patch{Name: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Len(t, f.logs(t, agent.ID), 2)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeDispatcher, Role: "routing"})

	busy := models.AgentStatusBusy
	at, err := f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{
		Status:  &busy,
		Metrics: map[string]float64{"efficiency": 1.4, "accuracy": 0.8},
	})
	require.NoError(t, err)

	got, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	assert.Equal(t, at, *got.LastHeartbeat)
	assert.Equal(t, models.AgentStatusBusy, got.Status)
	assert.Equal(t, 1.0, got.Performance.Efficiency)
	assert.Equal(t, 0.8, got.Performance.Accuracy)
	assert.Equal(t, 0.5, got.Performance.Adaptability)

	_, err = f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{Metrics: map[string]float64{"speed": 1}})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.reg.Heartbeat(ctx, "missing", HeartbeatUpdate{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHeartbeat_PartialUpdatesCommute(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	busy := models.AgentStatusBusy
	first := HeartbeatUpdate{At: t1, Status: &busy, Metrics: map[string]float64{"accuracy": 0.9}}
	second := HeartbeatUpdate{At: t2, Metrics: map[string]float64{"efficiency": 0.1}}

	apply := func(updates ...HeartbeatUpdate) models.Agent {
		f := newFixture(t)
		ctx := context.Background()
		agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: models.AgentStatusOnline})
		for _, u := range updates {
			_, err := f.reg.Heartbeat(ctx, agent.ID, u)
			require.NoError(t, err)
		}
		got, err := f.reg.Get(ctx, agent.ID)
		require.NoError(t, err)
		return got
	}

	inOrder := apply(first, second)
	reversed := apply(second, first)

	assert.Equal(t, models.AgentStatusBusy, inOrder.Status)
	assert.Equal(t, inOrder.Status, reversed.Status)
	assert.Equal(t, models.Performance{Efficiency: 0.1, Accuracy: 0.9, Adaptability: 0.5, Specialization: 0.5}, inOrder.Performance)
	assert.Equal(t, inOrder.Performance, reversed.Performance)
	assert.Equal(t, t2, *inOrder.LastHeartbeat)
	assert.Equal(t, t2, *reversed.LastHeartbeat)
}

func TestHeartbeat_OlderValueLosesToNewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{At: t1.Add(time.Second), Metrics: map[string]float64{"accuracy": 0.2}})
	require.NoError(t, err)
	_, err = f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{At: t1, Metrics: map[string]float64{"accuracy": 0.9}})
	require.NoError(t, err)

	got, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Performance.Accuracy)
}

func TestHeartbeat_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: models.AgentStatusOnline})

	busy := models.AgentStatusBusy
	beat := HeartbeatUpdate{
		At:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:  &busy,
		Metrics: map[string]float64{"efficiency": 0.7},
	}
	first, err := f.reg.Heartbeat(ctx, agent.ID, beat)
	require.NoError(t, err)
	once, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)

	again, err := f.reg.Heartbeat(ctx, agent.ID, beat)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	twice, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	// create + one heartbeat
	assert.Len(t, f.logs(t, agent.ID), 2)
}

func TestHeartbeat_RejectsNonFiniteMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "analysis"})

	_, err := f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{Metrics: map[string]float64{"efficiency": math.NaN()}})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{Metrics: map[string]float64{"accuracy": math.Inf(1)}})
	assert.ErrorIs(t, err, models.ErrValidation)

	got, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastHeartbeat)
	assert.Len(t, f.logs(t, agent.ID), 1)
}

func TestAbortSpawn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spawning := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: models.AgentStatusSpawning})
	require.NoError(t, f.reg.AbortSpawn(ctx, spawning.ID))
	_, err := f.reg.Get(ctx, spawning.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.logs(t, spawning.ID))

	online := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: models.AgentStatusOnline})
	assert.ErrorIs(t, f.reg.AbortSpawn(ctx, online.ID), models.ErrInvalidTransition)
}

func TestHeartbeat_OutOfOrderKeepsLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	later := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	_, err := f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{At: later})
	require.NoError(t, err)
	at, err := f.reg.Heartbeat(ctx, agent.ID, HeartbeatUpdate{At: earlier})
	require.NoError(t, err)
	assert.Equal(t, later, at)

	got, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, later, *got.LastHeartbeat)
	// create + one accepted heartbeat
	assert.Len(t, f.logs(t, agent.ID), 2)
}

func TestAddExperience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	change, err := f.reg.AddExperience(ctx, agent.ID, 99)
	require.NoError(t, err)
	assert.False(t, change.LeveledUp)
	assert.Equal(t, 1, change.NewLevel)

	change, err = f.reg.AddExperience(ctx, agent.ID, 1)
	require.NoError(t, err)
	assert.True(t, change.LeveledUp)
	assert.Equal(t, 1, change.PreviousLevel)
	assert.Equal(t, 2, change.NewLevel)
	assert.Equal(t, 100, change.ExperiencePoints)

	_, err = f.reg.AddExperience(ctx, agent.ID, -5)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.reg.AddExperience(ctx, agent.ID, math.MaxInt)
	assert.ErrorIs(t, err, models.ErrValidation)
	got, err := f.reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.ExperiencePoints)
	assert.Equal(t, 2, got.Level)

	logs := f.logs(t, agent.ID)
	require.Len(t, logs, 3)
	assert.Contains(t, logs[0].Content, "reached level 2")
}

func TestTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	_, err := f.reg.AddTool(ctx, agent.ID, "scanner", map[string]interface{}{"version": 2})
	require.NoError(t, err)
	_, err = f.reg.AddTool(ctx, agent.ID, "scanner", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	tool, err := f.reg.UseTool(ctx, agent.ID, "scanner")
	require.NoError(t, err)
	assert.Equal(t, 1, tool.UsageCount)
	tool, err = f.reg.UseTool(ctx, agent.ID, "scanner")
	require.NoError(t, err)
	assert.Equal(t, 2, tool.UsageCount)

	_, err = f.reg.UseTool(ctx, agent.ID, "hammer")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDelete_OrphansChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeController, Role: "command"})
	c1 := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: parent.ID})
	c2 := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: parent.ID})
	_, err := f.reg.AddExperience(ctx, parent.ID, 10)
	require.NoError(t, err)

	result, err := f.reg.Delete(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, result.OrphanedChildren)
	assert.Equal(t, 2, result.LogsDeleted)

	_, err = f.reg.Get(ctx, parent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.logs(t, parent.ID))

	for _, id := range []string{c1.ID, c2.ID} {
		child, err := f.reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, child.ParentID)
	}

	registryLogs, err := f.store.QueryLogs(ctx, store.LogQuery{})
	require.NoError(t, err)
	require.NotEmpty(t, registryLogs)
	assert.Empty(t, registryLogs[0].AgentID)
	assert.Equal(t, parent.ID, registryLogs[0].Metadata["deleted_agent_id"])

	_, err = f.reg.Delete(ctx, parent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReparent_RejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.mustCreate(t, CreateSpec{Type: models.AgentTypeController, Role: "x"})
	b := f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "x", ParentID: a.ID})
	c := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: b.ID})

	_, err := f.reg.Reparent(ctx, a.ID, c.ID)
	assert.ErrorIs(t, err, models.ErrHierarchyCycle)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.reg.Reparent(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, models.ErrHierarchyCycle)

	moved, err := f.reg.Reparent(ctx, c.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, moved.ParentID)

	detached, err := f.reg.Reparent(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Empty(t, detached.ParentID)
}

func TestHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.mustCreate(t, CreateSpec{Type: models.AgentTypeController, Role: "x"})
	mid := f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "x", ParentID: root.ID})
	f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: mid.ID})
	f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: root.ID})
	lone := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	forest, err := f.reg.Hierarchy(ctx, "")
	require.NoError(t, err)
	require.Len(t, forest, 2)
	assert.Equal(t, root.ID, forest[0].Agent.ID)
	assert.Equal(t, 4, forest[0].Size())
	assert.Equal(t, lone.ID, forest[1].Agent.ID)

	sub, err := f.reg.Hierarchy(ctx, mid.ID)
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, 2, sub[0].Size())

	_, err = f.reg.Hierarchy(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompleteSpawn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "x", Status: models.AgentStatusSpawning})
	online, err := f.reg.CompleteSpawn(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, online.Status)
	assert.NotNil(t, online.LastHeartbeat)

	logs := f.logs(t, agent.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, SpawnCompleteMessage, logs[0].Content)

	_, err = f.reg.CompleteSpawn(ctx, agent.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestMarkStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})
	stale := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})
	idle := f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x"})

	online := models.AgentStatusOnline
	_, err := f.reg.Heartbeat(ctx, stale.ID, HeartbeatUpdate{Status: &online})
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)
	_, err = f.reg.Heartbeat(ctx, fresh.ID, HeartbeatUpdate{Status: &online})
	require.NoError(t, err)

	marked, err := f.reg.MarkStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, marked)

	got, err := f.reg.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusError, got.Status)

	got, err = f.reg.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOffline, got.Status)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, CreateSpec{Type: models.AgentTypeOracle, Role: "x", Skills: []string{"Pattern Recognition"}})
	f.mustCreate(t, CreateSpec{Type: models.AgentTypeModular, Role: "x", Status: models.AgentStatusSpawning})

	oracles, err := f.reg.List(ctx, Filter{Type: models.AgentTypeOracle})
	require.NoError(t, err)
	assert.Len(t, oracles, 1)

	bySkill, err := f.reg.List(ctx, Filter{Skill: "pattern recognition"})
	require.NoError(t, err)
	assert.Len(t, bySkill, 1)

	spawning, err := f.reg.List(ctx, Filter{Status: models.AgentStatusSpawning})
	require.NoError(t, err)
	assert.Len(t, spawning, 1)

	_, err = f.reg.List(ctx, Filter{Type: "General"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

type failingLogStore struct {
	*store.MemoryStore
}

func (failingLogStore) AppendLog(context.Context, models.AgentLog) error {
	return errors.New("disk full")
}

func TestCreate_RollsBackWhenLogFails(t *testing.T) {
	st := failingLogStore{store.NewMemoryStore()}
	reg := NewManager(st, activity.New(st, nil))

	_, err := reg.Create(context.Background(), CreateSpec{ID: "a1", Type: models.AgentTypeModular, Role: "x"})
	require.Error(t, err)

	_, err = st.GetAgent(context.Background(), "a1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// registryLogFailStore rejects registry-scoped entries only
type registryLogFailStore struct {
	*store.MemoryStore
}

func (s registryLogFailStore) AppendLog(ctx context.Context, entry models.AgentLog) error {
	if entry.AgentID == "" {
		return errors.New("disk full")
	}
	return s.MemoryStore.AppendLog(ctx, entry)
}

func TestDelete_RestoresEverythingWhenRecordFails(t *testing.T) {
	st := registryLogFailStore{store.NewMemoryStore()}
	reg := NewManager(st, activity.New(st, nil))
	ctx := context.Background()

	parent, err := reg.Create(ctx, CreateSpec{Type: models.AgentTypeController, Role: "command"})
	require.NoError(t, err)
	child, err := reg.Create(ctx, CreateSpec{Type: models.AgentTypeModular, Role: "x", ParentID: parent.ID})
	require.NoError(t, err)
	_, err = reg.AddExperience(ctx, parent.ID, 50)
	require.NoError(t, err)

	_, err = reg.Delete(ctx, parent.ID)
	require.Error(t, err)

	got, err := reg.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ExperiencePoints)

	gotChild, err := reg.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, gotChild.ParentID)

	logs, err := st.QueryLogs(ctx, store.LogQuery{AgentID: parent.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "add_experience", logs[0].Metadata[activity.MetaMethod])

	all, err := st.QueryLogs(ctx, store.LogQuery{})
	require.NoError(t, err)
	for _, entry := range all {
		assert.NotEmpty(t, entry.AgentID)
	}
}

func TestLevelForExperience_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("level is floor(sqrt(xp/100))+1", prop.ForAll(
		func(xp int) bool {
			level := models.LevelForExperience(xp)
			k := level - 1
			return k*k*100 <= xp && xp < (k+1)*(k+1)*100
		},
		gen.IntRange(0, 10_000_000),
	))

	properties.Property("level never decreases as experience grows", prop.ForAll(
		func(xp, delta int) bool {
			return models.LevelForExperience(xp+delta) >= models.LevelForExperience(xp)
		},
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestHierarchy_StaysAcyclic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("random reparenting never produces a cycle", prop.ForAll(
		func(moves []int) bool {
			f := newFixture(t)
			ctx := context.Background()
			const n = 6
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("agent-%d", i)
				if _, err := f.reg.Create(ctx, CreateSpec{ID: ids[i], Type: models.AgentTypeModular, Role: "x"}); err != nil {
					return false
				}
			}
			for i := 0; i+1 < len(moves); i += 2 {
				child, parent := ids[moves[i]%n], ids[moves[i+1]%n]
				_, err := f.reg.Reparent(ctx, child, parent)
				if err != nil && !errors.Is(err, models.ErrHierarchyCycle) {
					return false
				}
			}
			forest, err := f.reg.Hierarchy(ctx, "")
			if err != nil {
				return false
			}
			total := 0
			for _, root := range forest {
				total += root.Size()
			}
			return total == n
		},
		gen.SliceOfN(20, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
