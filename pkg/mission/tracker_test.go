package mission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/store"
)

type fixture struct {
	tracker *Tracker
	reg     *registry.Manager
	store   *store.MemoryStore
	bus     *events.MemoryBus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewMemoryBus("legion.")
	emitter := events.NewEmitter(bus, "mission-test", logging.NewNopLogger(), metrics.Discard{})
	log := activity.New(st, nil)
	reg := registry.NewManager(st, log)
	return fixture{
		tracker: NewTracker(st, reg, log, WithEmitter(emitter)),
		reg:     reg,
		store:   st,
		bus:     bus,
	}
}

func (f fixture) agent(t *testing.T, status models.AgentStatus, skills ...string) models.Agent {
	t.Helper()
	a, err := f.reg.Create(context.Background(), registry.CreateSpec{
		Type:   models.AgentTypeModular,
		Role:   "worker",
		Status: status,
		Skills: skills,
	})
	require.NoError(t, err)
	return a
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.tracker.Create(ctx, Spec{Name: "Recon"})
	require.NoError(t, err)
	assert.Equal(t, models.MissionPending, m.Status)
	assert.Equal(t, models.PriorityMedium, m.Priority)
	assert.Nil(t, m.StartedAt)

	_, err = f.tracker.Create(ctx, Spec{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.tracker.Create(ctx, Spec{Name: "x", Priority: "urgent"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.tracker.Create(ctx, Spec{Name: "x", AgentID: "ghost"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.agent(t, models.AgentStatusOnline)

	m, err := f.tracker.Create(ctx, Spec{Name: "Recon", Priority: models.PriorityHigh})
	require.NoError(t, err)

	_, err = f.tracker.Assign(ctx, m.ID, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.tracker.Assign(ctx, "ghost", agent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assigned, err := f.tracker.Assign(ctx, m.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, assigned.AssignedAgentID)

	byAgent, err := f.tracker.List(ctx, Filter{AgentID: agent.ID})
	require.NoError(t, err)
	assert.Len(t, byAgent, 1)
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.tracker.Create(ctx, Spec{Name: "Recon"})
	require.NoError(t, err)

	_, err = f.tracker.Transition(ctx, m.ID, models.MissionCompleted, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	active, err := f.tracker.Transition(ctx, m.ID, models.MissionActive, nil)
	require.NoError(t, err)
	require.NotNil(t, active.StartedAt)

	done, err := f.tracker.Transition(ctx, m.ID, models.MissionCompleted, map[string]interface{}{"findings": 3})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 3, done.Result["findings"])

	for _, next := range []models.MissionStatus{models.MissionPending, models.MissionActive, models.MissionFailed} {
		_, err = f.tracker.Transition(ctx, m.ID, next, nil)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "completed -> %s", next)
	}
	_, err = f.tracker.Transition(ctx, m.ID, "archived", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Len(t, f.bus.OfType(events.EventMissionTransition), 2)

	counts, err := f.tracker.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.MissionCompleted])
	assert.Equal(t, 0, counts[models.MissionPending])
}

func TestTransition_FailedMissionCannotReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.agent(t, models.AgentStatusOnline)

	m, err := f.tracker.Create(ctx, Spec{Name: "Recon"})
	require.NoError(t, err)
	_, err = f.tracker.Transition(ctx, m.ID, models.MissionActive, nil)
	require.NoError(t, err)
	_, err = f.tracker.Transition(ctx, m.ID, models.MissionFailed, nil)
	require.NoError(t, err)

	_, err = f.tracker.Assign(ctx, m.ID, agent.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestDispatch_SelectsBySkill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.agent(t, models.AgentStatusOnline, "Perimeter Scanning")
	analyst := f.agent(t, models.AgentStatusOnline, "Data Analysis", "Reporting")
	f.agent(t, models.AgentStatusOffline, "Data Analysis")

	m, err := f.tracker.Dispatch(ctx, DispatchRequest{
		Mission:        Spec{Name: "Quarterly report", Priority: models.PriorityLow},
		RequiredSkills: []string{"data analysis"},
	})
	require.NoError(t, err)
	assert.Equal(t, analyst.ID, m.AssignedAgentID)

	_, err = f.tracker.Dispatch(ctx, DispatchRequest{
		Mission:        Spec{Name: "Impossible"},
		RequiredSkills: []string{"Quantum Tunneling"},
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []models.Priority{models.PriorityLow, models.PriorityHigh, models.PriorityHigh} {
		_, err := f.tracker.Create(ctx, Spec{Name: "m", Priority: p})
		require.NoError(t, err)
	}

	high, err := f.tracker.List(ctx, Filter{Priority: models.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	pending, err := f.tracker.List(ctx, Filter{Status: models.MissionPending})
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	_, err = f.tracker.List(ctx, Filter{Priority: "urgent"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.tracker.List(ctx, Filter{Status: "archived"})
	assert.ErrorIs(t, err, models.ErrValidation)
}
