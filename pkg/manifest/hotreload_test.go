package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/models"
)

const presetTemplate = `apiVersion: legion.dev/v1
kind: Preset
metadata:
  name: %s
  description: "%s"
spec:
  mode: quick
  agents:
    - name: Edge-Controller
      type: Controller
      role: Edge Commander
      skills: [leadership]
    - name: Edge-Worker
      type: modular
      role: Edge Worker
      count: 2
      skills: [task_execution]
      performance:
        efficiency: 0.9
        accuracy: 0.8
        adaptability: 0.7
        specialization: 0.6
`

func writePreset(t *testing.T, dir, file, name, description string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(presetTemplate, name, description)), 0644))
	return path
}

type eventRecorder struct {
	mu     sync.Mutex
	events []PresetEvent
	ch     chan struct{}
}

func newRecorder(s *PresetStore) *eventRecorder {
	r := &eventRecorder{ch: make(chan struct{}, 32)}
	s.OnChange(func(e PresetEvent) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		r.ch <- struct{}{}
	})
	return r
}

func (r *eventRecorder) wait(t *testing.T, want EventType) PresetEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-r.ch:
			r.mu.Lock()
			last := r.events[len(r.events)-1]
			r.mu.Unlock()
			if last.Type == want {
				return last
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", want)
		}
	}
}

func watchedStore(t *testing.T, dir string) *PresetStore {
	t.Helper()
	store, err := NewPresetStore([]string{dir})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, store.StartWatching(ctx))
	time.Sleep(100 * time.Millisecond)
	return store
}

func TestLoadsExistingPresets(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "edge.yaml", "edge", "Edge preset")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	store, err := NewPresetStore([]string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	defer store.Close()

	m, ok := store.GetManifest("quick", "edge")
	require.True(t, ok)
	assert.Equal(t, "Edge preset", m.Metadata.Description)
	assert.Equal(t, 3, m.Size())
	assert.Len(t, store.ListManifests(), 1)
}

func TestPresetExpandsConfigs(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "edge.yaml", "edge", "Edge preset")
	store, err := NewPresetStore([]string{dir})
	require.NoError(t, err)
	defer store.Close()

	cfgs, ok := store.Preset("QUICK", "edge")
	require.True(t, ok)
	require.Len(t, cfgs, 3)
	assert.Equal(t, models.AgentTypeController, cfgs[0].Type)
	assert.Equal(t, "Edge-Controller", cfgs[0].Name)
	assert.Nil(t, cfgs[0].Performance)
	assert.Equal(t, "Edge-Worker-001", cfgs[1].Name)
	assert.Equal(t, "Edge-Worker-002", cfgs[2].Name)
	assert.Equal(t, models.AgentTypeModular, cfgs[2].Type)
	require.NotNil(t, cfgs[2].Performance)
	assert.Equal(t, 0.9, cfgs[2].Performance.Efficiency)
	assert.Equal(t, "edge", cfgs[2].Configuration["preset"])

	_, ok = store.Preset("unit", "edge")
	assert.False(t, ok)

	assert.Len(t, store.FindBySkill("LEADERSHIP"), 1)
	assert.Empty(t, store.FindBySkill("stealth"))
}

func TestHotReloadCreate(t *testing.T) {
	dir := t.TempDir()
	store := watchedStore(t, dir)
	rec := newRecorder(store)

	writePreset(t, dir, "fresh.yaml", "fresh", "Created while watching")

	e := rec.wait(t, EventCreated)
	assert.Equal(t, "quick/fresh", e.Key)
	m, ok := store.GetManifest("quick", "fresh")
	require.True(t, ok)
	assert.Equal(t, "Created while watching", m.Metadata.Description)
}

func TestHotReloadUpdate(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "update.yaml", "update", "Version 1")
	store := watchedStore(t, dir)
	rec := newRecorder(store)

	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(presetTemplate, "update", "Version 2")), 0644))

	rec.wait(t, EventUpdated)
	m, ok := store.GetManifest("quick", "update")
	require.True(t, ok)
	assert.Equal(t, "Version 2", m.Metadata.Description)
}

func TestHotReloadDelete(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "doomed.yaml", "doomed", "Soon gone")
	store := watchedStore(t, dir)
	rec := newRecorder(store)

	require.NoError(t, os.Remove(path))

	e := rec.wait(t, EventDeleted)
	assert.Equal(t, "quick/doomed", e.Key)
	require.NotNil(t, e.Manifest)
	_, ok := store.GetManifest("quick", "doomed")
	assert.False(t, ok)
}

func TestInvalidPresetIgnored(t *testing.T) {
	dir := t.TempDir()
	store := watchedStore(t, dir)
	rec := newRecorder(store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("apiVersion: legion.dev/v1\nkind: Preset\n"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, store.ListManifests())

	writePreset(t, dir, "valid.yaml", "valid-after-invalid", "ok")
	rec.wait(t, EventCreated)
	_, ok := store.GetManifest("quick", "valid-after-invalid")
	assert.True(t, ok)
}

func TestRapidFileChanges(t *testing.T) {
	dir := t.TempDir()
	store := watchedStore(t, dir)

	path := filepath.Join(dir, "rapid.yaml")
	for i := 1; i <= 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(presetTemplate, "rapid", fmt.Sprintf("Version %d", i))), 0644))
		time.Sleep(50 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		m, ok := store.GetManifest("quick", "rapid")
		return ok && m.Metadata.Description == "Version 5"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPresetStore([]string{dir})
	require.NoError(t, err)
	defer store.Close()

	m := &PresetManifest{
		APIVersion: APIVersion,
		Kind:       KindPreset,
		Metadata:   PresetMeta{Name: "saved"},
		Spec: PresetSpec{Mode: "unit", Agents: []AgentSpec{
			{Name: "Lead", Type: "Controller", Role: "Lead"},
		}},
	}
	require.NoError(t, store.SaveManifest(m, filepath.Join(dir, "nested", "saved.yaml")))

	loaded, ok := store.GetManifest("unit", "saved")
	require.True(t, ok)
	assert.False(t, loaded.Metadata.CreatedAt.IsZero())

	require.NoError(t, store.DeleteManifest("unit", "saved"))
	assert.ErrorIs(t, store.DeleteManifest("unit", "saved"), models.ErrNotFound)
}

func TestWatchNonExistentDirectory(t *testing.T) {
	store, err := NewPresetStore([]string{filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, store.StartWatching(ctx))
}

func TestValidateManifest(t *testing.T) {
	valid := func() *PresetManifest {
		return &PresetManifest{
			APIVersion: APIVersion,
			Kind:       KindPreset,
			Metadata:   PresetMeta{Name: "ok-preset"},
			Spec:       PresetSpec{Mode: "swarm", Agents: []AgentSpec{{Name: "A", Type: "Oracle", Role: "Seer"}}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*PresetManifest)
	}{
		{"api version", func(m *PresetManifest) { m.APIVersion = "example.dev/v1" }},
		{"kind", func(m *PresetManifest) { m.Kind = "Agent" }},
		{"name", func(m *PresetManifest) { m.Metadata.Name = "Bad_Name" }},
		{"double hyphen", func(m *PresetManifest) { m.Metadata.Name = "bad--name" }},
		{"mode", func(m *PresetManifest) { m.Spec.Mode = "custom" }},
		{"no agents", func(m *PresetManifest) { m.Spec.Agents = nil }},
		{"agent type", func(m *PresetManifest) { m.Spec.Agents[0].Type = "Wizard" }},
		{"agent role", func(m *PresetManifest) { m.Spec.Agents[0].Role = "" }},
		{"count", func(m *PresetManifest) { m.Spec.Agents[0].Count = -1 }},
		{"performance", func(m *PresetManifest) {
			m.Spec.Agents[0].Performance = &PerformanceSpec{Efficiency: 1.5}
		}},
	}

	require.NoError(t, ValidateManifest(valid()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			assert.ErrorIs(t, ValidateManifest(m), models.ErrValidation)
		})
	}
}
