// Package manifest loads deployment presets from YAML files and keeps
// them current as the files change.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
)

// PresetEvent represents a change to a preset
type PresetEvent struct {
	Type     EventType       // "created", "updated", "deleted"
	Key      string          // mode/name
	Manifest *PresetManifest // last loaded version for deleted events
	Path     string
}

// EventType defines the type of preset event
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// PresetStore holds preset manifests loaded from a set of directories
type PresetStore struct {
	manifests map[string]*PresetManifest
	paths     []string
	filePaths map[string]string // preset key -> file path
	watcher   *fsnotify.Watcher
	logger    logging.Logger
	mu        sync.RWMutex
	callbacks []func(event PresetEvent)
	ctx       context.Context
	cancel    context.CancelFunc
}

// Option configures a PresetStore
type Option func(*PresetStore)

// WithLogger sets the structured logger
func WithLogger(l logging.Logger) Option {
	return func(s *PresetStore) { s.logger = l }
}

// NewPresetStore creates a store and loads every preset found in paths.
// Missing directories are skipped.
func NewPresetStore(paths []string, opts ...Option) (*PresetStore, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store := &PresetStore{
		manifests: make(map[string]*PresetManifest),
		paths:     paths,
		filePaths: make(map[string]string),
		logger:    logging.NewNopLogger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = store.logger.With(logging.String("component", "presets"))

	for _, path := range paths {
		if err := store.loadFromDirectory(path); err != nil {
			continue
		}
	}

	return store, nil
}

func (s *PresetStore) loadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.LoadManifest(path); err != nil {
			s.logger.Warn("failed to load preset", logging.String("path", path), logging.Err(err))
		}
	}

	return nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// LoadManifest loads a single preset file
func (s *PresetStore) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read preset file: %w", err)
	}

	var manifest PresetManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse preset: %w", err)
	}

	if err := ValidateManifest(&manifest); err != nil {
		return fmt.Errorf("invalid preset: %w", err)
	}

	now := time.Now().UTC()
	if manifest.Metadata.CreatedAt.IsZero() {
		manifest.Metadata.CreatedAt = now
	}
	manifest.Metadata.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	key := manifest.Key()
	_, exists := s.manifests[key]
	s.manifests[key] = &manifest
	s.filePaths[key] = path

	eventType := EventCreated
	if exists {
		eventType = EventUpdated
	}
	s.notifyCallbacks(PresetEvent{
		Type:     eventType,
		Key:      key,
		Manifest: &manifest,
		Path:     path,
	})

	return nil
}

// GetManifest returns a preset by mode and name
func (s *PresetStore) GetManifest(mode, name string) (*PresetManifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.manifests[presetKey(mode, name)]
	return m, ok
}

// Preset returns the spawn configs of a loaded preset
func (s *PresetStore) Preset(mode, name string) ([]spawner.Config, bool) {
	m, ok := s.GetManifest(mode, name)
	if !ok {
		return nil, false
	}
	cfgs, err := m.Configs()
	if err != nil {
		s.logger.Warn("preset cannot be expanded", logging.String("preset", m.Key()), logging.Err(err))
		return nil, false
	}
	return cfgs, true
}

// ListManifests returns every loaded preset ordered by key
func (s *PresetStore) ListManifests() []*PresetManifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manifests := make([]*PresetManifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Key() < manifests[j].Key() })
	return manifests
}

// FindBySkill returns presets with at least one agent carrying skill
func (s *PresetStore) FindBySkill(skill string) []*PresetManifest {
	var out []*PresetManifest
	for _, m := range s.ListManifests() {
		if m.HasSkill(skill) {
			out = append(out, m)
		}
	}
	return out
}

// DeleteManifest removes a preset from the store
func (s *PresetStore) DeleteManifest(mode, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := presetKey(mode, name)
	manifest, exists := s.manifests[key]
	if !exists {
		return models.NotFoundf("preset %s", key)
	}

	path := s.filePaths[key]
	delete(s.manifests, key)
	delete(s.filePaths, key)

	s.notifyCallbacks(PresetEvent{
		Type:     EventDeleted,
		Key:      key,
		Manifest: manifest,
		Path:     path,
	})

	return nil
}

// SaveManifest writes a preset to path and loads it
func (s *PresetStore) SaveManifest(manifest *PresetManifest, path string) error {
	if err := ValidateManifest(manifest); err != nil {
		return err
	}
	manifest.Metadata.UpdatedAt = time.Now().UTC()
	if manifest.Metadata.CreatedAt.IsZero() {
		manifest.Metadata.CreatedAt = manifest.Metadata.UpdatedAt
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write preset: %w", err)
	}

	return s.LoadManifest(path)
}

// StartWatching enables hot reload via fsnotify
func (s *PresetStore) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher

	for _, path := range s.paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch preset directory", logging.String("path", path), logging.Err(err))
		}
	}

	go s.watchLoop(ctx)

	return nil
}

func (s *PresetStore) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("preset watcher error", logging.Err(err))
		}
	}
}

func (s *PresetStore) handleFSEvent(event fsnotify.Event) {
	if !isYAML(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if err := s.LoadManifest(event.Name); err != nil {
			s.logger.Warn("failed to reload preset", logging.String("path", event.Name), logging.Err(err))
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.mu.Lock()
		for key, path := range s.filePaths {
			if path != event.Name {
				continue
			}
			manifest := s.manifests[key]
			delete(s.manifests, key)
			delete(s.filePaths, key)
			s.notifyCallbacks(PresetEvent{
				Type:     EventDeleted,
				Key:      key,
				Manifest: manifest,
				Path:     path,
			})
			break
		}
		s.mu.Unlock()
	}
}

// OnChange registers a callback for preset changes
func (s *PresetStore) OnChange(callback func(PresetEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// notifyCallbacks must be called with mu held
func (s *PresetStore) notifyCallbacks(event PresetEvent) {
	for _, cb := range s.callbacks {
		go cb(event)
	}
}

// Close stops the watcher
func (s *PresetStore) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// DefaultPaths returns the default preset search paths
func DefaultPaths() []string {
	paths := make([]string, 0, 3)

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".legion", "presets"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".legion", "presets"))
	}
	paths = append(paths, "configs/presets")

	return paths
}
