package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/legion/legion/pkg/models"
)

// MemoryStore keeps every entity in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]models.Agent
	children map[string]map[string]struct{}
	missions map[string]models.Mission
	logs     []models.AgentLog
	swarms   map[string]models.SwarmDeployment
	runs     map[string][]byte
	closed   bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]models.Agent),
		children: make(map[string]map[string]struct{}),
		missions: make(map[string]models.Mission),
		swarms:   make(map[string]models.SwarmDeployment),
		runs:     make(map[string][]byte),
	}
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return models.ErrStoreClosed
	}
	return nil
}

// PutAgent inserts or replaces an agent and maintains the parent index
func (s *MemoryStore) PutAgent(_ context.Context, agent models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if old, ok := s.agents[agent.ID]; ok && old.ParentID != agent.ParentID {
		s.unlinkChild(old.ParentID, agent.ID)
	}
	if agent.ParentID != "" {
		set, ok := s.children[agent.ParentID]
		if !ok {
			set = make(map[string]struct{})
			s.children[agent.ParentID] = set
		}
		set[agent.ID] = struct{}{}
	}
	s.agents[agent.ID] = agent.Clone()
	return nil
}

func (s *MemoryStore) unlinkChild(parentID, childID string) {
	if parentID == "" {
		return
	}
	if set, ok := s.children[parentID]; ok {
		delete(set, childID)
		if len(set) == 0 {
			delete(s.children, parentID)
		}
	}
}

// GetAgent returns a copy of the agent
func (s *MemoryStore) GetAgent(_ context.Context, id string) (models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return models.Agent{}, err
	}

	agent, ok := s.agents[id]
	if !ok {
		return models.Agent{}, models.NotFoundf("agent %s", id)
	}
	return agent.Clone(), nil
}

// ListAgents returns every agent ordered by creation time
func (s *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	agents := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a.Clone())
	}
	sortAgents(agents)
	return agents, nil
}

// DeleteAgent removes the agent and its own entry in the parent index
func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	agent, ok := s.agents[id]
	if !ok {
		return models.NotFoundf("agent %s", id)
	}
	s.unlinkChild(agent.ParentID, id)
	delete(s.agents, id)
	return nil
}

// ChildrenOf returns the ids of agents whose parent is parentID
func (s *MemoryStore) ChildrenOf(_ context.Context, parentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.children[parentID]))
	for id := range s.children[parentID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// PutMission inserts or replaces a mission
func (s *MemoryStore) PutMission(_ context.Context, mission models.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.missions[mission.ID] = mission.Clone()
	return nil
}

// DeleteMission removes a mission
func (s *MemoryStore) DeleteMission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.missions[id]; !ok {
		return models.NotFoundf("mission %s", id)
	}
	delete(s.missions, id)
	return nil
}

// GetMission returns a copy of the mission
func (s *MemoryStore) GetMission(_ context.Context, id string) (models.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return models.Mission{}, err
	}

	m, ok := s.missions[id]
	if !ok {
		return models.Mission{}, models.NotFoundf("mission %s", id)
	}
	return m.Clone(), nil
}

// ListMissions returns every mission ordered by creation time
func (s *MemoryStore) ListMissions(_ context.Context) ([]models.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	missions := make([]models.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		missions = append(missions, m.Clone())
	}
	sortMissions(missions)
	return missions, nil
}

// AppendLog appends an entry; entries are never mutated afterwards
func (s *MemoryStore) AppendLog(_ context.Context, entry models.AgentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry.Metadata = cloneMetadata(entry.Metadata)
	s.logs = append(s.logs, entry)
	return nil
}

// QueryLogs returns matching entries, most recent first. Entries with equal
// timestamps are returned in reverse append order.
func (s *MemoryStore) QueryLogs(_ context.Context, query LogQuery) ([]models.AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	matched := make([]models.AgentLog, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		if query.Matches(s.logs[i]) {
			entry := s.logs[i]
			entry.Metadata = cloneMetadata(entry.Metadata)
			matched = append(matched, entry)
		}
	}
	sortLogs(matched)
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// DeleteLogsForAgent removes every entry owned by agentID
func (s *MemoryStore) DeleteLogsForAgent(_ context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if agentID == "" {
		return 0, models.Validationf("agent id is required")
	}

	kept := s.logs[:0]
	removed := 0
	for _, entry := range s.logs {
		if entry.AgentID == agentID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return removed, nil
}

// PutSwarm inserts or replaces a swarm deployment
func (s *MemoryStore) PutSwarm(_ context.Context, swarm models.SwarmDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.swarms[swarm.ID] = swarm.Clone()
	return nil
}

// GetSwarm returns a copy of the swarm deployment
func (s *MemoryStore) GetSwarm(_ context.Context, id string) (models.SwarmDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return models.SwarmDeployment{}, err
	}

	swarm, ok := s.swarms[id]
	if !ok {
		return models.SwarmDeployment{}, models.NotFoundf("swarm %s", id)
	}
	return swarm.Clone(), nil
}

// ListSwarms returns every swarm deployment, most recent first
func (s *MemoryStore) ListSwarms(_ context.Context) ([]models.SwarmDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	swarms := make([]models.SwarmDeployment, 0, len(s.swarms))
	for _, sw := range s.swarms {
		swarms = append(swarms, sw.Clone())
	}
	sortSwarms(swarms)
	return swarms, nil
}

// PutRun stores an encoded snapshot of the run so the caller keeps no
// shared references into it
func (s *MemoryStore) PutRun(_ context.Context, run models.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.runs[run.ID] = data
	return nil
}

// GetRun decodes the stored run snapshot
func (s *MemoryStore) GetRun(_ context.Context, id string) (models.PipelineRun, error) {
	s.mu.RLock()
	data, ok := s.runs[id]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return models.PipelineRun{}, models.ErrStoreClosed
	}
	if !ok {
		return models.PipelineRun{}, models.NotFoundf("pipeline run %s", id)
	}

	var run models.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return models.PipelineRun{}, err
	}
	return run, nil
}

// ListRuns returns every pipeline run, most recent first
func (s *MemoryStore) ListRuns(ctx context.Context) ([]models.PipelineRun, error) {
	s.mu.RLock()
	if err := s.checkOpen(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	runs := make([]models.PipelineRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

// Close marks the store closed; later calls fail with ErrStoreClosed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneMetadata(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
