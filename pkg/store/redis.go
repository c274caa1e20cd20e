package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/legion/legion/pkg/models"
)

// Key layout, relative to the configured prefix
const (
	keyPrefixAgent    = "agent:"
	keyPrefixChildren = "children:"
	keyAgentSet       = "agents:all"
	keyPrefixMission  = "mission:"
	keyMissionSet     = "missions:all"
	keyPrefixLog      = "log:"
	keyPrefixAgentLog = "logs:agent:"
	keyLogIndex       = "logs:all"
	keyPrefixSwarm    = "swarm:"
	keySwarmSet       = "swarms:all"
	keyPrefixRun      = "run:"
	keyRunSet         = "runs:all"
)

// RedisStore implements Store on Redis. Entities are JSON strings, id sets
// index each collection, a set per parent backs ChildrenOf and activity logs
// are kept in sorted sets scored by timestamp.
type RedisStore struct {
	client    redis.UniversalClient
	config    RedisConfig
	mu        sync.RWMutex
	connected bool
}

// NewRedisStore creates an unconnected Redis store
func NewRedisStore(config RedisConfig) *RedisStore {
	return &RedisStore{config: config}
}

// NewRedisStoreWithClient wraps an existing client, already connected
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		config:    RedisConfig{KeyPrefix: keyPrefix},
		connected: true,
	}
}

// Connect dials Redis and verifies the connection
func (s *RedisStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.config.Address,
		Password: s.config.Password,
		DB:       s.config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.client = client
	s.connected = true
	return nil
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

// Ping checks the connection is still usable
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.config.KeyPrefix
	for _, p := range parts {
		k += p
	}
	return k
}

func (s *RedisStore) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return models.ErrStoreClosed
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key, kind, id string, v interface{}) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NotFoundf("%s %s", kind, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", kind, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) putJSON(ctx context.Context, key, setKey, id, kind string, v interface{}) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", kind, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, setKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}
	return nil
}

// fetchAll loads every JSON value whose id is in setKey, skipping ids whose
// value has vanished between the SMEMBERS and MGET calls
func fetchAll[T any](ctx context.Context, s *RedisStore, setKey, keyPrefix, kind string) ([]T, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return fetchByIDs[T](ctx, s, ids, keyPrefix, kind)
}

func fetchByIDs[T any](ctx context.Context, s *RedisStore, ids []string, keyPrefix, kind string) ([]T, error) {
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(keyPrefix, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", kind, err)
	}
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// PutAgent stores the agent and moves it between parent index sets when its
// parent changes
func (s *RedisStore) PutAgent(ctx context.Context, agent models.Agent) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to serialize agent: %w", err)
	}

	var old models.Agent
	oldErr := s.getJSON(ctx, s.key(keyPrefixAgent, agent.ID), "agent", agent.ID, &old)
	if oldErr != nil && !errors.Is(oldErr, models.ErrNotFound) {
		return oldErr
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(keyPrefixAgent, agent.ID), data, 0)
		pipe.SAdd(ctx, s.key(keyAgentSet), agent.ID)
		if oldErr == nil && old.ParentID != "" && old.ParentID != agent.ParentID {
			pipe.SRem(ctx, s.key(keyPrefixChildren, old.ParentID), agent.ID)
		}
		if agent.ParentID != "" {
			pipe.SAdd(ctx, s.key(keyPrefixChildren, agent.ParentID), agent.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store agent: %w", err)
	}
	return nil
}

// GetAgent loads an agent by id
func (s *RedisStore) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	var agent models.Agent
	err := s.getJSON(ctx, s.key(keyPrefixAgent, id), "agent", id, &agent)
	return agent, err
}

// ListAgents returns every agent ordered by creation time
func (s *RedisStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	agents, err := fetchAll[models.Agent](ctx, s, s.key(keyAgentSet), keyPrefixAgent, "agents")
	if err != nil {
		return nil, err
	}
	sortAgents(agents)
	return agents, nil
}

// DeleteAgent removes the agent and its entry in its parent's index set
func (s *RedisStore) DeleteAgent(ctx context.Context, id string) error {
	agent, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(keyPrefixAgent, id))
		pipe.SRem(ctx, s.key(keyAgentSet), id)
		if agent.ParentID != "" {
			pipe.SRem(ctx, s.key(keyPrefixChildren, agent.ParentID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// ChildrenOf returns the ids indexed under parentID
func (s *RedisStore) ChildrenOf(ctx context.Context, parentID string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.key(keyPrefixChildren, parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read children: %w", err)
	}
	return ids, nil
}

// PutMission inserts or replaces a mission
func (s *RedisStore) PutMission(ctx context.Context, mission models.Mission) error {
	return s.putJSON(ctx, s.key(keyPrefixMission, mission.ID), s.key(keyMissionSet), mission.ID, "mission", mission)
}

// GetMission loads a mission by id
func (s *RedisStore) GetMission(ctx context.Context, id string) (models.Mission, error) {
	var mission models.Mission
	err := s.getJSON(ctx, s.key(keyPrefixMission, id), "mission", id, &mission)
	return mission, err
}

// ListMissions returns every mission ordered by creation time
func (s *RedisStore) ListMissions(ctx context.Context) ([]models.Mission, error) {
	missions, err := fetchAll[models.Mission](ctx, s, s.key(keyMissionSet), keyPrefixMission, "missions")
	if err != nil {
		return nil, err
	}
	sortMissions(missions)
	return missions, nil
}

// DeleteMission removes a mission
func (s *RedisStore) DeleteMission(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	cmds, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(keyPrefixMission, id))
		pipe.SRem(ctx, s.key(keyMissionSet), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete mission: %w", err)
	}
	if cmds[0].(*redis.IntCmd).Val() == 0 {
		return models.NotFoundf("mission %s", id)
	}
	return nil
}

func logScore(entry models.AgentLog) float64 {
	// microseconds keep the score exact within float64 precision
	return float64(entry.Timestamp.UnixMicro())
}

// AppendLog stores the entry and indexes it globally and per agent
func (s *RedisStore) AppendLog(ctx context.Context, entry models.AgentLog) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize log: %w", err)
	}

	member := redis.Z{Score: logScore(entry), Member: entry.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(keyPrefixLog, entry.ID), data, 0)
		pipe.ZAdd(ctx, s.key(keyLogIndex), member)
		if entry.AgentID != "" {
			pipe.ZAdd(ctx, s.key(keyPrefixAgentLog, entry.AgentID), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// QueryLogs reads a timestamp window from the relevant sorted set, most
// recent first, then applies the type filter and limit
func (s *RedisStore) QueryLogs(ctx context.Context, query LogQuery) ([]models.AgentLog, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	index := s.key(keyLogIndex)
	if query.AgentID != "" {
		index = s.key(keyPrefixAgentLog, query.AgentID)
	}

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !query.Since.IsZero() {
		rng.Min = strconv.FormatInt(query.Since.UnixMicro(), 10)
	}
	if !query.Until.IsZero() {
		rng.Max = strconv.FormatInt(query.Until.UnixMicro(), 10)
	}
	if query.Limit > 0 && query.Type == "" {
		rng.Count = int64(query.Limit)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, index, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	entries, err := fetchByIDs[models.AgentLog](ctx, s, ids, keyPrefixLog, "logs")
	if err != nil {
		return nil, err
	}

	out := make([]models.AgentLog, 0, len(entries))
	for _, entry := range entries {
		if query.Matches(entry) {
			out = append(out, entry)
		}
	}
	sortLogs(out)
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// DeleteLogsForAgent removes every entry owned by agentID
func (s *RedisStore) DeleteLogsForAgent(ctx context.Context, agentID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if agentID == "" {
		return 0, models.Validationf("agent id is required")
	}

	agentIndex := s.key(keyPrefixAgentLog, agentID)
	ids, err := s.client.ZRange(ctx, agentIndex, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read agent logs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = s.key(keyPrefixLog, id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.key(keyLogIndex), members...)
		pipe.Del(ctx, agentIndex)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete agent logs: %w", err)
	}
	return len(ids), nil
}

// PutSwarm inserts or replaces a swarm deployment
func (s *RedisStore) PutSwarm(ctx context.Context, swarm models.SwarmDeployment) error {
	return s.putJSON(ctx, s.key(keyPrefixSwarm, swarm.ID), s.key(keySwarmSet), swarm.ID, "swarm", swarm)
}

// GetSwarm loads a swarm deployment by id
func (s *RedisStore) GetSwarm(ctx context.Context, id string) (models.SwarmDeployment, error) {
	var swarm models.SwarmDeployment
	err := s.getJSON(ctx, s.key(keyPrefixSwarm, id), "swarm", id, &swarm)
	return swarm, err
}

// ListSwarms returns every swarm deployment, most recent first
func (s *RedisStore) ListSwarms(ctx context.Context) ([]models.SwarmDeployment, error) {
	swarms, err := fetchAll[models.SwarmDeployment](ctx, s, s.key(keySwarmSet), keyPrefixSwarm, "swarms")
	if err != nil {
		return nil, err
	}
	sortSwarms(swarms)
	return swarms, nil
}

// PutRun inserts or replaces a pipeline run
func (s *RedisStore) PutRun(ctx context.Context, run models.PipelineRun) error {
	return s.putJSON(ctx, s.key(keyPrefixRun, run.ID), s.key(keyRunSet), run.ID, "pipeline run", run)
}

// GetRun loads a pipeline run by id
func (s *RedisStore) GetRun(ctx context.Context, id string) (models.PipelineRun, error) {
	var run models.PipelineRun
	err := s.getJSON(ctx, s.key(keyPrefixRun, id), "pipeline run", id, &run)
	return run, err
}

// ListRuns returns every pipeline run, most recent first
func (s *RedisStore) ListRuns(ctx context.Context) ([]models.PipelineRun, error) {
	runs, err := fetchAll[models.PipelineRun](ctx, s, s.key(keyRunSet), keyPrefixRun, "pipeline runs")
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}
