// Package store is the persistence collaborator for the legion core. It keeps
// every entity keyed by id, indexes agents by parent id and keeps activity
// logs in timestamp order.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/legion/legion/pkg/models"
)

// Store is the persistence contract used by the registry, mission tracker,
// swarm coordinator and pipeline. Getters return models.ErrNotFound for
// missing ids and always hand out copies.
type Store interface {
	PutAgent(ctx context.Context, agent models.Agent) error
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	ChildrenOf(ctx context.Context, parentID string) ([]string, error)

	PutMission(ctx context.Context, mission models.Mission) error
	GetMission(ctx context.Context, id string) (models.Mission, error)
	ListMissions(ctx context.Context) ([]models.Mission, error)
	DeleteMission(ctx context.Context, id string) error

	AppendLog(ctx context.Context, entry models.AgentLog) error
	QueryLogs(ctx context.Context, query LogQuery) ([]models.AgentLog, error)
	DeleteLogsForAgent(ctx context.Context, agentID string) (int, error)

	PutSwarm(ctx context.Context, swarm models.SwarmDeployment) error
	GetSwarm(ctx context.Context, id string) (models.SwarmDeployment, error)
	ListSwarms(ctx context.Context) ([]models.SwarmDeployment, error)

	PutRun(ctx context.Context, run models.PipelineRun) error
	GetRun(ctx context.Context, id string) (models.PipelineRun, error)
	ListRuns(ctx context.Context) ([]models.PipelineRun, error)

	Close() error
}

// LogQuery filters activity logs. Zero values match everything; Limit <= 0
// means no limit. Results are most recent first.
type LogQuery struct {
	AgentID string
	Type    models.LogType
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Matches reports whether entry satisfies the query filters
func (q LogQuery) Matches(entry models.AgentLog) bool {
	if q.AgentID != "" && entry.AgentID != q.AgentID {
		return false
	}
	if q.Type != "" && entry.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && entry.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && entry.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Config selects and configures a store backend
type Config struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// DefaultConfig returns the in-memory backend
func DefaultConfig() Config {
	return Config{
		Driver: DriverMemory,
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "legion:",
		},
	}
}

// Open builds and connects the configured backend
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverRedis:
		s := NewRedisStore(cfg.Redis)
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory, "":
		return NewMemoryStore(), nil
	}
	return nil, models.Validationf("unknown store driver %q", cfg.Driver)
}

func sortAgents(agents []models.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		if !agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].CreatedAt.Before(agents[j].CreatedAt)
		}
		return agents[i].ID < agents[j].ID
	})
}

func sortMissions(missions []models.Mission) {
	sort.SliceStable(missions, func(i, j int) bool {
		if !missions[i].CreatedAt.Equal(missions[j].CreatedAt) {
			return missions[i].CreatedAt.Before(missions[j].CreatedAt)
		}
		return missions[i].ID < missions[j].ID
	})
}

// swarms and runs are listed most recent first
func sortSwarms(swarms []models.SwarmDeployment) {
	sort.SliceStable(swarms, func(i, j int) bool {
		if !swarms[i].CreatedAt.Equal(swarms[j].CreatedAt) {
			return swarms[i].CreatedAt.After(swarms[j].CreatedAt)
		}
		return swarms[i].ID < swarms[j].ID
	})
}

func sortRuns(runs []models.PipelineRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

// most recent first; stable so equal timestamps keep caller order
func sortLogs(logs []models.AgentLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
}
