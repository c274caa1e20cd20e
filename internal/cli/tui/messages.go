package tui

import (
	"time"

	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/swarm"
)

// Snapshot is one poll of the legion
type Snapshot struct {
	Status    swarm.Status
	Agents    []models.Agent
	Runs      []models.PipelineRun
	FetchedAt time.Time
}

// snapshotMsg carries the result of a poll
type snapshotMsg struct {
	snapshot Snapshot
	err      error
}

// tickMsg schedules the next poll
type tickMsg time.Time
