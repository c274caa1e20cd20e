// Package activity is the append-only activity log. Every successful
// mutation in the legion records exactly one entry here.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/store"
)

// Metadata keys written on every entry
const (
	MetaMethod        = "method"
	MetaCorrelationID = "correlation_id"
)

// Entry describes a change to record
type Entry struct {
	AgentID  string
	Type     models.LogType
	Method   string
	Content  string
	Metadata map[string]interface{}
}

// Log appends entries to the store and fans them out to the event bus
type Log struct {
	store   store.Store
	emitter *events.Emitter
	now     func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an activity log over st. A nil emitter disables fan-out.
func New(st store.Store, emitter *events.Emitter, opts ...Option) *Log {
	l := &Log{
		store:   st,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record builds and appends one entry, stamping id, timestamp, method and the
// context's correlation id (or a fresh one)
func (l *Log) Record(ctx context.Context, e Entry) (models.AgentLog, error) {
	metadata := make(map[string]interface{}, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if e.Method != "" {
		metadata[MetaMethod] = e.Method
	}
	metadata[MetaCorrelationID] = logging.CorrelationID(ctx)

	return l.Append(ctx, models.AgentLog{
		AgentID:  e.AgentID,
		Type:     e.Type,
		Content:  e.Content,
		Metadata: metadata,
	})
}

// Append validates and stores a raw entry
func (l *Log) Append(ctx context.Context, entry models.AgentLog) (models.AgentLog, error) {
	switch entry.Type {
	case models.LogSystem, models.LogOutput, models.LogError, models.LogInfo:
	default:
		return models.AgentLog{}, models.Validationf("unknown log type %q", entry.Type)
	}
	if entry.Content == "" {
		return models.AgentLog{}, models.Validationf("log content is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	if err := l.store.AppendLog(ctx, entry); err != nil {
		return models.AgentLog{}, fmt.Errorf("failed to append activity log: %w", err)
	}

	l.emitter.Emit(ctx, events.EventActivityLogged, map[string]interface{}{
		"log_id":   entry.ID,
		"agent_id": entry.AgentID,
		"log_type": string(entry.Type),
		"content":  entry.Content,
	})
	return entry, nil
}

// Query returns matching entries, most recent first
func (l *Log) Query(ctx context.Context, query store.LogQuery) ([]models.AgentLog, error) {
	if query.Type != "" {
		switch query.Type {
		case models.LogSystem, models.LogOutput, models.LogError, models.LogInfo:
		default:
			return nil, models.Validationf("unknown log type %q", query.Type)
		}
	}
	return l.store.QueryLogs(ctx, query)
}

// DeleteForAgent removes every entry owned by agentID
func (l *Log) DeleteForAgent(ctx context.Context, agentID string) (int, error) {
	return l.store.DeleteLogsForAgent(ctx, agentID)
}
