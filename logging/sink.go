package logging

import (
	"context"
	"sort"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/store"
)

// Sink persists agent log entries to the agent_logs collection so
// introspection queries can read an agent's recent activity after the
// console output is gone.
type Sink struct {
	store  store.Store
	logger *Logger
}

// NewSink creates a sink writing to st. A nil logger disables the console
// echo of sink failures.
func NewSink(st store.Store, logger *Logger) *Sink {
	return &Sink{store: st, logger: logger}
}

// Write persists one log entry. Persistence failures are reported on the
// console but never returned; logging must not fail the operation that
// produced the entry.
func (s *Sink) Write(ctx context.Context, entry *fleet.AgentLog) {
	data, err := entry.Marshal()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("agent_log_marshal", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	if _, err := s.store.Insert(ctx, fleet.CollectionAgentLogs, entry.LogID, data); err != nil {
		if s.logger != nil {
			s.logger.Error("agent_log_persist", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Recent returns up to limit log entries for one agent, newest first.
func (s *Sink) Recent(ctx context.Context, agentID string, limit int) ([]*fleet.AgentLog, error) {
	recs, err := s.store.Find(ctx, fleet.CollectionAgentLogs, store.Filter{"agent_id": agentID})
	if err != nil {
		return nil, err
	}

	logs := make([]*fleet.AgentLog, 0, len(recs))
	for _, rec := range recs {
		entry, err := fleet.UnmarshalAgentLog(rec.Data)
		if err != nil {
			continue
		}
		logs = append(logs, entry)
	}

	// Newest first.
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
