package fleet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentState is the persisted record of one agent: identity, status, and
// capability scores. The coordinator's capability cache is rebuilt from
// these records at boot.
type AgentState struct {
	AgentID       string      `json:"agent_id"`
	AgentType     string      `json:"agent_type"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`

	// CapabilityScores maps skill name to proficiency in [0,1].
	CapabilityScores map[string]float64 `json:"capability_scores,omitempty"`

	PerformanceMetrics map[string]any `json:"performance_metrics,omitempty"`
	LastActive         time.Time      `json:"last_active"`
}

// Marshal serializes the agent state to JSON.
func (s *AgentState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalAgentState deserializes an agent state from JSON.
func UnmarshalAgentState(data []byte) (*AgentState, error) {
	var s AgentState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AgentLog is one structured log record appended to the agent_logs
// collection by the logging store sink.
type AgentLog struct {
	LogID          string         `json:"log_id"`
	AgentID        string         `json:"agent_id"`
	AgentType      string         `json:"agent_type,omitempty"`
	Level          string         `json:"level"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	RelatedTaskID  string         `json:"related_task_id,omitempty"`
	RelatedEventID string         `json:"related_event_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// NewAgentLog creates a log record with a fresh ID and timestamp.
func NewAgentLog(agentID, level, message string) *AgentLog {
	return &AgentLog{
		LogID:     uuid.New().String(),
		AgentID:   agentID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal serializes the log record to JSON.
func (l *AgentLog) Marshal() ([]byte, error) {
	return json.Marshal(l)
}

// UnmarshalAgentLog deserializes a log record from JSON.
func UnmarshalAgentLog(data []byte) (*AgentLog, error) {
	var l AgentLog
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
