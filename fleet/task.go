package fleet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task is a schedulable unit of work. Terminal tasks are retained in the
// store; the coordinator only drops them from its in-memory active set.
type Task struct {
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`

	// Priority follows the single convention: higher = more urgent.
	Priority int `json:"priority"`

	CreatedBy      string   `json:"created_by,omitempty"`
	AssignedAgents []string `json:"assigned_agents,omitempty"`
	AssignedDrones []string `json:"assigned_drones,omitempty"`
	RelatedEvents  []string `json:"related_events,omitempty"`

	StartLocation *Location `json:"start_location,omitempty"`
	EndLocation   *Location `json:"end_location,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// TaskData carries type-specific payload, including optional
	// "required_capabilities" overrides and the "result" written on
	// completion.
	TaskData map[string]any `json:"task_data,omitempty"`
}

// NewTask creates a pending task with a fresh ID.
func NewTask(title string, typ TaskType, priority int) *Task {
	return &Task{
		TaskID:    uuid.New().String(),
		Title:     title,
		Type:      typ,
		Status:    TaskPending,
		Priority:  ClampPriority(priority),
		CreatedAt: time.Now().UTC(),
	}
}

// HasAgent reports whether agentID is already assigned.
func (t *Task) HasAgent(agentID string) bool {
	for _, id := range t.AssignedAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

// AssignAgents sets the assigned agent list without duplicating entries,
// and moves the task to assigned. Assigning an already-assigned task is
// idempotent.
func (t *Task) AssignAgents(agentIDs []string) {
	for _, id := range agentIDs {
		if !t.HasAgent(id) {
			t.AssignedAgents = append(t.AssignedAgents, id)
		}
	}
	t.Status = TaskAssigned
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	clone := *t
	clone.AssignedAgents = append([]string(nil), t.AssignedAgents...)
	clone.AssignedDrones = append([]string(nil), t.AssignedDrones...)
	clone.RelatedEvents = append([]string(nil), t.RelatedEvents...)
	if t.TaskData != nil {
		clone.TaskData = make(map[string]any, len(t.TaskData))
		for k, v := range t.TaskData {
			clone.TaskData[k] = v
		}
	}
	return &clone
}

// Marshal serializes the task to JSON.
func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask deserializes a task from JSON.
func UnmarshalTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
