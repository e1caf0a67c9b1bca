// Package fleet defines the domain model for drone fleet coordination:
// tasks, events, drones, agent state, and the fixed mapping tables that
// tie them together.
//
// Status enums are persisted verbatim; external consumers (dashboards,
// reporting) depend on the exact string values, so they must not change.
package fleet

import "time"

// Collection names in the document store.
const (
	CollectionTasks       = "tasks"
	CollectionEvents      = "events"
	CollectionDrones      = "drones"
	CollectionAgentStates = "agent_states"
	CollectionAgentLogs   = "agent_logs"
)

// TaskType classifies units of work.
type TaskType string

const (
	TaskEmergency    TaskType = "emergency"
	TaskDelivery     TaskType = "delivery"
	TaskInspection   TaskType = "inspection"
	TaskSurveillance TaskType = "surveillance"
	TaskPatrol       TaskType = "patrol"
	TaskOther        TaskType = "other"
)

// TaskTypes lists all task types in the fixed order used by the
// coordinator's per-type queue sweep. The order is part of the pass
// determinism, not a priority ranking.
var TaskTypes = []TaskType{
	TaskEmergency,
	TaskDelivery,
	TaskInspection,
	TaskSurveillance,
	TaskPatrol,
	TaskOther,
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TaskStatus is the task state machine:
//
//	pending -> assigned -> in_progress -> {completed|failed|cancelled}
//
// The three terminal states are immutable once reached. A task may move
// from assigned back to pending only through the assignment engine's
// failed-persist retry path.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Active reports whether the task still needs coordinator attention.
func (s TaskStatus) Active() bool {
	return s == TaskPending || s == TaskAssigned || s == TaskInProgress
}

// EventType classifies detected occurrences.
type EventType string

const (
	EventAnomaly   EventType = "anomaly"
	EventEmergency EventType = "emergency"
	EventLogistics EventType = "logistics"
	EventSecurity  EventType = "security"
	EventSystem    EventType = "system"
)

// EventLevel is the severity of an event.
type EventLevel string

const (
	LevelLow    EventLevel = "low"
	LevelMedium EventLevel = "medium"
	LevelHigh   EventLevel = "high"
)

// EventStatus tracks an event's lifecycle: new -> processing -> resolved.
type EventStatus string

const (
	EventNew        EventStatus = "new"
	EventProcessing EventStatus = "processing"
	EventResolved   EventStatus = "resolved"
)

// DroneStatus is a drone's operational state.
type DroneStatus string

const (
	DroneIdle        DroneStatus = "idle"
	DroneFlying      DroneStatus = "flying"
	DroneCharging    DroneStatus = "charging"
	DroneMaintenance DroneStatus = "maintenance"
	DroneOffline     DroneStatus = "offline"
)

// AgentStatus is an agent's runtime state. Agents in error or stopped
// are never selected for new assignments.
type AgentStatus string

const (
	AgentInitializing AgentStatus = "initializing"
	AgentIdle         AgentStatus = "idle"
	AgentBusy         AgentStatus = "busy"
	AgentActive       AgentStatus = "active"
	AgentError        AgentStatus = "error"
	AgentStopped      AgentStatus = "stopped"
)

// Selectable reports whether an agent in this status may receive work.
func (s AgentStatus) Selectable() bool {
	return s != AgentError && s != AgentStopped
}

// Capability names shared by tasks and agents. Scores are in [0, 1].
const (
	CapDroneControl      = "drone_control"
	CapPathPlanning      = "path_planning"
	CapObjectDetection   = "object_detection"
	CapAnomalyDetection  = "anomaly_detection"
	CapEmergencyResponse = "emergency_response"
	CapLogistics         = "logistics"
)

// Priority convention: higher number = more urgent, clamped to [1,10].
// Both the persisted task field and worker priority queues use this single
// convention.
const (
	MinPriority = 1
	MaxPriority = 10
)

// ClampPriority forces p into the valid priority range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// TaskTypeForEvent maps an event type to the task type synthesized when
// the event is promoted.
func TaskTypeForEvent(t EventType) TaskType {
	switch t {
	case EventAnomaly:
		return TaskInspection
	case EventEmergency:
		return TaskEmergency
	case EventLogistics:
		return TaskDelivery
	case EventSecurity:
		return TaskSurveillance
	case EventSystem:
		return TaskOther
	default:
		return TaskOther
	}
}

// PriorityForLevel maps an event level to a task priority.
func PriorityForLevel(l EventLevel) int {
	switch l {
	case LevelLow:
		return ClampPriority(3)
	case LevelMedium:
		return ClampPriority(6)
	case LevelHigh:
		return ClampPriority(10)
	default:
		return ClampPriority(5)
	}
}

// RequiredCapabilities returns the capability requirements for a task:
// a fixed baseline per task type, overlaid key-by-key with any
// "required_capabilities" override in the task data (caller values win).
func RequiredCapabilities(task *Task) map[string]float64 {
	var base map[string]float64

	switch task.Type {
	case TaskEmergency:
		base = map[string]float64{
			CapEmergencyResponse: 0.9,
			CapPathPlanning:      0.7,
			CapObjectDetection:   0.5,
			CapDroneControl:      0.8,
		}
	case TaskDelivery:
		base = map[string]float64{
			CapLogistics:       0.9,
			CapPathPlanning:    0.8,
			CapDroneControl:    0.7,
			CapObjectDetection: 0.3,
		}
	case TaskInspection:
		base = map[string]float64{
			CapObjectDetection:  0.9,
			CapDroneControl:     0.8,
			CapPathPlanning:     0.6,
			CapAnomalyDetection: 0.7,
		}
	case TaskSurveillance, TaskPatrol:
		base = map[string]float64{
			CapObjectDetection:  0.9,
			CapAnomalyDetection: 0.8,
			CapDroneControl:     0.7,
			CapPathPlanning:     0.5,
		}
	default:
		base = map[string]float64{
			CapDroneControl:    0.7,
			CapPathPlanning:    0.6,
			CapObjectDetection: 0.5,
		}
	}

	required := make(map[string]float64, len(base))
	for cap, score := range base {
		required[cap] = score
	}

	if task.TaskData != nil {
		if override, ok := task.TaskData["required_capabilities"].(map[string]any); ok {
			for cap, v := range override {
				if score, ok := toFloat(v); ok {
					required[cap] = score
				}
			}
		}
	}

	return required
}

// toFloat normalizes JSON-decoded numeric values.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Timestamp is the canonical wire format for times in persisted documents.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
