// Package notify publishes coordination outcomes to external
// collaborators: task lifecycle announcements, event promotions, and
// the drone command side channel. The coordinator treats notification
// as best effort; a failed publish never rolls back a persisted state
// change.
package notify

import (
	"context"
	"time"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
)

// Command is a drone control instruction.
type Command string

const (
	CommandStartTask     Command = "start_task"
	CommandReturnHome    Command = "return_home"
	CommandEmergencyLand Command = "emergency_land"
)

// Notification is the wire form of one announcement.
type Notification struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"task_id,omitempty"`
	TaskType  string         `json:"task_type,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
	DroneID   string         `json:"drone_id,omitempty"`
	AgentIDs  []string       `json:"agent_ids,omitempty"`
	Command   Command        `json:"command,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers coordination announcements.
type Notifier interface {
	// TaskAssigned announces that agents were put on a task.
	TaskAssigned(ctx context.Context, task *fleet.Task, agentIDs []string) error

	// TaskCompleted announces a terminal completed task.
	TaskCompleted(ctx context.Context, task *fleet.Task) error

	// TaskFailed announces a terminal failed task with its reason.
	TaskFailed(ctx context.Context, task *fleet.Task, reason string) error

	// EventPromoted announces that an event spawned a task.
	EventPromoted(ctx context.Context, event *fleet.Event, taskID string) error

	// EventResolved announces that an event's response finished.
	EventResolved(ctx context.Context, event *fleet.Event) error

	// DroneCommand sends a control instruction to one drone.
	DroneCommand(ctx context.Context, droneID string, cmd Command, params map[string]any) error

	// Close releases resources.
	Close() error
}

// LogNotifier writes every announcement to the console log. It is the
// default backend and the fallback when no NATS server is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithComponent("notify")}
}

func (n *LogNotifier) TaskAssigned(ctx context.Context, task *fleet.Task, agentIDs []string) error {
	n.logger.TaskAssigned(task.TaskID, agentIDs)
	return nil
}

func (n *LogNotifier) TaskCompleted(ctx context.Context, task *fleet.Task) error {
	var dur time.Duration
	if task.StartTime != nil && task.EndTime != nil {
		dur = task.EndTime.Sub(*task.StartTime)
	}
	n.logger.TaskCompleted(task.TaskID, dur)
	return nil
}

func (n *LogNotifier) TaskFailed(ctx context.Context, task *fleet.Task, reason string) error {
	n.logger.TaskFailed(task.TaskID, reason)
	return nil
}

func (n *LogNotifier) EventPromoted(ctx context.Context, event *fleet.Event, taskID string) error {
	n.logger.EventPromoted(event.EventID, taskID)
	return nil
}

func (n *LogNotifier) EventResolved(ctx context.Context, event *fleet.Event) error {
	n.logger.Info("event resolved", map[string]interface{}{"event_id": event.EventID})
	return nil
}

func (n *LogNotifier) DroneCommand(ctx context.Context, droneID string, cmd Command, params map[string]any) error {
	n.logger.Info("drone command", map[string]interface{}{
		"drone_id": droneID,
		"command":  string(cmd),
	})
	return nil
}

func (n *LogNotifier) Close() error { return nil }
