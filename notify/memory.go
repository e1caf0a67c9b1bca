package notify

import (
	"context"
	"sync"
	"time"

	"github.com/skymind/fleetkit/fleet"
)

// MemoryNotifier records announcements for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewMemoryNotifier creates a recording notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) record(note Notification) {
	note.Timestamp = time.Now().UTC()
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
}

func (n *MemoryNotifier) TaskAssigned(ctx context.Context, task *fleet.Task, agentIDs []string) error {
	n.record(Notification{Kind: "task_assigned", TaskID: task.TaskID, TaskType: string(task.Type), AgentIDs: agentIDs})
	return nil
}

func (n *MemoryNotifier) TaskCompleted(ctx context.Context, task *fleet.Task) error {
	n.record(Notification{Kind: "task_completed", TaskID: task.TaskID, TaskType: string(task.Type)})
	return nil
}

func (n *MemoryNotifier) TaskFailed(ctx context.Context, task *fleet.Task, reason string) error {
	n.record(Notification{Kind: "task_failed", TaskID: task.TaskID, TaskType: string(task.Type), Reason: reason})
	return nil
}

func (n *MemoryNotifier) EventPromoted(ctx context.Context, event *fleet.Event, taskID string) error {
	n.record(Notification{Kind: "event_promoted", EventID: event.EventID, TaskID: taskID})
	return nil
}

func (n *MemoryNotifier) EventResolved(ctx context.Context, event *fleet.Event) error {
	n.record(Notification{Kind: "event_resolved", EventID: event.EventID})
	return nil
}

func (n *MemoryNotifier) DroneCommand(ctx context.Context, droneID string, cmd Command, params map[string]any) error {
	n.record(Notification{Kind: "drone_command", DroneID: droneID, Command: cmd, Params: params})
	return nil
}

func (n *MemoryNotifier) Close() error { return nil }

// Sent returns a copy of all recorded notifications.
func (n *MemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// ByKind returns recorded notifications of one kind.
func (n *MemoryNotifier) ByKind(kind string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, note := range n.sent {
		if note.Kind == kind {
			out = append(out, note)
		}
	}
	return out
}

// Clear drops recorded notifications.
func (n *MemoryNotifier) Clear() {
	n.mu.Lock()
	n.sent = nil
	n.mu.Unlock()
}
