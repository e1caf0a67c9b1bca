package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/skymind/fleetkit/fleet"
)

// Common errors.
var (
	ErrClosed       = errors.New("mailbox closed")
	ErrQueryTimeout = errors.New("query timeout")
)

// DefaultQueryTimeout bounds how long a sender waits for a query reply.
const DefaultQueryTimeout = 30 * time.Second

// Message is a unit of agent-to-agent communication. Implementations live
// in this package only.
type Message interface {
	// Kind names the message for logs.
	Kind() string

	isMessage()
}

// NewTask asks the coordinator to take ownership of a freshly created task.
type NewTask struct {
	Task *fleet.Task
}

// NewEvent asks the coordinator to take ownership of a detected event.
type NewEvent struct {
	Event *fleet.Event
}

// TaskAssigned tells an agent it has been put on a task.
type TaskAssigned struct {
	Task *fleet.Task
}

// TaskUpdated announces a task status change to interested agents.
type TaskUpdated struct {
	Task *fleet.Task
}

// TaskCancelled tells assigned agents to stop work on a task.
type TaskCancelled struct {
	TaskID string
	Reason string
}

// EventDetected announces a new event to interested agents.
type EventDetected struct {
	Event *fleet.Event
}

// CapabilityUpdate announces that an agent's capability scores changed.
// The coordinator patches its capability cache from these.
type CapabilityUpdate struct {
	AgentID string
	Scores  map[string]float64
}

// Query is a request expecting exactly one Response. The reply channel has
// capacity one so a late responder never blocks.
type Query struct {
	ID     string
	From   string
	Name   string
	Params map[string]any

	reply chan Response
}

// Response answers a Query. On failure Success is false and Error says why.
type Response struct {
	Success bool
	Data    map[string]any
	Error   string
}

func (NewTask) Kind() string          { return "new_task" }
func (NewEvent) Kind() string         { return "new_event" }
func (TaskAssigned) Kind() string     { return "task_assigned" }
func (TaskUpdated) Kind() string      { return "task_updated" }
func (TaskCancelled) Kind() string    { return "task_cancelled" }
func (EventDetected) Kind() string    { return "event_detected" }
func (CapabilityUpdate) Kind() string { return "capability_update" }
func (*Query) Kind() string           { return "query" }

func (NewTask) isMessage()          {}
func (NewEvent) isMessage()         {}
func (TaskAssigned) isMessage()     {}
func (TaskUpdated) isMessage()      {}
func (TaskCancelled) isMessage()    {}
func (EventDetected) isMessage()    {}
func (CapabilityUpdate) isMessage() {}
func (*Query) isMessage()           {}

// NewQuery builds a query with a fresh correlation id and reply channel.
func NewQuery(from, name string, params map[string]any) *Query {
	return &Query{
		ID:     uuid.NewString(),
		From:   from,
		Name:   name,
		Params: params,
		reply:  make(chan Response, 1),
	}
}

// Respond delivers the response to the waiting sender. Only the first
// response is kept; later calls are dropped.
func (q *Query) Respond(resp Response) {
	select {
	case q.reply <- resp:
	default:
	}
}

// Wait blocks until a response arrives, the timeout passes, or ctx ends.
// A timeout yields a failed Response rather than an error so callers can
// treat it like any other query failure.
func (q *Query) Wait(ctx context.Context, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-q.reply:
		return resp
	case <-timer.C:
		return Response{Success: false, Error: "Query timeout"}
	case <-ctx.Done():
		return Response{Success: false, Error: "cancelled"}
	}
}

// Fail is shorthand for an unsuccessful response.
func Fail(reason string) Response {
	return Response{Success: false, Error: reason}
}

// OK is shorthand for a successful response carrying data.
func OK(data map[string]any) Response {
	return Response{Success: true, Data: data}
}
