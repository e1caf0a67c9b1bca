package coord

import (
	"sync"

	"github.com/skymind/fleetkit/fleet"
)

// taskQueues holds one FIFO of task ids per task type. The assignment
// pass inspects only the front of each queue per cycle, so queue order
// is a soft priority hint. Only ids are queued; the task document is
// re-read from the store before any mutating decision.
type taskQueues struct {
	mu     sync.Mutex
	queues map[fleet.TaskType][]string
	queued map[string]bool
}

func newTaskQueues() *taskQueues {
	return &taskQueues{
		queues: make(map[fleet.TaskType][]string, len(fleet.TaskTypes)),
		queued: make(map[string]bool),
	}
}

// Push appends a task id to its type's queue. Ids already queued are
// not queued twice. Unknown types land on the "other" queue.
func (q *taskQueues) Push(typ fleet.TaskType, taskID string) {
	if !typ.Valid() {
		typ = fleet.TaskOther
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[taskID] {
		return
	}
	q.queues[typ] = append(q.queues[typ], taskID)
	q.queued[taskID] = true
}

// Pop removes and returns the front task id of the given type's queue.
func (q *taskQueues) Pop(typ fleet.TaskType) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.queues[typ]
	if len(ids) == 0 {
		return "", false
	}
	id := ids[0]
	q.queues[typ] = ids[1:]
	delete(q.queued, id)
	return id, true
}

// Len returns the total number of queued task ids.
func (q *taskQueues) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, ids := range q.queues {
		total += len(ids)
	}
	return total
}

// LenByType returns per-type queue depths for introspection.
func (q *taskQueues) LenByType() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(fleet.TaskTypes))
	for _, typ := range fleet.TaskTypes {
		out[string(typ)] = len(q.queues[typ])
	}
	return out
}
