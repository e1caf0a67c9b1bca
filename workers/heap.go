package workers

import (
	"container/heap"

	"github.com/skymind/fleetkit/fleet"
)

// taskHeap is a max-heap of tasks: highest priority first, ties broken
// by creation time then id so ordering is deterministic.
type taskHeap []*fleet.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].TaskID < h[j].TaskID
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*fleet.Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// pushTask adds a task unless its id is already queued.
func pushTask(h *taskHeap, task *fleet.Task) bool {
	for _, t := range *h {
		if t.TaskID == task.TaskID {
			return false
		}
	}
	heap.Push(h, task)
	return true
}

// removeTask drops a task by id.
func removeTask(h *taskHeap, taskID string) bool {
	for i, t := range *h {
		if t.TaskID == taskID {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
