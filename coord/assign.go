package coord

import (
	"context"
	"errors"

	"github.com/skymind/fleetkit/assign"
	"github.com/skymind/fleetkit/bus"
	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/store"
	"github.com/skymind/fleetkit/telemetry"
)

// assignmentPass dequeues at most one task per type, in the fixed type
// order, and tries to assign each. Caller holds passMu.
func (c *Coordinator) assignmentPass(ctx context.Context) (assigned, requeued int) {
	for _, typ := range fleet.TaskTypes {
		taskID, ok := c.queues.Pop(typ)
		if !ok {
			continue
		}
		switch c.assignOne(ctx, typ, taskID) {
		case assignOutcomeAssigned:
			assigned++
		case assignOutcomeRequeued:
			requeued++
		}
	}
	return assigned, requeued
}

type assignOutcome int

const (
	assignOutcomeDropped assignOutcome = iota
	assignOutcomeAssigned
	assignOutcomeRequeued
)

// assignOne re-reads one task and runs the selector against the live
// registry. An empty selection is backpressure, not an error: the task
// goes to the back of its queue for a later pass.
func (c *Coordinator) assignOne(ctx context.Context, typ fleet.TaskType, taskID string) assignOutcome {
	rec, err := c.st.FindByID(ctx, fleet.CollectionTasks, taskID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("queued task vanished", map[string]interface{}{"task_id": taskID})
		c.mu.Lock()
		delete(c.activeTasks, taskID)
		c.mu.Unlock()
		return assignOutcomeDropped
	}
	if err != nil {
		c.logger.Error("load queued task failed", map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		})
		c.queues.Push(typ, taskID)
		return assignOutcomeRequeued
	}

	task, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		c.logger.Error("corrupt task record", map[string]interface{}{"task_id": taskID})
		return assignOutcomeDropped
	}
	if task.Status != fleet.TaskPending {
		// The monitor pass handles terminal transitions, including the
		// completion notification and event resolution.
		return assignOutcomeDropped
	}

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartAssignmentSpan(ctx, task.TaskID)
	candidates := c.candidates()

	selections, err := c.selector.Select(ctx, task, candidates, c.cfg.MaxAgentsPerTask)
	if err != nil {
		c.logger.Error("selector failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
		c.requeue(task, "selector error")
		tracer.EndAssignmentSpan(span, telemetry.AssignmentSpanOptions{
			TaskID:     task.TaskID,
			TaskType:   string(task.Type),
			Candidates: len(candidates),
			Requeued:   true,
		}, err)
		return assignOutcomeRequeued
	}
	if len(selections) == 0 {
		c.requeue(task, "no candidates")
		tracer.EndAssignmentSpan(span, telemetry.AssignmentSpanOptions{
			TaskID:     task.TaskID,
			TaskType:   string(task.Type),
			Candidates: len(candidates),
			Requeued:   true,
		}, nil)
		return assignOutcomeRequeued
	}

	agentIDs := make([]string, len(selections))
	for i, s := range selections {
		agentIDs[i] = s.ID
	}

	if err := c.persistAssignment(ctx, rec, task, agentIDs); err != nil {
		if errors.Is(err, errTaskStale) {
			tracer.EndAssignmentSpan(span, telemetry.AssignmentSpanOptions{
				TaskID:   task.TaskID,
				TaskType: string(task.Type),
			}, nil)
			return assignOutcomeDropped
		}
		c.logger.Error("persist assignment failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
		c.requeue(task, "persist failed")
		tracer.EndAssignmentSpan(span, telemetry.AssignmentSpanOptions{
			TaskID:   task.TaskID,
			TaskType: string(task.Type),
			Requeued: true,
		}, err)
		return assignOutcomeRequeued
	}

	c.mu.Lock()
	c.activeTasks[task.TaskID] = task.Clone()
	c.mu.Unlock()
	c.indexTask(task)

	// Mailbox notification happens only after durable persistence, so an
	// agent never believes it owns a task the store disagrees about.
	for _, id := range task.AssignedAgents {
		h, err := c.cfg.Registry.Get(id)
		if err != nil {
			continue
		}
		h.Post(bus.TaskAssigned{Task: task.Clone()})
	}
	c.notifier.TaskAssigned(ctx, task, task.AssignedAgents)
	c.logger.TaskAssigned(task.TaskID, task.AssignedAgents)
	c.RecordActivity(ctx, "info", "task assigned", func(l *fleet.AgentLog) {
		l.RelatedTaskID = task.TaskID
		l.Context = map[string]any{"agents": task.AssignedAgents}
	})

	tracer.EndAssignmentSpan(span, telemetry.AssignmentSpanOptions{
		TaskID:     task.TaskID,
		TaskType:   string(task.Type),
		Candidates: len(candidates),
		Selected:   task.AssignedAgents,
	}, nil)
	return assignOutcomeAssigned
}

// persistAssignment moves the task to assigned with its agent list. On
// a revision conflict it re-fetches and re-applies only the status and
// assigned_agents delta through a targeted field update. A task found
// outside pending after the re-fetch returns errTaskStale.
func (c *Coordinator) persistAssignment(ctx context.Context, rec *store.Record, task *fleet.Task, agentIDs []string) error {
	task.AssignAgents(agentIDs)

	doc, err := task.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal task", ferrors.WithTaskID(task.TaskID))
	}
	rec.Data = doc

	_, err = c.st.Save(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return ferrors.Wrap(err, "save assignment", ferrors.WithTaskID(task.TaskID))
	}

	fresh, err := c.st.FindByID(ctx, fleet.CollectionTasks, task.TaskID)
	if err != nil {
		return ferrors.Wrap(err, "refetch after conflict", ferrors.WithTaskID(task.TaskID))
	}
	current, err := fleet.UnmarshalTask(fresh.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode after conflict", ferrors.WithTaskID(task.TaskID))
	}
	if current.Status != fleet.TaskPending {
		return errTaskStale
	}

	current.AssignAgents(agentIDs)
	_, err = c.st.UpdateFields(ctx, fleet.CollectionTasks, task.TaskID, map[string]any{
		"status":          string(fleet.TaskAssigned),
		"assigned_agents": current.AssignedAgents,
	})
	if err != nil {
		return ferrors.Wrap(err, "update after conflict", ferrors.WithTaskID(task.TaskID))
	}

	*task = *current
	return nil
}

// candidates snapshots every selectable registered agent except the
// coordinator itself. Capability scores come from the cache, falling
// back to the live handle for agents the cache has not seen.
func (c *Coordinator) candidates() []assign.Candidate {
	handles := c.cfg.Registry.All()
	out := make([]assign.Candidate, 0, len(handles))
	for _, h := range handles {
		if h.ID() == c.cfg.AgentID {
			continue
		}
		status := h.Status()
		if !status.Selectable() {
			continue
		}
		caps := c.cache.Scores(h.ID())
		if caps == nil {
			caps = h.Capabilities()
		}
		out = append(out, assign.Candidate{
			ID:           h.ID(),
			Status:       status,
			Capabilities: caps,
		})
	}
	return out
}

func (c *Coordinator) requeue(task *fleet.Task, reason string) {
	c.queues.Push(task.Type, task.TaskID)
	c.logger.TaskRequeued(task.TaskID, reason)
}
