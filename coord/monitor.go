package coord

import (
	"context"
	"errors"
	"time"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/store"
)

// promoteEvents turns every tracked event still in status new into a
// task: type from the event-type table, priority from the level table,
// related_events linking back. The synthesized task id is derived from
// the event id, so a crash between the task insert and the event flip
// cannot promote twice. Caller holds passMu.
func (c *Coordinator) promoteEvents(ctx context.Context) int {
	c.mu.Lock()
	pending := make([]*fleet.Event, 0, len(c.activeEvents))
	for _, e := range c.activeEvents {
		if e.Status == fleet.EventNew {
			pending = append(pending, e)
		}
	}
	c.mu.Unlock()

	promoted := 0
	for _, cached := range pending {
		rec, err := c.st.FindByID(ctx, fleet.CollectionEvents, cached.EventID)
		if errors.Is(err, store.ErrNotFound) {
			c.mu.Lock()
			delete(c.activeEvents, cached.EventID)
			c.mu.Unlock()
			continue
		}
		if err != nil {
			c.logger.Error("load event failed", map[string]interface{}{
				"event_id": cached.EventID,
				"error":    err.Error(),
			})
			continue
		}

		event, err := fleet.UnmarshalEvent(rec.Data)
		if err != nil || event.Status != fleet.EventNew {
			if event != nil {
				c.mu.Lock()
				c.activeEvents[event.EventID] = event
				c.mu.Unlock()
			}
			continue
		}

		if c.promoteOne(ctx, rec, event) {
			promoted++
		}
	}
	return promoted
}

func (c *Coordinator) promoteOne(ctx context.Context, rec *store.Record, event *fleet.Event) bool {
	task := fleet.NewTask(event.Title, fleet.TaskTypeForEvent(event.Type), fleet.PriorityForLevel(event.Level))
	task.TaskID = "task-" + event.EventID
	task.Description = event.Description
	task.CreatedBy = c.cfg.AgentID
	task.RelatedEvents = []string{event.EventID}
	if event.Location != nil {
		task.StartLocation = event.Location
	}

	doc, err := task.Marshal()
	if err != nil {
		c.logger.Error("marshal promoted task failed", map[string]interface{}{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
		return false
	}
	if _, err := c.st.Insert(ctx, fleet.CollectionTasks, task.TaskID, doc); err != nil {
		// A duplicate means a previous pass already inserted the task and
		// died before flipping the event; finish the flip below.
		if !errors.Is(err, store.ErrDuplicateID) {
			c.logger.Error("persist promoted task failed", map[string]interface{}{
				"event_id": event.EventID,
				"error":    err.Error(),
			})
			return false
		}
	}

	event.Status = fleet.EventProcessing
	if !event.HasTask(task.TaskID) {
		event.RelatedTasks = append(event.RelatedTasks, task.TaskID)
	}
	if err := c.saveEvent(ctx, rec, event); err != nil {
		c.logger.Error("persist promoted event failed", map[string]interface{}{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
		return false
	}

	c.mu.Lock()
	c.activeEvents[event.EventID] = event
	c.activeTasks[task.TaskID] = task
	c.mu.Unlock()
	c.queues.Push(task.Type, task.TaskID)
	c.indexTask(task)
	c.indexEvent(event)

	c.notifier.EventPromoted(ctx, event, task.TaskID)
	c.logger.EventPromoted(event.EventID, task.TaskID)
	c.RecordActivity(ctx, "info", "event promoted", func(l *fleet.AgentLog) {
		l.RelatedEventID = event.EventID
		l.RelatedTaskID = task.TaskID
	})
	return true
}

// monitorPass re-fetches every active task and event by id, dropping
// the vanished and the terminal, refreshing the rest. Completed tasks
// close out their related events. Caller holds passMu.
func (c *Coordinator) monitorPass(ctx context.Context) {
	c.mu.Lock()
	taskIDs := make([]string, 0, len(c.activeTasks))
	for id := range c.activeTasks {
		taskIDs = append(taskIDs, id)
	}
	eventIDs := make([]string, 0, len(c.activeEvents))
	for id := range c.activeEvents {
		eventIDs = append(eventIDs, id)
	}
	c.mu.Unlock()

	for _, id := range taskIDs {
		rec, err := c.st.FindByID(ctx, fleet.CollectionTasks, id)
		if errors.Is(err, store.ErrNotFound) {
			c.mu.Lock()
			delete(c.activeTasks, id)
			c.mu.Unlock()
			continue
		}
		if err != nil {
			continue
		}
		task, err := fleet.UnmarshalTask(rec.Data)
		if err != nil {
			continue
		}

		if !task.Status.Terminal() {
			c.mu.Lock()
			c.activeTasks[id] = task
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		delete(c.activeTasks, id)
		c.mu.Unlock()
		c.indexTask(task)

		switch task.Status {
		case fleet.TaskCompleted:
			c.notifier.TaskCompleted(ctx, task)
			c.RecordActivity(ctx, "info", "task completed", func(l *fleet.AgentLog) {
				l.RelatedTaskID = task.TaskID
			})
			c.resolveEvents(ctx, task)
		case fleet.TaskFailed:
			reason := "unknown"
			if r, ok := task.TaskData["failure_reason"].(string); ok && r != "" {
				reason = r
			}
			c.notifier.TaskFailed(ctx, task, reason)
			c.RecordActivity(ctx, "warn", "task failed", func(l *fleet.AgentLog) {
				l.RelatedTaskID = task.TaskID
				l.Context = map[string]any{"reason": reason}
			})
		}
	}

	for _, id := range eventIDs {
		rec, err := c.st.FindByID(ctx, fleet.CollectionEvents, id)
		if errors.Is(err, store.ErrNotFound) {
			c.mu.Lock()
			delete(c.activeEvents, id)
			c.mu.Unlock()
			continue
		}
		if err != nil {
			continue
		}
		event, err := fleet.UnmarshalEvent(rec.Data)
		if err != nil {
			continue
		}

		c.mu.Lock()
		if event.Status == fleet.EventResolved {
			delete(c.activeEvents, id)
		} else {
			c.activeEvents[id] = event
		}
		c.mu.Unlock()
	}
}

// resolveEvents flips every event related to a completed task to
// resolved, once all of the event's related tasks have completed.
// Tasks that no longer exist do not block resolution.
func (c *Coordinator) resolveEvents(ctx context.Context, task *fleet.Task) {
	for _, eventID := range task.RelatedEvents {
		rec, err := c.st.FindByID(ctx, fleet.CollectionEvents, eventID)
		if err != nil {
			continue
		}
		event, err := fleet.UnmarshalEvent(rec.Data)
		if err != nil || event.Status == fleet.EventResolved {
			continue
		}

		if !c.relatedTasksDone(ctx, event) {
			continue
		}

		now := time.Now().UTC()
		event.Status = fleet.EventResolved
		event.ResolvedAt = &now
		if err := c.saveEvent(ctx, rec, event); err != nil {
			c.logger.Error("persist resolved event failed", map[string]interface{}{
				"event_id": event.EventID,
				"error":    err.Error(),
			})
			continue
		}

		c.mu.Lock()
		delete(c.activeEvents, event.EventID)
		c.mu.Unlock()
		c.indexEvent(event)

		c.notifier.EventResolved(ctx, event)
		c.logger.Info("event resolved", map[string]interface{}{"event_id": event.EventID})
		c.RecordActivity(ctx, "info", "event resolved", func(l *fleet.AgentLog) {
			l.RelatedEventID = event.EventID
		})
	}
}

func (c *Coordinator) relatedTasksDone(ctx context.Context, event *fleet.Event) bool {
	for _, taskID := range event.RelatedTasks {
		rec, err := c.st.FindByID(ctx, fleet.CollectionTasks, taskID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return false
		}
		task, err := fleet.UnmarshalTask(rec.Data)
		if err != nil {
			return false
		}
		if task.Status != fleet.TaskCompleted {
			return false
		}
	}
	return true
}

// saveEvent persists an event, narrowing to a targeted field update on
// a revision conflict.
func (c *Coordinator) saveEvent(ctx context.Context, rec *store.Record, event *fleet.Event) error {
	doc, err := event.Marshal()
	if err != nil {
		return err
	}
	rec.Data = doc

	_, err = c.st.Save(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return err
	}

	fields := map[string]any{
		"status":        string(event.Status),
		"related_tasks": event.RelatedTasks,
	}
	if event.ResolvedAt != nil {
		fields["resolved_at"] = event.ResolvedAt
	}
	_, err = c.st.UpdateFields(ctx, fleet.CollectionEvents, event.EventID, fields)
	return err
}
