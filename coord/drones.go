package coord

import (
	"context"
	"errors"
	"time"

	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/notify"
	"github.com/skymind/fleetkit/store"
)

// Drone command side channel. Each command validates preconditions
// against a fresh store read, mutates drone (and task) state, and hands
// control to the notifier. The coordinator's obligation ends at "state
// mutated, handler notified".

// StartTask dispatches an idle drone onto an assigned task. The drone
// goes flying, the task goes in_progress with its start time set.
func (c *Coordinator) StartTask(ctx context.Context, droneID, taskID string) error {
	droneRec, drone, err := c.loadDrone(ctx, droneID)
	if err != nil {
		return err
	}
	if !drone.Available(minDispatchBattery) {
		return ferrors.DroneUnavailable(taskID,
			ferrors.WithMetadata("drone_id", droneID),
			ferrors.WithMetadata("drone_status", string(drone.Status)))
	}

	taskRec, err := c.st.FindByID(ctx, fleet.CollectionTasks, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return ferrors.NotFound("task not found: "+taskID, ferrors.WithTaskID(taskID))
	}
	if err != nil {
		return ferrors.Wrap(err, "load task", ferrors.WithTaskID(taskID))
	}
	task, err := fleet.UnmarshalTask(taskRec.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode task", ferrors.WithTaskID(taskID))
	}
	if task.Status != fleet.TaskAssigned && task.Status != fleet.TaskPending {
		return ferrors.Conflict("task not startable: "+string(task.Status), ferrors.WithTaskID(taskID))
	}

	now := time.Now().UTC()
	drone.Status = fleet.DroneFlying
	if !drone.HasTask(taskID) {
		drone.AssignedTasks = append(drone.AssignedTasks, taskID)
	}
	drone.UpdatedAt = now
	if err := c.saveDrone(ctx, droneRec, drone); err != nil {
		return err
	}

	task.Status = fleet.TaskInProgress
	task.StartTime = &now
	if !hasString(task.AssignedDrones, droneID) {
		task.AssignedDrones = append(task.AssignedDrones, droneID)
	}
	if err := c.saveTaskTransition(ctx, taskRec, task, map[string]any{
		"status":          string(fleet.TaskInProgress),
		"start_time":      now,
		"assigned_drones": task.AssignedDrones,
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.activeTasks[task.TaskID] = task
	c.mu.Unlock()

	return c.notifier.DroneCommand(ctx, droneID, notify.CommandStartTask, map[string]any{
		"task_id": taskID,
	})
}

// ReturnHome recalls a flying drone. The drone lands idle; any task it
// was flying keeps its own lifecycle.
func (c *Coordinator) ReturnHome(ctx context.Context, droneID string) error {
	rec, drone, err := c.loadDrone(ctx, droneID)
	if err != nil {
		return err
	}
	if drone.Status != fleet.DroneFlying {
		return ferrors.Conflict("drone not flying: " + string(drone.Status))
	}

	drone.Status = fleet.DroneIdle
	drone.UpdatedAt = time.Now().UTC()
	if err := c.saveDrone(ctx, rec, drone); err != nil {
		return err
	}
	return c.notifier.DroneCommand(ctx, droneID, notify.CommandReturnHome, nil)
}

// EmergencyLand grounds a drone immediately and parks it in
// maintenance until an operator clears it.
func (c *Coordinator) EmergencyLand(ctx context.Context, droneID string) error {
	rec, drone, err := c.loadDrone(ctx, droneID)
	if err != nil {
		return err
	}
	if drone.Status == fleet.DroneOffline {
		return ferrors.Conflict("drone offline: " + droneID)
	}

	drone.Status = fleet.DroneMaintenance
	drone.UpdatedAt = time.Now().UTC()
	if err := c.saveDrone(ctx, rec, drone); err != nil {
		return err
	}
	return c.notifier.DroneCommand(ctx, droneID, notify.CommandEmergencyLand, nil)
}

func (c *Coordinator) loadDrone(ctx context.Context, droneID string) (*store.Record, *fleet.DroneState, error) {
	rec, err := c.st.FindByID(ctx, fleet.CollectionDrones, droneID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ferrors.NotFound("drone not found: " + droneID)
	}
	if err != nil {
		return nil, nil, ferrors.Wrap(err, "load drone")
	}
	drone, err := fleet.UnmarshalDrone(rec.Data)
	if err != nil {
		return nil, nil, ferrors.Wrap(err, "decode drone")
	}
	return rec, drone, nil
}

func (c *Coordinator) saveDrone(ctx context.Context, rec *store.Record, drone *fleet.DroneState) error {
	doc, err := drone.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal drone")
	}
	rec.Data = doc

	_, err = c.st.Save(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return ferrors.Wrap(err, "save drone")
	}

	_, err = c.st.UpdateFields(ctx, fleet.CollectionDrones, drone.DroneID, map[string]any{
		"status":         string(drone.Status),
		"assigned_tasks": drone.AssignedTasks,
		"updated_at":     drone.UpdatedAt,
	})
	if err != nil {
		return ferrors.Wrap(err, "update drone after conflict")
	}
	return nil
}

func (c *Coordinator) saveTaskTransition(ctx context.Context, rec *store.Record, task *fleet.Task, narrow map[string]any) error {
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
		return ferrors.Wrap(err, "save task", ferrors.WithTaskID(task.TaskID))
	}

	if _, err := c.st.UpdateFields(ctx, fleet.CollectionTasks, task.TaskID, narrow); err != nil {
		return ferrors.Wrap(err, "update task after conflict", ferrors.WithTaskID(task.TaskID))
	}
	return nil
}

func hasString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
