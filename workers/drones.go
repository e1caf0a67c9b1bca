package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/store"
)

// Shared drone and task persistence used by the worker agents. All
// writes go through Save with the narrow UpdateFields retry on
// revision conflict, matching the coordinator's write discipline.

// pickIdleDrone returns the idle drone with the most battery above the
// given floor.
func pickIdleDrone(ctx context.Context, st store.Store, minBattery float64) (*fleet.DroneState, *store.Record, error) {
	recs, err := st.Find(ctx, fleet.CollectionDrones, store.Filter{
		"status": string(fleet.DroneIdle),
	})
	if err != nil {
		return nil, nil, ferrors.Wrap(err, "list drones")
	}

	var best *fleet.DroneState
	var bestRec *store.Record
	for _, rec := range recs {
		drone, err := fleet.UnmarshalDrone(rec.Data)
		if err != nil || !drone.Available(minBattery) {
			continue
		}
		if best == nil || drone.BatteryLevel > best.BatteryLevel {
			best = drone
			bestRec = rec
		}
	}
	if best == nil {
		return nil, nil, ferrors.DroneUnavailable("")
	}
	return best, bestRec, nil
}

// dispatchDrone marks a drone as flying the given task and persists it.
func dispatchDrone(ctx context.Context, st store.Store, rec *store.Record, drone *fleet.DroneState, taskID string) error {
	drone.Status = fleet.DroneFlying
	if !drone.HasTask(taskID) {
		drone.AssignedTasks = append(drone.AssignedTasks, taskID)
	}
	drone.UpdatedAt = time.Now().UTC()
	return saveDroneRecord(ctx, st, rec, drone)
}

// flyingDrone returns the assigned drone still flying this task.
func flyingDrone(ctx context.Context, st store.Store, task *fleet.Task) string {
	for _, droneID := range task.AssignedDrones {
		rec, err := st.FindByID(ctx, fleet.CollectionDrones, droneID)
		if err != nil {
			continue
		}
		drone, err := fleet.UnmarshalDrone(rec.Data)
		if err != nil {
			continue
		}
		if drone.Status == fleet.DroneFlying && drone.HasTask(task.TaskID) {
			return droneID
		}
	}
	return ""
}

// releaseDrone returns a drone to idle, drops the task from its list,
// and drains the given battery cost.
func releaseDrone(ctx context.Context, st store.Store, logger *logging.Logger, droneID, taskID string, batteryCost float64) {
	rec, err := st.FindByID(ctx, fleet.CollectionDrones, droneID)
	if err != nil {
		return
	}
	drone, err := fleet.UnmarshalDrone(rec.Data)
	if err != nil {
		return
	}

	drone.Status = fleet.DroneIdle
	drone.AssignedTasks = drone.WithoutTask(taskID)
	drone.BatteryLevel -= batteryCost
	if drone.BatteryLevel < 0 {
		drone.BatteryLevel = 0
	}
	drone.UpdatedAt = time.Now().UTC()

	if err := saveDroneRecord(ctx, st, rec, drone); err != nil {
		logger.Warn("release drone failed", map[string]interface{}{
			"drone_id": droneID,
			"error":    err.Error(),
		})
	}
}

func saveDroneRecord(ctx context.Context, st store.Store, rec *store.Record, drone *fleet.DroneState) error {
	doc, err := drone.Marshal()
	if err != nil {
		return fmt.Errorf("marshal drone: %w", err)
	}
	rec.Data = doc

	_, err = st.Save(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("save drone: %w", err)
	}
	_, err = st.UpdateFields(ctx, fleet.CollectionDrones, drone.DroneID, map[string]any{
		"status":         string(drone.Status),
		"assigned_tasks": drone.AssignedTasks,
		"battery_level":  drone.BatteryLevel,
		"updated_at":     drone.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update drone after conflict: %w", err)
	}
	return nil
}

func saveTaskRecord(ctx context.Context, st store.Store, rec *store.Record, task *fleet.Task, narrow map[string]any) error {
	doc, err := task.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal task", ferrors.WithTaskID(task.TaskID))
	}
	rec.Data = doc

	_, err = st.Save(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return ferrors.Wrap(err, "save task", ferrors.WithTaskID(task.TaskID))
	}
	if _, err := st.UpdateFields(ctx, fleet.CollectionTasks, task.TaskID, narrow); err != nil {
		return ferrors.Wrap(err, "update task after conflict", ferrors.WithTaskID(task.TaskID))
	}
	return nil
}

// estimateDuration reads the task's own duration estimate, falling back
// to the worker default.
func estimateDuration(task *fleet.Task, fallback time.Duration) time.Duration {
	if task.TaskData != nil {
		if mins, ok := toFloat(task.TaskData["estimated_duration_minutes"]); ok && mins > 0 {
			return time.Duration(mins * float64(time.Minute))
		}
	}
	return fallback
}

// estimatedCompletion reads the recorded completion estimate, falling
// back to start (or creation) plus the worker default.
func estimatedCompletion(task *fleet.Task, fallback time.Duration) time.Time {
	if task.TaskData != nil {
		if s, ok := task.TaskData["estimated_completion"].(string); ok {
			if eta, err := time.Parse(time.RFC3339, s); err == nil {
				return eta
			}
		}
	}
	if task.StartTime != nil {
		return task.StartTime.Add(fallback)
	}
	return task.CreatedAt.Add(fallback)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func hasString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
