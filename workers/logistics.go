// Package workers holds the concrete worker agents: Logistics flies
// delivery tasks on drones, Response handles emergencies, and Monitor
// turns detections into events.
package workers

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skymind/fleetkit/agent"
	"github.com/skymind/fleetkit/bus"
	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/store"
)

// Logistics defaults.
const (
	// DefaultFlightDuration is the estimated completion window for a
	// delivery without its own estimate.
	DefaultFlightDuration = 30 * time.Minute

	// DefaultGracePeriod is how far past the estimated completion a
	// task may run before it is forced to failed.
	DefaultGracePeriod = 30 * time.Minute

	// DefaultBatteryPerDelivery is the battery percentage one
	// completed delivery costs the drone.
	DefaultBatteryPerDelivery = 15.0

	// minFlightBattery is the battery floor to dispatch a drone.
	minFlightBattery = 20.0
)

// LogisticsConfig configures a Logistics agent.
type LogisticsConfig struct {
	Agent agent.Config

	// FlightDuration overrides the default per-delivery estimate.
	FlightDuration time.Duration

	// GracePeriod overrides the timeout grace window.
	GracePeriod time.Duration

	// BatteryPerDelivery overrides the per-delivery battery cost.
	BatteryPerDelivery float64
}

// Logistics executes delivery tasks: it keeps an in-memory priority
// queue of assignments, dispatches an idle drone per task, completes
// the delivery when the estimated flight time elapses, and forces a
// stuck task to failed once the grace period runs out.
type Logistics struct {
	*agent.Base

	st                 store.Store
	flightDuration     time.Duration
	gracePeriod        time.Duration
	batteryPerDelivery float64

	mu      sync.Mutex
	backlog taskHeap
	current string
}

// NewLogistics creates a logistics worker.
func NewLogistics(cfg LogisticsConfig) (*Logistics, error) {
	if cfg.FlightDuration <= 0 {
		cfg.FlightDuration = DefaultFlightDuration
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.BatteryPerDelivery <= 0 {
		cfg.BatteryPerDelivery = DefaultBatteryPerDelivery
	}
	if cfg.Agent.Type == "" {
		cfg.Agent.Type = "logistics"
	}
	if cfg.Agent.Capabilities == nil {
		cfg.Agent.Capabilities = map[string]float64{
			fleet.CapLogistics:    0.9,
			fleet.CapDroneControl: 0.85,
			fleet.CapPathPlanning: 0.8,
		}
	}

	w := &Logistics{
		st:                 cfg.Agent.Store,
		flightDuration:     cfg.FlightDuration,
		gracePeriod:        cfg.GracePeriod,
		batteryPerDelivery: cfg.BatteryPerDelivery,
	}
	base, err := agent.New(cfg.Agent, w)
	if err != nil {
		return nil, err
	}
	w.Base = base
	return w, nil
}

// Backlog returns the number of queued deliveries.
func (w *Logistics) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// --- agent.Behavior ---

// HandleMessage queues assigned tasks and honors cancellations.
func (w *Logistics) HandleMessage(ctx context.Context, msg bus.Message) error {
	switch m := msg.(type) {
	case bus.TaskAssigned:
		if m.Task == nil || !m.Task.HasAgent(w.ID()) {
			return nil
		}
		w.mu.Lock()
		added := pushTask(&w.backlog, m.Task.Clone())
		w.mu.Unlock()
		if added {
			w.Logger().Info("delivery queued", map[string]interface{}{
				"task_id":  m.Task.TaskID,
				"priority": m.Task.Priority,
			})
		}
		return nil
	case bus.TaskCancelled:
		w.mu.Lock()
		removed := removeTask(&w.backlog, m.TaskID)
		isCurrent := w.current == m.TaskID
		w.mu.Unlock()
		if isCurrent {
			return w.abortCurrent(ctx, m.TaskID, "cancelled: "+m.Reason)
		}
		if removed {
			w.Logger().Info("delivery cancelled", map[string]interface{}{"task_id": m.TaskID})
		}
		return nil
	default:
		return nil
	}
}

// HandleQuery answers worker introspection.
func (w *Logistics) HandleQuery(ctx context.Context, q *bus.Query) bus.Response {
	switch q.Name {
	case "status":
		w.mu.Lock()
		backlog, current := len(w.backlog), w.current
		w.mu.Unlock()
		return bus.OK(map[string]any{
			"status":       string(w.Status()),
			"backlog":      backlog,
			"current_task": current,
		})
	default:
		return bus.Fail("unknown query: " + q.Name)
	}
}

// RunCycle advances the current delivery or starts the next one.
func (w *Logistics) RunCycle(ctx context.Context) error {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()

	if current != "" {
		return w.progressDelivery(ctx, current)
	}
	return w.startNextDelivery(ctx)
}

func (w *Logistics) startNextDelivery(ctx context.Context) error {
	w.mu.Lock()
	if len(w.backlog) == 0 {
		w.mu.Unlock()
		return nil
	}
	task := heap.Pop(&w.backlog).(*fleet.Task)
	w.mu.Unlock()

	// Re-read: the backlog copy may be stale.
	rec, err := w.st.FindByID(ctx, fleet.CollectionTasks, task.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		w.Logger().Warn("queued delivery vanished", map[string]interface{}{"task_id": task.TaskID})
		return nil
	}
	if err != nil {
		return ferrors.Wrap(err, "load delivery", ferrors.WithTaskID(task.TaskID))
	}
	fresh, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode delivery", ferrors.WithTaskID(task.TaskID))
	}
	if fresh.Status != fleet.TaskAssigned || !fresh.HasAgent(w.ID()) {
		return nil
	}

	drone, droneRec, err := pickIdleDrone(ctx, w.st, minFlightBattery)
	if err != nil {
		// No drone is backpressure, not failure: the task goes back on
		// the backlog for a later cycle.
		w.mu.Lock()
		pushTask(&w.backlog, fresh)
		w.mu.Unlock()
		w.Logger().Debug("no drone available", map[string]interface{}{"task_id": fresh.TaskID})
		return nil
	}

	now := time.Now().UTC()
	eta := now.Add(estimateDuration(fresh, w.flightDuration))

	if err := dispatchDrone(ctx, w.st, droneRec, drone, fresh.TaskID); err != nil {
		w.mu.Lock()
		pushTask(&w.backlog, fresh)
		w.mu.Unlock()
		return err
	}

	fresh.Status = fleet.TaskInProgress
	fresh.StartTime = &now
	if !hasString(fresh.AssignedDrones, drone.DroneID) {
		fresh.AssignedDrones = append(fresh.AssignedDrones, drone.DroneID)
	}
	if fresh.TaskData == nil {
		fresh.TaskData = make(map[string]any)
	}
	fresh.TaskData["estimated_completion"] = fleet.Timestamp(eta)
	if err := saveTaskRecord(ctx, w.st, rec, fresh, map[string]any{
		"status":          string(fleet.TaskInProgress),
		"start_time":      now,
		"assigned_drones": fresh.AssignedDrones,
		"task_data":       fresh.TaskData,
	}); err != nil {
		// The drone is already persisted as flying; ground it and put
		// the task back so neither is stranded by the failed dispatch.
		releaseDrone(ctx, w.st, w.Logger(), drone.DroneID, fresh.TaskID, 0)
		w.mu.Lock()
		pushTask(&w.backlog, fresh)
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.current = fresh.TaskID
	w.mu.Unlock()
	w.SetCurrentTask(ctx, fresh.TaskID)
	w.SetStatus(ctx, fleet.AgentBusy)

	w.Logger().Info("delivery started", map[string]interface{}{
		"task_id":  fresh.TaskID,
		"drone_id": drone.DroneID,
		"eta":      fleet.Timestamp(eta),
	})
	return nil
}

// progressDelivery completes the flight once the estimate elapses, or
// forces the task to failed once the grace period runs out.
func (w *Logistics) progressDelivery(ctx context.Context, taskID string) error {
	rec, err := w.st.FindByID(ctx, fleet.CollectionTasks, taskID)
	if errors.Is(err, store.ErrNotFound) {
		w.clearCurrent(ctx)
		return nil
	}
	if err != nil {
		return ferrors.Wrap(err, "load delivery", ferrors.WithTaskID(taskID))
	}
	task, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode delivery", ferrors.WithTaskID(taskID))
	}
	if task.Status != fleet.TaskInProgress {
		w.clearCurrent(ctx)
		return nil
	}

	now := time.Now().UTC()
	eta := estimatedCompletion(task, w.flightDuration)

	if now.After(eta.Add(w.gracePeriod)) {
		return w.failDelivery(ctx, rec, task, "exceeded estimated completion plus grace period")
	}
	if now.Before(eta) {
		return nil
	}

	// Complete only if the drone is still flying this task; a recalled
	// or grounded drone leaves the task to time out.
	droneID := flyingDrone(ctx, w.st, task)
	if droneID == "" {
		return nil
	}
	return w.completeDelivery(ctx, rec, task, droneID)
}

func (w *Logistics) completeDelivery(ctx context.Context, rec *store.Record, task *fleet.Task, droneID string) error {
	now := time.Now().UTC()
	task.Status = fleet.TaskCompleted
	task.EndTime = &now
	if task.TaskData == nil {
		task.TaskData = make(map[string]any)
	}
	task.TaskData["result"] = "delivered"
	if err := saveTaskRecord(ctx, w.st, rec, task, map[string]any{
		"status":    string(fleet.TaskCompleted),
		"end_time":  now,
		"task_data": task.TaskData,
	}); err != nil {
		return err
	}

	releaseDrone(ctx, w.st, w.Logger(), droneID, task.TaskID, w.batteryPerDelivery)
	w.clearCurrent(ctx)
	w.Logger().TaskCompleted(task.TaskID, now.Sub(task.CreatedAt))
	return nil
}

func (w *Logistics) failDelivery(ctx context.Context, rec *store.Record, task *fleet.Task, reason string) error {
	now := time.Now().UTC()
	task.Status = fleet.TaskFailed
	task.EndTime = &now
	if task.TaskData == nil {
		task.TaskData = make(map[string]any)
	}
	task.TaskData["failure_reason"] = reason
	if err := saveTaskRecord(ctx, w.st, rec, task, map[string]any{
		"status":    string(fleet.TaskFailed),
		"end_time":  now,
		"task_data": task.TaskData,
	}); err != nil {
		return err
	}

	for _, droneID := range task.AssignedDrones {
		releaseDrone(ctx, w.st, w.Logger(), droneID, task.TaskID, 0)
	}
	w.clearCurrent(ctx)
	w.Logger().TaskFailed(task.TaskID, reason)
	return nil
}

func (w *Logistics) abortCurrent(ctx context.Context, taskID, reason string) error {
	rec, err := w.st.FindByID(ctx, fleet.CollectionTasks, taskID)
	if err != nil {
		w.clearCurrent(ctx)
		return nil
	}
	task, err := fleet.UnmarshalTask(rec.Data)
	if err != nil || task.Status.Terminal() {
		w.clearCurrent(ctx)
		return nil
	}
	return w.failDelivery(ctx, rec, task, reason)
}

func (w *Logistics) clearCurrent(ctx context.Context) {
	w.mu.Lock()
	w.current = ""
	w.mu.Unlock()
	w.SetCurrentTask(ctx, "")
	w.SetStatus(ctx, fleet.AgentActive)
}
