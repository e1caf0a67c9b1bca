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

// Response defaults.
const (
	// DefaultResponseDuration is the estimated on-scene window for an
	// emergency without its own estimate.
	DefaultResponseDuration = 15 * time.Minute

	// DefaultResponseGrace is how far past the estimate a response may
	// run before it is forced to failed.
	DefaultResponseGrace = 30 * time.Minute

	// DefaultBatteryPerResponse is the battery cost of one drone
	// dispatch to an emergency scene.
	DefaultBatteryPerResponse = 10.0
)

// Response modes recorded in the task data.
const (
	responseModeDrone  = "drone"
	responseModeGround = "ground"
)

// ResponseConfig configures a Response agent.
type ResponseConfig struct {
	Agent agent.Config

	// ResponseDuration overrides the default on-scene estimate.
	ResponseDuration time.Duration

	// GracePeriod overrides the timeout grace window.
	GracePeriod time.Duration

	// BatteryPerResponse overrides the per-dispatch battery cost.
	BatteryPerResponse float64
}

// Response executes emergency tasks. Unlike a delivery, an emergency
// never waits on fleet availability: when an idle drone is on hand it
// flies to the scene, otherwise the response proceeds as a ground-team
// dispatch and the task still runs to completion.
type Response struct {
	*agent.Base

	st                 store.Store
	responseDuration   time.Duration
	gracePeriod        time.Duration
	batteryPerResponse float64

	mu      sync.Mutex
	backlog taskHeap
	current string
}

// NewResponse creates an emergency response worker.
func NewResponse(cfg ResponseConfig) (*Response, error) {
	if cfg.ResponseDuration <= 0 {
		cfg.ResponseDuration = DefaultResponseDuration
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultResponseGrace
	}
	if cfg.BatteryPerResponse <= 0 {
		cfg.BatteryPerResponse = DefaultBatteryPerResponse
	}
	if cfg.Agent.Type == "" {
		cfg.Agent.Type = "response"
	}
	if cfg.Agent.Capabilities == nil {
		cfg.Agent.Capabilities = map[string]float64{
			fleet.CapEmergencyResponse: 0.95,
			fleet.CapDroneControl:      0.85,
			fleet.CapPathPlanning:      0.75,
			fleet.CapObjectDetection:   0.6,
		}
	}

	w := &Response{
		st:                 cfg.Agent.Store,
		responseDuration:   cfg.ResponseDuration,
		gracePeriod:        cfg.GracePeriod,
		batteryPerResponse: cfg.BatteryPerResponse,
	}
	base, err := agent.New(cfg.Agent, w)
	if err != nil {
		return nil, err
	}
	w.Base = base
	return w, nil
}

// Backlog returns the number of queued emergencies.
func (w *Response) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// --- agent.Behavior ---

// HandleMessage queues assigned emergencies and honors cancellations.
func (w *Response) HandleMessage(ctx context.Context, msg bus.Message) error {
	switch m := msg.(type) {
	case bus.TaskAssigned:
		if m.Task == nil || !m.Task.HasAgent(w.ID()) {
			return nil
		}
		w.mu.Lock()
		added := pushTask(&w.backlog, m.Task.Clone())
		w.mu.Unlock()
		if added {
			w.Logger().Info("emergency queued", map[string]interface{}{
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
			w.Logger().Info("emergency cancelled", map[string]interface{}{"task_id": m.TaskID})
		}
		return nil
	default:
		return nil
	}
}

// HandleQuery answers worker introspection.
func (w *Response) HandleQuery(ctx context.Context, q *bus.Query) bus.Response {
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

// RunCycle advances the active response or starts the next one.
func (w *Response) RunCycle(ctx context.Context) error {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()

	if current != "" {
		return w.progressResponse(ctx, current)
	}
	return w.startNextResponse(ctx)
}

func (w *Response) startNextResponse(ctx context.Context) error {
	w.mu.Lock()
	if len(w.backlog) == 0 {
		w.mu.Unlock()
		return nil
	}
	task := heap.Pop(&w.backlog).(*fleet.Task)
	w.mu.Unlock()

	rec, err := w.st.FindByID(ctx, fleet.CollectionTasks, task.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		w.Logger().Warn("queued emergency vanished", map[string]interface{}{"task_id": task.TaskID})
		return nil
	}
	if err != nil {
		return ferrors.Wrap(err, "load emergency", ferrors.WithTaskID(task.TaskID))
	}
	fresh, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode emergency", ferrors.WithTaskID(task.TaskID))
	}
	if fresh.Status != fleet.TaskAssigned || !fresh.HasAgent(w.ID()) {
		return nil
	}

	now := time.Now().UTC()
	eta := now.Add(estimateDuration(fresh, w.responseDuration))

	// Best effort drone dispatch. An emergency proceeds as a ground
	// response when no drone is fit to fly.
	mode := responseModeGround
	var droneID string
	if drone, droneRec, err := pickIdleDrone(ctx, w.st, minFlightBattery); err == nil {
		if err := dispatchDrone(ctx, w.st, droneRec, drone, fresh.TaskID); err != nil {
			w.Logger().Warn("drone dispatch failed, responding on the ground", map[string]interface{}{
				"task_id":  fresh.TaskID,
				"drone_id": drone.DroneID,
				"error":    err.Error(),
			})
		} else {
			mode = responseModeDrone
			droneID = drone.DroneID
		}
	}

	fresh.Status = fleet.TaskInProgress
	fresh.StartTime = &now
	if droneID != "" && !hasString(fresh.AssignedDrones, droneID) {
		fresh.AssignedDrones = append(fresh.AssignedDrones, droneID)
	}
	if fresh.TaskData == nil {
		fresh.TaskData = make(map[string]any)
	}
	fresh.TaskData["estimated_completion"] = fleet.Timestamp(eta)
	fresh.TaskData["response_mode"] = mode
	if err := saveTaskRecord(ctx, w.st, rec, fresh, map[string]any{
		"status":          string(fleet.TaskInProgress),
		"start_time":      now,
		"assigned_drones": fresh.AssignedDrones,
		"task_data":       fresh.TaskData,
	}); err != nil {
		if droneID != "" {
			releaseDrone(ctx, w.st, w.Logger(), droneID, fresh.TaskID, 0)
		}
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

	w.Logger().Info("response started", map[string]interface{}{
		"task_id": fresh.TaskID,
		"mode":    mode,
		"eta":     fleet.Timestamp(eta),
	})
	return nil
}

// progressResponse resolves the emergency once the estimate elapses,
// or forces the task to failed once the grace period runs out.
func (w *Response) progressResponse(ctx context.Context, taskID string) error {
	rec, err := w.st.FindByID(ctx, fleet.CollectionTasks, taskID)
	if errors.Is(err, store.ErrNotFound) {
		w.clearCurrent(ctx)
		return nil
	}
	if err != nil {
		return ferrors.Wrap(err, "load emergency", ferrors.WithTaskID(taskID))
	}
	task, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		return ferrors.Wrap(err, "decode emergency", ferrors.WithTaskID(taskID))
	}
	if task.Status != fleet.TaskInProgress {
		w.clearCurrent(ctx)
		return nil
	}

	now := time.Now().UTC()
	eta := estimatedCompletion(task, w.responseDuration)

	if now.After(eta.Add(w.gracePeriod)) {
		return w.failResponse(ctx, rec, task, "exceeded estimated completion plus grace period")
	}
	if now.Before(eta) {
		return nil
	}

	// A ground response completes on schedule. A drone response only
	// completes while its drone is still on the task; a recalled drone
	// leaves the emergency to time out.
	if mode, _ := task.TaskData["response_mode"].(string); mode == responseModeDrone {
		if flyingDrone(ctx, w.st, task) == "" {
			return nil
		}
	}
	return w.completeResponse(ctx, rec, task)
}

func (w *Response) completeResponse(ctx context.Context, rec *store.Record, task *fleet.Task) error {
	now := time.Now().UTC()
	task.Status = fleet.TaskCompleted
	task.EndTime = &now
	if task.TaskData == nil {
		task.TaskData = make(map[string]any)
	}
	task.TaskData["result"] = "resolved"
	if err := saveTaskRecord(ctx, w.st, rec, task, map[string]any{
		"status":    string(fleet.TaskCompleted),
		"end_time":  now,
		"task_data": task.TaskData,
	}); err != nil {
		return err
	}

	for _, droneID := range task.AssignedDrones {
		releaseDrone(ctx, w.st, w.Logger(), droneID, task.TaskID, w.batteryPerResponse)
	}
	w.clearCurrent(ctx)
	w.Logger().TaskCompleted(task.TaskID, now.Sub(task.CreatedAt))
	return nil
}

func (w *Response) failResponse(ctx context.Context, rec *store.Record, task *fleet.Task, reason string) error {
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

func (w *Response) abortCurrent(ctx context.Context, taskID, reason string) error {
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
	return w.failResponse(ctx, rec, task, reason)
}

func (w *Response) clearCurrent(ctx context.Context) {
	w.mu.Lock()
	w.current = ""
	w.mu.Unlock()
	w.SetCurrentTask(ctx, "")
	w.SetStatus(ctx, fleet.AgentActive)
}
