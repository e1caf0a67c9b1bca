package workers

import (
	"container/heap"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/skymind/fleetkit/agent"
	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/registry"
	"github.com/skymind/fleetkit/store"
)

// --- Test Helpers ---

func testAgentConfig(t *testing.T, id string) agent.Config {
	t.Helper()
	logger := logging.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	reg := registry.New()
	t.Cleanup(func() {
		reg.Close()
		st.Close()
	})
	return agent.Config{
		ID:       id,
		Store:    st,
		Registry: reg,
		Logger:   logger,
	}
}

func insertTask(t *testing.T, st store.Store, task *fleet.Task) *store.Record {
	t.Helper()
	doc, err := task.Marshal()
	if err != nil {
		t.Fatalf("marshal task failed: %v", err)
	}
	rec, err := st.Insert(context.Background(), fleet.CollectionTasks, task.TaskID, doc)
	if err != nil {
		t.Fatalf("insert task failed: %v", err)
	}
	return rec
}

func insertDrone(t *testing.T, st store.Store, drone *fleet.DroneState) {
	t.Helper()
	doc, err := drone.Marshal()
	if err != nil {
		t.Fatalf("marshal drone failed: %v", err)
	}
	if _, err := st.Insert(context.Background(), fleet.CollectionDrones, drone.DroneID, doc); err != nil {
		t.Fatalf("insert drone failed: %v", err)
	}
}

func loadTask(t *testing.T, st store.Store, id string) *fleet.Task {
	t.Helper()
	rec, err := st.FindByID(context.Background(), fleet.CollectionTasks, id)
	if err != nil {
		t.Fatalf("load task failed: %v", err)
	}
	task, err := fleet.UnmarshalTask(rec.Data)
	if err != nil {
		t.Fatalf("decode task failed: %v", err)
	}
	return task
}

func loadDrone(t *testing.T, st store.Store, id string) *fleet.DroneState {
	t.Helper()
	rec, err := st.FindByID(context.Background(), fleet.CollectionDrones, id)
	if err != nil {
		t.Fatalf("load drone failed: %v", err)
	}
	drone, err := fleet.UnmarshalDrone(rec.Data)
	if err != nil {
		t.Fatalf("decode drone failed: %v", err)
	}
	return drone
}

// assignedDelivery creates an assigned delivery task owned by agentID.
func assignedDelivery(agentID string, priority int) *fleet.Task {
	task := fleet.NewTask("parcel run", fleet.TaskDelivery, priority)
	task.AssignAgents([]string{agentID})
	return task
}

// --- Unit Tests ---

func TestTaskHeapOrdering(t *testing.T) {
	low := fleet.NewTask("low", fleet.TaskDelivery, 2)
	mid := fleet.NewTask("mid", fleet.TaskDelivery, 5)
	high := fleet.NewTask("high", fleet.TaskDelivery, 9)

	var h taskHeap
	for _, task := range []*fleet.Task{mid, low, high} {
		pushTask(&h, task)
	}

	want := []string{"high", "mid", "low"}
	for i, title := range want {
		got := heap.Pop(&h).(*fleet.Task)
		if got.Title != title {
			t.Errorf("pop %d = %s, want %s", i, got.Title, title)
		}
	}
}

func TestTaskHeapDedupeAndRemove(t *testing.T) {
	task := fleet.NewTask("only", fleet.TaskDelivery, 5)

	var h taskHeap
	if !pushTask(&h, task) {
		t.Fatal("first push rejected")
	}
	if pushTask(&h, task) {
		t.Error("duplicate push accepted")
	}
	if !removeTask(&h, task.TaskID) {
		t.Error("remove missed queued task")
	}
	if removeTask(&h, task.TaskID) {
		t.Error("remove found absent task")
	}
}

func TestLogisticsQueuesAssignedTasks(t *testing.T) {
	cfg := testAgentConfig(t, "logi-1")
	w, err := NewLogistics(LogisticsConfig{Agent: cfg})
	if err != nil {
		t.Fatalf("NewLogistics failed: %v", err)
	}
	ctx := context.Background()

	mine := assignedDelivery("logi-1", 5)
	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: mine}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if w.Backlog() != 1 {
		t.Errorf("backlog = %d, want 1", w.Backlog())
	}

	// Tasks assigned to someone else are ignored.
	other := assignedDelivery("logi-2", 5)
	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: other}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if w.Backlog() != 1 {
		t.Errorf("backlog after foreign task = %d, want 1", w.Backlog())
	}

	// Duplicates are ignored.
	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: mine}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if w.Backlog() != 1 {
		t.Errorf("backlog after duplicate = %d, want 1", w.Backlog())
	}
}

func TestLogisticsDeliveryLifecycle(t *testing.T) {
	cfg := testAgentConfig(t, "logi-1")
	w, err := NewLogistics(LogisticsConfig{
		Agent:          cfg,
		FlightDuration: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLogistics failed: %v", err)
	}
	ctx := context.Background()

	task := assignedDelivery("logi-1", 7)
	insertTask(t, cfg.Store, task)
	drone := fleet.NewDrone("hawk-1")
	insertDrone(t, cfg.Store, drone)

	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: task}); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	// First cycle dispatches the drone.
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("dispatch cycle failed: %v", err)
	}
	started := loadTask(t, cfg.Store, task.TaskID)
	if started.Status != fleet.TaskInProgress || started.StartTime == nil {
		t.Fatalf("after dispatch: status %s, start %v", started.Status, started.StartTime)
	}
	if _, ok := started.TaskData["estimated_completion"]; !ok {
		t.Error("estimated_completion not recorded")
	}
	flying := loadDrone(t, cfg.Store, drone.DroneID)
	if flying.Status != fleet.DroneFlying || !flying.HasTask(task.TaskID) {
		t.Errorf("drone after dispatch = %+v", flying)
	}

	// Second cycle, after the flight window, completes the delivery.
	time.Sleep(20 * time.Millisecond)
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("completion cycle failed: %v", err)
	}

	done := loadTask(t, cfg.Store, task.TaskID)
	if done.Status != fleet.TaskCompleted || done.EndTime == nil {
		t.Fatalf("after completion: status %s, end %v", done.Status, done.EndTime)
	}
	if done.TaskData["result"] != "delivered" {
		t.Errorf("result = %v", done.TaskData["result"])
	}

	released := loadDrone(t, cfg.Store, drone.DroneID)
	if released.Status != fleet.DroneIdle {
		t.Errorf("drone status = %s, want idle", released.Status)
	}
	if released.HasTask(task.TaskID) {
		t.Error("drone still holds completed task")
	}
	if released.BatteryLevel != 100-DefaultBatteryPerDelivery {
		t.Errorf("battery = %v, want %v", released.BatteryLevel, 100-DefaultBatteryPerDelivery)
	}
	if w.CurrentTask() != "" {
		t.Errorf("current task = %q, want empty", w.CurrentTask())
	}
}

func TestLogisticsGraceTimeout(t *testing.T) {
	cfg := testAgentConfig(t, "logi-1")
	w, err := NewLogistics(LogisticsConfig{
		Agent:          cfg,
		FlightDuration: time.Millisecond,
		GracePeriod:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLogistics failed: %v", err)
	}
	ctx := context.Background()

	task := assignedDelivery("logi-1", 7)
	insertTask(t, cfg.Store, task)
	drone := fleet.NewDrone("hawk-1")
	insertDrone(t, cfg.Store, drone)

	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: task}); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("dispatch cycle failed: %v", err)
	}

	// Ground the drone so the delivery can never complete.
	rec, _ := cfg.Store.FindByID(ctx, fleet.CollectionDrones, drone.DroneID)
	grounded, _ := fleet.UnmarshalDrone(rec.Data)
	grounded.Status = fleet.DroneMaintenance
	doc, _ := grounded.Marshal()
	rec.Data = doc
	if _, err := cfg.Store.Save(ctx, rec); err != nil {
		t.Fatalf("ground drone failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("timeout cycle failed: %v", err)
	}

	failed := loadTask(t, cfg.Store, task.TaskID)
	if failed.Status != fleet.TaskFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	reason, _ := failed.TaskData["failure_reason"].(string)
	if reason == "" {
		t.Error("failure_reason not recorded")
	}

	released := loadDrone(t, cfg.Store, drone.DroneID)
	if released.HasTask(task.TaskID) {
		t.Error("drone still holds failed task")
	}
	if w.CurrentTask() != "" {
		t.Errorf("current task = %q, want empty", w.CurrentTask())
	}
}

func TestLogisticsNoDroneIsBackpressure(t *testing.T) {
	cfg := testAgentConfig(t, "logi-1")
	w, err := NewLogistics(LogisticsConfig{Agent: cfg})
	if err != nil {
		t.Fatalf("NewLogistics failed: %v", err)
	}
	ctx := context.Background()

	task := assignedDelivery("logi-1", 7)
	insertTask(t, cfg.Store, task)

	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: task}); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if got := loadTask(t, cfg.Store, task.TaskID).Status; got != fleet.TaskAssigned {
		t.Errorf("status = %s, want assigned (untouched)", got)
	}
	if w.Backlog() != 1 {
		t.Errorf("backlog = %d, want 1 (kept for next cycle)", w.Backlog())
	}
}

func TestLogisticsCancellation(t *testing.T) {
	cfg := testAgentConfig(t, "logi-1")
	w, err := NewLogistics(LogisticsConfig{Agent: cfg})
	if err != nil {
		t.Fatalf("NewLogistics failed: %v", err)
	}
	ctx := context.Background()

	task := assignedDelivery("logi-1", 7)
	insertTask(t, cfg.Store, task)
	insertDrone(t, cfg.Store, fleet.NewDrone("hawk-1"))

	if err := w.HandleMessage(ctx, bus.TaskAssigned{Task: task}); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if err := w.RunCycle(ctx); err != nil {
		t.Fatalf("dispatch cycle failed: %v", err)
	}

	if err := w.HandleMessage(ctx, bus.TaskCancelled{TaskID: task.TaskID, Reason: "operator abort"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	cancelled := loadTask(t, cfg.Store, task.TaskID)
	if cancelled.Status != fleet.TaskFailed {
		t.Errorf("status = %s, want failed", cancelled.Status)
	}
	if w.CurrentTask() != "" {
		t.Errorf("current task = %q, want empty", w.CurrentTask())
	}
}

// coordinatorStub is a registry handle recording forwarded messages.
type coordinatorStub struct {
	mu       sync.Mutex
	received []bus.Message
}

func (s *coordinatorStub) ID() string                       { return "coordinator" }
func (s *coordinatorStub) Type() string                     { return "coordinator" }
func (s *coordinatorStub) Status() fleet.AgentStatus        { return fleet.AgentActive }
func (s *coordinatorStub) Capabilities() map[string]float64 { return nil }

func (s *coordinatorStub) Post(msg bus.Message) error {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
	return nil
}

func (s *coordinatorStub) Received() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.Message, len(s.received))
	copy(out, s.received)
	return out
}

func TestMonitorForwardsDetections(t *testing.T) {
	cfg := testAgentConfig(t, "mon-1")

	sink := &coordinatorStub{}
	if err := cfg.Registry.Register(sink); err != nil {
		t.Fatalf("register sink failed: %v", err)
	}

	seen := fleet.NewEvent("smoke plume", fleet.EventAnomaly, fleet.LevelHigh)
	m, err := NewMonitor(MonitorConfig{
		Agent:     cfg,
		Detectors: []Detector{NewScriptedDetector(seen)},
	})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	ctx := context.Background()
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	// The exhausted detector stays quiet on later cycles.
	if err := m.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}

	got := sink.Received()
	if len(got) != 1 {
		t.Fatalf("coordinator received %d messages, want 1", len(got))
	}
	fwd, ok := got[0].(bus.NewEvent)
	if !ok || fwd.Event.EventID != seen.EventID {
		t.Errorf("forwarded = %#v", got[0])
	}
	if fwd.Event.DetectedBy != "mon-1" {
		t.Errorf("detected_by = %q, want mon-1", fwd.Event.DetectedBy)
	}
}

func TestMonitorWithoutCoordinator(t *testing.T) {
	cfg := testAgentConfig(t, "mon-1")
	m, err := NewMonitor(MonitorConfig{
		Agent:     cfg,
		Detectors: []Detector{NewScriptedDetector(fleet.NewEvent("x", fleet.EventSystem, fleet.LevelLow))},
	})
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	// No coordinator registered: the event is dropped, not an error.
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
}
