// Package coord runs the coordinator: the singleton agent that owns the
// per-type task queues, the assignment engine, the lifecycle monitor,
// and the drone command side channel. All queue and cache state is
// advisory; the store copy of every document is re-read before a
// mutating decision.
package coord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skymind/fleetkit/agent"
	"github.com/skymind/fleetkit/assign"
	"github.com/skymind/fleetkit/bus"
	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/notify"
	"github.com/skymind/fleetkit/registry"
	"github.com/skymind/fleetkit/search"
	"github.com/skymind/fleetkit/store"
	"github.com/skymind/fleetkit/telemetry"
)

// DefaultAgentID is the coordinator's registry id.
const DefaultAgentID = "coordinator"

// DefaultMaxAgentsPerTask caps how many agents one task gets.
const DefaultMaxAgentsPerTask = 5

// minDispatchBattery is the battery floor for a drone to accept work.
const minDispatchBattery = 20.0

// ErrInvalidConfig reports a missing required Config field.
var ErrInvalidConfig = errors.New("invalid coordinator config")

// errTaskStale marks a task that left pending while an assignment was
// in flight. The pass drops it instead of requeueing.
var errTaskStale = errors.New("task no longer pending")

// Config configures a Coordinator.
type Config struct {
	// AgentID overrides the registry id. Default "coordinator".
	AgentID string

	// CycleInterval is the pause between coordination passes. Default 5s.
	CycleInterval time.Duration

	// ErrorBackoff is the pause after a failed pass. Default 5s.
	ErrorBackoff time.Duration

	// QueryTimeout bounds outbound inter-agent queries. Default 30s.
	QueryTimeout time.Duration

	// MaxAgentsPerTask caps one task's assignment size. Default 5.
	MaxAgentsPerTask int

	// Store is the document store. Required.
	Store store.Store

	// Registry is the live agent directory. Required.
	Registry *registry.Registry

	// Logger receives console logs. Required.
	Logger *logging.Logger

	// Sink, when set, also persists coordinator logs to the store.
	Sink *logging.Sink

	// Selector picks agents for tasks. Default assign.Greedy.
	Selector assign.Selector

	// Notifier receives outcome announcements. Default log-backed.
	Notifier notify.Notifier

	// Exporter receives per-cycle stats. Default noop.
	Exporter telemetry.Exporter

	// Search, when set, keeps a full-text index of tasks and events
	// current and serves the "search" query from it.
	Search *search.Index
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AgentID == "" {
		out.AgentID = DefaultAgentID
	}
	if out.MaxAgentsPerTask < 1 {
		out.MaxAgentsPerTask = DefaultMaxAgentsPerTask
	}
	if out.Selector == nil {
		out.Selector = assign.Greedy{}
	}
	if out.Notifier == nil && out.Logger != nil {
		out.Notifier = notify.NewLogNotifier(out.Logger)
	}
	if out.Exporter == nil {
		out.Exporter = telemetry.NewNoopExporter()
	}
	return out
}

// Coordinator is the assignment engine and lifecycle monitor, running
// as an agent on the shared runtime.
type Coordinator struct {
	*agent.Base

	cfg      Config
	st       store.Store
	logger   *logging.Logger
	queues   *taskQueues
	cache    *assign.Cache
	selector assign.Selector
	notifier notify.Notifier
	exporter telemetry.Exporter
	index    *search.Index

	// passMu serializes the whole drain-and-assign pass so no two
	// passes race on the same task.
	passMu sync.Mutex

	mu           sync.Mutex
	activeTasks  map[string]*fleet.Task
	activeEvents map[string]*fleet.Event

	cycle   atomic.Int64
	queries atomic.Int64
}

// New creates a coordinator. Call Start to begin coordination cycles.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Logger == nil {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:          cfg,
		st:           cfg.Store,
		queues:       newTaskQueues(),
		cache:        assign.NewCache(),
		selector:     cfg.Selector,
		notifier:     cfg.Notifier,
		exporter:     cfg.Exporter,
		index:        cfg.Search,
		activeTasks:  make(map[string]*fleet.Task),
		activeEvents: make(map[string]*fleet.Event),
	}

	base, err := agent.New(agent.Config{
		ID:            cfg.AgentID,
		Type:          "coordinator",
		CycleInterval: cfg.CycleInterval,
		ErrorBackoff:  cfg.ErrorBackoff,
		QueryTimeout:  cfg.QueryTimeout,
		Store:         cfg.Store,
		Registry:      cfg.Registry,
		Logger:        cfg.Logger,
		Sink:          cfg.Sink,
	}, c)
	if err != nil {
		return nil, err
	}
	c.Base = base
	c.logger = base.Logger()
	return c, nil
}

// Start recovers persisted state and launches the coordination loops.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Base.Initialize(ctx); err != nil {
		return err
	}
	if err := c.Recover(ctx); err != nil {
		return err
	}
	return c.Base.Start(ctx)
}

// Recover reloads non-terminal tasks, unresolved events, and the
// capability cache from the store. Pending tasks go back on their
// queues. Safe to call once before Start; Start calls it.
func (c *Coordinator) Recover(ctx context.Context) error {
	loaded, err := c.cache.Load(ctx, c.st)
	if err != nil {
		return ferrors.Wrap(err, "load capability cache")
	}

	taskRecs, err := c.st.Find(ctx, fleet.CollectionTasks, store.Filter{
		"status": store.In(
			string(fleet.TaskPending),
			string(fleet.TaskAssigned),
			string(fleet.TaskInProgress),
		),
	})
	if err != nil {
		return ferrors.Wrap(err, "load active tasks")
	}

	eventRecs, err := c.st.Find(ctx, fleet.CollectionEvents, store.Filter{
		"status": store.In(string(fleet.EventNew), string(fleet.EventProcessing)),
	})
	if err != nil {
		return ferrors.Wrap(err, "load active events")
	}

	c.mu.Lock()
	for _, rec := range taskRecs {
		task, err := fleet.UnmarshalTask(rec.Data)
		if err != nil {
			continue
		}
		c.activeTasks[task.TaskID] = task
		if task.Status == fleet.TaskPending {
			c.queues.Push(task.Type, task.TaskID)
		}
		c.indexTask(task)
	}
	for _, rec := range eventRecs {
		event, err := fleet.UnmarshalEvent(rec.Data)
		if err != nil {
			continue
		}
		c.activeEvents[event.EventID] = event
		c.indexEvent(event)
	}
	tasks, events := len(c.activeTasks), len(c.activeEvents)
	c.mu.Unlock()

	c.logger.Info("recovered coordinator state", map[string]interface{}{
		"tasks":         tasks,
		"events":        events,
		"cached_agents": loaded,
	})
	return nil
}

// AcceptTask persists a new task and queues it for assignment. This is
// the intake for external collaborators; agents use bus.NewTask.
func (c *Coordinator) AcceptTask(ctx context.Context, task *fleet.Task) error {
	if task == nil || task.TaskID == "" {
		return ferrors.InvalidInput("task missing id")
	}
	if !task.Type.Valid() {
		return ferrors.InvalidInput("unknown task type: " + string(task.Type))
	}

	doc, err := task.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal task", ferrors.WithTaskID(task.TaskID))
	}
	if _, err := c.st.Insert(ctx, fleet.CollectionTasks, task.TaskID, doc); err != nil {
		if !errors.Is(err, store.ErrDuplicateID) {
			return ferrors.Wrap(err, "persist task", ferrors.WithTaskID(task.TaskID))
		}
	}

	c.mu.Lock()
	c.activeTasks[task.TaskID] = task.Clone()
	c.mu.Unlock()

	if task.Status == fleet.TaskPending {
		c.queues.Push(task.Type, task.TaskID)
	}
	c.indexTask(task)
	return nil
}

// AcceptEvent persists a new event and tracks it for promotion on the
// next cycle.
func (c *Coordinator) AcceptEvent(ctx context.Context, event *fleet.Event) error {
	if event == nil || event.EventID == "" {
		return ferrors.InvalidInput("event missing id")
	}

	doc, err := event.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal event")
	}
	if _, err := c.st.Insert(ctx, fleet.CollectionEvents, event.EventID, doc); err != nil {
		if !errors.Is(err, store.ErrDuplicateID) {
			return ferrors.Wrap(err, "persist event")
		}
	}

	c.mu.Lock()
	c.activeEvents[event.EventID] = event
	c.mu.Unlock()
	c.indexEvent(event)
	return nil
}

// indexTask mirrors a task into the search index when one is attached.
// Index failures are logged, never fatal; the store copy is canonical.
func (c *Coordinator) indexTask(task *fleet.Task) {
	if c.index == nil {
		return
	}
	if err := c.index.IndexTask(task); err != nil {
		c.logger.Warn("search index task failed", map[string]interface{}{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
	}
}

func (c *Coordinator) indexEvent(event *fleet.Event) {
	if c.index == nil {
		return
	}
	if err := c.index.IndexEvent(event); err != nil {
		c.logger.Warn("search index event failed", map[string]interface{}{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
}

// --- agent.Behavior ---

// RunCycle performs one coordination pass: promote new events, drain
// one task per type queue into the assignment engine, then refresh the
// lifecycle monitor's active sets.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	cycle := c.cycle.Add(1)
	start := time.Now()

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartCycleSpan(ctx, cycle)

	c.passMu.Lock()
	promoted := c.promoteEvents(ctx)
	assigned, requeued := c.assignmentPass(ctx)
	c.monitorPass(ctx)
	c.passMu.Unlock()

	stats := telemetry.CycleStats{
		Cycle:          cycle,
		TasksAssigned:  assigned,
		TasksRequeued:  requeued,
		EventsPromoted: promoted,
		QueriesServed:  int(c.queries.Swap(0)),
		Duration:       time.Since(start),
		Timestamp:      start.UTC(),
	}
	c.exporter.LogCycle(stats)
	tracer.EndCycleSpan(span, stats, nil)
	return nil
}

// HandleMessage routes coordinator mailbox traffic.
func (c *Coordinator) HandleMessage(ctx context.Context, msg bus.Message) error {
	switch m := msg.(type) {
	case bus.NewTask:
		return c.AcceptTask(ctx, m.Task)
	case bus.NewEvent:
		return c.AcceptEvent(ctx, m.Event)
	case bus.CapabilityUpdate:
		c.cache.Update(m.AgentID, m.Scores)
		return nil
	case bus.TaskUpdated:
		if m.Task == nil {
			return nil
		}
		c.mu.Lock()
		if _, ok := c.activeTasks[m.Task.TaskID]; ok {
			c.activeTasks[m.Task.TaskID] = m.Task.Clone()
		}
		c.mu.Unlock()
		return nil
	default:
		return nil
	}
}

// Cycle returns the number of completed coordination passes.
func (c *Coordinator) Cycle() int64 { return c.cycle.Load() }

// ActiveCounts returns the sizes of the in-memory active sets.
func (c *Coordinator) ActiveCounts() (tasks, events int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.activeTasks), len(c.activeEvents)
}

// QueueDepth returns the total number of queued task ids.
func (c *Coordinator) QueueDepth() int { return c.queues.Len() }
