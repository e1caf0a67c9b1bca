package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skymind/fleetkit/bus"
	ferrors "github.com/skymind/fleetkit/errors"
	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/registry"
	"github.com/skymind/fleetkit/store"
)

// Base is the agent runtime: a mailbox, a message loop, and a cycle
// loop. Concrete agents embed or wrap Base and supply a Behavior.
// Neither loop is ever allowed to die from a handler error; they log,
// back off, and continue until Stop.
type Base struct {
	cfg      Config
	behavior Behavior
	mailbox  *bus.Mailbox
	logger   *logging.Logger

	mu            sync.RWMutex
	status        fleet.AgentStatus
	currentTaskID string
	caps          map[string]float64
	initialized   bool

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an agent runtime around the given behavior.
func New(cfg Config, behavior Behavior) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if behavior == nil {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.withDefaults()

	caps := make(map[string]float64, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[k] = v
	}

	return &Base{
		cfg:      cfg,
		behavior: behavior,
		mailbox:  bus.NewMailbox(),
		logger:   cfg.Logger.WithComponent(cfg.ID),
		status:   fleet.AgentInitializing,
		caps:     caps,
	}, nil
}

// --- registry.Handle ---

// ID returns the agent id.
func (b *Base) ID() string { return b.cfg.ID }

// Type returns the agent type tag.
func (b *Base) Type() string { return b.cfg.Type }

// Status returns the current lifecycle status.
func (b *Base) Status() fleet.AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Capabilities returns a copy of the agent's capability scores.
func (b *Base) Capabilities() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.caps))
	for k, v := range b.caps {
		out[k] = v
	}
	return out
}

// Post delivers a message to the agent's mailbox.
func (b *Base) Post(msg bus.Message) error {
	return b.mailbox.Put(msg)
}

// --- Lifecycle ---

// Initialize registers the agent and persists its initial state.
// Idempotent; Start calls it if the caller has not.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.status = fleet.AgentIdle
	b.mu.Unlock()

	if err := b.persistState(ctx); err != nil {
		return err
	}
	if err := b.cfg.Registry.Register(b); err != nil {
		return err
	}

	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()

	b.logger.Info("agent initialized", map[string]interface{}{"agent_type": b.cfg.Type})
	return nil
}

// Start launches the message and cycle loops.
func (b *Base) Start(ctx context.Context) error {
	if b.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if err := b.Initialize(ctx); err != nil {
		b.running.Store(false)
		return err
	}

	b.setStatus(ctx, fleet.AgentActive)

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(2)
	go b.messageLoop(runCtx)
	go b.cycleLoop(runCtx)

	return nil
}

// Stop halts both loops, flips status to stopped, and deregisters.
// In-flight work finishes; the loops observe cancellation at their next
// iteration boundary.
func (b *Base) Stop(ctx context.Context) error {
	if !b.running.Swap(false) {
		return ErrNotStarted
	}

	b.cancel()
	b.wg.Wait()

	// Closing the mailbox makes posts to a stopped agent fail fast with
	// ErrClosed instead of piling up unread or burning query timeouts.
	b.mailbox.Close()

	b.setStatus(ctx, fleet.AgentStopped)
	if err := b.cfg.Registry.Deregister(b.cfg.ID); err != nil {
		b.logger.Warn("deregister failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func (b *Base) messageLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		msg, err := b.mailbox.Get(ctx)
		if err != nil {
			return
		}

		if q, ok := msg.(*bus.Query); ok {
			q.Respond(b.handleQuery(ctx, q))
			continue
		}

		if err := b.handleMessage(ctx, msg); err != nil {
			b.logger.Error("message handler failed", map[string]interface{}{
				"kind":  msg.Kind(),
				"error": err.Error(),
			})
			sleep(ctx, messageBackoff)
		}
	}
}

func (b *Base) cycleLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pause := b.cfg.CycleInterval
		if err := b.runCycle(ctx); err != nil && ctx.Err() == nil {
			b.logger.CycleError(b.cfg.ID, err)
			b.RecordActivity(ctx, "error", "cycle failed", func(l *fleet.AgentLog) {
				l.Context = map[string]any{"error": err.Error()}
			})
			pause = b.cfg.ErrorBackoff
		}

		if !sleep(ctx, pause) {
			return
		}
	}
}

// runCycle invokes the behavior's work cycle, converting a panic into a
// returned error so one bad cycle never kills the loop.
func (b *Base) runCycle(ctx context.Context) (err error) {
	defer func() {
		if perr := ferrors.RecoverPanic(recover()); perr != nil {
			err = perr
		}
	}()
	return b.behavior.RunCycle(ctx)
}

func (b *Base) handleMessage(ctx context.Context, msg bus.Message) (err error) {
	defer func() {
		if perr := ferrors.RecoverPanic(recover()); perr != nil {
			err = perr
		}
	}()
	return b.behavior.HandleMessage(ctx, msg)
}

func (b *Base) handleQuery(ctx context.Context, q *bus.Query) (resp bus.Response) {
	defer func() {
		if perr := ferrors.RecoverPanic(recover()); perr != nil {
			b.logger.Error("query handler panicked", map[string]interface{}{
				"query": q.Name,
				"error": perr.Error(),
			})
			resp = bus.Fail("internal error")
		}
	}()
	return b.behavior.HandleQuery(ctx, q)
}

// sleep waits for d or until ctx ends; reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// --- Messaging ---

// Query sends a one-shot query to another agent and waits for the
// reply. Failures (unknown target, timeout, cancellation) come back as
// unsuccessful responses, never panics or raised errors.
func (b *Base) Query(ctx context.Context, targetID, name string, params map[string]any) bus.Response {
	target, err := b.cfg.Registry.Get(targetID)
	if err != nil {
		return bus.Fail("unknown agent: " + targetID)
	}

	q := bus.NewQuery(b.cfg.ID, name, params)
	if err := target.Post(q); err != nil {
		return bus.Fail("mailbox closed: " + targetID)
	}

	resp := q.Wait(ctx, b.cfg.QueryTimeout)
	if !resp.Success && resp.Error == "Query timeout" {
		b.logger.QueryTimeout(b.cfg.ID, name)
	}
	return resp
}

// Broadcast posts msg to every registered agent, excluding the sender.
// agentType narrows the audience when non-empty. Best effort; returns
// the number of mailboxes reached.
func (b *Base) Broadcast(msg bus.Message, agentType string) int {
	var targets []registry.Handle
	if agentType != "" {
		targets = b.cfg.Registry.ByType(agentType)
	} else {
		targets = b.cfg.Registry.All()
	}

	delivered := 0
	for _, h := range targets {
		if h.ID() == b.cfg.ID {
			continue
		}
		if err := h.Post(msg); err == nil {
			delivered++
		}
	}
	return delivered
}

// --- State ---

// SetStatus transitions the agent's status and persists it.
func (b *Base) SetStatus(ctx context.Context, status fleet.AgentStatus) {
	b.setStatus(ctx, status)
}

func (b *Base) setStatus(ctx context.Context, status fleet.AgentStatus) {
	b.mu.Lock()
	from := b.status
	b.status = status
	b.mu.Unlock()

	if from != status {
		b.logger.AgentStatus(b.cfg.ID, string(from), string(status))
		b.RecordActivity(ctx, "info", "status changed", func(l *fleet.AgentLog) {
			l.Context = map[string]any{"from": string(from), "to": string(status)}
		})
	}
	if err := b.persistState(ctx); err != nil {
		b.logger.Warn("persist agent state failed", map[string]interface{}{"error": err.Error()})
	}
}

// RecordActivity appends a structured entry to the agent_logs collection
// through the configured sink. decorate, when non-nil, fills in related
// task/event ids and context before the write. No-op without a sink.
func (b *Base) RecordActivity(ctx context.Context, level, message string, decorate func(*fleet.AgentLog)) {
	if b.cfg.Sink == nil {
		return
	}
	entry := fleet.NewAgentLog(b.cfg.ID, level, message)
	entry.AgentType = b.cfg.Type
	if decorate != nil {
		decorate(entry)
	}
	b.cfg.Sink.Write(ctx, entry)
}

// SetCurrentTask records the task the agent is working, empty to clear.
func (b *Base) SetCurrentTask(ctx context.Context, taskID string) {
	b.mu.Lock()
	b.currentTaskID = taskID
	b.mu.Unlock()

	if err := b.persistState(ctx); err != nil {
		b.logger.Warn("persist agent state failed", map[string]interface{}{"error": err.Error()})
	}
}

// CurrentTask returns the task id the agent is working, if any.
func (b *Base) CurrentTask() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentTaskID
}

// UpdateCapabilities merges partial scores into the agent's capability
// map (last write wins), persists the result, and announces the change
// so the coordinator can refresh its cache.
func (b *Base) UpdateCapabilities(ctx context.Context, partial map[string]float64) {
	b.mu.Lock()
	for k, v := range partial {
		b.caps[k] = v
	}
	scores := make(map[string]float64, len(b.caps))
	for k, v := range b.caps {
		scores[k] = v
	}
	b.mu.Unlock()

	if err := b.persistState(ctx); err != nil {
		b.logger.Warn("persist agent state failed", map[string]interface{}{"error": err.Error()})
	}
	b.Broadcast(bus.CapabilityUpdate{AgentID: b.cfg.ID, Scores: scores}, "")
}

// State snapshots the agent as a persistable record.
func (b *Base) State() *fleet.AgentState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	scores := make(map[string]float64, len(b.caps))
	for k, v := range b.caps {
		scores[k] = v
	}
	return &fleet.AgentState{
		AgentID:          b.cfg.ID,
		AgentType:        b.cfg.Type,
		Status:           b.status,
		CurrentTaskID:    b.currentTaskID,
		CapabilityScores: scores,
		LastActive:       time.Now().UTC(),
	}
}

// Logger returns the agent's component logger.
func (b *Base) Logger() *logging.Logger { return b.logger }

// Store returns the agent's document store.
func (b *Base) Store() store.Store { return b.cfg.Store }

// Registry returns the live agent directory.
func (b *Base) Registry() *registry.Registry { return b.cfg.Registry }

// persistState writes the agent state record, creating it on first use
// and falling back to a targeted field update on a revision conflict.
func (b *Base) persistState(ctx context.Context) error {
	state := b.State()
	doc, err := state.Marshal()
	if err != nil {
		return ferrors.Wrap(err, "marshal agent state", ferrors.WithAgentID(b.cfg.ID))
	}

	rec, err := b.cfg.Store.FindByID(ctx, fleet.CollectionAgentStates, b.cfg.ID)
	if errors.Is(err, store.ErrNotFound) {
		_, err = b.cfg.Store.Insert(ctx, fleet.CollectionAgentStates, b.cfg.ID, doc)
		if err == nil || errors.Is(err, store.ErrDuplicateID) {
			return nil
		}
		return ferrors.Wrap(err, "insert agent state", ferrors.WithAgentID(b.cfg.ID))
	}
	if err != nil {
		return ferrors.Wrap(err, "load agent state", ferrors.WithAgentID(b.cfg.ID))
	}

	rec.Data = doc
	if _, err := b.cfg.Store.Save(ctx, rec); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return ferrors.Wrap(err, "save agent state", ferrors.WithAgentID(b.cfg.ID))
		}
		fields := map[string]any{
			"status":            string(state.Status),
			"current_task_id":   state.CurrentTaskID,
			"capability_scores": state.CapabilityScores,
			"last_active":       state.LastActive,
		}
		if _, err := b.cfg.Store.UpdateFields(ctx, fleet.CollectionAgentStates, b.cfg.ID, fields); err != nil {
			return ferrors.Wrap(err, "update agent state", ferrors.WithAgentID(b.cfg.ID))
		}
	}
	return nil
}
