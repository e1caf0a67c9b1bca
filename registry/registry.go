// Package registry provides registration and discovery of live agents.
//
// Agents register a Handle at startup. The coordinator discovers agents by
// type or capability and routes messages through the handle's mailbox.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/fleet"
)

// Common errors.
var (
	ErrNotFound    = errors.New("agent not found")
	ErrClosed      = errors.New("registry closed")
	ErrInvalidID   = errors.New("invalid agent ID")
	ErrDuplicateID = errors.New("duplicate agent ID")
)

// Handle is the registry's view of a running agent. The concrete agent
// type implements it; holding the interface here keeps the registry free
// of agent internals.
type Handle interface {
	// ID uniquely identifies the agent.
	ID() string

	// Type names the agent kind ("coordinator", "logistics", "monitor").
	Type() string

	// Status reports the agent's current lifecycle state.
	Status() fleet.AgentStatus

	// Capabilities returns the agent's capability scores, each in [0, 1].
	Capabilities() map[string]float64

	// Post delivers a message to the agent's mailbox.
	Post(msg bus.Message) error
}

// EventType represents the type of registry event.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventDeregistered EventType = "deregistered"
)

// Event represents a change in the registry.
type Event struct {
	Type      EventType
	AgentID   string
	AgentType string
}

// Registry is an in-process directory of live agents. All methods are safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Handle
	watchers []chan Event
	closed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]Handle),
	}
}

// Register adds an agent. Returns ErrDuplicateID if an agent with the same
// ID is already registered; the existing registration is untouched.
func (r *Registry) Register(h Handle) error {
	if h == nil || h.ID() == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.agents[h.ID()]; exists {
		return ErrDuplicateID
	}

	r.agents[h.ID()] = h
	r.notifyWatchers(Event{Type: EventRegistered, AgentID: h.ID(), AgentType: h.Type()})
	return nil
}

// Deregister removes an agent. Returns ErrNotFound if the agent is not
// registered.
func (r *Registry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	h, exists := r.agents[id]
	if !exists {
		return ErrNotFound
	}

	delete(r.agents, id)
	r.notifyWatchers(Event{Type: EventDeregistered, AgentID: id, AgentType: h.Type()})
	return nil
}

// Get retrieves a specific agent by ID.
func (r *Registry) Get(id string) (Handle, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	h, exists := r.agents[id]
	if !exists {
		return nil, ErrNotFound
	}
	return h, nil
}

// All returns every registered agent sorted by ID.
func (r *Registry) All() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Handle, 0, len(r.agents))
	for _, h := range r.agents {
		result = append(result, h)
	}
	sortHandles(result)
	return result
}

// ByType returns agents of the given type sorted by ID.
func (r *Registry) ByType(agentType string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Handle
	for _, h := range r.agents {
		if h.Type() == agentType {
			result = append(result, h)
		}
	}
	sortHandles(result)
	return result
}

// Available returns agents whose status makes them candidates for new
// work, sorted by ID. Agents in error or stopped states are excluded.
func (r *Registry) Available() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Handle
	for _, h := range r.agents {
		if h.Status().Selectable() {
			result = append(result, h)
		}
	}
	sortHandles(result)
	return result
}

// WithCapability returns agents whose score for the capability meets the
// minimum, sorted by score descending then ID ascending.
func (r *Registry) WithCapability(capability string, min float64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Handle
	for _, h := range r.agents {
		if h.Capabilities()[capability] >= min && h.Capabilities()[capability] > 0 {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		si, sj := result[i].Capabilities()[capability], result[j].Capabilities()[capability]
		if si != sj {
			return si > sj
		}
		return result[i].ID() < result[j].ID()
	})
	return result
}

// Count reports the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Watch returns a channel of registry events. The channel is closed when
// the registry is closed. Multiple watchers are supported.
func (r *Registry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry and closes all watcher channels.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *Registry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].ID() < hs[j].ID() })
}
