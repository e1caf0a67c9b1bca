package agent

import (
	"context"
	"errors"
	"time"

	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/registry"
	"github.com/skymind/fleetkit/store"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("agent already started")
	ErrNotStarted     = errors.New("agent not started")
	ErrInvalidConfig  = errors.New("invalid agent config")
)

// Defaults for the agent runtime loops.
const (
	DefaultCycleInterval = 5 * time.Second
	DefaultErrorBackoff  = 5 * time.Second

	// messageBackoff is the pause after a message handler failure so a
	// poison message cannot spin the loop.
	messageBackoff = 100 * time.Millisecond
)

// Behavior is the per-agent contract. Base runs the loops; Behavior
// supplies what each iteration does.
type Behavior interface {
	// RunCycle performs one iteration of the agent's periodic work.
	// Errors are logged and backed off; they never stop the loop.
	RunCycle(ctx context.Context) error

	// HandleMessage processes one mailbox message. Unrecognized message
	// kinds should be ignored without error.
	HandleMessage(ctx context.Context, msg bus.Message) error

	// HandleQuery answers an introspection query from another agent.
	HandleQuery(ctx context.Context, q *bus.Query) bus.Response
}

// Config configures a Base agent.
type Config struct {
	// ID uniquely identifies the agent. Required.
	ID string

	// Type tags the agent kind ("coordinator", "logistics", "monitor").
	// Required.
	Type string

	// Capabilities are the agent's initial skill scores.
	Capabilities map[string]float64

	// CycleInterval is the sleep between RunCycle calls. Default 5s.
	CycleInterval time.Duration

	// ErrorBackoff is the sleep after a RunCycle failure. Default 5s.
	ErrorBackoff time.Duration

	// QueryTimeout bounds Query round trips. Default 30s.
	QueryTimeout time.Duration

	// Store persists agent state. Required.
	Store store.Store

	// Registry is the live agent directory. Required.
	Registry *registry.Registry

	// Logger receives console logs. Required.
	Logger *logging.Logger

	// Sink, when set, also persists agent logs to the store.
	Sink *logging.Sink
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.ID == "" || c.Type == "" {
		return ErrInvalidConfig
	}
	if c.Store == nil || c.Registry == nil || c.Logger == nil {
		return ErrInvalidConfig
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CycleInterval <= 0 {
		out.CycleInterval = DefaultCycleInterval
	}
	if out.ErrorBackoff <= 0 {
		out.ErrorBackoff = DefaultErrorBackoff
	}
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = bus.DefaultQueryTimeout
	}
	return out
}
