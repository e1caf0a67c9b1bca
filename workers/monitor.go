package workers

import (
	"context"

	"github.com/skymind/fleetkit/agent"
	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/fleet"
)

// Detector is a simulated detection source. Each cycle the monitor
// drains every detector and forwards its sightings as events.
type Detector interface {
	// Detect returns the events this source noticed since the last
	// call, or nil when there is nothing to report.
	Detect(ctx context.Context) ([]*fleet.Event, error)
}

// ScriptedDetector replays a fixed list of events, one per Detect call.
// The zero value is an exhausted detector.
type ScriptedDetector struct {
	events []*fleet.Event
}

// NewScriptedDetector creates a detector replaying the given events.
func NewScriptedDetector(events ...*fleet.Event) *ScriptedDetector {
	return &ScriptedDetector{events: events}
}

func (d *ScriptedDetector) Detect(ctx context.Context) ([]*fleet.Event, error) {
	if len(d.events) == 0 {
		return nil, nil
	}
	next := d.events[0]
	d.events = d.events[1:]
	return []*fleet.Event{next}, nil
}

// MonitorConfig configures a Monitor agent.
type MonitorConfig struct {
	Agent agent.Config

	// Detectors are the simulated detection sources.
	Detectors []Detector

	// CoordinatorID is the registry id to forward events to. Default
	// "coordinator".
	CoordinatorID string
}

// Monitor watches its detection sources and forwards every sighting to
// the coordinator as a new event.
type Monitor struct {
	*agent.Base

	detectors     []Detector
	coordinatorID string
}

// NewMonitor creates a monitor worker.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.CoordinatorID == "" {
		cfg.CoordinatorID = "coordinator"
	}
	if cfg.Agent.Type == "" {
		cfg.Agent.Type = "monitor"
	}
	if cfg.Agent.Capabilities == nil {
		cfg.Agent.Capabilities = map[string]float64{
			fleet.CapObjectDetection:  0.9,
			fleet.CapAnomalyDetection: 0.85,
			fleet.CapDroneControl:     0.6,
		}
	}

	m := &Monitor{
		detectors:     cfg.Detectors,
		coordinatorID: cfg.CoordinatorID,
	}
	base, err := agent.New(cfg.Agent, m)
	if err != nil {
		return nil, err
	}
	m.Base = base
	return m, nil
}

// --- agent.Behavior ---

// RunCycle drains every detector and forwards the sightings.
func (m *Monitor) RunCycle(ctx context.Context) error {
	for _, d := range m.detectors {
		events, err := d.Detect(ctx)
		if err != nil {
			m.Logger().Warn("detector failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		for _, event := range events {
			if event == nil {
				continue
			}
			if event.DetectedBy == "" {
				event.DetectedBy = m.ID()
			}
			m.forward(ctx, event)
		}
	}
	return nil
}

// forward hands an event to the coordinator's mailbox. A missing
// coordinator is logged and the event dropped; the detector's next
// sighting will try again.
func (m *Monitor) forward(ctx context.Context, event *fleet.Event) {
	target, err := m.Base.Registry().Get(m.coordinatorID)
	if err != nil {
		m.Logger().Warn("coordinator unreachable", map[string]interface{}{
			"event_id": event.EventID,
		})
		return
	}
	if err := target.Post(bus.NewEvent{Event: event}); err != nil {
		m.Logger().Warn("forward event failed", map[string]interface{}{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
		return
	}
	m.Logger().Info("event detected", map[string]interface{}{
		"event_id": event.EventID,
		"type":     string(event.Type),
		"level":    string(event.Level),
	})
}

// HandleMessage ignores everything; the monitor only produces.
func (m *Monitor) HandleMessage(ctx context.Context, msg bus.Message) error {
	return nil
}

// HandleQuery answers monitor introspection.
func (m *Monitor) HandleQuery(ctx context.Context, q *bus.Query) bus.Response {
	switch q.Name {
	case "status":
		return bus.OK(map[string]any{
			"status":    string(m.Status()),
			"detectors": len(m.detectors),
		})
	default:
		return bus.Fail("unknown query: " + q.Name)
	}
}
