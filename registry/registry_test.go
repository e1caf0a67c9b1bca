package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/skymind/fleetkit/bus"
	"github.com/skymind/fleetkit/fleet"
)

// fakeHandle is a minimal Handle for registry tests.
type fakeHandle struct {
	id     string
	typ    string
	status fleet.AgentStatus
	caps   map[string]float64
	inbox  []bus.Message
}

func (f *fakeHandle) ID() string                       { return f.id }
func (f *fakeHandle) Type() string                     { return f.typ }
func (f *fakeHandle) Status() fleet.AgentStatus        { return f.status }
func (f *fakeHandle) Capabilities() map[string]float64 { return f.caps }
func (f *fakeHandle) Post(msg bus.Message) error {
	f.inbox = append(f.inbox, msg)
	return nil
}

func handle(id, typ string, status fleet.AgentStatus, caps map[string]float64) *fakeHandle {
	if caps == nil {
		caps = DefaultScores(typ)
	}
	return &fakeHandle{id: id, typ: typ, status: status, caps: caps}
}

// --- Unit Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	defer r.Close()

	h := handle("agent-1", "logistics", fleet.AgentIdle, nil)
	if err := r.Register(h); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	got, err := r.Get("agent-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Type() != "logistics" {
		t.Errorf("Type = %q, want %q", got.Type(), "logistics")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := New()
	defer r.Close()

	first := handle("agent-1", "logistics", fleet.AgentIdle, nil)
	if err := r.Register(first); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	err := r.Register(handle("agent-1", "monitor", fleet.AgentIdle, nil))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// First registration is untouched.
	got, _ := r.Get("agent-1")
	if got.Type() != "logistics" {
		t.Errorf("existing registration replaced: type = %q", got.Type())
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := New()
	defer r.Close()

	if err := r.Register(nil); err != ErrInvalidID {
		t.Errorf("nil handle: expected ErrInvalidID, got %v", err)
	}
	if err := r.Register(handle("", "monitor", fleet.AgentIdle, nil)); err != ErrInvalidID {
		t.Errorf("empty id: expected ErrInvalidID, got %v", err)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register(handle("agent-1", "monitor", fleet.AgentIdle, nil))

	if err := r.Deregister("agent-1"); err != nil {
		t.Fatalf("Deregister error: %v", err)
	}
	if _, err := r.Get("agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deregister, got %v", err)
	}
	if err := r.Deregister("agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second deregister, got %v", err)
	}
}

func TestRegistry_ByType(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register(handle("log-2", "logistics", fleet.AgentIdle, nil))
	r.Register(handle("mon-1", "monitor", fleet.AgentIdle, nil))
	r.Register(handle("log-1", "logistics", fleet.AgentBusy, nil))

	got := r.ByType("logistics")
	if len(got) != 2 {
		t.Fatalf("ByType returned %d agents, want 2", len(got))
	}
	// Sorted by id.
	if got[0].ID() != "log-1" || got[1].ID() != "log-2" {
		t.Errorf("order = [%s %s], want [log-1 log-2]", got[0].ID(), got[1].ID())
	}
}

func TestRegistry_AvailableExcludesErrorAndStopped(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register(handle("a-idle", "monitor", fleet.AgentIdle, nil))
	r.Register(handle("a-busy", "monitor", fleet.AgentBusy, nil))
	r.Register(handle("a-error", "monitor", fleet.AgentError, nil))
	r.Register(handle("a-stopped", "monitor", fleet.AgentStopped, nil))

	got := r.Available()
	if len(got) != 2 {
		t.Fatalf("Available returned %d agents, want 2", len(got))
	}
	for _, h := range got {
		if h.ID() == "a-error" || h.ID() == "a-stopped" {
			t.Errorf("agent %s should not be selectable", h.ID())
		}
	}
}

func TestRegistry_WithCapability(t *testing.T) {
	r := New()
	defer r.Close()

	r.Register(handle("a-1", "x", fleet.AgentIdle, map[string]float64{fleet.CapPathPlanning: 0.6}))
	r.Register(handle("a-2", "x", fleet.AgentIdle, map[string]float64{fleet.CapPathPlanning: 0.9}))
	r.Register(handle("a-3", "x", fleet.AgentIdle, map[string]float64{fleet.CapLogistics: 0.9}))
	r.Register(handle("a-4", "x", fleet.AgentIdle, map[string]float64{fleet.CapPathPlanning: 0.9}))

	got := r.WithCapability(fleet.CapPathPlanning, 0.7)
	if len(got) != 2 {
		t.Fatalf("WithCapability returned %d agents, want 2", len(got))
	}
	// Score descending, ties by id.
	if got[0].ID() != "a-2" || got[1].ID() != "a-4" {
		t.Errorf("order = [%s %s], want [a-2 a-4]", got[0].ID(), got[1].ID())
	}
}

func TestRegistry_Watch(t *testing.T) {
	r := New()

	events, err := r.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	r.Register(handle("agent-1", "monitor", fleet.AgentIdle, nil))
	r.Deregister("agent-1")

	want := []EventType{EventRegistered, EventDeregistered}
	for _, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType || ev.AgentID != "agent-1" {
				t.Errorf("event = %+v, want type %s for agent-1", ev, wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", wantType)
		}
	}

	// Close ends the stream.
	r.Close()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after registry Close")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for channel close")
	}
}

func TestRegistry_ClosedOperations(t *testing.T) {
	r := New()
	r.Close()

	if err := r.Register(handle("agent-1", "monitor", fleet.AgentIdle, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after close: expected ErrClosed, got %v", err)
	}
	if _, err := r.Get("agent-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: expected ErrClosed, got %v", err)
	}
	if _, err := r.Watch(); !errors.Is(err, ErrClosed) {
		t.Errorf("Watch after close: expected ErrClosed, got %v", err)
	}
}

// --- Profile Tests ---

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr error
	}{
		{"valid", Profile{AgentID: "a-1", Scores: map[string]float64{fleet.CapLogistics: 0.9}}, nil},
		{"empty id", Profile{Scores: map[string]float64{}}, ErrInvalidID},
		{"score too high", Profile{AgentID: "a-1", Scores: map[string]float64{fleet.CapLogistics: 1.2}}, ErrInvalidScore},
		{"score negative", Profile{AgentID: "a-1", Scores: map[string]float64{fleet.CapLogistics: -0.1}}, ErrInvalidScore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.profile.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestProfile_Strongest(t *testing.T) {
	p := Profile{
		AgentID: "a-1",
		Scores: map[string]float64{
			fleet.CapLogistics:       0.9,
			fleet.CapPathPlanning:    0.9,
			fleet.CapDroneControl:    0.5,
			fleet.CapObjectDetection: 0.3,
		},
	}

	got := p.Strongest(2)
	if len(got) != 2 {
		t.Fatalf("Strongest(2) returned %d names", len(got))
	}
	// Tie between logistics and path_planning broken by name.
	if got[0] != fleet.CapLogistics || got[1] != fleet.CapPathPlanning {
		t.Errorf("Strongest(2) = %v", got)
	}
}

func TestProfile_RoundTrip(t *testing.T) {
	p := ProfileFor(handle("a-1", "logistics", fleet.AgentIdle, nil))

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	got, err := UnmarshalProfile(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.AgentID != "a-1" || got.AgentType != "logistics" {
		t.Errorf("round trip lost identity: %+v", got)
	}
	if got.Scores[fleet.CapLogistics] != p.Scores[fleet.CapLogistics] {
		t.Errorf("round trip lost scores: %+v", got.Scores)
	}
}
