package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/logging"
)

// --- Unit Tests ---

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)

	n := NewLogNotifier(logger)
	defer n.Close()

	ctx := context.Background()
	task := fleet.NewTask("parcel run", fleet.TaskDelivery, 6)
	event := fleet.NewEvent("smoke plume", fleet.EventAnomaly, fleet.LevelHigh)

	if err := n.TaskAssigned(ctx, task, []string{"logistics-1", "monitor-2"}); err != nil {
		t.Fatalf("TaskAssigned failed: %v", err)
	}
	if err := n.TaskFailed(ctx, task, "battery depleted"); err != nil {
		t.Fatalf("TaskFailed failed: %v", err)
	}
	if err := n.EventPromoted(ctx, event, task.TaskID); err != nil {
		t.Fatalf("EventPromoted failed: %v", err)
	}
	if err := n.DroneCommand(ctx, "drone-7", CommandReturnHome, nil); err != nil {
		t.Fatalf("DroneCommand failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"logistics-1,monitor-2",
		"battery depleted",
		event.EventID,
		"return_home",
		"[notify]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestNotificationJSON(t *testing.T) {
	note := Notification{
		Kind:      "task_assigned",
		TaskID:    "t-1",
		TaskType:  "delivery",
		AgentIDs:  []string{"a-1"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"kind":"task_assigned"`) || !strings.Contains(s, `"task_id":"t-1"`) {
		t.Errorf("payload = %s", s)
	}
	// Empty fields stay off the wire.
	if strings.Contains(s, "event_id") || strings.Contains(s, "drone_id") || strings.Contains(s, "reason") {
		t.Errorf("payload carries empty fields: %s", s)
	}
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.URL == "" {
		t.Error("default URL empty")
	}
	if cfg.SubjectPrefix != DefaultSubjectPrefix {
		t.Errorf("prefix = %q", cfg.SubjectPrefix)
	}
	if cfg.ReconnectWait != 2*time.Second || cfg.MaxReconnects != -1 || cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("reconnect defaults = %+v", cfg)
	}
}

func TestBuildNATSOptions(t *testing.T) {
	base := DefaultNATSConfig()
	if got := len(buildNATSOptions(base)); got != 3 {
		t.Errorf("base options = %d, want 3", got)
	}

	full := base
	full.Name = "fleetkit"
	full.Token = "secret"
	full.User = "coord"
	full.Password = "hunter2"
	if got := len(buildNATSOptions(full)); got != 6 {
		t.Errorf("full options = %d, want 6", got)
	}
}

func TestMemoryNotifier(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNotifier()
	defer n.Close()

	task := fleet.NewTask("survey", fleet.TaskInspection, 4)
	event := fleet.NewEvent("fence breach", fleet.EventSecurity, fleet.LevelMedium)

	n.TaskAssigned(ctx, task, []string{"m-1"})
	n.TaskCompleted(ctx, task)
	n.EventResolved(ctx, event)
	n.DroneCommand(ctx, "drone-1", CommandStartTask, map[string]any{"task_id": task.TaskID})

	if len(n.Sent()) != 4 {
		t.Fatalf("recorded %d notifications, want 4", len(n.Sent()))
	}

	cmds := n.ByKind("drone_command")
	if len(cmds) != 1 || cmds[0].Command != CommandStartTask || cmds[0].DroneID != "drone-1" {
		t.Errorf("drone commands = %+v", cmds)
	}

	n.Clear()
	if len(n.Sent()) != 0 {
		t.Error("Clear did not drop notifications")
	}
}
