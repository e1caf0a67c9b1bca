package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/skymind/fleetkit/fleet"
)

// DefaultSubjectPrefix roots every published subject.
const DefaultSubjectPrefix = "fleet"

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// SubjectPrefix roots published subjects. Default "fleet".
	SubjectPrefix string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		SubjectPrefix:  DefaultSubjectPrefix,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSNotifier publishes announcements to NATS subjects under a common
// prefix: <prefix>.task.assigned, <prefix>.event.promoted,
// <prefix>.drone.<id>.command, and so on.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSNotifier connects to NATS and returns a notifier.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return NewNATSNotifierFromConn(conn, cfg), nil
}

// NewNATSNotifierFromConn wraps an existing connection.
func NewNATSNotifierFromConn(conn *nats.Conn, cfg NATSConfig) *NATSNotifier {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

func (n *NATSNotifier) publish(subject string, note Notification) error {
	if n.conn.IsClosed() {
		return nats.ErrConnectionClosed
	}

	note.Timestamp = time.Now().UTC()
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATSNotifier) TaskAssigned(ctx context.Context, task *fleet.Task, agentIDs []string) error {
	return n.publish(n.prefix+".task.assigned", Notification{
		Kind:     "task_assigned",
		TaskID:   task.TaskID,
		TaskType: string(task.Type),
		AgentIDs: agentIDs,
	})
}

func (n *NATSNotifier) TaskCompleted(ctx context.Context, task *fleet.Task) error {
	return n.publish(n.prefix+".task.completed", Notification{
		Kind:     "task_completed",
		TaskID:   task.TaskID,
		TaskType: string(task.Type),
	})
}

func (n *NATSNotifier) TaskFailed(ctx context.Context, task *fleet.Task, reason string) error {
	return n.publish(n.prefix+".task.failed", Notification{
		Kind:     "task_failed",
		TaskID:   task.TaskID,
		TaskType: string(task.Type),
		Reason:   reason,
	})
}

func (n *NATSNotifier) EventPromoted(ctx context.Context, event *fleet.Event, taskID string) error {
	return n.publish(n.prefix+".event.promoted", Notification{
		Kind:    "event_promoted",
		EventID: event.EventID,
		TaskID:  taskID,
	})
}

func (n *NATSNotifier) EventResolved(ctx context.Context, event *fleet.Event) error {
	return n.publish(n.prefix+".event.resolved", Notification{
		Kind:    "event_resolved",
		EventID: event.EventID,
	})
}

func (n *NATSNotifier) DroneCommand(ctx context.Context, droneID string, cmd Command, params map[string]any) error {
	return n.publish(n.prefix+".drone."+droneID+".command", Notification{
		Kind:    "drone_command",
		DroneID: droneID,
		Command: cmd,
		Params:  params,
	})
}

// Close shuts down the NATS connection.
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (n *NATSNotifier) Conn() *nats.Conn {
	return n.conn
}
