// Package logging provides leveled console logging plus a persistent agent
// log sink. Console output is for live monitoring; the agent_logs
// collection is the durable record used by introspection queries.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
// Agents use their id as the component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Coordination logging methods ---
// Shorthand for the events the coordinator and agents log on every pass.

// TaskAssigned logs a completed assignment.
func (l *Logger) TaskAssigned(taskID string, agents []string) {
	l.Info("task_assigned", map[string]interface{}{
		"task_id": taskID,
		"agents":  strings.Join(agents, ","),
	})
}

// TaskRequeued logs a task going back to the queue.
func (l *Logger) TaskRequeued(taskID, reason string) {
	l.Debug("task_requeued", map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	})
}

// TaskCompleted logs a finished task.
func (l *Logger) TaskCompleted(taskID string, duration time.Duration) {
	l.Info("task_completed", map[string]interface{}{
		"task_id":  taskID,
		"duration": duration.String(),
	})
}

// TaskFailed logs a failed task with its failure reason.
func (l *Logger) TaskFailed(taskID, reason string) {
	l.Warn("task_failed", map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	})
}

// EventPromoted logs an event turning into a task.
func (l *Logger) EventPromoted(eventID, taskID string) {
	l.Info("event_promoted", map[string]interface{}{
		"event_id": eventID,
		"task_id":  taskID,
	})
}

// AgentStatus logs an agent lifecycle transition.
func (l *Logger) AgentStatus(agentID, from, to string) {
	l.Debug("agent_status", map[string]interface{}{
		"agent_id": agentID,
		"from":     from,
		"to":       to,
	})
}

// QueryTimeout logs an expired inter-agent query.
func (l *Logger) QueryTimeout(from, name string) {
	l.Warn("query_timeout", map[string]interface{}{
		"from":  from,
		"query": name,
	})
}

// CycleError logs a failed agent work cycle.
func (l *Logger) CycleError(agentID string, err error) {
	l.Error("cycle_error", map[string]interface{}{
		"agent_id": agentID,
		"error":    err.Error(),
	})
}
