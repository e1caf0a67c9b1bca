// OpenTelemetry tracing support for fleet coordination observability.
package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracing with fleet-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include content in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	TokensIn  int
	TokensOut int
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Assignment Spans ---

// AssignmentSpanOptions contains options for task assignment spans.
type AssignmentSpanOptions struct {
	TaskID     string
	TaskType   string
	Candidates int
	Selected   []string
	Requeued   bool
}

// StartAssignmentSpan starts a span for one task assignment attempt.
func (t *Tracer) StartAssignmentSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "assign.task", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("task.id", taskID))
	return ctx, span
}

// EndAssignmentSpan ends an assignment span with attributes.
func (t *Tracer) EndAssignmentSpan(span trace.Span, opts AssignmentSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("task.type", opts.TaskType),
		attribute.Int("assign.candidates", opts.Candidates),
		attribute.Bool("assign.requeued", opts.Requeued),
	}
	if len(opts.Selected) > 0 {
		attrs = append(attrs, attribute.String("assign.agents", strings.Join(opts.Selected, ",")))
	}

	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Cycle Spans ---

// StartCycleSpan starts a span for one coordination cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context, cycle int64) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "coord.cycle", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int64("cycle.number", cycle))
	return ctx, span
}

// EndCycleSpan ends a cycle span with the stats for the cycle.
func (t *Tracer) EndCycleSpan(span trace.Span, stats CycleStats, err error) {
	span.SetAttributes(
		attribute.Int("cycle.tasks_assigned", stats.TasksAssigned),
		attribute.Int("cycle.tasks_requeued", stats.TasksRequeued),
		attribute.Int("cycle.events_promoted", stats.EventsPromoted),
		attribute.Int("cycle.queries_served", stats.QueriesServed),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Query Spans ---

// QuerySpanOptions contains options for inter-agent query spans.
type QuerySpanOptions struct {
	From     string
	Name     string
	TimedOut bool
}

// StartQuerySpan starts a span for an inter-agent query.
func (t *Tracer) StartQuerySpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "query."+name, trace.WithSpanKind(trace.SpanKindInternal))
}

// EndQuerySpan ends a query span with attributes.
func (t *Tracer) EndQuerySpan(span trace.Span, opts QuerySpanOptions, err error) {
	span.SetAttributes(
		attribute.String("query.from", opts.From),
		attribute.String("query.name", opts.Name),
		attribute.Bool("query.timed_out", opts.TimedOut),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
