// Tracing wrapper for completion providers.
package llm

import (
	"context"

	"github.com/skymind/fleetkit/telemetry"
)

// TracingProvider wraps a Provider with OpenTelemetry tracing.
type TracingProvider struct {
	provider     Provider
	providerName string
}

// WithTracing wraps a provider with tracing instrumentation.
func WithTracing(p Provider, providerName string) Provider {
	return &TracingProvider{
		provider:     p,
		providerName: providerName,
	}
}

// Complete implements Provider with tracing.
func (tp *TracingProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	tracer := telemetry.GetTracer()

	ctx, span := tracer.StartLLMSpan(ctx, "llm.complete")

	resp, err := tp.provider.Complete(ctx, req)

	opts := telemetry.LLMSpanOptions{
		Provider: tp.providerName,
	}

	if resp != nil {
		opts.Model = resp.Model
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.Response = resp.Text
	}

	if tracer.Debug() {
		opts.Prompt = req.Prompt
	}

	tracer.EndLLMSpan(span, opts, err)

	return resp, err
}
