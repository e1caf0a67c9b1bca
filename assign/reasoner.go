package assign

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/llm"
	"github.com/skymind/fleetkit/logging"
	"github.com/skymind/fleetkit/ratelimit"
)

// Reasoner asks an LLM to pick agents for a task, with the greedy
// selector as the authority on who may be picked. The reasoner can only
// reorder or narrow the greedy candidate set; it can never introduce an
// agent greedy would reject, and any failure (rate limit, provider
// error, unparseable answer) falls back to the greedy result. The
// coordinator never depends on the provider being reachable.
type Reasoner struct {
	provider llm.Provider
	limiter  ratelimit.RateLimiter
	resource string
	greedy   Greedy
	logger   *logging.Logger
}

// NewReasoner creates a reasoner-backed selector. limiter may be nil to
// disable pacing; resource names the limiter bucket (the provider name).
func NewReasoner(provider llm.Provider, limiter ratelimit.RateLimiter, resource string, logger *logging.Logger) *Reasoner {
	return &Reasoner{
		provider: provider,
		limiter:  limiter,
		resource: resource,
		logger:   logger,
	}
}

// Select implements Selector.
func (r *Reasoner) Select(ctx context.Context, task *fleet.Task, candidates []Candidate, max int) ([]Selection, error) {
	fallback, err := r.greedy.Select(ctx, task, candidates, max)
	if err != nil {
		return nil, err
	}
	if len(fallback) == 0 {
		// No eligible agents; nothing for the reasoner to rank.
		return nil, nil
	}

	if r.limiter != nil && !r.limiter.TryAcquire(r.resource) {
		r.logger.Debug("reasoner rate limited, using greedy selection", map[string]interface{}{"task_id": task.TaskID})
		return fallback, nil
	}

	resp, err := r.provider.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: buildPrompt(task, candidates, fallback, max),
	})
	if r.limiter != nil {
		r.limiter.Release(r.resource)
	}
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "rate limit") && r.limiter != nil {
			r.limiter.Backoff(r.resource, err.Error())
		}
		r.logger.Warn("reasoner call failed, using greedy selection", map[string]interface{}{"task_id": task.TaskID, "error": err.Error()})
		return fallback, nil
	}

	picked := parseSelection(resp.Text, fallback, max)
	if len(picked) == 0 {
		r.logger.Debug("reasoner answer unusable, using greedy selection", map[string]interface{}{"task_id": task.TaskID})
		return fallback, nil
	}
	return picked, nil
}

const systemPrompt = "You dispatch drone fleet agents to tasks. " +
	"Answer with a comma-separated list of agent ids drawn only from the eligible list, best first. No other text."

func buildPrompt(task *fleet.Task, candidates []Candidate, eligible []Selection, max int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: type=%s priority=%d title=%q\n", task.TaskID, task.Type, task.Priority, task.Title)
	fmt.Fprintf(&b, "Pick up to %d agents.\n\nEligible agents:\n", max)

	for _, s := range eligible {
		fmt.Fprintf(&b, "- %s (score %.2f", s.ID, s.Score)
		if caps := capsFor(candidates, s.ID); caps != "" {
			fmt.Fprintf(&b, ", %s", caps)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

func capsFor(candidates []Candidate, id string) string {
	for _, c := range candidates {
		if c.ID != id {
			continue
		}
		names := make([]string, 0, len(c.Capabilities))
		for name := range c.Capabilities {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, c.Capabilities[name]))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// parseSelection extracts agent ids from the model's answer, keeping
// only ids the greedy selector already approved and preserving the
// model's order. Duplicates are dropped.
func parseSelection(text string, eligible []Selection, max int) []Selection {
	byID := make(map[string]Selection, len(eligible))
	for _, s := range eligible {
		byID[s.ID] = s
	}

	seen := make(map[string]bool)
	var out []Selection
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' ' || r == '\t'
	}) {
		id := strings.Trim(tok, ".:;\"'`")
		s, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, s)
		if len(out) >= max {
			break
		}
	}
	return out
}
