package assign

import (
	"context"
	"sort"

	"github.com/skymind/fleetkit/fleet"
)

// Candidate is one agent considered for a task.
type Candidate struct {
	ID           string
	Status       fleet.AgentStatus
	Capabilities map[string]float64
}

// Selection is one chosen agent with the score that selected it. Score
// is zero when the agent was chosen by the availability fallback.
type Selection struct {
	ID    string
	Score float64
}

// Selector picks up to max agents for a task from the candidate pool.
// An empty result means the task should be requeued, not failed.
type Selector interface {
	Select(ctx context.Context, task *fleet.Task, candidates []Candidate, max int) ([]Selection, error)
}

// Score computes an agent's selection score against a requirement map.
// A capability below its requirement contributes zero; there is no
// partial credit for under-qualified agents.
func Score(caps, required map[string]float64) float64 {
	var total float64
	for name, req := range required {
		if have, ok := caps[name]; ok && have >= req {
			total += have
		}
	}
	return total
}

// Greedy is the deterministic production selector: rank candidates by
// threshold score, take the top max with score > 0, and if nobody
// qualifies fall back to the single most available agent so the task is
// at least attempted.
type Greedy struct{}

// Select implements Selector.
func (Greedy) Select(ctx context.Context, task *fleet.Task, candidates []Candidate, max int) ([]Selection, error) {
	required := fleet.RequiredCapabilities(task)
	ranked := Rank(candidates, required)

	selected := make([]Selection, 0, max)
	for _, s := range ranked {
		if s.Score <= 0 || len(selected) >= max {
			break
		}
		selected = append(selected, s)
	}
	if len(selected) > 0 {
		return selected, nil
	}

	// Nobody qualifies. Degrade to the most available single agent
	// rather than letting the task sit forever.
	if best, ok := mostAvailable(candidates); ok {
		return []Selection{{ID: best}}, nil
	}

	return nil, nil
}

// Rank scores every candidate and returns them ordered by score
// descending, agent id ascending. The ordering is total, so repeated
// calls over the same pool return the same slice.
func Rank(candidates []Candidate, required map[string]float64) []Selection {
	out := make([]Selection, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Selection{ID: c.ID, Score: Score(c.Capabilities, required)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// statusRank orders agent statuses by readiness for fallback selection.
func statusRank(s fleet.AgentStatus) int {
	switch s {
	case fleet.AgentIdle:
		return 4
	case fleet.AgentActive:
		return 3
	case fleet.AgentBusy:
		return 2
	case fleet.AgentInitializing:
		return 1
	default:
		return 0
	}
}

func mostAvailable(candidates []Candidate) (string, bool) {
	best := ""
	bestRank := 0
	for _, c := range candidates {
		if !c.Status.Selectable() {
			continue
		}
		r := statusRank(c.Status)
		if r > bestRank || (r == bestRank && best != "" && c.ID < best) {
			best = c.ID
			bestRank = r
		}
	}
	return best, best != ""
}
