package assign

import (
	"context"
	"sync"

	"github.com/skymind/fleetkit/fleet"
	"github.com/skymind/fleetkit/store"
)

// Cache is the coordinator's view of agent capability scores, keyed by
// agent id. It is rebuilt from persisted agent state at boot and patched
// when capability update messages arrive. Entries may lag the agents'
// own view; scores change slowly relative to assignment frequency, so
// stale reads are acceptable here.
type Cache struct {
	mu     sync.RWMutex
	scores map[string]map[string]float64
}

// NewCache creates an empty capability cache.
func NewCache() *Cache {
	return &Cache{scores: make(map[string]map[string]float64)}
}

// Load rebuilds the cache from persisted agent state records.
// Returns the number of agents loaded.
func (c *Cache) Load(ctx context.Context, st store.Store) (int, error) {
	recs, err := st.Find(ctx, fleet.CollectionAgentStates, nil)
	if err != nil {
		return 0, err
	}

	loaded := make(map[string]map[string]float64, len(recs))
	for _, rec := range recs {
		state, err := fleet.UnmarshalAgentState(rec.Data)
		if err != nil {
			// A corrupt record should not poison the whole boot.
			continue
		}
		if state.AgentID == "" {
			continue
		}
		loaded[state.AgentID] = cloneScores(state.CapabilityScores)
	}

	c.mu.Lock()
	c.scores = loaded
	c.mu.Unlock()

	return len(loaded), nil
}

// Update replaces the cached scores for one agent.
func (c *Cache) Update(agentID string, scores map[string]float64) {
	if agentID == "" {
		return
	}
	c.mu.Lock()
	c.scores[agentID] = cloneScores(scores)
	c.mu.Unlock()
}

// Remove drops an agent from the cache.
func (c *Cache) Remove(agentID string) {
	c.mu.Lock()
	delete(c.scores, agentID)
	c.mu.Unlock()
}

// Scores returns a copy of the cached scores for an agent, or nil if
// the agent is unknown.
func (c *Cache) Scores(agentID string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.scores[agentID]; ok {
		return cloneScores(s)
	}
	return nil
}

// Len returns the number of cached agents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scores)
}

func cloneScores(s map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
