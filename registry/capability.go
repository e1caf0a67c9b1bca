package registry

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/skymind/fleetkit/fleet"
)

// ErrInvalidScore reports a capability score outside [0, 1].
var ErrInvalidScore = errors.New("capability score out of range")

// Profile describes an agent's capabilities for registration and
// introspection queries.
type Profile struct {
	// AgentID identifies the agent this profile belongs to.
	AgentID string `json:"agent_id"`

	// AgentType names the agent kind.
	AgentType string `json:"agent_type"`

	// Scores map capability names to proficiency in [0, 1].
	Scores map[string]float64 `json:"scores"`
}

// ProfileFor snapshots a handle's capabilities.
func ProfileFor(h Handle) Profile {
	scores := make(map[string]float64, len(h.Capabilities()))
	for cap, score := range h.Capabilities() {
		scores[cap] = score
	}
	return Profile{
		AgentID:   h.ID(),
		AgentType: h.Type(),
		Scores:    scores,
	}
}

// Validate checks the profile for a usable id and in-range scores.
func (p *Profile) Validate() error {
	if p.AgentID == "" {
		return ErrInvalidID
	}
	for _, score := range p.Scores {
		if score < 0 || score > 1 {
			return ErrInvalidScore
		}
	}
	return nil
}

// Has reports whether the profile scores the capability above zero.
func (p *Profile) Has(capability string) bool {
	return p.Scores[capability] > 0
}

// Strongest returns up to n capability names ordered by score descending,
// ties broken by name.
func (p *Profile) Strongest(n int) []string {
	names := make([]string, 0, len(p.Scores))
	for cap := range p.Scores {
		names = append(names, cap)
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := p.Scores[names[i]], p.Scores[names[j]]
		if si != sj {
			return si > sj
		}
		return names[i] < names[j]
	})
	if n < len(names) {
		names = names[:n]
	}
	return names
}

// Marshal serializes the profile to JSON.
func (p *Profile) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalProfile deserializes a profile from JSON.
func UnmarshalProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultScores returns the stock capability scores for a built-in agent
// type. Unknown types get a conservative generalist profile.
func DefaultScores(agentType string) map[string]float64 {
	switch agentType {
	case "coordinator":
		return map[string]float64{
			fleet.CapDroneControl:      0.5,
			fleet.CapPathPlanning:      0.8,
			fleet.CapEmergencyResponse: 0.7,
			fleet.CapLogistics:         0.6,
		}
	case "logistics":
		return map[string]float64{
			fleet.CapLogistics:       0.95,
			fleet.CapPathPlanning:    0.85,
			fleet.CapDroneControl:    0.8,
			fleet.CapObjectDetection: 0.4,
		}
	case "monitor":
		return map[string]float64{
			fleet.CapObjectDetection:  0.95,
			fleet.CapAnomalyDetection: 0.9,
			fleet.CapDroneControl:     0.6,
			fleet.CapPathPlanning:     0.5,
		}
	case "emergency":
		return map[string]float64{
			fleet.CapEmergencyResponse: 0.95,
			fleet.CapDroneControl:      0.85,
			fleet.CapPathPlanning:      0.75,
			fleet.CapObjectDetection:   0.6,
		}
	default:
		return map[string]float64{
			fleet.CapDroneControl:    0.7,
			fleet.CapPathPlanning:    0.6,
			fleet.CapObjectDetection: 0.5,
		}
	}
}
