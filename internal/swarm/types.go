package swarm

import "time"

// RoleConfig configures one agent's participation in the swarm.
type RoleConfig struct {
	Role          Role
	MinConfidence float64
	MinVotes      int
	Timeout       time.Duration
	MaxRetries    int
}

// DefaultRoleConfig returns the standard swarm parameters for a role.
func DefaultRoleConfig(role Role) RoleConfig {
	return RoleConfig{
		Role:          role,
		MinConfidence: 0.7,
		MinVotes:      3,
		Timeout:       5 * time.Second,
	}
}

// Proposal is the candidate action submitted for approval. It is ephemeral:
// built inside ProposeAction and not retained beyond the round.
type Proposal struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Params   map[string]any `json:"params"`
	Proposer string         `json:"proposer"`
}

// AsMap renders the proposal in the shape evaluators receive.
func (p Proposal) AsMap() map[string]any {
	return map[string]any{
		"id":       p.ID,
		"type":     p.Type,
		"params":   p.Params,
		"proposer": p.Proposer,
	}
}
