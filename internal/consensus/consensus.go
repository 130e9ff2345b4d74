package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Vote is one agent's verdict on a proposal. Votes are immutable once
// produced; an agent contributes at most one per proposal.
type Vote struct {
	AgentID    string  `json:"agent_id"`
	Decision   bool    `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Result is the aggregate outcome of a voting round.
type Result struct {
	Consensus        bool      `json:"consensus"`
	ApprovalRate     float64   `json:"approval_rate"`
	TotalVotes       int       `json:"total_votes"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	Reasons          []string  `json:"reasons"`
	Reason           string    `json:"reason,omitempty"`
}

// Performance summarizes an agent's voting record across all rounds.
type Performance struct {
	TotalVotes        int     `json:"total_votes"`
	AverageConfidence float64 `json:"average_confidence"`
	ApprovalRate      float64 `json:"approval_rate"`
}

// Voter is anything that can be asked to evaluate a proposal. The vote map
// must carry decision, confidence and reasoning keys.
type Voter interface {
	ID() string
	EvaluateProposal(ctx context.Context, proposal map[string]any) (map[string]any, error)
}

// Manager collects votes and keeps the per-proposal vote history for the
// lifetime of the process.
type Manager struct {
	mu    sync.RWMutex
	votes map[string][]Vote // proposalID -> votes in collection order
}

func NewManager() *Manager {
	return &Manager{
		votes: make(map[string][]Vote),
	}
}

// Reach computes the confidence-weighted consensus over a vote set. It is a
// pure function: one highly confident dissent can outweigh several
// low-confidence approvals, so this is not a majority count.
func Reach(votes []Vote, minConfidence float64, minVotes int) Result {
	if len(votes) < minVotes {
		return Result{
			Consensus:        false,
			ApprovalRate:     0.0,
			TotalVotes:       len(votes),
			ConfidenceScores: []float64{},
			Reasons:          []string{},
			Reason:           "Insufficient votes",
		}
	}

	var totalConfidence, approvedConfidence float64
	scores := make([]float64, 0, len(votes))
	reasons := make([]string, 0, len(votes))
	for _, v := range votes {
		totalConfidence += v.Confidence
		if v.Decision {
			approvedConfidence += v.Confidence
		}
		scores = append(scores, v.Confidence)
		reasons = append(reasons, v.Reasoning)
	}

	// Guard against division by zero when every vote carries no confidence.
	weighted := 0.0
	if totalConfidence > 0 {
		weighted = approvedConfidence / totalConfidence
	}

	return Result{
		Consensus:        weighted >= minConfidence,
		ApprovalRate:     weighted,
		TotalVotes:       len(votes),
		ConfidenceScores: scores,
		Reasons:          reasons,
	}
}

// CollectVotes fans the proposal out to every voter concurrently and waits
// for all of them. A voter whose evaluation fails is dropped from the
// result rather than failing the round. Surviving votes are recorded under
// proposalID.
func (m *Manager) CollectVotes(ctx context.Context, proposalID string, voters []Voter, proposal map[string]any) []Vote {
	results := make([]*Vote, len(voters))

	var wg sync.WaitGroup
	for i, voter := range voters {
		wg.Add(1)
		go func(i int, voter Voter) {
			defer wg.Done()
			vote, err := m.requestVote(ctx, voter, proposal)
			if err != nil {
				slog.Warn("vote collection failed", "agent", voter.ID(), "error", err)
				return
			}
			results[i] = vote
		}(i, voter)
	}
	wg.Wait()

	votes := make([]Vote, 0, len(voters))
	for _, v := range results {
		if v != nil {
			votes = append(votes, *v)
		}
	}

	m.mu.Lock()
	m.votes[proposalID] = votes
	m.mu.Unlock()

	return votes
}

func (m *Manager) requestVote(ctx context.Context, voter Voter, proposal map[string]any) (*Vote, error) {
	result, err := voter.EvaluateProposal(ctx, proposal)
	if err != nil {
		return nil, err
	}
	return VoteFromMap(voter.ID(), result)
}

// VoteFromMap converts the decision/confidence/reasoning triple produced by
// an evaluator into a Vote.
func VoteFromMap(agentID string, result map[string]any) (*Vote, error) {
	decision, ok := result["decision"].(bool)
	if !ok {
		return nil, fmt.Errorf("evaluation result missing decision")
	}
	confidence, err := toFloat(result["confidence"])
	if err != nil {
		return nil, fmt.Errorf("evaluation result confidence: %w", err)
	}
	reasoning, _ := result["reasoning"].(string)

	return &Vote{
		AgentID:    agentID,
		Decision:   decision,
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}

// History returns the recorded votes for a proposal, or every round when
// proposalID is empty.
func (m *Manager) History(proposalID string) map[string][]Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if proposalID != "" {
		return map[string][]Vote{proposalID: append([]Vote(nil), m.votes[proposalID]...)}
	}

	out := make(map[string][]Vote, len(m.votes))
	for id, votes := range m.votes {
		out[id] = append([]Vote(nil), votes...)
	}
	return out
}

// ClearHistory drops all recorded votes.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = make(map[string][]Vote)
}

// AnalyzeAgentPerformance scans the history for one agent's votes and
// reports volume, average confidence and approval fraction. Off the hot
// path; used for longer-term reputation.
func (m *Manager) AnalyzeAgentPerformance(agentID string) Performance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int
	var confidenceSum float64
	var approved int
	for _, votes := range m.votes {
		for _, v := range votes {
			if v.AgentID != agentID {
				continue
			}
			total++
			confidenceSum += v.Confidence
			if v.Decision {
				approved++
			}
		}
	}

	if total == 0 {
		return Performance{}
	}

	return Performance{
		TotalVotes:        total,
		AverageConfidence: confidenceSum / float64(total),
		ApprovalRate:      float64(approved) / float64(total),
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
