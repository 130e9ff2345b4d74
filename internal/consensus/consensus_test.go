package consensus

import (
	"context"
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReachWeightedApproval(t *testing.T) {
	votes := []Vote{
		{AgentID: "a", Decision: true, Confidence: 0.9, Reasoning: "looks good"},
		{AgentID: "b", Decision: true, Confidence: 0.8, Reasoning: "agree"},
		{AgentID: "c", Decision: false, Confidence: 0.6, Reasoning: "too risky"},
	}

	result := Reach(votes, 0.7, 3)

	want := (0.9 + 0.8) / (0.9 + 0.8 + 0.6)
	if !almostEqual(result.ApprovalRate, want) {
		t.Errorf("approval rate = %f, want %f", result.ApprovalRate, want)
	}
	if !result.Consensus {
		t.Error("expected consensus with weighted approval above threshold")
	}
	if result.TotalVotes != 3 {
		t.Errorf("total votes = %d, want 3", result.TotalVotes)
	}
	if len(result.ConfidenceScores) != 3 || len(result.Reasons) != 3 {
		t.Errorf("expected 3 scores and reasons, got %d and %d",
			len(result.ConfidenceScores), len(result.Reasons))
	}
}

func TestReachHighConfidenceDissent(t *testing.T) {
	// One confident rejection outweighs two tepid approvals.
	votes := []Vote{
		{AgentID: "a", Decision: true, Confidence: 0.3},
		{AgentID: "b", Decision: true, Confidence: 0.3},
		{AgentID: "c", Decision: false, Confidence: 0.99},
	}

	result := Reach(votes, 0.7, 3)
	if result.Consensus {
		t.Error("expected no consensus against a high-confidence dissent")
	}
}

func TestReachInsufficientVotes(t *testing.T) {
	votes := []Vote{
		{AgentID: "a", Decision: true, Confidence: 1.0},
		{AgentID: "b", Decision: true, Confidence: 1.0},
	}

	result := Reach(votes, 0.7, 3)

	if result.Consensus {
		t.Error("expected no consensus with insufficient votes")
	}
	if result.Reason != "Insufficient votes" {
		t.Errorf("reason = %q, want %q", result.Reason, "Insufficient votes")
	}
	if result.ApprovalRate != 0 {
		t.Errorf("approval rate = %f, want 0", result.ApprovalRate)
	}
	if result.TotalVotes != 2 {
		t.Errorf("total votes = %d, want 2", result.TotalVotes)
	}
	if result.ConfidenceScores == nil || len(result.ConfidenceScores) != 0 {
		t.Error("expected empty, non-nil confidence scores")
	}
	if result.Reasons == nil || len(result.Reasons) != 0 {
		t.Error("expected empty, non-nil reasons")
	}
}

func TestReachZeroConfidence(t *testing.T) {
	votes := []Vote{
		{AgentID: "a", Decision: true, Confidence: 0},
		{AgentID: "b", Decision: true, Confidence: 0},
		{AgentID: "c", Decision: true, Confidence: 0},
	}

	result := Reach(votes, 0.7, 3)
	if result.Consensus {
		t.Error("expected no consensus when every vote carries zero confidence")
	}
	if result.ApprovalRate != 0 {
		t.Errorf("approval rate = %f, want 0", result.ApprovalRate)
	}
}

func TestReachOrderInvariant(t *testing.T) {
	votes := []Vote{
		{AgentID: "a", Decision: true, Confidence: 0.9},
		{AgentID: "b", Decision: false, Confidence: 0.5},
		{AgentID: "c", Decision: true, Confidence: 0.7},
	}
	reversed := []Vote{votes[2], votes[1], votes[0]}

	r1 := Reach(votes, 0.7, 3)
	r2 := Reach(reversed, 0.7, 3)

	if r1.Consensus != r2.Consensus || !almostEqual(r1.ApprovalRate, r2.ApprovalRate) {
		t.Errorf("outcome depends on vote order: %+v vs %+v", r1, r2)
	}
}

type stubVoter struct {
	id     string
	result map[string]any
	err    error
}

func (v *stubVoter) ID() string { return v.id }

func (v *stubVoter) EvaluateProposal(ctx context.Context, proposal map[string]any) (map[string]any, error) {
	return v.result, v.err
}

func approveVoter(id string, confidence float64) *stubVoter {
	return &stubVoter{id: id, result: map[string]any{
		"decision":   true,
		"confidence": confidence,
		"reasoning":  "ok",
	}}
}

func TestCollectVotes(t *testing.T) {
	m := NewManager()
	voters := []Voter{
		approveVoter("a", 0.9),
		approveVoter("b", 0.8),
		approveVoter("c", 0.7),
	}

	votes := m.CollectVotes(context.Background(), "p1", voters, map[string]any{"type": "test"})

	if len(votes) != 3 {
		t.Fatalf("expected 3 votes, got %d", len(votes))
	}
	// Votes come back in voter order regardless of goroutine scheduling.
	for i, id := range []string{"a", "b", "c"} {
		if votes[i].AgentID != id {
			t.Errorf("vote %d from %s, want %s", i, votes[i].AgentID, id)
		}
	}
}

func TestCollectVotesAbsorbsFailures(t *testing.T) {
	m := NewManager()
	voters := []Voter{
		approveVoter("a", 0.9),
		&stubVoter{id: "b", err: errors.New("evaluator exploded")},
		approveVoter("c", 0.7),
	}

	votes := m.CollectVotes(context.Background(), "p1", voters, nil)

	if len(votes) != 2 {
		t.Fatalf("expected 2 surviving votes, got %d", len(votes))
	}
	if votes[0].AgentID != "a" || votes[1].AgentID != "c" {
		t.Errorf("unexpected survivors: %s, %s", votes[0].AgentID, votes[1].AgentID)
	}

	// A malformed vote map is also dropped, not fatal.
	voters = []Voter{
		&stubVoter{id: "d", result: map[string]any{"confidence": 0.5}},
	}
	votes = m.CollectVotes(context.Background(), "p2", voters, nil)
	if len(votes) != 0 {
		t.Errorf("expected malformed vote to be dropped, got %d votes", len(votes))
	}
}

func TestVoteFromMap(t *testing.T) {
	vote, err := VoteFromMap("a", map[string]any{
		"decision":   true,
		"confidence": 0.8,
		"reasoning":  "fine",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !vote.Decision || vote.Confidence != 0.8 || vote.Reasoning != "fine" {
		t.Errorf("unexpected vote: %+v", vote)
	}

	// Integer confidence from JSON-ish sources is accepted.
	vote, err = VoteFromMap("a", map[string]any{"decision": false, "confidence": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vote.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", vote.Confidence)
	}

	if _, err := VoteFromMap("a", map[string]any{"confidence": 0.5}); err == nil {
		t.Error("expected error for missing decision")
	}
	if _, err := VoteFromMap("a", map[string]any{"decision": true}); err == nil {
		t.Error("expected error for missing confidence")
	}
	if _, err := VoteFromMap("a", map[string]any{"decision": true, "confidence": "high"}); err == nil {
		t.Error("expected error for non-numeric confidence")
	}
}

func TestHistoryAndPerformance(t *testing.T) {
	m := NewManager()
	m.CollectVotes(context.Background(), "p1", []Voter{
		approveVoter("a", 0.9),
		&stubVoter{id: "b", result: map[string]any{"decision": false, "confidence": 0.5, "reasoning": "no"}},
	}, nil)
	m.CollectVotes(context.Background(), "p2", []Voter{
		approveVoter("a", 0.7),
	}, nil)

	if got := m.History("p1"); len(got["p1"]) != 2 {
		t.Errorf("expected 2 votes for p1, got %d", len(got["p1"]))
	}
	if got := m.History(""); len(got) != 2 {
		t.Errorf("expected 2 rounds in full history, got %d", len(got))
	}

	perf := m.AnalyzeAgentPerformance("a")
	if perf.TotalVotes != 2 {
		t.Errorf("total votes = %d, want 2", perf.TotalVotes)
	}
	if !almostEqual(perf.AverageConfidence, 0.8) {
		t.Errorf("average confidence = %f, want 0.8", perf.AverageConfidence)
	}
	if !almostEqual(perf.ApprovalRate, 1.0) {
		t.Errorf("approval rate = %f, want 1.0", perf.ApprovalRate)
	}

	if perf := m.AnalyzeAgentPerformance("nobody"); perf.TotalVotes != 0 {
		t.Errorf("expected zero performance for unknown agent, got %+v", perf)
	}

	m.ClearHistory()
	if got := m.History(""); len(got) != 0 {
		t.Errorf("expected empty history after clear, got %d rounds", len(got))
	}
}
