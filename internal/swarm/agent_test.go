package swarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtzanidakis/sminos/internal/plugin"
)

type fakePlugin struct {
	evalFn func(ctx context.Context, evalCtx map[string]any) (map[string]any, error)
}

func (f *fakePlugin) Initialize(ctx context.Context) error { return nil }
func (f *fakePlugin) Cleanup(ctx context.Context) error    { return nil }

func (f *fakePlugin) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	return f.evalFn(ctx, evalCtx)
}

func (f *fakePlugin) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	return nil, plugin.ErrUnsupportedOperation
}

func approvePlugin(confidence float64) *fakePlugin {
	return &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
		return map[string]any{
			"decision":   true,
			"confidence": confidence,
			"reasoning":  "approve",
		}, nil
	}}
}

func newTestAgent(t *testing.T, id string, p plugin.Plugin, cfg RoleConfig) *Agent {
	t.Helper()
	inst := &plugin.Instance{Plugin: p, Config: plugin.DefaultConfig(id)}
	return NewAgent(inst, cfg)
}

func testRoleConfig() RoleConfig {
	cfg := DefaultRoleConfig(RoleGeneric)
	cfg.Timeout = time.Second
	return cfg
}

func TestJoinSwarmSymmetric(t *testing.T) {
	a := newTestAgent(t, "a", approvePlugin(0.9), testRoleConfig())
	b := newTestAgent(t, "b", approvePlugin(0.9), testRoleConfig())
	c := newTestAgent(t, "c", approvePlugin(0.9), testRoleConfig())

	a.JoinSwarm([]*Agent{b, c})

	if got := len(a.Peers()); got != 2 {
		t.Errorf("a has %d peers, want 2", got)
	}
	if got := len(b.Peers()); got != 1 {
		t.Errorf("b has %d peers, want 1", got)
	}
	if got := len(c.Peers()); got != 1 {
		t.Errorf("c has %d peers, want 1", got)
	}

	// Joining again, or joining yourself, changes nothing.
	a.JoinSwarm([]*Agent{a, b, c})
	if got := len(a.Peers()); got != 2 {
		t.Errorf("after rejoin a has %d peers, want 2", got)
	}

	b.JoinSwarm([]*Agent{c})
	if got := len(b.Peers()); got != 2 {
		t.Errorf("b has %d peers, want 2", got)
	}

	a.LeaveSwarm()
	if got := len(a.Peers()); got != 0 {
		t.Errorf("a has %d peers after leaving, want 0", got)
	}
	if got := len(b.Peers()); got != 1 {
		t.Errorf("b has %d peers after a left, want 1", got)
	}
}

func TestProposeActionRequiresRunning(t *testing.T) {
	a := newTestAgent(t, "a", approvePlugin(0.9), testRoleConfig())

	if _, err := a.ProposeAction(context.Background(), "transfer", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}

	a.Start()
	if !a.IsRunning() {
		t.Fatal("expected agent to be running")
	}
	a.Stop()
	if a.IsRunning() {
		t.Fatal("expected agent to be stopped")
	}
	if _, err := a.ProposeAction(context.Background(), "transfer", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestProposeActionReachesConsensus(t *testing.T) {
	proposer := newTestAgent(t, "proposer", approvePlugin(0.9), testRoleConfig())
	peers := []*Agent{
		newTestAgent(t, "a", approvePlugin(0.9), testRoleConfig()),
		newTestAgent(t, "b", approvePlugin(0.8), testRoleConfig()),
		newTestAgent(t, "c", &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
			return map[string]any{"decision": false, "confidence": 0.6, "reasoning": "risky"}, nil
		}}, testRoleConfig()),
	}

	proposer.JoinSwarm(peers)
	proposer.Start()
	for _, p := range peers {
		p.Start()
	}

	result, err := proposer.ProposeAction(context.Background(), "transfer", map[string]any{"amount": 1.5})
	if err != nil {
		t.Fatalf("propose action: %v", err)
	}

	if !result.Consensus {
		t.Error("expected consensus")
	}
	if result.TotalVotes != 3 {
		t.Errorf("total votes = %d, want 3", result.TotalVotes)
	}

	history := proposer.History("")
	if len(history) != 1 {
		t.Errorf("expected 1 round in history, got %d", len(history))
	}
}

func TestStoppedPeerVotesReject(t *testing.T) {
	proposer := newTestAgent(t, "proposer", approvePlugin(0.9), testRoleConfig())
	running := newTestAgent(t, "running", approvePlugin(0.9), testRoleConfig())
	stopped := newTestAgent(t, "stopped", approvePlugin(0.9), testRoleConfig())

	cfg := testRoleConfig()
	cfg.MinVotes = 2
	proposer.cfg = cfg

	proposer.JoinSwarm([]*Agent{running, stopped})
	proposer.Start()
	running.Start()

	result, err := proposer.ProposeAction(context.Background(), "transfer", nil)
	if err != nil {
		t.Fatalf("propose action: %v", err)
	}

	// The stopped peer still votes: a zero-confidence rejection.
	if result.TotalVotes != 2 {
		t.Fatalf("total votes = %d, want 2", result.TotalVotes)
	}

	votes := proposer.History("")
	for _, roundVotes := range votes {
		for _, v := range roundVotes {
			if v.AgentID == "stopped" {
				if v.Decision || v.Confidence != 0 {
					t.Errorf("stopped peer vote = %+v, want zero-confidence rejection", v)
				}
				if v.Reasoning != "agent is not running" {
					t.Errorf("reasoning = %q", v.Reasoning)
				}
			}
		}
	}
}

func TestEvaluateProposalNeverErrors(t *testing.T) {
	failing := newTestAgent(t, "failing", &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
		return nil, errors.New("backend unavailable")
	}}, testRoleConfig())
	failing.Start()

	result, err := failing.EvaluateProposal(context.Background(), map[string]any{"type": "transfer"})
	if err != nil {
		t.Fatalf("EvaluateProposal must not error, got %v", err)
	}
	if result["decision"] != false {
		t.Errorf("decision = %v, want false", result["decision"])
	}
	if result["confidence"] != 0.0 {
		t.Errorf("confidence = %v, want 0", result["confidence"])
	}
}

func TestEvaluateProposalFraming(t *testing.T) {
	var seen map[string]any
	p := &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
		seen = evalCtx
		return map[string]any{"decision": true, "confidence": 0.9}, nil
	}}

	cfg := testRoleConfig()
	cfg.Role = RoleRiskManager
	a := newTestAgent(t, "risk", p, cfg)
	a.Start()

	if _, err := a.EvaluateProposal(context.Background(), map[string]any{"type": "transfer"}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if seen["role"] != "risk_manager" {
		t.Errorf("role = %v, want risk_manager", seen["role"])
	}
	if seen["instructions"] != RoleRiskManager.Framing() {
		t.Errorf("instructions missing role framing")
	}
	if _, ok := seen["proposal"].(map[string]any); !ok {
		t.Error("proposal missing from evaluation context")
	}
}

func TestEvaluateRetries(t *testing.T) {
	attempts := 0
	p := &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"decision": true, "confidence": 0.9}, nil
	}}

	cfg := testRoleConfig()
	cfg.MaxRetries = 3
	a := newTestAgent(t, "retry", p, cfg)
	a.Start()

	result, err := a.EvaluateProposal(context.Background(), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result["decision"] != true {
		t.Errorf("expected success after retries, got %v", result)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPeerTimeoutBecomesRejectVote(t *testing.T) {
	slow := newTestAgent(t, "slow", &fakePlugin{evalFn: func(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
		select {
		case <-time.After(5 * time.Second):
			return map[string]any{"decision": true, "confidence": 0.9}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}, testRoleConfig())
	slow.Start()

	voter := &peerVoter{agent: slow, timeout: 50 * time.Millisecond}

	start := time.Now()
	result, err := voter.EvaluateProposal(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout did not cut the evaluation short")
	}
	if result["decision"] != false || result["reasoning"] != "evaluation timed out" {
		t.Errorf("expected timeout rejection, got %v", result)
	}
}

func TestInsufficientVotesRound(t *testing.T) {
	proposer := newTestAgent(t, "proposer", approvePlugin(0.9), testRoleConfig())
	peer := newTestAgent(t, "peer", approvePlugin(0.9), testRoleConfig())

	proposer.JoinSwarm([]*Agent{peer})
	proposer.Start()
	peer.Start()

	result, err := proposer.ProposeAction(context.Background(), "transfer", nil)
	if err != nil {
		t.Fatalf("propose action: %v", err)
	}
	if result.Consensus {
		t.Error("expected no consensus with a single voter against min_votes 3")
	}
	if result.Reason != "Insufficient votes" {
		t.Errorf("reason = %q, want Insufficient votes", result.Reason)
	}
}
