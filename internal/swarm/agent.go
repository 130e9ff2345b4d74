package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/plugin"
	"github.com/mtzanidakis/sminos/internal/store"
)

// ErrNotRunning is returned by ProposeAction on a stopped agent.
var ErrNotRunning = errors.New("agent is not running")

// Agent is one swarm participant: a loaded plugin instance plus the swarm
// machinery around it. Peer links are symmetric, so every agent sees the
// same membership and any of them can propose.
type Agent struct {
	inst      *plugin.Instance
	cfg       RoleConfig
	consensus *consensus.Manager

	// bus and db are optional; a nil value disables event publishing or
	// round persistence respectively.
	bus *natsbus.Client
	db  *store.Store

	mu      sync.RWMutex
	running bool
	peers   map[string]*Agent
}

// Option configures optional agent collaborators.
type Option func(*Agent)

// WithBus attaches a NATS client for round lifecycle events.
func WithBus(bus *natsbus.Client) Option {
	return func(a *Agent) { a.bus = bus }
}

// WithStore attaches a store for round and vote persistence.
func WithStore(db *store.Store) Option {
	return func(a *Agent) { a.db = db }
}

// NewAgent wraps a loaded plugin instance as a swarm participant.
func NewAgent(inst *plugin.Instance, cfg RoleConfig, opts ...Option) *Agent {
	a := &Agent{
		inst:      inst,
		cfg:       cfg,
		consensus: consensus.NewManager(),
		peers:     make(map[string]*Agent),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the agent's identity, the plugin name.
func (a *Agent) ID() string {
	return a.inst.Config.Name
}

// Role returns the agent's evaluation role.
func (a *Agent) Role() Role {
	return a.cfg.Role
}

// Start marks the agent as an active swarm participant.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	slog.Info("agent started", "agent", a.ID(), "role", a.cfg.Role)
	a.publish(natsbus.TopicEventsAgent(a.ID()), map[string]any{"event": "agent.started", "agent": a.ID()})
}

// Stop withdraws the agent from active participation. Peer links survive so
// a restarted agent rejoins the same swarm.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	slog.Info("agent stopped", "agent", a.ID())
	a.publish(natsbus.TopicEventsAgent(a.ID()), map[string]any{"event": "agent.stopped", "agent": a.ID()})
}

// IsRunning reports whether the agent participates in rounds.
func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// JoinSwarm links this agent with every given peer, symmetrically: each
// peer also records this agent. Self-links and duplicates are skipped, so
// joining is idempotent.
func (a *Agent) JoinSwarm(peers []*Agent) {
	for _, peer := range peers {
		if peer == nil || peer.ID() == a.ID() {
			continue
		}
		a.addPeer(peer)
		peer.addPeer(a)
	}
	slog.Info("agent joined swarm", "agent", a.ID(), "peers", len(a.Peers()))
}

// LeaveSwarm severs all peer links in both directions.
func (a *Agent) LeaveSwarm() {
	for _, peer := range a.Peers() {
		peer.removePeer(a.ID())
	}
	a.mu.Lock()
	a.peers = make(map[string]*Agent)
	a.mu.Unlock()
}

func (a *Agent) addPeer(peer *Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.peers[peer.ID()]; ok {
		return
	}
	a.peers[peer.ID()] = peer
}

func (a *Agent) removePeer(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, id)
}

// Peers returns the current peer set ordered by agent ID.
func (a *Agent) Peers() []*Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*Agent, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ProposeAction submits an action to the swarm and drives a full voting
// round: fan-out to every peer, confidence-weighted consensus over the
// surviving votes, persistence and event publication. The proposer does not
// vote on its own proposal.
func (a *Agent) ProposeAction(ctx context.Context, actionType string, params map[string]any) (*consensus.Result, error) {
	if !a.IsRunning() {
		return nil, ErrNotRunning
	}

	p := Proposal{
		ID:       uuid.NewString(),
		Type:     actionType,
		Params:   params,
		Proposer: a.ID(),
	}
	slog.Info("proposing action", "agent", a.ID(), "proposal", p.ID, "type", actionType)

	a.recordRoundStart(p)
	a.publish(natsbus.TopicEventsProposal(p.ID), map[string]any{
		"event":    "proposal.created",
		"proposal": p,
	})

	peers := a.Peers()
	voters := make([]consensus.Voter, 0, len(peers))
	for _, peer := range peers {
		voters = append(voters, &peerVoter{agent: peer, timeout: a.cfg.Timeout})
	}

	votes := a.consensus.CollectVotes(ctx, p.ID, voters, p.AsMap())
	for _, v := range votes {
		a.publish(natsbus.TopicProposalVotes(p.ID), v)
	}
	result := consensus.Reach(votes, a.cfg.MinConfidence, a.cfg.MinVotes)

	a.recordRoundOutcome(p, votes, result)
	a.publish(natsbus.TopicEventsConsensus, map[string]any{
		"event":    "consensus.reached",
		"proposal": p.ID,
		"result":   result,
	})

	slog.Info("consensus reached", "proposal", p.ID,
		"consensus", result.Consensus, "approval_rate", result.ApprovalRate, "votes", result.TotalVotes)
	return &result, nil
}

// EvaluateProposal produces this agent's vote on a proposal. It never
// returns an error: a stopped agent, an exhausted retry budget or a plugin
// failure all surface as a rejection with confidence 0 so the round
// continues without this voice carrying weight.
func (a *Agent) EvaluateProposal(ctx context.Context, proposal map[string]any) (map[string]any, error) {
	if !a.IsRunning() {
		return rejection("agent is not running"), nil
	}

	evalCtx := map[string]any{
		"proposal":     proposal,
		"role":         a.cfg.Role.Label(),
		"instructions": a.cfg.Role.Framing(),
	}

	result, err := a.evaluateWithRetries(ctx, evalCtx)
	if err != nil {
		slog.Warn("evaluation failed", "agent", a.ID(), "error", err)
		return rejection(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	return result, nil
}

// evaluateWithRetries delegates to the plugin, retrying transient failures
// up to the configured budget. Context cancellation is not retried.
func (a *Agent) evaluateWithRetries(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		result, err := a.inst.Evaluate(ctx, evalCtx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < a.cfg.MaxRetries {
			slog.Debug("retrying evaluation", "agent", a.ID(), "attempt", attempt+1, "error", err)
		}
	}
	return nil, lastErr
}

// Performance reports this agent's view of a peer's voting record.
func (a *Agent) Performance(agentID string) consensus.Performance {
	return a.consensus.AnalyzeAgentPerformance(agentID)
}

// History exposes the vote history of rounds this agent proposed.
func (a *Agent) History(proposalID string) map[string][]consensus.Vote {
	return a.consensus.History(proposalID)
}

func (a *Agent) recordRoundStart(p Proposal) {
	if a.db == nil {
		return
	}
	params, err := json.Marshal(p.Params)
	if err != nil {
		params = nil
	}
	round := &store.Round{
		ID:         p.ID,
		ActionType: p.Type,
		Params:     params,
		Proposer:   p.Proposer,
		Status:     "voting",
	}
	if err := a.db.SaveRound(round); err != nil {
		slog.Warn("record round failed", "proposal", p.ID, "error", err)
	}
}

func (a *Agent) recordRoundOutcome(p Proposal, votes []consensus.Vote, result consensus.Result) {
	if a.db == nil {
		return
	}
	for _, v := range votes {
		rec := &store.VoteRecord{
			ProposalID: p.ID,
			AgentID:    v.AgentID,
			Decision:   v.Decision,
			Confidence: v.Confidence,
			Reasoning:  v.Reasoning,
		}
		if err := a.db.SaveVote(rec); err != nil {
			slog.Warn("record vote failed", "proposal", p.ID, "agent", v.AgentID, "error", err)
		}
	}
	if err := a.db.CompleteRound(p.ID, result.Consensus, result.ApprovalRate, result.TotalVotes, result.Reason); err != nil {
		slog.Warn("complete round failed", "proposal", p.ID, "error", err)
	}
}

func (a *Agent) publish(topic string, payload any) {
	if a.bus == nil {
		return
	}
	if err := a.bus.PublishJSON(topic, payload); err != nil {
		slog.Warn("event publish failed", "topic", topic, "error", err)
	}
}

func rejection(reason string) map[string]any {
	return map[string]any{
		"decision":   false,
		"confidence": 0.0,
		"reasoning":  reason,
	}
}

// peerVoter presents a peer agent as a Voter while enforcing the
// proposer's per-peer deadline. A peer that does not answer in time votes
// to reject instead of stalling the round.
type peerVoter struct {
	agent   *Agent
	timeout time.Duration
}

func (v *peerVoter) ID() string { return v.agent.ID() }

func (v *peerVoter) EvaluateProposal(ctx context.Context, proposal map[string]any) (map[string]any, error) {
	if v.timeout <= 0 {
		return v.agent.EvaluateProposal(ctx, proposal)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	type evalResult struct {
		result map[string]any
		err    error
	}
	done := make(chan evalResult, 1)
	go func() {
		result, err := v.agent.EvaluateProposal(ctx, proposal)
		done <- evalResult{result, err}
	}()

	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return rejection("evaluation timed out"), nil
	}
}
