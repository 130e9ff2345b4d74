package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type ipcResponse struct {
	OK          bool                   `json:"ok"`
	Error       string                 `json:"error,omitempty"`
	Result      *consensus.Result      `json:"result,omitempty"`
	Rounds      []store.Round          `json:"rounds,omitempty"`
	Performance *consensus.Performance `json:"performance,omitempty"`
}

// serveIPC answers svote requests over the bus: submit a proposal, list
// recent rounds, inspect an agent's voting record.
func serveIPC(ctx context.Context, nc *natsbus.Client, agents map[string]*swarm.Agent, db *store.Store) error {
	sub, err := nc.QueueSubscribe(natsbus.TopicIPCProposals, "sminos-gateway", func(msg *nats.Msg) {
		var req ipcRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respond(msg, ipcResponse{Error: "malformed request"})
			return
		}
		respond(msg, handleIPC(ctx, req, agents, db))
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	_ = sub.Unsubscribe()
	return nil
}

func handleIPC(ctx context.Context, req ipcRequest, agents map[string]*swarm.Agent, db *store.Store) ipcResponse {
	switch req.Type {
	case "propose":
		name, _ := req.Payload["agent"].(string)
		actionType, _ := req.Payload["type"].(string)
		params, _ := req.Payload["params"].(map[string]any)

		agent, ok := agents[name]
		if !ok {
			return ipcResponse{Error: "unknown agent: " + name}
		}
		if actionType == "" {
			return ipcResponse{Error: "type is required"}
		}

		result, err := agent.ProposeAction(ctx, actionType, params)
		if err != nil {
			return ipcResponse{Error: err.Error()}
		}
		return ipcResponse{OK: true, Result: result}

	case "rounds":
		limit := 0
		if n, ok := req.Payload["limit"].(float64); ok {
			limit = int(n)
		}
		rounds, err := db.ListRounds(limit)
		if err != nil {
			return ipcResponse{Error: err.Error()}
		}
		return ipcResponse{OK: true, Rounds: rounds}

	case "performance":
		name, _ := req.Payload["agent"].(string)
		votes, err := db.VotesByAgent(name, 0)
		if err != nil {
			return ipcResponse{Error: err.Error()}
		}
		perf := aggregatePerformance(votes)
		return ipcResponse{OK: true, Performance: &perf}

	default:
		return ipcResponse{Error: "unknown request type: " + req.Type}
	}
}

func aggregatePerformance(votes []store.VoteRecord) consensus.Performance {
	var perf consensus.Performance
	var confidenceSum float64
	var approved int
	for _, v := range votes {
		perf.TotalVotes++
		confidenceSum += v.Confidence
		if v.Decision {
			approved++
		}
	}
	if perf.TotalVotes > 0 {
		perf.AverageConfidence = confidenceSum / float64(perf.TotalVotes)
		perf.ApprovalRate = float64(approved) / float64(perf.TotalVotes)
	}
	return perf
}

func respond(msg *nats.Msg, resp ipcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal ipc response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("ipc respond failed", "error", err)
	}
}
