package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/proposals", s.createProposal)
	mux.HandleFunc("GET /api/proposals", s.listProposals)
	mux.HandleFunc("GET /api/proposals/{id}", s.getProposal)

	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}/performance", s.getAgentPerformance)

	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent  string         `json:"agent"`
		Type   string         `json:"type"`
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Type == "" {
		jsonError(w, "type is required", http.StatusBadRequest)
		return
	}

	agent, ok := s.agents[body.Agent]
	if !ok {
		jsonError(w, "unknown agent", http.StatusNotFound)
		return
	}

	result, err := agent.ProposeAction(r.Context(), body.Type, body.Params)
	if err != nil {
		if errors.Is(err, swarm.ErrNotRunning) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, result)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.db.ListRounds(100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, rounds)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	round, err := s.db.GetRound(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if round == nil {
		jsonError(w, "proposal not found", http.StatusNotFound)
		return
	}

	votes, err := s.db.GetVotes(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]any{
		"round": round,
		"votes": votes,
	})
}

type agentSummary struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Running      bool     `json:"running"`
	Peers        int      `json:"peers"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	summaries := make([]agentSummary, 0, len(s.agents))
	for name, agent := range s.agents {
		summary := agentSummary{
			Name:    name,
			Role:    agent.Role().Label(),
			Running: agent.IsRunning(),
			Peers:   len(agent.Peers()),
		}
		if inst, ok := s.loader.Get(name); ok {
			summary.Capabilities = inst.Config.Capabilities
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	jsonResponse(w, summaries)
}

// getAgentPerformance aggregates over stored votes, so it covers rounds
// proposed by any agent, not just this server's view of one manager.
func (s *Server) getAgentPerformance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	votes, err := s.db.VotesByAgent(id, 0)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

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

	jsonResponse(w, map[string]any{
		"agent_id":    id,
		"performance": perf,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	running := 0
	for _, agent := range s.agents {
		if agent.IsRunning() {
			running++
		}
	}

	jsonResponse(w, map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"agents":  len(s.agents),
		"running": running,
	})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
