package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/plugin"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

type approvePlugin struct{}

func (approvePlugin) Initialize(ctx context.Context) error { return nil }
func (approvePlugin) Cleanup(ctx context.Context) error    { return nil }

func (approvePlugin) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	return map[string]any{"decision": true, "confidence": 0.9, "reasoning": "ok"}, nil
}

func (approvePlugin) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	return nil, plugin.ErrUnsupportedOperation
}

func newTestServer(t *testing.T, auth string) (*Server, *store.Store) {
	t.Helper()

	db, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	loader := plugin.NewLoader(plugin.Deps{}, nil)
	loader.Register("proposer", func(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
		return approvePlugin{}, nil
	})
	loader.Register("voter", func(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
		return approvePlugin{}, nil
	})

	cfg := swarm.DefaultRoleConfig(swarm.RoleGeneric)
	cfg.MinVotes = 1

	agents := make(map[string]*swarm.Agent)
	var all []*swarm.Agent
	for _, name := range []string{"proposer", "voter"} {
		inst, err := loader.Load(context.Background(), name, nil)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		a := swarm.NewAgent(inst, cfg, swarm.WithStore(db))
		agents[name] = a
		all = append(all, a)
	}
	for _, a := range all {
		a.JoinSwarm(all)
		a.Start()
	}

	srv := NewServer(db, nil, loader, agents, config.WebConfig{Auth: auth}, "test")
	return srv, db
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	srv.registerAPI(mux)
	handler := srv.withMiddleware(mux)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateProposal(t *testing.T) {
	srv, db := newTestServer(t, "")

	rec := doRequest(srv, "POST", "/api/proposals", `{"agent": "proposer", "type": "transfer", "params": {"amount": 1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var result struct {
		Consensus  bool `json:"consensus"`
		TotalVotes int  `json:"total_votes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Consensus || result.TotalVotes != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	// The round landed in the store.
	rounds, err := db.ListRounds(10)
	if err != nil || len(rounds) != 1 {
		t.Fatalf("rounds = %v, %v", rounds, err)
	}

	// And is retrievable with its votes.
	rec = doRequest(srv, "GET", "/api/proposals/"+rounds[0].ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get proposal status = %d", rec.Code)
	}
	var detail struct {
		Votes []store.VoteRecord `json:"votes"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &detail)
	if len(detail.Votes) != 1 {
		t.Errorf("expected 1 vote, got %d", len(detail.Votes))
	}
}

func TestCreateProposalErrors(t *testing.T) {
	srv, _ := newTestServer(t, "")

	if rec := doRequest(srv, "POST", "/api/proposals", `{"agent": "ghost", "type": "x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d", rec.Code)
	}
	if rec := doRequest(srv, "POST", "/api/proposals", `{"agent": "proposer"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing type status = %d", rec.Code)
	}
	if rec := doRequest(srv, "POST", "/api/proposals", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rec.Code)
	}

	srv.agents["proposer"].Stop()
	if rec := doRequest(srv, "POST", "/api/proposals", `{"agent": "proposer", "type": "x"}`); rec.Code != http.StatusConflict {
		t.Errorf("stopped agent status = %d", rec.Code)
	}
}

func TestListAgents(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doRequest(srv, "GET", "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var agents []agentSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Name != "proposer" || agents[1].Name != "voter" {
		t.Errorf("agents not sorted: %v", agents)
	}
	if !agents[0].Running || agents[0].Peers != 1 {
		t.Errorf("unexpected summary: %+v", agents[0])
	}
}

func TestAgentPerformance(t *testing.T) {
	srv, _ := newTestServer(t, "")

	doRequest(srv, "POST", "/api/proposals", `{"agent": "proposer", "type": "transfer"}`)

	rec := doRequest(srv, "GET", "/api/agents/voter/performance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Performance struct {
			TotalVotes   int     `json:"total_votes"`
			ApprovalRate float64 `json:"approval_rate"`
		} `json:"performance"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Performance.TotalVotes != 1 || body.Performance.ApprovalRate != 1 {
		t.Errorf("unexpected performance: %+v", body.Performance)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doRequest(srv, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["version"] != "test" || body["agents"] != 2.0 {
		t.Errorf("unexpected status: %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "hunter2")

	mux := http.NewServeMux()
	srv.registerAPI(mux)
	handler := srv.withMiddleware(mux)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer auth status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.SetBasicAuth("anyone", "hunter2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("basic auth status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}
}
