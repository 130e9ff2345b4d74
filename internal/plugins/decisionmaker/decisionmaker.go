package decisionmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/llm"
	"github.com/mtzanidakis/sminos/internal/plugin"
)

// riskProfile gates how aggressively the decision maker approves actions.
type riskProfile struct {
	changeThreshold float64
	confidence      float64
}

var riskProfiles = map[string]riskProfile{
	"low":    {changeThreshold: 0.03, confidence: 0.9},
	"medium": {changeThreshold: 0.05, confidence: 0.8},
	"high":   {changeThreshold: 0.08, confidence: 0.7},
}

// Maker turns market signals into strategic approve/reject decisions. With
// an LLM it reasons about the full proposal; without one it falls back to
// threshold heuristics keyed on the configured risk tolerance.
type Maker struct {
	cfg           plugin.Config
	llm           llm.Client
	riskTolerance string
	initialized   bool
}

func New(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
	tolerance, _ := cfg.Setting("risk_tolerance", "medium").(string)
	if _, ok := riskProfiles[tolerance]; !ok {
		return nil, fmt.Errorf("unknown risk tolerance %q", tolerance)
	}
	return &Maker{
		cfg:           cfg,
		llm:           deps.LLM,
		riskTolerance: tolerance,
	}, nil
}

func (m *Maker) Initialize(ctx context.Context) error {
	m.initialized = true
	slog.Info("decision maker initialized", "risk_tolerance", m.riskTolerance)
	return nil
}

func (m *Maker) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	if m.llm != nil {
		result, err := m.decideLLM(ctx, evalCtx)
		if err == nil {
			return result, nil
		}
		slog.Warn("llm decision failed, falling back to heuristics", "error", err)
	}

	return m.decideHeuristic(evalCtx), nil
}

func (m *Maker) decideLLM(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	proposal, _ := json.Marshal(evalCtx["proposal"])

	var prompt strings.Builder
	if m.cfg.SystemPrompt != "" {
		prompt.WriteString(m.cfg.SystemPrompt + "\n\n")
	}
	if instructions, ok := evalCtx["instructions"].(string); ok && instructions != "" {
		prompt.WriteString(instructions + "\n\n")
	}
	fmt.Fprintf(&prompt, "Proposal:\n%s\n\n", proposal)
	fmt.Fprintf(&prompt, "Risk tolerance: %s\n\n", m.riskTolerance)
	prompt.WriteString(`Respond in JSON with keys "decision" (boolean), "confidence" (0-1) and "reasoning" (string).`)

	response, err := m.llm.Query(ctx, prompt.String(), true)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("malformed decision: %w", err)
	}
	if _, err := consensus.VoteFromMap("", result); err != nil {
		return nil, fmt.Errorf("incomplete decision: %w", err)
	}
	return result, nil
}

// decideHeuristic approves when the 24h move stays under the tolerance
// threshold and rejects larger swings.
func (m *Maker) decideHeuristic(evalCtx map[string]any) map[string]any {
	profile := riskProfiles[m.riskTolerance]

	proposal, _ := evalCtx["proposal"].(map[string]any)
	params, _ := proposal["params"].(map[string]any)
	change := floatParam(params, "change_24h") / 100

	if math.Abs(change) < profile.changeThreshold {
		return map[string]any{
			"decision":   true,
			"confidence": 0.85,
			"reasoning":  "Price movement within normal range; proceeding fits the strategy.",
		}
	}

	direction := "increase"
	if change < 0 {
		direction = "decrease"
	}
	return map[string]any{
		"decision":   false,
		"confidence": profile.confidence,
		"reasoning": fmt.Sprintf("Significant price %s of %.1f%% exceeds the %s tolerance threshold.",
			direction, math.Abs(change)*100, m.riskTolerance),
	}
}

func (m *Maker) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	switch operation {
	case "decide":
		return m.decideHeuristic(map[string]any{"proposal": map[string]any{"params": args}}), nil
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnsupportedOperation, operation)
	}
}

func (m *Maker) Cleanup(ctx context.Context) error {
	m.initialized = false
	return nil
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
