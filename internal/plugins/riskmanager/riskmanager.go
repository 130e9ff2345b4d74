package riskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/llm"
	"github.com/mtzanidakis/sminos/internal/plugin"
)

// Manager enforces position and exposure limits on proposed actions. Hard
// limit breaches are rejected outright; within limits it defers to the LLM
// for a qualitative risk assessment.
type Manager struct {
	cfg              plugin.Config
	llm              llm.Client
	maxPositionSize  float64
	maxTotalExposure float64
	riskPerTrade     float64
	initialized      bool
}

func New(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
	return &Manager{
		cfg:              cfg,
		llm:              deps.LLM,
		maxPositionSize:  cfg.SettingFloat("max_position_size", 0.1),
		maxTotalExposure: cfg.SettingFloat("max_total_exposure", 0.5),
		riskPerTrade:     cfg.SettingFloat("risk_per_trade", 0.02),
	}, nil
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.initialized = true
	slog.Info("risk manager initialized",
		"max_position_size", m.maxPositionSize, "max_total_exposure", m.maxTotalExposure)
	return nil
}

func (m *Manager) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	params := proposalParams(evalCtx)
	metrics := m.metrics(params)

	if reason := m.limitBreach(metrics); reason != "" {
		return map[string]any{
			"decision":   false,
			"confidence": 0.95,
			"reasoning":  reason,
			"metrics":    metrics.asMap(),
		}, nil
	}

	if m.llm == nil {
		return map[string]any{
			"decision":   true,
			"confidence": 0.8,
			"reasoning":  "Exposure within configured limits.",
			"metrics":    metrics.asMap(),
		}, nil
	}

	assessment, err := m.assess(ctx, evalCtx, metrics)
	if err != nil {
		return map[string]any{
			"decision":   false,
			"confidence": 0.0,
			"reasoning":  fmt.Sprintf("risk assessment failed: %v", err),
			"metrics":    metrics.asMap(),
		}, nil
	}

	assessment["metrics"] = metrics.asMap()
	return assessment, nil
}

type riskMetrics struct {
	ProposedSize       float64
	CurrentExposure    float64
	PortfolioValue     float64
	ProposedSizeRatio  float64
	TotalExposureRatio float64
}

func (r riskMetrics) asMap() map[string]any {
	return map[string]any{
		"proposed_size_ratio":  r.ProposedSizeRatio,
		"total_exposure_ratio": r.TotalExposureRatio,
	}
}

// metrics derives exposure ratios from proposal params. Missing portfolio
// data yields zero ratios, which never trips a limit.
func (m *Manager) metrics(params map[string]any) riskMetrics {
	metrics := riskMetrics{
		ProposedSize:    floatParam(params, "size"),
		CurrentExposure: floatParam(params, "current_exposure"),
		PortfolioValue:  floatParam(params, "portfolio_value"),
	}
	if metrics.PortfolioValue > 0 {
		metrics.ProposedSizeRatio = metrics.ProposedSize / metrics.PortfolioValue
		metrics.TotalExposureRatio = (metrics.CurrentExposure + metrics.ProposedSize) / metrics.PortfolioValue
	}
	return metrics
}

func (m *Manager) limitBreach(metrics riskMetrics) string {
	if metrics.ProposedSizeRatio > m.maxPositionSize {
		return fmt.Sprintf("Position size %.1f%% of portfolio exceeds the %.1f%% limit.",
			metrics.ProposedSizeRatio*100, m.maxPositionSize*100)
	}
	if metrics.TotalExposureRatio > m.maxTotalExposure {
		return fmt.Sprintf("Total exposure %.1f%% of portfolio exceeds the %.1f%% limit.",
			metrics.TotalExposureRatio*100, m.maxTotalExposure*100)
	}
	return ""
}

func (m *Manager) assess(ctx context.Context, evalCtx map[string]any, metrics riskMetrics) (map[string]any, error) {
	proposal, _ := json.Marshal(evalCtx["proposal"])

	var prompt strings.Builder
	if m.cfg.SystemPrompt != "" {
		prompt.WriteString(m.cfg.SystemPrompt + "\n\n")
	}
	fmt.Fprintf(&prompt, "Assess the risk of this proposal:\n%s\n\n", proposal)
	fmt.Fprintf(&prompt, "Position size: %.1f%% of portfolio (limit %.1f%%)\n",
		metrics.ProposedSizeRatio*100, m.maxPositionSize*100)
	fmt.Fprintf(&prompt, "Total exposure: %.1f%% of portfolio (limit %.1f%%)\n",
		metrics.TotalExposureRatio*100, m.maxTotalExposure*100)
	fmt.Fprintf(&prompt, "Risk budget per trade: %.1f%%\n\n", m.riskPerTrade*100)
	prompt.WriteString(`Respond in JSON with keys "decision" (boolean), "confidence" (0-1) and "reasoning" (string).`)

	response, err := m.llm.Query(ctx, prompt.String(), true)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("malformed assessment: %w", err)
	}
	if _, err := consensus.VoteFromMap("", result); err != nil {
		return nil, fmt.Errorf("incomplete assessment: %w", err)
	}
	return result, nil
}

func (m *Manager) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	switch operation {
	case "metrics":
		return m.metrics(args).asMap(), nil
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnsupportedOperation, operation)
	}
}

func (m *Manager) Cleanup(ctx context.Context) error {
	m.initialized = false
	return nil
}

func proposalParams(evalCtx map[string]any) map[string]any {
	proposal, _ := evalCtx["proposal"].(map[string]any)
	params, _ := proposal["params"].(map[string]any)
	return params
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
