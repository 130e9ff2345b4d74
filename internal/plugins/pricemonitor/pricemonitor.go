package pricemonitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mtzanidakis/sminos/internal/market"
	"github.com/mtzanidakis/sminos/internal/plugin"
)

// Monitor watches token prices and votes on proposals based on current
// market conditions. It rejects while the market is moving violently and
// approves in calm or moderately active conditions.
type Monitor struct {
	cfg         plugin.Config
	market      market.Source
	token       string
	alertThresh float64
	initialized bool
}

func New(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
	if deps.Market == nil {
		return nil, fmt.Errorf("price monitor requires a market data source")
	}
	token, _ := cfg.Setting("token", "near").(string)
	return &Monitor{
		cfg:         cfg,
		market:      deps.Market,
		token:       token,
		alertThresh: cfg.SettingFloat("alert_threshold", 0.05),
	}, nil
}

func (m *Monitor) Initialize(ctx context.Context) error {
	m.initialized = true
	slog.Info("price monitor initialized", "token", m.token, "alert_threshold", m.alertThresh)
	return nil
}

func (m *Monitor) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	quote, err := m.market.TokenPrice(ctx, m.token)
	if err != nil {
		// Market outage is recoverable: vote carries no weight.
		return map[string]any{
			"decision":   false,
			"confidence": 0.0,
			"reasoning":  fmt.Sprintf("price data unavailable: %v", err),
		}, nil
	}

	change := quote.Change24h / 100
	observation := fmt.Sprintf("%s is trading at $%.2f with a %.1f%% 24h change.",
		m.token, quote.Price, quote.Change24h)

	switch {
	case math.Abs(change) >= 0.1:
		return map[string]any{
			"decision":   false,
			"confidence": 0.9,
			"reasoning":  observation + " Volatility is high; holding off until the market settles.",
			"price":      quote.Price,
			"change_24h": quote.Change24h,
		}, nil
	case math.Abs(change) >= m.alertThresh:
		return map[string]any{
			"decision":   true,
			"confidence": 0.7,
			"reasoning":  observation + " Moderate movement; acceptable conditions with some caution.",
			"price":      quote.Price,
			"change_24h": quote.Change24h,
		}, nil
	default:
		return map[string]any{
			"decision":   true,
			"confidence": 0.95,
			"reasoning":  observation + " Price movement is within normal trading ranges.",
			"price":      quote.Price,
			"change_24h": quote.Change24h,
		}, nil
	}
}

func (m *Monitor) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if !m.initialized {
		return nil, plugin.ErrNotInitialized
	}

	switch operation {
	case "price":
		token := m.token
		if t, ok := args["token"].(string); ok && t != "" {
			token = t
		}
		quote, err := m.market.TokenPrice(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("fetch price: %w", err)
		}
		return quote, nil
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnsupportedOperation, operation)
	}
}

func (m *Monitor) Cleanup(ctx context.Context) error {
	m.initialized = false
	return nil
}
