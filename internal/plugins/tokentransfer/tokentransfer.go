package tokentransfer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/mtzanidakis/sminos/internal/chain"
	"github.com/mtzanidakis/sminos/internal/market"
	"github.com/mtzanidakis/sminos/internal/plugin"
)

// Transfer validates NEAR token transfer proposals against on-chain state:
// recipient existence, account naming and balance sufficiency. It never
// signs or submits transactions; approval is the swarm's signal for an
// external executor.
type Transfer struct {
	cfg         plugin.Config
	chain       chain.Client
	market      market.Source
	accountID   string
	initialized bool
}

func New(deps plugin.Deps, cfg plugin.Config) (plugin.Plugin, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("token transfer requires a chain client")
	}
	accountID, _ := cfg.Setting("account_id", "").(string)
	return &Transfer{
		cfg:       cfg,
		chain:     deps.Chain,
		market:    deps.Market,
		accountID: accountID,
	}, nil
}

func (t *Transfer) Initialize(ctx context.Context) error {
	t.initialized = true
	slog.Info("token transfer agent initialized", "account", t.accountID)
	return nil
}

func (t *Transfer) Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error) {
	if !t.initialized {
		return nil, plugin.ErrNotInitialized
	}

	proposal, _ := evalCtx["proposal"].(map[string]any)
	params, _ := proposal["params"].(map[string]any)

	recipient, _ := params["recipient"].(string)
	amount := floatParam(params, "amount")

	if recipient == "" || amount <= 0 {
		return reject(0.9, "Transfer proposal is missing a recipient or a positive amount."), nil
	}
	if !validAccountID(recipient) {
		return reject(0.95, fmt.Sprintf("Recipient %q is not a valid NEAR account name.", recipient)), nil
	}

	exists, err := t.chain.CheckAccount(ctx, recipient)
	if err != nil {
		return reject(0, fmt.Sprintf("recipient lookup failed: %v", err)), nil
	}
	if !exists {
		return reject(0.95, fmt.Sprintf("Recipient account %s does not exist on chain.", recipient)), nil
	}

	if t.accountID != "" {
		balance, err := t.chain.AccountBalance(ctx, t.accountID)
		if err != nil {
			return reject(0, fmt.Sprintf("balance lookup failed: %v", err)), nil
		}
		available, ok := new(big.Int).SetString(balance.Available, 10)
		if !ok {
			return reject(0, fmt.Sprintf("unparseable available balance %q", balance.Available)), nil
		}
		if available.Cmp(chain.ToYocto(amount)) < 0 {
			return reject(0.95, fmt.Sprintf("Insufficient balance for a %.4f NEAR transfer.", amount)), nil
		}
	}

	reasoning := fmt.Sprintf("Transfer of %.4f NEAR to %s is valid: recipient exists and balance covers it.", amount, recipient)
	if t.market != nil {
		if quote, err := t.market.TokenPrice(ctx, "near"); err == nil {
			reasoning += fmt.Sprintf(" Approximate value $%.2f.", amount*quote.Price)
		}
	}

	return map[string]any{
		"decision":   true,
		"confidence": 0.9,
		"reasoning":  reasoning,
	}, nil
}

func (t *Transfer) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	if !t.initialized {
		return nil, plugin.ErrNotInitialized
	}

	switch operation {
	case "balance":
		accountID := t.accountID
		if id, ok := args["account_id"].(string); ok && id != "" {
			accountID = id
		}
		if accountID == "" {
			return nil, fmt.Errorf("no account configured")
		}
		balance, err := t.chain.AccountBalance(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("fetch balance: %w", err)
		}
		return balance, nil
	case "check-account":
		accountID, _ := args["account_id"].(string)
		if accountID == "" {
			return nil, fmt.Errorf("account_id is required")
		}
		exists, err := t.chain.CheckAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("check account: %w", err)
		}
		return map[string]any{"account_id": accountID, "exists": exists}, nil
	default:
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnsupportedOperation, operation)
	}
}

func (t *Transfer) Cleanup(ctx context.Context) error {
	t.initialized = false
	return nil
}

// validAccountID applies NEAR named-account conventions.
func validAccountID(id string) bool {
	if len(id) < 2 || len(id) > 64 {
		return false
	}
	return strings.HasSuffix(id, ".near") || strings.HasSuffix(id, ".testnet")
}

func reject(confidence float64, reasoning string) map[string]any {
	return map[string]any{
		"decision":   false,
		"confidence": confidence,
		"reasoning":  reasoning,
	}
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
