package swarm

// Role selects which evaluation framing an agent applies to incoming
// proposals. Unknown role strings map to RoleGeneric.
type Role int

const (
	RoleGeneric Role = iota
	RoleMarketAnalyzer
	RoleRiskManager
	RoleStrategyOptimizer
)

// ParseRole maps a descriptor role string to its Role variant.
func ParseRole(s string) Role {
	switch s {
	case "market_analyzer":
		return RoleMarketAnalyzer
	case "risk_manager":
		return RoleRiskManager
	case "strategy_optimizer":
		return RoleStrategyOptimizer
	default:
		return RoleGeneric
	}
}

// Label returns the lowercase descriptor label for this role.
func (r Role) Label() string {
	switch r {
	case RoleMarketAnalyzer:
		return "market_analyzer"
	case RoleRiskManager:
		return "risk_manager"
	case RoleStrategyOptimizer:
		return "strategy_optimizer"
	default:
		return "generic"
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return r.Label()
}

// Framing returns the role-specific instruction prepended to the
// evaluation context for a proposal.
func (r Role) Framing() string {
	switch r {
	case RoleMarketAnalyzer:
		return "Assess current market conditions for this proposal: price level, momentum and liquidity. Approve only when market data supports the action."
	case RoleRiskManager:
		return "Assess the risk exposure this proposal creates: position size, total exposure and downside. Reject anything that breaches the configured limits."
	case RoleStrategyOptimizer:
		return "Assess whether this proposal's parameters are within the strategy's bounds and consistent with its objectives."
	default:
		return "Assess this proposal on its own merits and vote with your confidence."
	}
}
