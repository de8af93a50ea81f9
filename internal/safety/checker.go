// Package safety runs the hard pre-trade compliance gate. Checks are pure
// functions of the proposed order and account state; the first violated rule
// rejects the order and names itself.
package safety

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Rule codes returned in rejection verdicts.
const (
	RuleSymbolAllowed = "symbol_allowed"
	RuleMaxLeverage   = "max_leverage"
	RuleMaxPosition   = "max_position"
	RuleMargin        = "sufficient_margin"
	RuleDailyLoss     = "daily_loss_cap"
)

// Config holds the compliance limits.
type Config struct {
	AllowedSymbols  []string
	MaxLeverage     float64
	MaxPositionPct  float64 // notional as fraction of balance
	DailyLossPct    float64 // daily loss cap as fraction of balance
	MinFreeMarginPct float64 // free margin that must remain after entry
}

// DefaultConfig returns the production limits.
func DefaultConfig() *Config {
	return &Config{
		AllowedSymbols:   []string{"BTC-USD", "ETH-USD", "SOL-USD"},
		MaxLeverage:      20,
		MaxPositionPct:   0.10,
		DailyLossPct:     0.05,
		MinFreeMarginPct: 0.10,
	}
}

// Order is the proposed order under review.
type Order struct {
	Symbol   string
	Notional decimal.Decimal
	Leverage float64
}

// Account is the account state the checks run against.
type Account struct {
	Balance    decimal.Decimal
	FreeMargin decimal.Decimal
	DailyPnL   decimal.Decimal // realized today, negative when losing
}

// Verdict is the compliance outcome. Rule is set only on rejection.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Checker validates orders against the compliance limits.
type Checker struct {
	logger  *zap.Logger
	config  *Config
	allowed map[string]bool
}

// NewChecker creates a compliance checker.
func NewChecker(logger *zap.Logger, config *Config) *Checker {
	if config == nil {
		config = DefaultConfig()
	}
	allowed := make(map[string]bool, len(config.AllowedSymbols))
	for _, s := range config.AllowedSymbols {
		allowed[s] = true
	}
	return &Checker{logger: logger.Named("safety"), config: config, allowed: allowed}
}

// Validate runs the checks in fixed order and returns the first violation.
func (c *Checker) Validate(order Order, account Account) Verdict {
	cfg := c.config

	if !c.allowed[order.Symbol] {
		return c.reject(RuleSymbolAllowed, fmt.Sprintf("%s is not in the allow-list", order.Symbol))
	}

	if order.Leverage > cfg.MaxLeverage {
		return c.reject(RuleMaxLeverage,
			fmt.Sprintf("leverage %.1fx exceeds maximum %.1fx", order.Leverage, cfg.MaxLeverage))
	}

	maxNotional := account.Balance.Mul(decimal.NewFromFloat(cfg.MaxPositionPct))
	if order.Notional.GreaterThan(maxNotional) {
		return c.reject(RuleMaxPosition,
			fmt.Sprintf("notional %s exceeds %.0f%% of balance", order.Notional.StringFixed(2), cfg.MaxPositionPct*100))
	}

	leverage := order.Leverage
	if leverage < 1 {
		leverage = 1
	}
	required := order.Notional.Div(decimal.NewFromFloat(leverage))
	reserve := account.Balance.Mul(decimal.NewFromFloat(cfg.MinFreeMarginPct))
	if account.FreeMargin.Sub(required).LessThan(reserve) {
		return c.reject(RuleMargin,
			fmt.Sprintf("free margin %s cannot cover %s plus reserve", account.FreeMargin.StringFixed(2), required.StringFixed(2)))
	}

	lossCap := account.Balance.Mul(decimal.NewFromFloat(cfg.DailyLossPct)).Neg()
	if account.DailyPnL.LessThanOrEqual(lossCap) {
		return c.reject(RuleDailyLoss,
			fmt.Sprintf("daily loss %s has hit the %.0f%% cap", account.DailyPnL.StringFixed(2), cfg.DailyLossPct*100))
	}

	return Verdict{Allowed: true}
}

func (c *Checker) reject(rule, detail string) Verdict {
	c.logger.Warn("order rejected by compliance",
		zap.String("rule", rule),
		zap.String("detail", detail),
	)
	return Verdict{Allowed: false, Rule: rule, Detail: detail}
}
