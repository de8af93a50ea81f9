package safety

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func account(balance, freeMargin, dailyPnL float64) Account {
	return Account{
		Balance:    decimal.NewFromFloat(balance),
		FreeMargin: decimal.NewFromFloat(freeMargin),
		DailyPnL:   decimal.NewFromFloat(dailyPnL),
	}
}

func TestCleanOrderPasses(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	v := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(500), Leverage: 2},
		account(10000, 9000, 0),
	)
	if !v.Allowed {
		t.Fatalf("verdict = %+v, want allowed", v)
	}
	if v.Rule != "" {
		t.Errorf("rule = %q, must be empty on approval", v.Rule)
	}
}

func TestUnknownSymbolRejected(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	v := c.Validate(
		Order{Symbol: "DOGE-USD", Notional: decimal.NewFromInt(100), Leverage: 1},
		account(10000, 9000, 0),
	)
	if v.Allowed || v.Rule != RuleSymbolAllowed {
		t.Fatalf("verdict = %+v, want %s rejection", v, RuleSymbolAllowed)
	}
}

func TestLeverageLimit(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	v := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(100), Leverage: 25},
		account(10000, 9000, 0),
	)
	if v.Allowed || v.Rule != RuleMaxLeverage {
		t.Fatalf("verdict = %+v, want %s rejection", v, RuleMaxLeverage)
	}
}

func TestPositionSizeLimit(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	// 10% of a 10000 balance is 1000.
	v := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(1001), Leverage: 1},
		account(10000, 9000, 0),
	)
	if v.Allowed || v.Rule != RuleMaxPosition {
		t.Fatalf("verdict = %+v, want %s rejection", v, RuleMaxPosition)
	}

	atCap := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(1000), Leverage: 1},
		account(10000, 9000, 0),
	)
	if !atCap.Allowed {
		t.Errorf("verdict = %+v, notional exactly at the cap must pass", atCap)
	}
}

func TestMarginReserve(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	// Required margin 1000 would leave 500 free, below the 10% reserve.
	v := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(1000), Leverage: 1},
		account(10000, 1500, 0),
	)
	if v.Allowed || v.Rule != RuleMargin {
		t.Fatalf("verdict = %+v, want %s rejection", v, RuleMargin)
	}

	// Leverage divides the margin requirement.
	levered := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(1000), Leverage: 4},
		account(10000, 1500, 0),
	)
	if !levered.Allowed {
		t.Errorf("verdict = %+v, 250 required against 1500 free must pass", levered)
	}
}

func TestDailyLossCap(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	v := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(100), Leverage: 1},
		account(10000, 9000, -500),
	)
	if v.Allowed || v.Rule != RuleDailyLoss {
		t.Fatalf("verdict = %+v, want %s rejection at the 5%% cap", v, RuleDailyLoss)
	}

	nearCap := c.Validate(
		Order{Symbol: "BTC-USD", Notional: decimal.NewFromInt(100), Leverage: 1},
		account(10000, 9000, -499),
	)
	if !nearCap.Allowed {
		t.Errorf("verdict = %+v, loss below the cap must pass", nearCap)
	}
}

func TestFirstViolationWins(t *testing.T) {
	c := NewChecker(zap.NewNop(), nil)
	// Violates symbol, leverage, size, and loss cap at once; symbol is checked
	// first.
	v := c.Validate(
		Order{Symbol: "DOGE-USD", Notional: decimal.NewFromInt(5000), Leverage: 50},
		account(10000, 100, -900),
	)
	if v.Rule != RuleSymbolAllowed {
		t.Fatalf("rule = %s, want the first check %s", v.Rule, RuleSymbolAllowed)
	}
}
