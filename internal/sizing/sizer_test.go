package sizing

import (
	"fmt"
	"math"
	"testing"

	"github.com/atlas-desktop/decision-engine/internal/expectancy"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func seededExpectancy(t *testing.T, wins, losses int, winSize, lossSize float64) *expectancy.Engine {
	t.Helper()
	e := expectancy.NewEngine(zap.NewNop(), nil)
	i := 0
	record := func(pnl float64) {
		e.RecordTrade(types.ClosedTrade{
			ID:         fmt.Sprintf("t-%d", i),
			Symbol:     "BTC-USD",
			Side:       types.PositionSideLong,
			Size:       decimal.NewFromInt(1),
			EntryPrice: decimal.NewFromInt(100),
			PnL:        decimal.NewFromFloat(pnl),
		})
		i++
	}
	for w := 0; w < wins; w++ {
		record(winSize)
	}
	for l := 0; l < losses; l++ {
		record(-lossSize)
	}
	return e
}

func request(confidence, regimeMult, vol float64) Request {
	return Request{
		Decision: &types.FinalDecision{
			Symbol:     "BTC-USD",
			Action:     types.ActionEnterLong,
			Confidence: confidence,
		},
		Balance:          decimal.NewFromInt(10000),
		RegimeMultiplier: regimeMult,
		Volatility:       vol,
	}
}

func TestKellySizing(t *testing.T) {
	// 68% win rate at 2.15 payoff over the full window.
	exp := seededExpectancy(t, 34, 16, 2.15, 1.0)
	s := NewSizer(zap.NewNop(), nil, exp)

	res := s.Size(request(0.8, 1.0, 0.1))

	if res.Decision.Method != types.MethodEmpiricalKelly {
		t.Fatalf("method = %s, want empirical_kelly", res.Decision.Method)
	}
	// The smallest window (30) holds the last 30 trades: 14 wins, 16 losses.
	// Verify against the window's own stats rather than hardcoding.
	inputs, ok := exp.KellyInputs()
	if !ok {
		t.Fatal("expected usable kelly inputs")
	}
	wantKelly := expectancy.Kelly(inputs.WinRate, inputs.PayoffRatio)
	if math.Abs(res.Decision.KellyFraction-wantKelly) > 1e-9 {
		t.Errorf("kelly = %.5f, want %.5f", res.Decision.KellyFraction, wantKelly)
	}
	if wantKelly > 0 {
		wantFraction := wantKelly * 0.25
		if math.Abs(res.Decision.FinalFraction-wantFraction) > 1e-9 {
			t.Errorf("fraction = %.5f, want quarter kelly %.5f", res.Decision.FinalFraction, wantFraction)
		}
	}
}

func TestQuarterKellyScaling(t *testing.T) {
	// A single 50-trade window holding 34 wins at 2.15 and 16 unit losses:
	// wr 0.68, payoff 2.15.
	expCfg := &expectancy.Config{Windows: []int{50}, MinSampleSize: 30, MaxTrades: 2000}
	exp := expectancy.NewEngine(zap.NewNop(), expCfg)
	for i := 0; i < 50; i++ {
		pnl := 2.15
		if i >= 34 {
			pnl = -1.0
		}
		exp.RecordTrade(types.ClosedTrade{
			ID:  fmt.Sprintf("u-%d", i),
			PnL: decimal.NewFromFloat(pnl),
		})
	}

	s := NewSizer(zap.NewNop(), nil, exp)
	res := s.Size(request(0.8, 1.0, 0.1))

	wantKelly := (0.68*2.15 - 0.32) / 2.15 // about 0.531
	if math.Abs(res.Decision.KellyFraction-wantKelly) > 1e-6 {
		t.Errorf("kelly = %.4f, want %.4f", res.Decision.KellyFraction, wantKelly)
	}
	if math.Abs(res.Decision.FinalFraction-wantKelly*0.25) > 1e-6 {
		t.Errorf("fraction = %.4f, want quarter kelly %.4f", res.Decision.FinalFraction, wantKelly*0.25)
	}
}

func TestNegativeKellyDeclines(t *testing.T) {
	// 20% win rate at 1:1 payoff is a losing strategy.
	exp := seededExpectancy(t, 8, 32, 1.0, 1.0)
	s := NewSizer(zap.NewNop(), nil, exp)

	res := s.Size(request(0.95, 1.3, 0.1))
	if res.Decision.FinalFraction != 0 {
		t.Errorf("fraction = %.5f, want 0 for negative edge", res.Decision.FinalFraction)
	}
	if !res.Notional.IsZero() {
		t.Errorf("notional = %s, want 0", res.Notional)
	}
}

func TestExplorationSizing(t *testing.T) {
	exp := seededExpectancy(t, 5, 5, 1.0, 1.0) // only 10 trades
	s := NewSizer(zap.NewNop(), nil, exp)

	res := s.Size(request(0.5, 1.0, 0.1))
	if res.Decision.Method != types.MethodExploration {
		t.Fatalf("method = %s, want exploration", res.Decision.Method)
	}
	if math.Abs(res.Decision.FinalFraction-0.005) > 1e-9 {
		t.Errorf("fraction = %.5f, want 0.005", res.Decision.FinalFraction)
	}

	boosted := s.Size(request(0.85, 1.0, 0.1))
	if math.Abs(boosted.Decision.FinalFraction-0.0075) > 1e-9 {
		t.Errorf("boosted fraction = %.5f, want 0.0075", boosted.Decision.FinalFraction)
	}
}

func TestRegimeMultiplierApplied(t *testing.T) {
	exp := seededExpectancy(t, 0, 0, 0, 0)
	s := NewSizer(zap.NewNop(), nil, exp)

	full := s.Size(request(0.5, 1.0, 0.1))
	chop := s.Size(request(0.5, 0.4, 0.1))

	want := full.Decision.FinalFraction * 0.4
	if math.Abs(chop.Decision.FinalFraction-want) > 1e-9 {
		t.Errorf("chop fraction = %.5f, want %.5f", chop.Decision.FinalFraction, want)
	}
}

func TestVolatilityPenaltyTiers(t *testing.T) {
	cases := []struct {
		vol  float64
		want float64
	}{
		{0.1, 1.0},
		{0.4, 0.85},
		{0.6, 0.65},
		{0.8, 0.45},
		{0.95, 0.3},
	}
	for _, tc := range cases {
		if got := volatilityPenalty(tc.vol); got != tc.want {
			t.Errorf("volatilityPenalty(%.2f) = %.2f, want %.2f", tc.vol, got, tc.want)
		}
	}
}

func TestNotionalCap(t *testing.T) {
	exp2 := expectancy.NewEngine(zap.NewNop(), nil)
	for i := 0; i < 100; i++ {
		pnl := 5.0
		if i%4 == 3 {
			pnl = -1.0
		}
		exp2.RecordTrade(types.ClosedTrade{ID: fmt.Sprintf("c-%d", i), PnL: decimal.NewFromFloat(pnl)})
	}
	s := NewSizer(zap.NewNop(), nil, exp2)

	res := s.Size(request(0.9, 1.5, 0.1))
	maxNotional := decimal.NewFromInt(10000).Mul(decimal.NewFromFloat(0.10))
	if res.Notional.GreaterThan(maxNotional) {
		t.Errorf("notional %s exceeds 10%% cap %s", res.Notional, maxNotional)
	}
}
