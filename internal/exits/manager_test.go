package exits

import (
	"testing"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var opened = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func position(side types.PositionSide, entry, stop, take float64, entryRegime string) *types.Position {
	return &types.Position{
		ID:            "pos-1",
		Symbol:        "BTC-USD",
		Side:          side,
		Size:          decimal.NewFromInt(1),
		EntryPrice:    decimal.NewFromFloat(entry),
		StopLoss:      decimal.NewFromFloat(stop),
		TakeProfit:    decimal.NewFromFloat(take),
		OpenedAt:      opened,
		RegimeAtEntry: entryRegime,
	}
}

func eval(m *Manager, pos *types.Position, price float64, current regime.Label) Decision {
	return m.Evaluate(pos, decimal.NewFromFloat(price), current, nil, 0, opened.Add(time.Minute))
}

func TestStopLossBothSides(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	long := position(types.PositionSideLong, 100, 95, 110, "TREND_UP")
	d := eval(m, long, 94.5, regime.TrendUp)
	if !d.ShouldExit || d.Reason != ReasonStopLoss {
		t.Fatalf("decision = %+v, want stop_loss", d)
	}

	short := position(types.PositionSideShort, 100, 105, 90, "TREND_DOWN")
	d = eval(m, short, 105.5, regime.TrendDown)
	if !d.ShouldExit || d.Reason != ReasonStopLoss {
		t.Fatalf("decision = %+v, want stop_loss on the short side", d)
	}
}

func TestTakeProfitBothSides(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	long := position(types.PositionSideLong, 100, 95, 110, "TREND_UP")
	d := eval(m, long, 110.5, regime.TrendUp)
	if !d.ShouldExit || d.Reason != ReasonTakeProfit {
		t.Fatalf("decision = %+v, want take_profit", d)
	}

	short := position(types.PositionSideShort, 100, 105, 90, "TREND_DOWN")
	d = eval(m, short, 89.5, regime.TrendDown)
	if !d.ShouldExit || d.Reason != ReasonTakeProfit {
		t.Fatalf("decision = %+v, want take_profit on the short side", d)
	}
}

func TestTrailingStopArmsThenFires(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")

	// Ride up 3%: trailing arms but has nothing to give back yet.
	d := eval(m, pos, 103, regime.TrendUp)
	if d.ShouldExit {
		t.Fatalf("decision = %+v, no retrace yet", d)
	}

	// Give back 2.14% from the 103 watermark, beyond the 2% trend trail.
	d = eval(m, pos, 100.8, regime.TrendUp)
	if !d.ShouldExit || d.Reason != ReasonTrailingStop {
		t.Fatalf("decision = %+v, want trailing_stop", d)
	}
}

func TestTrailingStopNotArmedBelowActivation(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")

	// Peak 1% never arms the 1.5% activation, even on a full retrace.
	eval(m, pos, 101, regime.TrendUp)
	d := eval(m, pos, 99.5, regime.TrendUp)
	if d.ShouldExit {
		t.Fatalf("decision = %+v, trailing must stay unarmed", d)
	}
}

func TestTrailingUsesRegimeDistance(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")

	// A 1.07% retrace is inside the 2% trend trail but beyond chop's 1%.
	eval(m, pos, 103, regime.TrendUp)
	d := eval(m, pos, 101.9, regime.Chop)
	if !d.ShouldExit || d.Reason != ReasonTrailingStop {
		t.Fatalf("decision = %+v, want trailing_stop under the tighter chop trail", d)
	}
}

func TestTimeLimitPerEntryRegime(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "CHOP")

	d := m.Evaluate(pos, decimal.NewFromFloat(100), regime.Chop, nil, 0, opened.Add(61*time.Minute))
	if !d.ShouldExit || d.Reason != ReasonTimeLimit {
		t.Fatalf("decision = %+v, want time_limit after the 60m chop hold", d)
	}
}

func TestTimeLimitSkippedForWinners(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 95, 0, "CHOP")

	// Up 4%: the time limit defers, breakeven and the 4% partial tier fire.
	d := m.Evaluate(pos, decimal.NewFromFloat(104), regime.Chop, nil, 0, opened.Add(61*time.Minute))
	if d.ShouldExit {
		t.Fatalf("decision = %+v, winners ride past the time limit", d)
	}
	if !d.MoveToBreakeven {
		t.Error("stop should move to breakeven above 1% gain")
	}
	if d.PartialFraction != 0.50 {
		t.Errorf("partial = %.2f, want 0.50 at the 4%% tier", d.PartialFraction)
	}
}

func TestPartialTiersAndBreakeven(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	pos := position(types.PositionSideLong, 100, 95, 0, "TREND_UP")
	d := eval(m, pos, 102.5, regime.TrendUp)
	if d.ShouldExit {
		t.Fatalf("decision = %+v, want open position", d)
	}
	if d.PartialFraction != 0.25 {
		t.Errorf("partial = %.2f, want 0.25 at the 2%% tier", d.PartialFraction)
	}

	small := position(types.PositionSideLong, 100, 95, 0, "TREND_UP")
	d = eval(m, small, 101.2, regime.TrendUp)
	if !d.MoveToBreakeven {
		t.Error("breakeven should arm above 1% gain")
	}
	if d.PartialFraction != 0 {
		t.Errorf("partial = %.2f, want none below the 2%% tier", d.PartialFraction)
	}
}

func TestRegimeFlipExitsTrendEntry(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")

	d := eval(m, pos, 100, regime.Chop)
	if !d.ShouldExit || d.Reason != ReasonRegimeFlip {
		t.Fatalf("decision = %+v, want regime_flip into chop", d)
	}
}

func TestRegimeFlipSparesStrongWinners(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")

	d := eval(m, pos, 106, regime.Volatile)
	if d.ShouldExit {
		t.Fatalf("decision = %+v, a 6%% winner rides through the flip", d)
	}
}

func TestRangeEntryFlipOnlyWhenFlat(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	flat := position(types.PositionSideLong, 100, 0, 0, "RANGE")
	d := eval(m, flat, 101, regime.TrendUp)
	if !d.ShouldExit || d.Reason != ReasonRegimeFlip {
		t.Fatalf("decision = %+v, range entry below 2%% exits on a trend flip", d)
	}

	winner := position(types.PositionSideLong, 100, 0, 0, "RANGE")
	d = eval(m, winner, 103, regime.TrendUp)
	if d.ShouldExit {
		t.Fatalf("decision = %+v, range entry up 3%% holds through the flip", d)
	}
}

func TestOneSidedBookExit(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	long := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")
	d := m.Evaluate(long, decimal.NewFromFloat(100), regime.TrendUp, nil, 60, opened.Add(time.Minute))
	if !d.ShouldExit || d.Reason != ReasonOneSided {
		t.Fatalf("decision = %+v, want one_sided_book at +60%% skew", d)
	}

	// Skew on the opposite side is fine.
	short := position(types.PositionSideShort, 100, 0, 0, "TREND_DOWN")
	d = m.Evaluate(short, decimal.NewFromFloat(100), regime.TrendDown, nil, 60, opened.Add(time.Minute))
	if d.ShouldExit {
		t.Fatalf("decision = %+v, short is not crowded by long skew", d)
	}
}

func TestThesisInvalidation(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)

	long := position(types.PositionSideLong, 100, 0, 0, "RANGE")
	long.EntryReason = "RSI oversold + Stochastic oversold"
	d := m.Evaluate(long, decimal.NewFromFloat(100), regime.Range, &indicators.Snapshot{RSI: 75}, 0, opened.Add(time.Minute))
	if !d.ShouldExit || d.Reason != ReasonThesisGone {
		t.Fatalf("decision = %+v, oversold thesis is gone at RSI 75", d)
	}

	short := position(types.PositionSideShort, 100, 0, 0, "RANGE")
	short.EntryReason = "RSI overbought"
	d = m.Evaluate(short, decimal.NewFromFloat(100), regime.Range, &indicators.Snapshot{RSI: 25}, 0, opened.Add(time.Minute))
	if !d.ShouldExit || d.Reason != ReasonThesisGone {
		t.Fatalf("decision = %+v, overbought thesis is gone at RSI 25", d)
	}

	momentum := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")
	momentum.EntryReason = "MACD bullish_momentum"
	d = m.Evaluate(momentum, decimal.NewFromFloat(100), regime.TrendUp, &indicators.Snapshot{RSI: 50, MACDHist: -12}, 0, opened.Add(time.Minute))
	if !d.ShouldExit || d.Reason != ReasonThesisGone {
		t.Fatalf("decision = %+v, bullish momentum thesis reversed", d)
	}

	// Thesis intact: nothing fires.
	hold := position(types.PositionSideLong, 100, 0, 0, "TREND_UP")
	hold.EntryReason = "RSI oversold"
	d = m.Evaluate(hold, decimal.NewFromFloat(100), regime.TrendUp, &indicators.Snapshot{RSI: 55}, 0, opened.Add(time.Minute))
	if d.ShouldExit {
		t.Fatalf("decision = %+v, want open position", d)
	}
}

func TestStopHasPriorityOverTrailing(t *testing.T) {
	m := NewManager(zap.NewNop(), nil)
	pos := position(types.PositionSideLong, 100, 98, 0, "TREND_UP")

	// Arm the trail, then drop through both the trail and the hard stop. The
	// hard stop must name itself.
	eval(m, pos, 103, regime.TrendUp)
	d := eval(m, pos, 97.5, regime.TrendUp)
	if !d.ShouldExit || d.Reason != ReasonStopLoss {
		t.Fatalf("decision = %+v, want stop_loss to win the priority race", d)
	}
}
