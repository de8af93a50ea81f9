package portfolio

import (
	"math"
	"strings"
	"testing"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func pos(symbol string, side types.PositionSide, notional float64) types.Position {
	return types.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromFloat(notional),
	}
}

var equity = decimal.NewFromInt(10000)

func TestZeroNotionalRejected(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)
	v := m.ValidateAndScale("BTC-USD", decimal.Zero, equity, nil)
	if v.Approved {
		t.Fatal("zero notional must be rejected")
	}
}

func TestNoEquityRejected(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(100), decimal.Zero, nil)
	if v.Approved {
		t.Fatal("an account with no equity has no headroom")
	}
}

func TestSmallEntryOnEmptyBookUnscaled(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)

	// 1% of equity on an empty book sits far below every cap.
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(100), equity, nil)
	if !v.Approved || v.Scaled {
		t.Fatalf("verdict = %+v, want approval at full size", v)
	}
	if !v.Notional.Equal(decimal.NewFromInt(100)) {
		t.Errorf("notional = %s, want 100", v.Notional)
	}
}

func TestOversizedEntryScaledToAssetCap(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)

	// 50% of equity trims to the 40% single-asset cap.
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(5000), equity, nil)
	if !v.Approved || !v.Scaled {
		t.Fatalf("verdict = %+v, want approved and scaled", v)
	}
	if !v.Notional.Equal(decimal.NewFromInt(4000)) {
		t.Errorf("notional = %s, want 4000", v.Notional)
	}
}

func TestAssetCapExhaustedRejects(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)
	open := []types.Position{pos("BTC-USD", types.PositionSideLong, 5000)}

	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(1000), equity, open)
	if v.Approved {
		t.Fatalf("verdict = %+v, want rejection with no headroom", v)
	}
	if !strings.Contains(v.Reason, "asset cap") {
		t.Errorf("reason = %q, want asset cap mention", v.Reason)
	}
}

func TestUncorrelatedAssetNotGrouped(t *testing.T) {
	sectors := map[string]string{"BTC-USD": "btc", "ETH-USD": "eth"}
	m := NewManager(zap.NewNop(), nil, sectors)
	open := []types.Position{pos("ETH-USD", types.PositionSideLong, 2000)}

	// Default correlation 0.5 sits below the 0.7 grouping threshold, and the
	// sectors differ, so only the asset cap applies.
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(1000), equity, open)
	if !v.Approved || v.Scaled {
		t.Fatalf("verdict = %+v, want approval at full size", v)
	}
	if !v.Notional.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("notional = %s, want 1000", v.Notional)
	}
}

func TestCorrelatedGroupCapRejects(t *testing.T) {
	sectors := map[string]string{"BTC-USD": "btc", "ETH-USD": "eth"}
	m := NewManager(zap.NewNop(), nil, sectors)
	m.SetCorrelation("BTC-USD", "ETH-USD", 0.9)
	open := []types.Position{pos("ETH-USD", types.PositionSideLong, 6000)}

	// The correlated group already fills the 60%-of-equity cap.
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(2000), equity, open)
	if v.Approved {
		t.Fatalf("verdict = %+v, want rejection", v)
	}
	if !strings.Contains(v.Reason, "correlated") {
		t.Errorf("reason = %q, want correlated group mention", v.Reason)
	}
}

func TestSectorHeadroomScalesDown(t *testing.T) {
	sectors := map[string]string{"BTC-USD": "layer1", "ETH-USD": "layer1"}
	m := NewManager(zap.NewNop(), nil, sectors)
	open := []types.Position{pos("ETH-USD", types.PositionSideLong, 4500)}

	// Asset cap trims 4200 to 4000, then the shared sector leaves only 500.
	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(4200), equity, open)
	if !v.Approved || !v.Scaled {
		t.Fatalf("verdict = %+v, want scaled approval", v)
	}
	if !v.Notional.Equal(decimal.NewFromInt(500)) {
		t.Errorf("notional = %s, want 500", v.Notional)
	}
}

func TestSectorCapExhaustedRejects(t *testing.T) {
	sectors := map[string]string{"BTC-USD": "layer1", "ETH-USD": "layer1"}
	m := NewManager(zap.NewNop(), nil, sectors)
	open := []types.Position{pos("ETH-USD", types.PositionSideLong, 5500)}

	v := m.ValidateAndScale("BTC-USD", decimal.NewFromInt(1000), equity, open)
	if v.Approved {
		t.Fatalf("verdict = %+v, want sector rejection", v)
	}
	if !strings.Contains(v.Reason, "sector") {
		t.Errorf("reason = %q, want sector mention", v.Reason)
	}
}

func TestHeat(t *testing.T) {
	m := NewManager(zap.NewNop(), nil, nil)

	if h := m.Heat(nil); h != 1.0 {
		t.Errorf("empty book heat = %.2f, want 1.0", h)
	}
	single := []types.Position{pos("BTC-USD", types.PositionSideLong, 1000)}
	if h := m.Heat(single); h != 1.0 {
		t.Errorf("single-asset heat = %.2f, want 1.0", h)
	}

	both := []types.Position{
		pos("BTC-USD", types.PositionSideLong, 1000),
		pos("ETH-USD", types.PositionSideLong, 1000),
	}
	if h := m.Heat(both); math.Abs(h-1.5) > 1e-9 {
		t.Errorf("default-correlation heat = %.2f, want 1.5", h)
	}

	m.SetCorrelation("BTC-USD", "ETH-USD", 0.8)
	if h := m.Heat(both); math.Abs(h-1.8) > 1e-9 {
		t.Errorf("heat = %.2f, want 1.8 at correlation 0.8", h)
	}
}

func TestExposureBreakdown(t *testing.T) {
	sectors := map[string]string{"BTC-USD": "layer1"}
	m := NewManager(zap.NewNop(), nil, sectors)
	open := []types.Position{
		pos("BTC-USD", types.PositionSideLong, 6000),
		pos("ETH-USD", types.PositionSideShort, 4000),
	}

	b := m.ExposureBreakdown(open)
	if !b.TotalNotional.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("total = %s, want 10000", b.TotalNotional)
	}
	// 6000 long minus 4000 short over 10000 total.
	if math.Abs(b.NetExposurePct-20) > 1e-9 {
		t.Errorf("net exposure = %.1f%%, want 20%%", b.NetExposurePct)
	}
	if math.Abs(b.ByAsset["BTC-USD"].Pct-60) > 1e-9 {
		t.Errorf("BTC pct = %.1f, want 60", b.ByAsset["BTC-USD"].Pct)
	}
	if _, ok := b.BySector["layer1"]; !ok {
		t.Error("mapped sector bucket missing")
	}
	if _, ok := b.BySector["other"]; !ok {
		t.Error("unmapped symbols must fall into the other bucket")
	}
}
