// Package exits owns every open position and evaluates exit conditions in a
// fixed priority order each cycle. At most one exit reason fires per position
// per evaluation; lower-priority checks never run once one has fired.
package exits

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/atlas-desktop/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit reason codes, in priority order.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonTrailingStop = "trailing_stop"
	ReasonTimeLimit    = "time_limit"
	ReasonRegimeFlip   = "regime_flip"
	ReasonOneSided     = "one_sided_book"
	ReasonThesisGone   = "thesis_invalidated"
)

// Config holds per-regime trailing distances and maximum hold times, plus the
// profit thresholds that arm or skip individual checks.
type Config struct {
	TrailActivationPct float64 // unrealized gain that arms the trailing stop
	TrailPct           map[regime.Label]float64
	MaxHold            map[regime.Label]time.Duration

	TimeLimitSkipPct  float64 // winners above this ignore the time limit
	RegimeFlipSkipPct float64 // winners above this ignore regime flips
	RangeFlipMaxPct   float64 // range->trend flip only exits below this gain

	OneSidedSkewPct float64 // net book skew that triggers crowding exits

	BreakevenPct float64 // gain at which the stop moves to entry
	PartialTiers []PartialTier
}

// PartialTier maps an unrealized gain to a fraction of the position to close.
type PartialTier struct {
	GainPct  float64
	Fraction float64
}

// DefaultConfig returns the production exit parameters.
func DefaultConfig() *Config {
	return &Config{
		TrailActivationPct: 1.5,
		TrailPct: map[regime.Label]float64{
			regime.TrendUp:   2.0,
			regime.TrendDown: 2.0,
			regime.Range:     1.5,
			regime.Chop:      1.0,
			regime.Volatile:  2.5,
			regime.Unknown:   1.5,
		},
		MaxHold: map[regime.Label]time.Duration{
			regime.TrendUp:   240 * time.Minute,
			regime.TrendDown: 240 * time.Minute,
			regime.Range:     120 * time.Minute,
			regime.Chop:      60 * time.Minute,
			regime.Volatile:  30 * time.Minute,
			regime.Unknown:   180 * time.Minute,
		},
		TimeLimitSkipPct:  3.0,
		RegimeFlipSkipPct: 5.0,
		RangeFlipMaxPct:   2.0,
		OneSidedSkewPct:   50.0,
		BreakevenPct:      1.0,
		PartialTiers: []PartialTier{
			{GainPct: 4.0, Fraction: 0.50},
			{GainPct: 2.0, Fraction: 0.25},
		},
	}
}

// Decision is the outcome of one exit evaluation.
type Decision struct {
	ShouldExit      bool    `json:"shouldExit"`
	Reason          string  `json:"reason,omitempty"`
	Detail          string  `json:"detail,omitempty"`
	MoveToBreakeven bool    `json:"moveToBreakeven"`
	PartialFraction float64 `json:"partialFraction"`
}

// Manager evaluates exit conditions for open positions. It mutates the
// position's watermarks; everything else on the position is read-only.
type Manager struct {
	logger *zap.Logger
	config *Config
}

// NewManager creates an exit manager.
func NewManager(logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{logger: logger.Named("exits"), config: config}
}

// Evaluate runs the exit checks for one position against the current market
// state. netExposurePct is the signed book skew from the portfolio manager.
func (m *Manager) Evaluate(pos *types.Position, price decimal.Decimal, current regime.Label, snap *indicators.Snapshot, netExposurePct float64, now time.Time) Decision {
	m.updateWatermarks(pos, price)
	pnlPct := unrealizedPct(pos, price)

	if d, ok := m.checkStopLoss(pos, price); ok {
		return d
	}
	if d, ok := m.checkTakeProfit(pos, price); ok {
		return d
	}
	if d, ok := m.checkTrailingStop(pos, price, current); ok {
		return d
	}
	if d, ok := m.checkTimeLimit(pos, now, pnlPct); ok {
		return d
	}
	if d, ok := m.checkRegimeFlip(pos, current, pnlPct); ok {
		return d
	}
	if d, ok := m.checkOneSided(pos, netExposurePct); ok {
		return d
	}
	if d, ok := m.checkThesis(pos, snap); ok {
		return d
	}

	// Position stays open; recommend stop tightening and partial profit taking.
	d := Decision{}
	if pnlPct >= m.config.BreakevenPct && stopBelowEntry(pos) {
		d.MoveToBreakeven = true
	}
	for _, tier := range m.config.PartialTiers {
		if pnlPct >= tier.GainPct {
			d.PartialFraction = tier.Fraction
			break
		}
	}
	return d
}

func (m *Manager) updateWatermarks(pos *types.Position, price decimal.Decimal) {
	if pos.HighWater.IsZero() {
		pos.HighWater = price
	} else {
		pos.HighWater = utils.MaxDecimal(pos.HighWater, price)
	}
	if pos.LowWater.IsZero() {
		pos.LowWater = price
	} else {
		pos.LowWater = utils.MinDecimal(pos.LowWater, price)
	}
}

func (m *Manager) checkStopLoss(pos *types.Position, price decimal.Decimal) (Decision, bool) {
	if pos.StopLoss.IsZero() {
		return Decision{}, false
	}
	hit := false
	if pos.Side == types.PositionSideLong {
		hit = price.LessThanOrEqual(pos.StopLoss)
	} else {
		hit = price.GreaterThanOrEqual(pos.StopLoss)
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonStopLoss,
		Detail:     fmt.Sprintf("price %s crossed stop %s", price.StringFixed(2), pos.StopLoss.StringFixed(2)),
	}, true
}

func (m *Manager) checkTakeProfit(pos *types.Position, price decimal.Decimal) (Decision, bool) {
	if pos.TakeProfit.IsZero() {
		return Decision{}, false
	}
	hit := false
	if pos.Side == types.PositionSideLong {
		hit = price.GreaterThanOrEqual(pos.TakeProfit)
	} else {
		hit = price.LessThanOrEqual(pos.TakeProfit)
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonTakeProfit,
		Detail:     fmt.Sprintf("price %s reached target %s", price.StringFixed(2), pos.TakeProfit.StringFixed(2)),
	}, true
}

// checkTrailingStop arms once the position has been up TrailActivationPct and
// then exits when price gives back the regime's trail distance from the
// favorable watermark.
func (m *Manager) checkTrailingStop(pos *types.Position, price decimal.Decimal, current regime.Label) (Decision, bool) {
	peakPct := peakGainPct(pos)
	if peakPct < m.config.TrailActivationPct {
		return Decision{}, false
	}

	trail, ok := m.config.TrailPct[current]
	if !ok {
		trail = m.config.TrailPct[regime.Unknown]
	}

	var retracePct float64
	if pos.Side == types.PositionSideLong {
		retracePct = pctChange(pos.HighWater, price).Neg().InexactFloat64()
	} else {
		retracePct = pctChange(pos.LowWater, price).InexactFloat64()
	}

	if retracePct < trail {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonTrailingStop,
		Detail:     fmt.Sprintf("retraced %.2f%% from watermark, trail %.2f%% (%s)", retracePct, trail, current),
	}, true
}

func (m *Manager) checkTimeLimit(pos *types.Position, now time.Time, pnlPct float64) (Decision, bool) {
	if pnlPct >= m.config.TimeLimitSkipPct {
		return Decision{}, false
	}
	entryRegime := regime.Label(pos.RegimeAtEntry)
	limit, ok := m.config.MaxHold[entryRegime]
	if !ok {
		limit = m.config.MaxHold[regime.Unknown]
	}
	held := now.Sub(pos.OpenedAt)
	if held < limit {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonTimeLimit,
		Detail:     fmt.Sprintf("held %s, limit %s for %s entry", utils.FormatDuration(held), utils.FormatDuration(limit), pos.RegimeAtEntry),
	}, true
}

// checkRegimeFlip exits when the regime has turned hostile to the entry
// thesis. Strong winners ride through flips.
func (m *Manager) checkRegimeFlip(pos *types.Position, current regime.Label, pnlPct float64) (Decision, bool) {
	if pnlPct > m.config.RegimeFlipSkipPct {
		return Decision{}, false
	}
	entry := regime.Label(pos.RegimeAtEntry)

	flip := false
	switch {
	case entry.IsTrend() && (current == regime.Chop || current == regime.Volatile):
		flip = true
	case entry == regime.Range && current.IsTrend() && pnlPct < m.config.RangeFlipMaxPct:
		flip = true
	}
	if !flip {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonRegimeFlip,
		Detail:     fmt.Sprintf("entered in %s, now %s", pos.RegimeAtEntry, current),
	}, true
}

// checkOneSided exits when the book is heavily skewed onto this position's
// side, a crowding risk.
func (m *Manager) checkOneSided(pos *types.Position, netExposurePct float64) (Decision, bool) {
	skewed := false
	if pos.Side == types.PositionSideLong && netExposurePct > m.config.OneSidedSkewPct {
		skewed = true
	}
	if pos.Side == types.PositionSideShort && netExposurePct < -m.config.OneSidedSkewPct {
		skewed = true
	}
	if !skewed {
		return Decision{}, false
	}
	return Decision{
		ShouldExit: true,
		Reason:     ReasonOneSided,
		Detail:     fmt.Sprintf("net exposure %.1f%% crowds the %s side", netExposurePct, pos.Side),
	}, true
}

// checkThesis invalidates entries whose stated rationale no longer holds:
// an oversold long that is now overbought, or momentum that has reversed
// hard against the entry.
func (m *Manager) checkThesis(pos *types.Position, snap *indicators.Snapshot) (Decision, bool) {
	if snap == nil || pos.EntryReason == "" {
		return Decision{}, false
	}
	reason := strings.ToLower(pos.EntryReason)

	if strings.Contains(reason, "oversold") && pos.Side == types.PositionSideLong && snap.RSI > 70 {
		return Decision{
			ShouldExit: true,
			Reason:     ReasonThesisGone,
			Detail:     fmt.Sprintf("oversold entry, RSI now %.1f", snap.RSI),
		}, true
	}
	if strings.Contains(reason, "overbought") && pos.Side == types.PositionSideShort && snap.RSI < 30 {
		return Decision{
			ShouldExit: true,
			Reason:     ReasonThesisGone,
			Detail:     fmt.Sprintf("overbought entry, RSI now %.1f", snap.RSI),
		}, true
	}
	if strings.Contains(reason, "bullish") && pos.Side == types.PositionSideLong && snap.MACDHist < -10 {
		return Decision{
			ShouldExit: true,
			Reason:     ReasonThesisGone,
			Detail:     fmt.Sprintf("bullish momentum entry, MACD hist now %.2f", snap.MACDHist),
		}, true
	}
	if strings.Contains(reason, "bearish") && pos.Side == types.PositionSideShort && snap.MACDHist > 10 {
		return Decision{
			ShouldExit: true,
			Reason:     ReasonThesisGone,
			Detail:     fmt.Sprintf("bearish momentum entry, MACD hist now %.2f", snap.MACDHist),
		}, true
	}
	return Decision{}, false
}

// unrealizedPct returns the signed unrealized gain in percent.
func unrealizedPct(pos *types.Position, price decimal.Decimal) float64 {
	change := pctChange(pos.EntryPrice, price)
	if pos.Side == types.PositionSideShort {
		change = change.Neg()
	}
	return change.InexactFloat64()
}

// peakGainPct is the best unrealized gain the position has seen.
func peakGainPct(pos *types.Position) float64 {
	if pos.Side == types.PositionSideLong {
		return pctChange(pos.EntryPrice, pos.HighWater).InexactFloat64()
	}
	return pctChange(pos.EntryPrice, pos.LowWater).Neg().InexactFloat64()
}

func pctChange(from, to decimal.Decimal) decimal.Decimal {
	return utils.PercentChange(from, to)
}

// stopBelowEntry reports whether the stop still sits on the losing side of
// the entry price.
func stopBelowEntry(pos *types.Position) bool {
	if pos.StopLoss.IsZero() {
		return false
	}
	if pos.Side == types.PositionSideLong {
		return pos.StopLoss.LessThan(pos.EntryPrice)
	}
	return pos.StopLoss.GreaterThan(pos.EntryPrice)
}
