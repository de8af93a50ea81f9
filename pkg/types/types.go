// Package types provides shared type definitions for the decision engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the action a signal or decision proposes.
type TradeAction string

const (
	ActionEnterLong  TradeAction = "ENTER_LONG"
	ActionEnterShort TradeAction = "ENTER_SHORT"
	ActionWait       TradeAction = "WAIT"
)

// PositionSide represents long or short exposure
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// SideFor maps an entry action to a position side.
func SideFor(action TradeAction) PositionSide {
	if action == ActionEnterShort {
		return PositionSideShort
	}
	return PositionSideLong
}

// Timeframe represents candle timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// OHLCV represents a single candlestick
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// SignalStrength is a coarse label used for alerts and the dashboard feed.
type SignalStrength string

const (
	StrengthStrongBuy  SignalStrength = "strong_buy"
	StrengthBuy        SignalStrength = "buy"
	StrengthNeutral    SignalStrength = "neutral"
	StrengthSell       SignalStrength = "sell"
	StrengthStrongSell SignalStrength = "strong_sell"
)

// MarketCondition is the validator's independent market label.
type MarketCondition string

const (
	ConditionTrendingUp   MarketCondition = "trending_up"
	ConditionTrendingDown MarketCondition = "trending_down"
	ConditionRanging      MarketCondition = "ranging"
	ConditionVolatile     MarketCondition = "volatile"
	ConditionUncertain    MarketCondition = "uncertain"
)

// Signal is the probabilistic layer's output for one (symbol, cycle).
// Immutable once produced.
type Signal struct {
	Timestamp        time.Time          `json:"timestamp"`
	Symbol           string             `json:"symbol"`
	Action           TradeAction        `json:"action"`
	Confidence       float64            `json:"confidence"`
	RawScore         float64            `json:"rawScore"`
	AdjustedScore    float64            `json:"adjustedScore"`
	CategoryScores   map[string]float64 `json:"categoryScores"`
	VolatilityFactor float64            `json:"volatilityFactor"`
	RegimeValid      bool               `json:"regimeValid"`
	RegimeReason     string             `json:"regimeReason"`
	CurrentPrice     decimal.Decimal    `json:"currentPrice"`
	StopLoss         decimal.Decimal    `json:"stopLoss"`
	TakeProfit       decimal.Decimal    `json:"takeProfit"`
	RiskReward       float64            `json:"riskReward"`
}

// IndicatorVote records one indicator's directional opinion.
type IndicatorVote struct {
	Indicator string      `json:"indicator"`
	Condition string      `json:"condition"`
	Direction VoteDir     `json:"direction"`
	Value     float64     `json:"value"`
}

// VoteDir is the direction an indicator vote supports.
type VoteDir string

const (
	VoteLong     VoteDir = "long"
	VoteShort    VoteDir = "short"
	VoteBoth     VoteDir = "both"
	VoteWait     VoteDir = "wait"
	VoteConflict VoteDir = "conflict" // opposes any directional entry
)

// ValidationResult is the rule layer's verdict on a Signal.
type ValidationResult struct {
	IsValid         bool            `json:"isValid"`
	Reason          string          `json:"reason"`
	ConfirmationPct float64         `json:"confirmationPct"`
	Strength        SignalStrength  `json:"strength"`
	MarketCondition MarketCondition `json:"marketCondition"`
	Reasoning       string          `json:"reasoning"`
	Supporting      []IndicatorVote `json:"supporting"`
	Conflicting     []IndicatorVote `json:"conflicting"`
	Neutral         []IndicatorVote `json:"neutral"`
}

// FinalDecision merges Signal and ValidationResult. It owns the only action
// value execution may act on.
type FinalDecision struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Action     TradeAction     `json:"action"`
	Confidence float64         `json:"confidence"`
	Branch     string          `json:"branch"`
	Signal     Signal          `json:"signal"`
	Validation ValidationResult `json:"validation"`
}

// SizingMethod identifies which sizing path produced a decision.
type SizingMethod string

const (
	MethodEmpiricalKelly SizingMethod = "empirical_kelly"
	MethodExploration    SizingMethod = "exploration"
)

// SizingDecision is the position-sizing engine's output.
// FinalFraction is zero whenever expectancy or the Kelly fraction is non-positive.
type SizingDecision struct {
	Method            SizingMethod `json:"method"`
	KellyFraction     float64      `json:"kellyFraction"`
	RegimeMultiplier  float64      `json:"regimeMultiplier"`
	VolatilityPenalty float64      `json:"volatilityPenalty"`
	FinalFraction     float64      `json:"finalFraction"`
	Reason            string       `json:"reason"`
}

// Position is an open position, owned by the exit manager once opened.
// EntryReason carries a copy of the triggering signal's rationale so exits can
// check thesis invalidation without holding a live Signal reference.
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	Notional      decimal.Decimal `json:"notional"` // margin reserved at entry
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	StopLoss      decimal.Decimal `json:"stopLoss"`
	TakeProfit    decimal.Decimal `json:"takeProfit"`
	OpenedAt      time.Time       `json:"openedAt"`
	RegimeAtEntry string          `json:"regimeAtEntry"`
	EntryReason   string          `json:"entryReason"`
	HighWater     decimal.Decimal `json:"highWater"`
	LowWater      decimal.Decimal `json:"lowWater"`
}

// ClosedTrade is the immutable record of a terminated position.
type ClosedTrade struct {
	ID         string          `json:"id"`
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	PnL        decimal.Decimal `json:"pnl"`
	ExitReason string          `json:"exitReason"`
	OpenedAt   time.Time       `json:"openedAt"`
	ClosedAt   time.Time       `json:"closedAt"`
}

// PnLFloat returns the trade PnL as a float64 for statistics code.
func (t ClosedTrade) PnLFloat() float64 {
	f, _ := t.PnL.Float64()
	return f
}

// ExpectancyStats is the rolling edge estimate over one window of closed trades.
type ExpectancyStats struct {
	Window      int     `json:"window"`
	SampleSize  int     `json:"sampleSize"`
	WinRate     float64 `json:"winRate"`
	AvgWin      float64 `json:"avgWin"`
	AvgLoss     float64 `json:"avgLoss"`
	PayoffRatio float64 `json:"payoffRatio"`
	Expectancy  float64 `json:"expectancy"`
}

// Severity grades a degradation report.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// DegradationReport is the strategy monitor's periodic output.
type DegradationReport struct {
	Timestamp      time.Time          `json:"timestamp"`
	IsDegraded     bool               `json:"isDegraded"`
	Severity       Severity           `json:"severity"`
	Issues         []string           `json:"issues"`
	Metrics        map[string]float64 `json:"metrics"`
	Recommendation string             `json:"recommendation"`
}
