package signal

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// ValidatorConfig holds the rule-based layer's acceptance thresholds.
type ValidatorConfig struct {
	MinConfidence   float64 // primary confidence floor
	MinIndicators   int     // supporting votes required
	MaxConflicting  int     // conflicting votes tolerated
	StrongThreshold float64 // strength above this upgrades to strong
	ActThreshold    float64 // strength above this is actionable
}

// DefaultValidatorConfig returns the production defaults.
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MinConfidence:   0.4,
		MinIndicators:   3,
		MaxConflicting:  2,
		StrongThreshold: 0.8,
		ActThreshold:    0.6,
	}
}

// Validator is the independent rule-based layer. It never sees the
// generator's category scores; it re-reads raw indicators and votes
// binary conditions, so the two layers fail independently.
type Validator struct {
	logger *zap.Logger
	config *ValidatorConfig
}

// NewValidator creates the rule-based validation layer.
func NewValidator(logger *zap.Logger, config *ValidatorConfig) *Validator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	return &Validator{logger: logger.Named("validator"), config: config}
}

// Validate checks the primary signal against independent indicator votes.
func (v *Validator) Validate(sig *types.Signal, snap *indicators.Snapshot) *types.ValidationResult {
	votes := collectVotes(snap)

	var dir types.VoteDir
	switch sig.Action {
	case types.ActionEnterLong:
		dir = types.VoteLong
	case types.ActionEnterShort:
		dir = types.VoteShort
	default:
		return &types.ValidationResult{
			IsValid:         false,
			Reason:          "no_directional_signal",
			MarketCondition: marketCondition(snap),
			Reasoning:       "Primary layer is waiting",
		}
	}

	var supporting, conflicting, neutral []types.IndicatorVote
	for _, vote := range votes {
		switch vote.Direction {
		case dir, types.VoteBoth:
			supporting = append(supporting, vote)
		case types.VoteWait:
			neutral = append(neutral, vote)
		case opposite(dir), types.VoteConflict:
			conflicting = append(conflicting, vote)
		default:
			neutral = append(neutral, vote)
		}
	}

	total := len(supporting) + len(conflicting) + len(neutral)
	confirmationPct := 0.0
	if total > 0 {
		confirmationPct = float64(len(supporting)) / float64(total) * 100
	}

	strength := sig.Confidence*0.7 + float64(len(supporting))/10*0.3

	isValid := true
	reason := "validated"
	switch {
	case sig.Confidence < v.config.MinConfidence:
		isValid = false
		reason = fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, v.config.MinConfidence)
	case len(supporting) < v.config.MinIndicators:
		isValid = false
		reason = fmt.Sprintf("only %d supporting indicators, need %d", len(supporting), v.config.MinIndicators)
	case len(conflicting) > v.config.MaxConflicting:
		isValid = false
		reason = fmt.Sprintf("%d conflicting indicators exceeds limit %d", len(conflicting), v.config.MaxConflicting)
	}

	result := &types.ValidationResult{
		IsValid:         isValid,
		Reason:          reason,
		ConfirmationPct: confirmationPct,
		Strength:        v.strengthLabel(strength, dir),
		MarketCondition: marketCondition(snap),
		Reasoning:       buildReasoning(supporting, marketCondition(snap)),
		Supporting:      supporting,
		Conflicting:     conflicting,
		Neutral:         neutral,
	}

	v.logger.Debug("signal validated",
		zap.String("symbol", sig.Symbol),
		zap.Bool("valid", isValid),
		zap.Float64("confirmationPct", confirmationPct),
		zap.Int("supporting", len(supporting)),
		zap.Int("conflicting", len(conflicting)),
	)

	return result
}

// collectVotes evaluates every rule against the snapshot. Each rule fires at
// most one vote.
func collectVotes(snap *indicators.Snapshot) []types.IndicatorVote {
	var votes []types.IndicatorVote
	add := func(indicator, condition string, dir types.VoteDir, value float64) {
		votes = append(votes, types.IndicatorVote{
			Indicator: indicator,
			Condition: condition,
			Direction: dir,
			Value:     value,
		})
	}

	// RSI extremes vote directionally, mid-range votes neutral.
	switch {
	case snap.RSI < 30:
		add("RSI", "oversold", types.VoteLong, snap.RSI)
	case snap.RSI > 70:
		add("RSI", "overbought", types.VoteShort, snap.RSI)
	case snap.RSI >= 40 && snap.RSI <= 60:
		add("RSI", "neutral_zone", types.VoteWait, snap.RSI)
	}

	// MACD histogram needs meaningful magnitude to vote.
	switch {
	case snap.MACDHist > 5:
		add("MACD", "bullish_momentum", types.VoteLong, snap.MACDHist)
	case snap.MACDHist < -5:
		add("MACD", "bearish_momentum", types.VoteShort, snap.MACDHist)
	case math.Abs(snap.MACDHist) <= 5 && snap.MACDHist != 0:
		add("MACD", "weak_momentum", types.VoteWait, snap.MACDHist)
	}

	// Stochastic extremes.
	if snap.StochK < 20 {
		add("Stochastic", "oversold", types.VoteLong, snap.StochK)
	} else if snap.StochK > 80 {
		add("Stochastic", "overbought", types.VoteShort, snap.StochK)
	}

	// Bollinger band touches (within 0.5% of the band).
	if snap.BBLower > 0 && snap.Price <= snap.BBLower*1.005 {
		add("Bollinger", "at_lower_band", types.VoteLong, snap.Price)
	} else if snap.BBUpper > 0 && snap.Price >= snap.BBUpper*0.995 {
		add("Bollinger", "at_upper_band", types.VoteShort, snap.Price)
	}

	// Full EMA alignment.
	if snap.EMA9 > snap.EMA20 && snap.EMA20 > snap.EMA50 {
		add("EMA", "bullish_alignment", types.VoteLong, snap.EMA9)
	} else if snap.EMA9 < snap.EMA20 && snap.EMA20 < snap.EMA50 {
		add("EMA", "bearish_alignment", types.VoteShort, snap.EMA9)
	}

	// ADX confirms whichever direction the trend votes picked; weak ADX is a
	// conflict for any directional entry.
	if snap.ADX > 25 {
		add("ADX", "strong_trend", types.VoteBoth, snap.ADX)
	} else if snap.ADX < 15 {
		add("ADX", "no_trend", types.VoteConflict, snap.ADX)
	}

	// Monte Carlo probability.
	if snap.MCProbabilityUp > 0.65 {
		add("MonteCarlo", "bullish_probability", types.VoteLong, snap.MCProbabilityUp)
	} else if snap.MCProbabilityUp < 0.35 {
		add("MonteCarlo", "bearish_probability", types.VoteShort, snap.MCProbabilityUp)
	}

	// Z-score mean reversion extremes.
	if snap.ZScore < -2 {
		add("ZScore", "oversold_extreme", types.VoteLong, snap.ZScore)
	} else if snap.ZScore > 2 {
		add("ZScore", "overbought_extreme", types.VoteShort, snap.ZScore)
	}

	// Regression slope.
	if snap.LRSlope > 0.002 {
		add("Regression", "upward_slope", types.VoteLong, snap.LRSlope)
	} else if snap.LRSlope < -0.002 {
		add("Regression", "downward_slope", types.VoteShort, snap.LRSlope)
	}

	return votes
}

// marketCondition gives the validator's own coarse view of the tape.
func marketCondition(snap *indicators.Snapshot) types.MarketCondition {
	switch {
	case snap.GKVolatility > 0.5:
		return types.ConditionVolatile
	case snap.ADX > 30:
		if snap.EMA9 > snap.EMA50 {
			return types.ConditionTrendingUp
		}
		return types.ConditionTrendingDown
	case snap.ADX < 20:
		return types.ConditionRanging
	default:
		return types.ConditionUncertain
	}
}

// buildReasoning concatenates the strongest supporting conditions into a
// human-readable line.
func buildReasoning(supporting []types.IndicatorVote, cond types.MarketCondition) string {
	if len(supporting) == 0 {
		return fmt.Sprintf("No supporting indicators | Market: %s", cond)
	}

	top := supporting
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, 0, len(top))
	for _, vote := range top {
		parts = append(parts, fmt.Sprintf("%s %s", vote.Indicator, vote.Condition))
	}
	return fmt.Sprintf("%s | Market: %s", strings.Join(parts, " + "), cond)
}

func (v *Validator) strengthLabel(strength float64, dir types.VoteDir) types.SignalStrength {
	switch {
	case strength >= v.config.StrongThreshold && dir == types.VoteLong:
		return types.StrengthStrongBuy
	case strength >= v.config.StrongThreshold && dir == types.VoteShort:
		return types.StrengthStrongSell
	case strength >= v.config.ActThreshold && dir == types.VoteLong:
		return types.StrengthBuy
	case strength >= v.config.ActThreshold && dir == types.VoteShort:
		return types.StrengthSell
	default:
		return types.StrengthNeutral
	}
}

func opposite(dir types.VoteDir) types.VoteDir {
	if dir == types.VoteLong {
		return types.VoteShort
	}
	return types.VoteLong
}
