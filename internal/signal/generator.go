// Package signal implements the dual-layer signal stack: a continuous
// probabilistic generator, an independent rule-based validator, and the
// orchestrator that merges both into one final decision.
package signal

import (
	"math"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CategoryWeights holds the six fixed category weights. They must sum to 1.0;
// the config loader validates this at startup.
type CategoryWeights struct {
	Momentum      float64 `json:"momentum"`
	Trend         float64 `json:"trend"`
	Volatility    float64 `json:"volatility"`
	Volume        float64 `json:"volume"`
	MeanReversion float64 `json:"meanReversion"`
	Probability   float64 `json:"probability"`
}

// Sum returns the total weight.
func (w CategoryWeights) Sum() float64 {
	return w.Momentum + w.Trend + w.Volatility + w.Volume + w.MeanReversion + w.Probability
}

// GeneratorConfig configures the probabilistic layer.
type GeneratorConfig struct {
	Weights         CategoryWeights
	ActionThreshold float64 // |adjusted score| needed to act
	MinVolume       float64 // below this the market is considered dead
	ExtremeVol      float64 // gk volatility above this is a spike
	WeakADX         float64
	RegimePenalty   float64 // score multiplier when the pre-check fails
	StopATRMult     float64
	TakeATRMult     float64
	MinTakeDistance float64 // min fractional distance for the MC target
}

// DefaultGeneratorConfig returns the production defaults.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Weights: CategoryWeights{
			Momentum:      0.25,
			Trend:         0.20,
			Volatility:    0.15,
			Volume:        0.10,
			MeanReversion: 0.20,
			Probability:   0.10,
		},
		ActionThreshold: 0.2,
		MinVolume:       100,
		ExtremeVol:      0.8,
		WeakADX:         15,
		RegimePenalty:   0.3,
		StopATRMult:     1.5,
		TakeATRMult:     2.5,
		MinTakeDistance: 0.005,
	}
}

// Generator is the probabilistic signal layer. All member transforms are
// smooth tanh curves so near-threshold values never flip the action
// discontinuously.
type Generator struct {
	logger *zap.Logger
	config *GeneratorConfig
}

// NewGenerator creates a probabilistic signal generator.
func NewGenerator(logger *zap.Logger, config *GeneratorConfig) *Generator {
	if config == nil {
		config = DefaultGeneratorConfig()
	}
	return &Generator{logger: logger.Named("generator"), config: config}
}

// Generate produces a signal from the current indicator snapshot.
func (g *Generator) Generate(snap *indicators.Snapshot) *types.Signal {
	scores := g.categoryScores(snap)

	w := g.config.Weights
	raw := scores["momentum"]*w.Momentum +
		scores["trend"]*w.Trend +
		scores["volatility"]*w.Volatility +
		scores["volume"]*w.Volume +
		scores["mean_reversion"]*w.MeanReversion +
		scores["probability"]*w.Probability

	volFactor := g.volatilityFactor(snap.GKVolatility)
	adjusted := raw * volFactor

	regimeValid, regimeReason := g.checkRegime(snap)
	if !regimeValid {
		adjusted *= g.config.RegimePenalty
	}

	action, confidence := g.scoreToAction(adjusted)

	price := decimal.NewFromFloat(snap.Price)
	stop := g.stopLoss(snap, action)
	take := g.takeProfit(snap, action)

	riskReward := 0.0
	if stopDist := math.Abs(snap.Price - decimalToFloat(stop)); stopDist > 0 {
		riskReward = math.Abs(decimalToFloat(take)-snap.Price) / stopDist
	}

	sig := &types.Signal{
		Timestamp:        time.Now().UTC(),
		Symbol:           snap.Symbol,
		Action:           action,
		Confidence:       confidence,
		RawScore:         raw,
		AdjustedScore:    adjusted,
		CategoryScores:   scores,
		VolatilityFactor: volFactor,
		RegimeValid:      regimeValid,
		RegimeReason:     regimeReason,
		CurrentPrice:     price,
		StopLoss:         stop,
		TakeProfit:       take,
		RiskReward:       riskReward,
	}

	g.logger.Debug("signal generated",
		zap.String("symbol", snap.Symbol),
		zap.String("action", string(action)),
		zap.Float64("adjustedScore", adjusted),
		zap.Float64("confidence", confidence),
		zap.String("regimeReason", regimeReason),
	)

	return sig
}

// categoryScores maps the snapshot into six scores in [-1, 1].
// Negative is bearish, positive is bullish.
func (g *Generator) categoryScores(snap *indicators.Snapshot) map[string]float64 {
	scores := make(map[string]float64, 6)

	// Momentum: RSI, stochastic and CCI. RSI and stochastic score inversely
	// (oversold is bullish).
	rsiScore := -math.Tanh((snap.RSI - 50) / 50 * 2)
	stochScore := -math.Tanh((snap.StochK - 50) / 50 * 2)
	cciScore := math.Tanh(snap.CCI / 100)
	scores["momentum"] = (rsiScore + stochScore + cciScore) / 3

	// Trend: MACD histogram and EMA alignment, scaled by ADX strength.
	macdScore := math.Tanh(snap.MACDHist / 10)
	emaScore := 0.0
	if snap.EMA9 > snap.EMA20 && snap.EMA20 > snap.EMA50 {
		emaScore = 0.8
	} else if snap.EMA9 < snap.EMA20 && snap.EMA20 < snap.EMA50 {
		emaScore = -0.8
	}
	adxStrength := math.Min(snap.ADX/50, 1.0)
	scores["trend"] = (macdScore + emaScore) / 2 * adxStrength

	// Volatility: position within the Bollinger band (fade extremes) mixed
	// with the expansion/contraction signal.
	bbPosition := 0.0
	if snap.BBWidth > 0 && snap.BBUpper != snap.BBMiddle {
		bbPosition = (snap.Price - snap.BBMiddle) / (snap.BBUpper - snap.BBMiddle)
		bbPosition = clampScore(bbPosition)
	}
	volScore := math.Tanh((snap.GKVolatility - 0.3) / 0.2)
	scores["volatility"] = -bbPosition*0.7 + volScore*0.3

	// Volume: MFI and position relative to VWAP.
	mfiScore := math.Tanh((snap.MFI - 50) / 50 * 1.5)
	vwapScore := 0.0
	if snap.VWAP != 0 {
		vwapScore = math.Tanh((snap.Price - snap.VWAP) / snap.VWAP * 100)
	}
	scores["volume"] = (mfiScore + vwapScore) / 2

	// Mean reversion: z-score extremes plus band proximity.
	var zScore float64
	switch {
	case snap.ZScore < -2:
		zScore = 0.8
	case snap.ZScore > 2:
		zScore = -0.8
	default:
		zScore = -math.Tanh(snap.ZScore / 2)
	}
	bbReversion := 0.0
	if bbPosition < -0.8 {
		bbReversion = 0.6
	} else if bbPosition > 0.8 {
		bbReversion = -0.6
	}
	scores["mean_reversion"] = (zScore + bbReversion) / 2

	// Probability: Monte Carlo up-probability mapped to [-1, 1].
	scores["probability"] = (snap.MCProbabilityUp - 0.5) * 2

	return scores
}

// volatilityFactor shrinks confidence as normalized volatility rises.
// Returns 1.0 at low volatility, 0.5 at high.
func (g *Generator) volatilityFactor(gkVol float64) float64 {
	normalized := (gkVol - 0.2) / 0.4
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	return 1.0 - normalized*0.5
}

// checkRegime is the validity pre-check that can force WAIT regardless of
// score: dead market, volatility spike, or ranging uncertainty.
func (g *Generator) checkRegime(snap *indicators.Snapshot) (bool, string) {
	if snap.Volume < g.config.MinVolume {
		return false, "low_volume"
	}
	if snap.GKVolatility > g.config.ExtremeVol {
		return false, "extreme_volatility"
	}
	if snap.ADX < g.config.WeakADX && math.Abs(snap.ZScore) < 0.5 {
		return false, "ranging_uncertain"
	}
	return true, "regime_ok"
}

// scoreToAction converts a continuous score into an action plus confidence
// via symmetric thresholds.
func (g *Generator) scoreToAction(score float64) (types.TradeAction, float64) {
	confidence := math.Abs(score)
	if confidence > 1 {
		confidence = 1
	}

	switch {
	case score > g.config.ActionThreshold:
		return types.ActionEnterLong, confidence
	case score < -g.config.ActionThreshold:
		return types.ActionEnterShort, confidence
	default:
		return types.ActionWait, confidence
	}
}

// stopLoss derives an ATR-based stop, widened as volatility rises.
func (g *Generator) stopLoss(snap *indicators.Snapshot, action types.TradeAction) decimal.Decimal {
	price := decimal.NewFromFloat(snap.Price)

	volMult := 1.0 + snap.GKVolatility/0.4
	if volMult > 2.0 {
		volMult = 2.0
	}
	distance := decimal.NewFromFloat(snap.ATR * g.config.StopATRMult * volMult)

	switch action {
	case types.ActionEnterLong:
		return price.Sub(distance)
	case types.ActionEnterShort:
		return price.Add(distance)
	default:
		return price
	}
}

// takeProfit uses the Monte Carlo expected price when it clears the minimum
// distance, otherwise falls back to an ATR multiple.
func (g *Generator) takeProfit(snap *indicators.Snapshot, action types.TradeAction) decimal.Decimal {
	price := decimal.NewFromFloat(snap.Price)
	atrTarget := decimal.NewFromFloat(snap.ATR * g.config.TakeATRMult)

	switch action {
	case types.ActionEnterLong:
		if snap.MCExpectedPrice > snap.Price*(1+g.config.MinTakeDistance) {
			return decimal.NewFromFloat(snap.MCExpectedPrice)
		}
		return price.Add(atrTarget)
	case types.ActionEnterShort:
		if snap.MCExpectedPrice > 0 && snap.MCExpectedPrice < snap.Price*(1-g.config.MinTakeDistance) {
			return decimal.NewFromFloat(snap.MCExpectedPrice)
		}
		return price.Sub(atrTarget)
	default:
		return price
	}
}

func clampScore(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
