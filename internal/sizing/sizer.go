// Package sizing converts a validated decision into a position size using
// fractional Kelly on empirical trade statistics, with a fixed exploration
// size while the sample is too small to trust.
package sizing

import (
	"fmt"

	"github.com/atlas-desktop/decision-engine/internal/expectancy"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the sizing parameters. Fractions are of account balance.
type Config struct {
	KellyScale       float64 // fraction of full Kelly actually risked
	ExplorationRisk  float64 // flat risk while the sample is thin
	ExplorationBoost float64 // multiplier for high-confidence exploration
	BoostConfidence  float64 // confidence needed for the boost
	MaxNotionalPct   float64 // notional cap as fraction of balance
}

// DefaultConfig returns the production sizing parameters.
func DefaultConfig() *Config {
	return &Config{
		KellyScale:       0.25,
		ExplorationRisk:  0.005,
		ExplorationBoost: 1.5,
		BoostConfidence:  0.7,
		MaxNotionalPct:   0.10,
	}
}

// Request bundles everything the sizer needs for one decision.
type Request struct {
	Decision         *types.FinalDecision
	Balance          decimal.Decimal
	RegimeMultiplier float64
	Volatility       float64 // normalized gk volatility
}

// Result is the sizing outcome. Notional is zero when the engine declines
// to size the trade.
type Result struct {
	Decision types.SizingDecision
	Fraction float64
	Notional decimal.Decimal
}

// Sizer computes position sizes.
type Sizer struct {
	logger     *zap.Logger
	config     *Config
	expectancy *expectancy.Engine
}

// NewSizer creates a position sizer backed by the expectancy engine.
func NewSizer(logger *zap.Logger, config *Config, exp *expectancy.Engine) *Sizer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Sizer{logger: logger.Named("sizing"), config: config, expectancy: exp}
}

// Size produces the final fraction and notional for a decision.
//
// The pipeline is: base fraction (Kelly or exploration), then regime
// multiplier, then volatility penalty, then the hard caps. A non-positive
// expectancy or Kelly fraction sizes to zero, never to the exploration floor.
func (s *Sizer) Size(req Request) Result {
	cfg := s.config

	inputs, ok := s.expectancy.KellyInputs()

	var (
		method   types.SizingMethod
		kellyF   float64
		fraction float64
		reason   string
	)

	if !ok {
		method = types.MethodExploration
		fraction = cfg.ExplorationRisk
		if req.Decision.Confidence > cfg.BoostConfidence {
			fraction *= cfg.ExplorationBoost
		}
		reason = "insufficient sample, exploration sizing"
	} else {
		method = types.MethodEmpiricalKelly
		kellyF = expectancy.Kelly(inputs.WinRate, inputs.PayoffRatio)

		switch {
		case inputs.Expectancy <= 0:
			fraction = 0
			reason = fmt.Sprintf("negative expectancy %.4f, declining", inputs.Expectancy)
		case kellyF <= 0:
			fraction = 0
			reason = fmt.Sprintf("non-positive kelly %.4f, declining", kellyF)
		default:
			fraction = kellyF * cfg.KellyScale
			reason = fmt.Sprintf("kelly %.4f scaled by %.2f over %d trades",
				kellyF, cfg.KellyScale, inputs.SampleSize)
		}
	}

	volPenalty := volatilityPenalty(req.Volatility)
	fraction *= req.RegimeMultiplier * volPenalty

	if fraction < 0 {
		fraction = 0
	}

	notional := req.Balance.Mul(decimal.NewFromFloat(fraction))
	maxNotional := req.Balance.Mul(decimal.NewFromFloat(cfg.MaxNotionalPct))
	if notional.GreaterThan(maxNotional) {
		notional = maxNotional
	}

	decision := types.SizingDecision{
		Method:            method,
		KellyFraction:     kellyF,
		RegimeMultiplier:  req.RegimeMultiplier,
		VolatilityPenalty: volPenalty,
		FinalFraction:     fraction,
		Reason:            reason,
	}

	s.logger.Debug("position sized",
		zap.String("symbol", req.Decision.Symbol),
		zap.String("method", string(method)),
		zap.Float64("fraction", fraction),
		zap.String("notional", notional.String()),
	)

	return Result{Decision: decision, Fraction: fraction, Notional: notional}
}

// volatilityPenalty maps normalized volatility to a size multiplier in
// descending tiers. Calm markets size fully, violent ones at 30%.
func volatilityPenalty(vol float64) float64 {
	switch {
	case vol < 0.3:
		return 1.0
	case vol < 0.5:
		return 0.85
	case vol < 0.7:
		return 0.65
	case vol < 0.9:
		return 0.45
	default:
		return 0.3
	}
}
