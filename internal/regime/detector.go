// Package regime classifies market state into discrete regimes used to scale
// risk. Classification runs off the current indicator snapshot; VOLATILE wins
// over everything else, then trend strength, then range/chop separation.
package regime

import (
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"go.uber.org/zap"
)

// Label is a market regime label
type Label string

const (
	TrendUp   Label = "TREND_UP"
	TrendDown Label = "TREND_DOWN"
	Range     Label = "RANGE"
	Chop      Label = "CHOP"
	Volatile  Label = "VOLATILE"
	Unknown   Label = "UNKNOWN"
)

// IsTrend reports whether the label is directional.
func (l Label) IsTrend() bool {
	return l == TrendUp || l == TrendDown
}

// Classification is the detector's output for one cycle.
type Classification struct {
	Label          Label     `json:"label"`
	Confidence     float64   `json:"confidence"`
	RiskMultiplier float64   `json:"riskMultiplier"`
	Volatility     float64   `json:"volatility"`
	ADX            float64   `json:"adx"`
	ClassifiedAt   time.Time `json:"classifiedAt"`
}

// Config configures the regime detector thresholds.
type Config struct {
	ExtremeVolThreshold float64 // above this, VOLATILE regardless of trend
	HighVolThreshold    float64 // above this, risk multiplier is dampened
	StrongTrendADX      float64
	TrendADX            float64
	WeakTrendADX        float64
	RangeDispersion     float64 // price std/mean below this in a weak trend = RANGE
	MinMultiplier       float64
	MaxMultiplier       float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ExtremeVolThreshold: 0.8,
		HighVolThreshold:    0.5,
		StrongTrendADX:      35,
		TrendADX:            25,
		WeakTrendADX:        20,
		RangeDispersion:     0.02,
		MinMultiplier:       0.3,
		MaxMultiplier:       1.5,
	}
}

// baseMultipliers is the fixed risk-multiplier lookup per label.
var baseMultipliers = map[Label]float64{
	TrendUp:   1.3,
	TrendDown: 1.3,
	Range:     0.8,
	Chop:      0.4,
	Volatile:  0.3,
	Unknown:   0.7,
}

// BaseMultiplier returns the fixed risk multiplier for a label.
func BaseMultiplier(label Label) float64 {
	if m, ok := baseMultipliers[label]; ok {
		return m
	}
	return baseMultipliers[Unknown]
}

// Detector classifies market regimes from indicator snapshots.
type Detector struct {
	logger *zap.Logger
	config *Config

	mu      sync.RWMutex
	current *Classification
	history []*Classification
}

// NewDetector creates a regime detector.
func NewDetector(logger *zap.Logger, config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{
		logger:  logger.Named("regime"),
		config:  config,
		history: make([]*Classification, 0, 512),
	}
}

// Classify determines the regime for the current snapshot. Exactly one label
// per cycle; ties broken in the priority order VOLATILE > trend > range/chop.
func (d *Detector) Classify(snap *indicators.Snapshot) *Classification {
	cfg := d.config

	label := Unknown
	confidence := 0.5

	switch {
	case snap.GKVolatility > cfg.ExtremeVolThreshold:
		label = Volatile
		confidence = 0.9

	case snap.ADX > cfg.StrongTrendADX && snap.EMA9 > snap.EMA20 && snap.EMA20 > snap.EMA50:
		label = TrendUp
		confidence = clamp(snap.ADX/50, 0, 1)

	case snap.ADX > cfg.StrongTrendADX && snap.EMA9 < snap.EMA20 && snap.EMA20 < snap.EMA50:
		label = TrendDown
		confidence = clamp(snap.ADX/50, 0, 1)

	case snap.ADX > cfg.TrendADX:
		if snap.EMA9 > snap.EMA50 {
			label = TrendUp
		} else {
			label = TrendDown
		}
		confidence = clamp(snap.ADX/50, 0, 0.8)

	case snap.ADX < cfg.WeakTrendADX:
		dispersion := 0.0
		if snap.PriceMean != 0 {
			dispersion = snap.PriceStd / snap.PriceMean
		}
		if dispersion < cfg.RangeDispersion {
			label = Range
			confidence = 0.7
		} else {
			label = Chop
			confidence = 0.6
		}
	}

	c := &Classification{
		Label:          label,
		Confidence:     confidence,
		RiskMultiplier: d.riskMultiplier(label, snap),
		Volatility:     snap.GKVolatility,
		ADX:            snap.ADX,
		ClassifiedAt:   snap.Timestamp,
	}

	d.mu.Lock()
	d.current = c
	d.history = append(d.history, c)
	if len(d.history) > 1000 {
		d.history = d.history[500:]
	}
	d.mu.Unlock()

	d.logger.Debug("regime classified",
		zap.String("symbol", snap.Symbol),
		zap.String("label", string(label)),
		zap.Float64("confidence", confidence),
		zap.Float64("multiplier", c.RiskMultiplier),
	)

	return c
}

// riskMultiplier applies the fixed lookup plus volatility and trend-strength
// adjustments, clamped to the configured bounds.
func (d *Detector) riskMultiplier(label Label, snap *indicators.Snapshot) float64 {
	m := BaseMultiplier(label)

	if snap.GKVolatility > d.config.HighVolThreshold {
		m *= 0.7
	}
	if label.IsTrend() && snap.ADX > 40 {
		m *= 1.1
	}

	return clamp(m, d.config.MinMultiplier, d.config.MaxMultiplier)
}

// ShouldTrade reports whether new entries are advisable in the given regime.
func (d *Detector) ShouldTrade(c *Classification) bool {
	switch c.Label {
	case Volatile, Chop:
		return false
	default:
		return true
	}
}

// Current returns the last classification, or an Unknown placeholder.
func (d *Detector) Current() *Classification {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.current == nil {
		return &Classification{Label: Unknown, Confidence: 0, RiskMultiplier: BaseMultiplier(Unknown)}
	}
	c := *d.current
	return &c
}

// History returns up to limit recent classifications.
func (d *Detector) History(limit int) []*Classification {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	out := make([]*Classification, limit)
	copy(out, d.history[len(d.history)-limit:])
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
