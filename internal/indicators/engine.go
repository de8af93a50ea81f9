// Package indicators computes the fixed indicator set the decision loop
// consumes: momentum (RSI, stochastic, CCI), trend (EMA, MACD, ADX, regression
// slope), volatility (ATR, Bollinger, Garman-Klass), volume (MFI, VWAP, OBV),
// mean reversion (z-score) and probability (Monte Carlo).
package indicators

import (
	"math"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Snapshot holds every indicator value for one (symbol, timestamp) pair.
// Immutable once produced.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	AvgVolume float64 `json:"avgVolume"`

	RSI    float64 `json:"rsi"`
	StochK float64 `json:"stochK"`
	StochD float64 `json:"stochD"`
	CCI    float64 `json:"cci"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macdSignal"`
	MACDHist   float64 `json:"macdHist"`
	EMA9       float64 `json:"ema9"`
	EMA20      float64 `json:"ema20"`
	EMA50      float64 `json:"ema50"`
	ADX        float64 `json:"adx"`
	LRSlope    float64 `json:"lrSlope"`

	ATR          float64 `json:"atr"`
	BBUpper      float64 `json:"bbUpper"`
	BBMiddle     float64 `json:"bbMiddle"`
	BBLower      float64 `json:"bbLower"`
	BBWidth      float64 `json:"bbWidth"`
	GKVolatility float64 `json:"gkVolatility"`

	MFI float64 `json:"mfi"`
	VWAP float64 `json:"vwap"`
	OBV  float64 `json:"obv"`

	ZScore    float64 `json:"zScore"`
	PriceMean float64 `json:"priceMean"`
	PriceStd  float64 `json:"priceStd"`

	MCProbabilityUp float64 `json:"mcProbabilityUp"`
	MCExpectedPrice float64 `json:"mcExpectedPrice"`
}

// Config configures indicator periods.
type Config struct {
	RSIPeriod       int
	StochPeriod     int
	StochSmoothing  int
	CCIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ADXPeriod       int
	ATRPeriod       int
	BollingerPeriod int
	BollingerStdDev float64
	GKWindow        int
	MFIPeriod       int
	ZScorePeriod    int
	SlopePeriod     int
	VolumeLookback  int
	MinBars         int
	MonteCarlo      MonteCarloConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RSIPeriod:       14,
		StochPeriod:     14,
		StochSmoothing:  3,
		CCIPeriod:       20,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ADXPeriod:       14,
		ATRPeriod:       14,
		BollingerPeriod: 20,
		BollingerStdDev: 2.0,
		GKWindow:        20,
		MFIPeriod:       14,
		ZScorePeriod:    20,
		SlopePeriod:     10,
		VolumeLookback:  20,
		MinBars:         60,
		MonteCarlo:      DefaultMonteCarloConfig(),
	}
}

// Engine computes snapshots from OHLCV windows.
type Engine struct {
	logger *zap.Logger
	config *Config
	mc     *MonteCarlo
}

// NewEngine creates an indicator engine.
func NewEngine(logger *zap.Logger, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		logger: logger.Named("indicators"),
		config: config,
		mc:     NewMonteCarlo(config.MonteCarlo),
	}
}

// Compute produces a snapshot from an ordered OHLCV window. The window must be
// long enough for the slowest indicator to settle.
func (e *Engine) Compute(symbol string, window []types.OHLCV) (*Snapshot, error) {
	if len(window) < e.config.MinBars {
		return nil, faults.New(faults.DataUnavailable, "window_too_short",
			"need %d bars for %s, have %d", e.config.MinBars, symbol, len(window))
	}

	opens := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, bar := range window {
		opens[i], _ = bar.Open.Float64()
		highs[i], _ = bar.High.Float64()
		lows[i], _ = bar.Low.Float64()
		closes[i], _ = bar.Close.Float64()
		volumes[i], _ = bar.Volume.Float64()
	}

	cfg := e.config
	last := window[len(window)-1]

	snap := &Snapshot{
		Symbol:    symbol,
		Timestamp: last.Timestamp,
		Price:     closes[len(closes)-1],
		Volume:    volumes[len(volumes)-1],
		AvgVolume: mean(tail(volumes, cfg.VolumeLookback)),
	}

	snap.RSI = rsi(closes, cfg.RSIPeriod)
	snap.StochK, snap.StochD = stochastic(highs, lows, closes, cfg.StochPeriod, cfg.StochSmoothing)
	snap.CCI = cci(highs, lows, closes, cfg.CCIPeriod)

	snap.MACD, snap.MACDSignal, snap.MACDHist = macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	snap.EMA9 = ema(closes, 9)
	snap.EMA20 = ema(closes, 20)
	snap.EMA50 = ema(closes, 50)
	snap.ADX = adx(highs, lows, closes, cfg.ADXPeriod)
	snap.LRSlope = regressionSlope(closes, cfg.SlopePeriod)

	snap.ATR = atr(highs, lows, closes, cfg.ATRPeriod)
	snap.BBUpper, snap.BBMiddle, snap.BBLower = bollinger(closes, cfg.BollingerPeriod, cfg.BollingerStdDev)
	if snap.BBMiddle != 0 {
		snap.BBWidth = (snap.BBUpper - snap.BBLower) / snap.BBMiddle
	}
	snap.GKVolatility = garmanKlass(opens, highs, lows, closes, cfg.GKWindow)

	snap.MFI = mfi(highs, lows, closes, volumes, cfg.MFIPeriod)
	snap.VWAP = vwap(highs, lows, closes, volumes)
	snap.OBV = obv(closes, volumes)

	snap.ZScore, snap.PriceMean, snap.PriceStd = zscore(closes, cfg.ZScorePeriod)

	mcResult := e.mc.Simulate(closes)
	snap.MCProbabilityUp = mcResult.ProbabilityUp
	snap.MCExpectedPrice = mcResult.ExpectedPrice

	if math.IsNaN(snap.RSI) || math.IsNaN(snap.ATR) || math.IsNaN(snap.GKVolatility) {
		return nil, faults.New(faults.IntegrityFault, "nan_indicator",
			"indicator computation produced NaN for %s", symbol)
	}

	e.logger.Debug("snapshot computed",
		zap.String("symbol", symbol),
		zap.Float64("price", snap.Price),
		zap.Float64("rsi", snap.RSI),
		zap.Float64("adx", snap.ADX),
		zap.Float64("gkVol", snap.GKVolatility),
	)

	return snap, nil
}

// tail returns the last n values of a slice.
func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
