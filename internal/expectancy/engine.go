// Package expectancy maintains rolling trade statistics and derives the
// empirical inputs for Kelly sizing. All statistics are recomputed from the
// trade log on each record, never patched incrementally, so a replay of the
// same log always yields identical numbers.
package expectancy

import (
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Config configures the statistics windows.
type Config struct {
	Windows       []int // rolling window sizes, ascending
	MinSampleSize int   // below this a window reports no stats
	MaxTrades     int   // trade log cap
}

// DefaultConfig returns short/medium/long windows.
func DefaultConfig() *Config {
	return &Config{
		Windows:       []int{30, 100, 500},
		MinSampleSize: 30,
		MaxTrades:     2000,
	}
}

// Degradation thresholds: the short window dropping this far below the long
// window flags edge decay.
const (
	winRateDropThreshold    = 0.20
	expectancyDropThreshold = 0.30
)

// KellyInputs is what the position sizer needs from the trade history.
type KellyInputs struct {
	WinRate     float64
	PayoffRatio float64
	Expectancy  float64
	SampleSize  int
	Window      int
}

// Engine tracks closed trades and computes per-window expectancy.
type Engine struct {
	logger *zap.Logger
	config *Config

	mu     sync.RWMutex
	trades []types.ClosedTrade
	stats  map[int]types.ExpectancyStats
}

// NewEngine creates an expectancy engine.
func NewEngine(logger *zap.Logger, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		logger: logger.Named("expectancy"),
		config: config,
		trades: make([]types.ClosedTrade, 0, 256),
		stats:  make(map[int]types.ExpectancyStats, len(config.Windows)),
	}
}

// RecordTrade appends a closed trade and recomputes every window.
func (e *Engine) RecordTrade(trade types.ClosedTrade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trades = append(e.trades, trade)
	if len(e.trades) > e.config.MaxTrades {
		e.trades = e.trades[len(e.trades)-e.config.MaxTrades:]
	}

	for _, window := range e.config.Windows {
		e.stats[window] = computeStats(e.trades, window)
	}

	e.logger.Debug("trade recorded",
		zap.String("symbol", trade.Symbol),
		zap.String("exitReason", trade.ExitReason),
		zap.Int("totalTrades", len(e.trades)),
	)
}

// Stats returns the statistics for one window and whether the sample is large
// enough to be usable.
func (e *Engine) Stats(window int) (types.ExpectancyStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.stats[window]
	if !ok {
		return types.ExpectancyStats{Window: window}, false
	}
	return s, s.SampleSize >= e.config.MinSampleSize
}

// AllStats returns every window's statistics, keyed by window size.
func (e *Engine) AllStats() map[int]types.ExpectancyStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[int]types.ExpectancyStats, len(e.stats))
	for w, s := range e.stats {
		out[w] = s
	}
	return out
}

// KellyInputs returns sizing inputs from the smallest window that has a
// sufficient sample. ok is false when no window qualifies; the sizer then
// falls back to exploration sizing.
func (e *Engine) KellyInputs() (KellyInputs, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, window := range e.config.Windows {
		s, found := e.stats[window]
		if !found || s.SampleSize < e.config.MinSampleSize {
			continue
		}
		return KellyInputs{
			WinRate:     s.WinRate,
			PayoffRatio: s.PayoffRatio,
			Expectancy:  s.Expectancy,
			SampleSize:  s.SampleSize,
			Window:      window,
		}, true
	}
	return KellyInputs{}, false
}

// TradeCount returns the number of trades currently in the log.
func (e *Engine) TradeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.trades)
}

// RecentTrades returns up to limit most recent closed trades, oldest first.
func (e *Engine) RecentTrades(limit int) []types.ClosedTrade {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.trades) {
		limit = len(e.trades)
	}
	out := make([]types.ClosedTrade, limit)
	copy(out, e.trades[len(e.trades)-limit:])
	return out
}

// Degraded compares the short window against the long window and reports
// whether recent performance has decayed materially.
func (e *Engine) Degraded() (bool, []string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.config.Windows) < 2 {
		return false, nil
	}
	short, okShort := e.stats[e.config.Windows[0]]
	long, okLong := e.stats[e.config.Windows[len(e.config.Windows)-1]]
	if !okShort || !okLong ||
		short.SampleSize < e.config.MinSampleSize ||
		long.SampleSize < e.config.MinSampleSize {
		return false, nil
	}

	var issues []string
	if long.WinRate > 0 && (long.WinRate-short.WinRate)/long.WinRate > winRateDropThreshold {
		issues = append(issues, "win_rate_decay")
	}
	if long.Expectancy > 0 && (long.Expectancy-short.Expectancy)/long.Expectancy > expectancyDropThreshold {
		issues = append(issues, "expectancy_decay")
	}
	return len(issues) > 0, issues
}

// Kelly computes the raw Kelly fraction from a win rate and payoff ratio.
// Returns 0 for non-positive payoff.
func Kelly(winRate, payoffRatio float64) float64 {
	if payoffRatio <= 0 {
		return 0
	}
	return (winRate*payoffRatio - (1 - winRate)) / payoffRatio
}

// computeStats derives per-window statistics from the tail of the trade log.
func computeStats(trades []types.ClosedTrade, window int) types.ExpectancyStats {
	sample := trades
	if len(sample) > window {
		sample = sample[len(sample)-window:]
	}

	stats := types.ExpectancyStats{
		Window:     window,
		SampleSize: len(sample),
	}
	if len(sample) == 0 {
		return stats
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range sample {
		pnl := t.PnLFloat()
		if pnl > 0 {
			wins++
			winSum += pnl
		} else {
			losses++
			lossSum += -pnl
		}
	}

	stats.WinRate = float64(wins) / float64(len(sample))
	if wins > 0 {
		stats.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = lossSum / float64(losses)
	}

	switch {
	case stats.AvgLoss > 0:
		stats.PayoffRatio = stats.AvgWin / stats.AvgLoss
	case stats.AvgWin > 0:
		// No losses yet. Cap the ratio so Kelly stays finite.
		stats.PayoffRatio = 10
	}

	stats.Expectancy = stats.WinRate*stats.AvgWin - (1-stats.WinRate)*stats.AvgLoss
	return stats
}

// Snapshot is a point-in-time export of the engine state for the API layer.
type Snapshot struct {
	Timestamp  time.Time                     `json:"timestamp"`
	TradeCount int                           `json:"tradeCount"`
	Windows    map[int]types.ExpectancyStats `json:"windows"`
}

// Export returns a snapshot for serialization.
func (e *Engine) Export() Snapshot {
	return Snapshot{
		Timestamp:  time.Now().UTC(),
		TradeCount: e.TradeCount(),
		Windows:    e.AllStats(),
	}
}
