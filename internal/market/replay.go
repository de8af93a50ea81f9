package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ReplaySource serves pre-loaded candle series, advancing a cursor per call
// so a full run can be replayed bar by bar. Deterministic by construction.
type ReplaySource struct {
	mu      sync.Mutex
	series  map[string][]types.OHLCV
	cursors map[string]int
}

// NewReplaySource creates a replay source over the given per-symbol series.
func NewReplaySource(series map[string][]types.OHLCV) *ReplaySource {
	return &ReplaySource{
		series:  series,
		cursors: make(map[string]int, len(series)),
	}
}

// Window returns the trailing bars window ending at the cursor, then advances
// the cursor one bar. Returns DataUnavailable when the series is exhausted.
func (r *ReplaySource) Window(ctx context.Context, symbol string, _ types.Timeframe, bars int) ([]types.OHLCV, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, ok := r.series[symbol]
	if !ok {
		return nil, faults.New(faults.DataUnavailable, "unknown_symbol", "no series for %s", symbol)
	}

	cursor, ok := r.cursors[symbol]
	if !ok {
		cursor = bars
	}
	if cursor > len(series) {
		return nil, faults.New(faults.DataUnavailable, "series_exhausted",
			"%s replay finished at bar %d", symbol, len(series))
	}
	if cursor < bars {
		return nil, faults.New(faults.DataUnavailable, "window_too_short",
			"%s has %d bars before cursor, need %d", symbol, cursor, bars)
	}

	out := make([]types.OHLCV, bars)
	copy(out, series[cursor-bars:cursor])
	r.cursors[symbol] = cursor + 1
	return out, nil
}

// Reset rewinds every cursor to the start.
func (r *ReplaySource) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = make(map[string]int, len(r.series))
}

// GenerateSeries produces a synthetic random-walk candle series, useful for
// paper runs and tests. A fixed seed makes the series reproducible.
func GenerateSeries(symbol string, start time.Time, interval time.Duration, bars int, startPrice float64, seed int64) []types.OHLCV {
	rng := rand.New(rand.NewSource(seed))
	out := make([]types.OHLCV, 0, bars)

	price := startPrice
	ts := start
	for i := 0; i < bars; i++ {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.02
		closeP := price

		hi := open
		if closeP > hi {
			hi = closeP
		}
		lo := open
		if closeP < lo {
			lo = closeP
		}
		hi *= 1 + rng.Float64()*0.005
		lo *= 1 - rng.Float64()*0.005

		out = append(out, types.OHLCV{
			Timestamp: ts,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(hi),
			Low:       decimal.NewFromFloat(lo),
			Close:     decimal.NewFromFloat(closeP),
			Volume:    decimal.NewFromFloat(500 + rng.Float64()*10000),
		})
		ts = ts.Add(interval)
	}
	return out
}
