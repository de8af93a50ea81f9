// Package market provides candle data access for the decision engine: a
// pluggable Source interface, a file-backed store, and a replay source for
// deterministic runs.
package market

import (
	"context"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Source supplies the most recent candle window for a symbol. Implementations
// must return candles in ascending timestamp order.
type Source interface {
	Window(ctx context.Context, symbol string, timeframe types.Timeframe, bars int) ([]types.OHLCV, error)
}

// ValidateSeries checks a candle window for the defects that poison
// indicator math: empty data, out-of-order timestamps, non-positive prices,
// and staleness beyond maxAge (0 disables the staleness check).
func ValidateSeries(window []types.OHLCV, maxAge time.Duration, now time.Time) error {
	if len(window) == 0 {
		return faults.New(faults.DataUnavailable, "empty_window", "no candles returned")
	}

	for i, bar := range window {
		if bar.Close.IsZero() || bar.Close.IsNegative() ||
			bar.High.IsNegative() || bar.Low.IsNegative() {
			return faults.New(faults.DataUnavailable, "bad_price",
				"non-positive price at bar %d (%s)", i, bar.Timestamp.Format(time.RFC3339))
		}
		if i > 0 && !window[i-1].Timestamp.Before(bar.Timestamp) {
			return faults.New(faults.DataUnavailable, "out_of_order",
				"timestamps not strictly ascending at bar %d", i)
		}
	}

	if maxAge > 0 {
		last := window[len(window)-1].Timestamp
		if now.Sub(last) > maxAge {
			return faults.New(faults.DataUnavailable, "stale_data",
				"last candle is %s old, max %s", now.Sub(last), maxAge)
		}
	}
	return nil
}
