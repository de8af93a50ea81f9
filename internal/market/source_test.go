package market

import (
	"testing"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func bar(ts time.Time, price float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(price),
		High:      decimal.NewFromFloat(price * 1.01),
		Low:       decimal.NewFromFloat(price * 0.99),
		Close:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestValidateSeriesEmpty(t *testing.T) {
	err := ValidateSeries(nil, 0, time.Now())
	if faults.CodeOf(err) != "empty_window" {
		t.Fatalf("code = %s, want empty_window", faults.CodeOf(err))
	}
}

func TestValidateSeriesBadPrice(t *testing.T) {
	now := time.Now()
	window := []types.OHLCV{bar(now.Add(-2*time.Minute), 100), bar(now.Add(-time.Minute), 0)}

	err := ValidateSeries(window, 0, now)
	if faults.CodeOf(err) != "bad_price" {
		t.Fatalf("code = %s, want bad_price", faults.CodeOf(err))
	}
	if faults.KindOf(err) != faults.DataUnavailable {
		t.Errorf("kind = %s, want data_unavailable", faults.KindOf(err))
	}
}

func TestValidateSeriesOutOfOrder(t *testing.T) {
	now := time.Now()
	window := []types.OHLCV{bar(now.Add(-time.Minute), 100), bar(now.Add(-2*time.Minute), 101)}

	err := ValidateSeries(window, 0, now)
	if faults.CodeOf(err) != "out_of_order" {
		t.Fatalf("code = %s, want out_of_order", faults.CodeOf(err))
	}

	// Duplicate timestamps are out of order too.
	dup := []types.OHLCV{bar(now, 100), bar(now, 101)}
	if faults.CodeOf(ValidateSeries(dup, 0, now)) != "out_of_order" {
		t.Error("duplicate timestamps must fail")
	}
}

func TestValidateSeriesStaleness(t *testing.T) {
	now := time.Now()
	window := []types.OHLCV{bar(now.Add(-time.Hour), 100), bar(now.Add(-30*time.Minute), 101)}

	err := ValidateSeries(window, 15*time.Minute, now)
	if faults.CodeOf(err) != "stale_data" {
		t.Fatalf("code = %s, want stale_data", faults.CodeOf(err))
	}

	// maxAge 0 disables the check.
	if err := ValidateSeries(window, 0, now); err != nil {
		t.Errorf("staleness disabled, got %v", err)
	}
}

func TestValidateSeriesCleanWindow(t *testing.T) {
	now := time.Now()
	window := []types.OHLCV{
		bar(now.Add(-3*time.Minute), 100),
		bar(now.Add(-2*time.Minute), 101),
		bar(now.Add(-time.Minute), 100.5),
	}
	if err := ValidateSeries(window, 15*time.Minute, now); err != nil {
		t.Fatalf("clean window rejected: %v", err)
	}
}

func TestGeneratedSeriesIsValid(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := GenerateSeries("BTC-USD", start, time.Minute, 200, 50000, 11)

	if len(series) != 200 {
		t.Fatalf("length = %d, want 200", len(series))
	}
	if err := ValidateSeries(series, 0, start.Add(300*time.Minute)); err != nil {
		t.Fatalf("generated series invalid: %v", err)
	}

	// Same seed, same series.
	again := GenerateSeries("BTC-USD", start, time.Minute, 200, 50000, 11)
	if !series[199].Close.Equal(again[199].Close) {
		t.Error("seeded generation must be reproducible")
	}
}
