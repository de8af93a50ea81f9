package market

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := GenerateSeries("BTC-USD", start, 5*time.Minute, 50, 50000, 5)
	if err := s.Append("BTC-USD", types.Timeframe5m, series); err != nil {
		t.Fatal(err)
	}

	window, err := s.Window(context.Background(), "BTC-USD", types.Timeframe5m, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 20 {
		t.Fatalf("window length = %d, want 20", len(window))
	}
	if !window[19].Timestamp.Equal(series[49].Timestamp) {
		t.Error("window must end at the newest bar")
	}

	// Survives a cache drop: reloaded from disk.
	s.ClearCache()
	again, err := s.Window(context.Background(), "BTC-USD", types.Timeframe5m, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !again[0].Close.Equal(window[0].Close) {
		t.Error("reloaded series differs from the original")
	}
}

func TestStoreDeduplicatesOnAppend(t *testing.T) {
	s, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := GenerateSeries("BTC-USD", start, 5*time.Minute, 30, 50000, 5)

	if err := s.Append("BTC-USD", types.Timeframe5m, series[:20]); err != nil {
		t.Fatal(err)
	}
	// Overlapping append: bars 10-29 share 10 timestamps with the first write.
	if err := s.Append("BTC-USD", types.Timeframe5m, series[10:]); err != nil {
		t.Fatal(err)
	}

	meta, ok := s.Metadata("BTC-USD")
	if !ok {
		t.Fatal("metadata missing after append")
	}
	if meta.BarCount != 30 {
		t.Errorf("bar count = %d, want 30 deduplicated", meta.BarCount)
	}
	if !meta.EndDate.Equal(series[29].Timestamp) {
		t.Error("metadata end date must track the newest bar")
	}
}

func TestStoreMissingSymbol(t *testing.T) {
	s, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Window(context.Background(), "ETH-USD", types.Timeframe5m, 20)
	if faults.CodeOf(err) != "no_data_file" {
		t.Fatalf("code = %s, want no_data_file", faults.CodeOf(err))
	}
}

func TestStoreShortSeries(t *testing.T) {
	s, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Append("BTC-USD", types.Timeframe5m, GenerateSeries("BTC-USD", start, 5*time.Minute, 10, 50000, 5)); err != nil {
		t.Fatal(err)
	}

	_, err = s.Window(context.Background(), "BTC-USD", types.Timeframe5m, 20)
	if faults.CodeOf(err) != "window_too_short" {
		t.Fatalf("code = %s, want window_too_short", faults.CodeOf(err))
	}
}

func TestStoreMetadataPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Append("BTC-USD", types.Timeframe5m, GenerateSeries("BTC-USD", start, 5*time.Minute, 10, 50000, 5)); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same directory sees the index.
	reopened, err := NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Symbols(); len(got) != 1 || got[0] != "BTC-USD" {
		t.Errorf("symbols = %v, want [BTC-USD]", got)
	}
}
