package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Store is a file-backed candle store with an in-memory cache. One JSON file
// per (symbol, timeframe) plus a metadata index.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.OHLCV
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the stored range for one symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// NewStore creates a candle store rooted at dataDir.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger.Named("market"),
		dataDir:  dataDir,
		cache:    make(map[string][]types.OHLCV),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load market metadata", zap.Error(err))
	}

	return store, nil
}

// Window returns the most recent bars for a symbol, ascending. Implements
// Source.
func (s *Store) Window(ctx context.Context, symbol string, timeframe types.Timeframe, bars int) ([]types.OHLCV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cacheKey(symbol, timeframe)
	series, ok := s.cache[key]
	if !ok {
		loaded, err := s.loadSeries(symbol, timeframe)
		if err != nil {
			return nil, err
		}
		s.cache[key] = loaded
		series = loaded
	}

	if len(series) < bars {
		return nil, faults.New(faults.DataUnavailable, "window_too_short",
			"%s has %d bars, need %d", symbol, len(series), bars)
	}
	out := make([]types.OHLCV, bars)
	copy(out, series[len(series)-bars:])
	return out, nil
}

// Append adds candles to a symbol's series and persists the result. Bars are
// deduplicated by timestamp, newest copy wins.
func (s *Store) Append(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(symbol, timeframe)
	series := s.cache[key]
	if series == nil {
		if loaded, err := s.loadSeries(symbol, timeframe); err == nil {
			series = loaded
		}
	}

	byTime := make(map[int64]types.OHLCV, len(series)+len(bars))
	for _, b := range series {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range bars {
		byTime[b.Timestamp.UnixNano()] = b
	}

	merged := make([]types.OHLCV, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	s.cache[key] = merged
	return s.saveSeries(symbol, timeframe, merged)
}

// Metadata returns the stored range for a symbol, if known.
func (s *Store) Metadata(symbol string) (*SymbolMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[symbol]
	if !ok {
		return nil, false
	}
	m := *meta
	return &m, true
}

// Symbols returns every symbol with stored data.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.metadata))
	for sym := range s.metadata {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ClearCache drops the in-memory cache, forcing reloads from disk.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.OHLCV)
}

func (s *Store) loadSeries(symbol string, timeframe types.Timeframe) ([]types.OHLCV, error) {
	filename := s.seriesPath(symbol, timeframe)
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.New(faults.DataUnavailable, "no_data_file",
				"no stored candles for %s %s", symbol, timeframe)
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data file %s: %w", filename, err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func (s *Store) saveSeries(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.seriesPath(symbol, timeframe), data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
			Timeframe: string(timeframe),
		}
	}
	return s.saveMetadata()
}

func (s *Store) seriesPath(symbol string, timeframe types.Timeframe) string {
	safe := filepath.Base(fmt.Sprintf("%s_%s.json", symbol, timeframe))
	return filepath.Join(s.dataDir, safe)
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), data, 0644)
}

func cacheKey(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}
