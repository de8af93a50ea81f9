package broker

import (
	"sync"

	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// MemoryTradeStore is an append-only in-memory trade log.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades []types.ClosedTrade
}

// NewMemoryTradeStore creates an empty trade store.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{trades: make([]types.ClosedTrade, 0, 256)}
}

// Append records a closed trade.
func (s *MemoryTradeStore) Append(trade types.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

// All returns a copy of every recorded trade, oldest first.
func (s *MemoryTradeStore) All() []types.ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ClosedTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Recent returns up to limit most recent trades, oldest first.
func (s *MemoryTradeStore) Recent(limit int) []types.ClosedTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	out := make([]types.ClosedTrade, limit)
	copy(out, s.trades[len(s.trades)-limit:])
	return out
}
