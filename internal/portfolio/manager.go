// Package portfolio enforces concentration limits across open positions and
// scales or rejects proposed entries that would breach them.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the concentration caps, each as a fraction of account equity.
type Config struct {
	MaxAssetPct      float64 // single asset
	MaxCorrelatedPct float64 // correlated group
	MaxSectorPct     float64 // sector bucket
	CorrThreshold    float64 // pairwise correlation that groups assets
	DefaultCorr      float64 // assumed correlation when no estimate exists
}

// DefaultConfig returns the production caps.
func DefaultConfig() *Config {
	return &Config{
		MaxAssetPct:      0.40,
		MaxCorrelatedPct: 0.60,
		MaxSectorPct:     0.50,
		CorrThreshold:    0.70,
		DefaultCorr:      0.50,
	}
}

// Verdict is the outcome of a portfolio check. Notional may be scaled down
// from the request; Approved false means no headroom at all.
type Verdict struct {
	Approved bool
	Notional decimal.Decimal
	Scaled   bool
	Reason   string
}

// Exposure summarizes the current portfolio for one asset or bucket.
type Exposure struct {
	Notional decimal.Decimal `json:"notional"`
	Pct      float64         `json:"pct"`
}

// Breakdown is the full portfolio exposure snapshot.
type Breakdown struct {
	Timestamp      time.Time           `json:"timestamp"`
	TotalNotional  decimal.Decimal     `json:"totalNotional"`
	NetExposurePct float64             `json:"netExposurePct"`
	Heat           float64             `json:"heat"`
	ByAsset        map[string]Exposure `json:"byAsset"`
	BySector       map[string]Exposure `json:"bySector"`
}

// Manager tracks exposure and validates entries against the caps.
type Manager struct {
	logger *zap.Logger
	config *Config

	mu          sync.RWMutex
	sectors     map[string]string             // symbol -> sector
	correlation map[string]map[string]float64 // pairwise estimates
}

// NewManager creates a portfolio risk manager. sectors maps symbols to
// sector buckets; unmapped symbols fall into "other".
func NewManager(logger *zap.Logger, config *Config, sectors map[string]string) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if sectors == nil {
		sectors = make(map[string]string)
	}
	return &Manager{
		logger:      logger.Named("portfolio"),
		config:      config,
		sectors:     sectors,
		correlation: make(map[string]map[string]float64),
	}
}

// SetCorrelation records a pairwise correlation estimate, symmetric.
func (m *Manager) SetCorrelation(a, b string, corr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.correlation[a] == nil {
		m.correlation[a] = make(map[string]float64)
	}
	if m.correlation[b] == nil {
		m.correlation[b] = make(map[string]float64)
	}
	m.correlation[a][b] = corr
	m.correlation[b][a] = corr
}

func (m *Manager) pairCorr(a, b string) float64 {
	if row, ok := m.correlation[a]; ok {
		if c, ok := row[b]; ok {
			return c
		}
	}
	return m.config.DefaultCorr
}

// ValidateAndScale checks a proposed entry against every cap, each a
// fraction of account equity. When a cap leaves partial headroom the notional
// is scaled down to fit; when a cap is already full the entry is rejected.
// Caps are checked asset, correlated group, then sector; the tightest
// headroom wins.
func (m *Manager) ValidateAndScale(symbol string, proposed, equity decimal.Decimal, open []types.Position) Verdict {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if proposed.LessThanOrEqual(decimal.Zero) {
		return Verdict{Approved: false, Notional: decimal.Zero, Reason: "zero_notional"}
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return Verdict{Approved: false, Notional: decimal.Zero, Reason: "no_equity"}
	}

	byAsset := make(map[string]decimal.Decimal)
	for _, p := range open {
		n := p.Size.Mul(p.EntryPrice)
		byAsset[p.Symbol] = byAsset[p.Symbol].Add(n)
	}

	notional := proposed
	scaled := false

	// Single-asset cap.
	assetCap := equity.Mul(decimal.NewFromFloat(m.config.MaxAssetPct))
	assetAfter := byAsset[symbol].Add(notional)
	if assetAfter.GreaterThan(assetCap) {
		headroom := assetCap.Sub(byAsset[symbol])
		if headroom.LessThanOrEqual(decimal.Zero) {
			return Verdict{Approved: false, Notional: decimal.Zero,
				Reason: fmt.Sprintf("asset cap %.0f%% exhausted for %s", m.config.MaxAssetPct*100, symbol)}
		}
		notional = headroom
		scaled = true
	}

	// Correlated-group cap: the symbol plus everything correlated above the
	// threshold.
	groupExposure := byAsset[symbol]
	for sym, n := range byAsset {
		if sym == symbol {
			continue
		}
		if m.pairCorr(symbol, sym) >= m.config.CorrThreshold {
			groupExposure = groupExposure.Add(n)
		}
	}
	groupCap := equity.Mul(decimal.NewFromFloat(m.config.MaxCorrelatedPct))
	if groupExposure.Add(notional).GreaterThan(groupCap) {
		headroom := groupCap.Sub(groupExposure)
		if headroom.LessThanOrEqual(decimal.Zero) {
			return Verdict{Approved: false, Notional: decimal.Zero,
				Reason: fmt.Sprintf("correlated group cap %.0f%% exhausted", m.config.MaxCorrelatedPct*100)}
		}
		if headroom.LessThan(notional) {
			notional = headroom
			scaled = true
		}
	}

	// Sector cap.
	sector := m.sectorOf(symbol)
	sectorExposure := decimal.Zero
	for sym, n := range byAsset {
		if m.sectorOf(sym) == sector {
			sectorExposure = sectorExposure.Add(n)
		}
	}
	sectorCap := equity.Mul(decimal.NewFromFloat(m.config.MaxSectorPct))
	if sectorExposure.Add(notional).GreaterThan(sectorCap) {
		headroom := sectorCap.Sub(sectorExposure)
		if headroom.LessThanOrEqual(decimal.Zero) {
			return Verdict{Approved: false, Notional: decimal.Zero,
				Reason: fmt.Sprintf("sector cap %.0f%% exhausted for %s", m.config.MaxSectorPct*100, sector)}
		}
		if headroom.LessThan(notional) {
			notional = headroom
			scaled = true
		}
	}

	reason := "within_limits"
	if scaled {
		reason = fmt.Sprintf("scaled from %s to fit concentration caps", proposed.StringFixed(2))
		m.logger.Info("entry scaled by portfolio caps",
			zap.String("symbol", symbol),
			zap.String("proposed", proposed.String()),
			zap.String("approved", notional.String()),
		)
	}

	return Verdict{Approved: true, Notional: notional, Scaled: scaled, Reason: reason}
}

// Heat returns the portfolio heat multiplier: 1 plus the average pairwise
// correlation across open symbols. A fully uncorrelated book returns 1.0.
func (m *Manager) Heat(open []types.Position) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heatLocked(open)
}

// ExposureBreakdown summarizes the current book by asset and sector.
// netExposurePct is signed: long notional minus short notional over total.
func (m *Manager) ExposureBreakdown(open []types.Position) Breakdown {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	net := decimal.Zero
	byAsset := make(map[string]decimal.Decimal)
	bySector := make(map[string]decimal.Decimal)

	for _, p := range open {
		n := p.Size.Mul(p.EntryPrice)
		total = total.Add(n)
		byAsset[p.Symbol] = byAsset[p.Symbol].Add(n)
		bySector[m.sectorOf(p.Symbol)] = bySector[m.sectorOf(p.Symbol)].Add(n)
		if p.Side == types.PositionSideShort {
			net = net.Sub(n)
		} else {
			net = net.Add(n)
		}
	}

	b := Breakdown{
		Timestamp:     time.Now().UTC(),
		TotalNotional: total,
		ByAsset:       make(map[string]Exposure, len(byAsset)),
		BySector:      make(map[string]Exposure, len(bySector)),
	}
	if total.IsPositive() {
		netF, _ := net.Div(total).Float64()
		b.NetExposurePct = netF * 100
		for sym, n := range byAsset {
			pct, _ := n.Div(total).Float64()
			b.ByAsset[sym] = Exposure{Notional: n, Pct: pct * 100}
		}
		for sec, n := range bySector {
			pct, _ := n.Div(total).Float64()
			b.BySector[sec] = Exposure{Notional: n, Pct: pct * 100}
		}
	}
	b.Heat = m.heatLocked(open)
	return b
}

func (m *Manager) heatLocked(open []types.Position) float64 {
	symbols := make([]string, 0, len(open))
	seen := make(map[string]bool)
	for _, p := range open {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) < 2 {
		return 1.0
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			sum += m.pairCorr(symbols[i], symbols[j])
			pairs++
		}
	}
	return 1.0 + sum/float64(pairs)
}

func (m *Manager) sectorOf(symbol string) string {
	if s, ok := m.sectors[symbol]; ok {
		return s
	}
	return "other"
}
