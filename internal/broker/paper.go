package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperConfig configures the simulated broker.
type PaperConfig struct {
	InitialBalance  decimal.Decimal
	SlippagePct     float64 // mean absolute fill slippage
	MinLatency      time.Duration
	MaxLatency      time.Duration
	FailureRate     float64 // fraction of orders that fail
	Seed            int64   // 0 = non-deterministic
}

// DefaultPaperConfig returns a realistic paper account.
func DefaultPaperConfig() *PaperConfig {
	return &PaperConfig{
		InitialBalance: decimal.NewFromInt(10000),
		SlippagePct:    0.05,
		MinLatency:     20 * time.Millisecond,
		MaxLatency:     120 * time.Millisecond,
		FailureRate:    0,
	}
}

// PaperBroker simulates fills with configurable slippage, latency and
// failure injection. Safe for concurrent use.
type PaperBroker struct {
	logger *zap.Logger
	config *PaperConfig

	mu      sync.Mutex
	rng     *rand.Rand
	balance decimal.Decimal
	used    decimal.Decimal // margin locked by open positions
}

// NewPaperBroker creates a simulated broker.
func NewPaperBroker(logger *zap.Logger, config *PaperConfig) *PaperBroker {
	if config == nil {
		config = DefaultPaperConfig()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		logger:  logger.Named("paper-broker"),
		config:  config,
		rng:     rand.New(rand.NewSource(seed)),
		balance: config.InitialBalance,
	}
}

// PlaceOrder simulates a market order fill. The latency wait happens before
// the lock so a slow fill never blocks balance reads or other orders.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	b.mu.Lock()
	latency := b.simLatencyLocked()
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.config.FailureRate > 0 && b.rng.Float64() < b.config.FailureRate {
		return nil, faults.New(faults.ExecutionFailure, "order_rejected",
			"simulated rejection for %s", req.Symbol)
	}
	if req.Notional.LessThanOrEqual(decimal.Zero) {
		return nil, faults.New(faults.IntegrityFault, "non_positive_notional",
			"order notional %s", req.Notional.String())
	}
	free := b.balance.Sub(b.used)
	if req.Notional.GreaterThan(free) {
		return nil, faults.New(faults.ExecutionFailure, "insufficient_margin",
			"notional %s exceeds free margin %s", req.Notional.StringFixed(2), free.StringFixed(2))
	}

	// Slip against the order direction.
	slip := b.rng.Float64() * b.config.SlippagePct / 100
	mult := 1 + slip
	if req.Side == types.PositionSideShort {
		mult = 1 - slip
	}
	fillPrice := req.Price.Mul(decimal.NewFromFloat(mult))
	size := req.Notional.Div(fillPrice)

	pos := types.Position{
		ID:            uuid.New().String(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Size:          size,
		Notional:      req.Notional,
		EntryPrice:    fillPrice,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		OpenedAt:      time.Now().UTC(),
		RegimeAtEntry: req.Regime,
		EntryReason:   req.Reason,
		HighWater:     fillPrice,
		LowWater:      fillPrice,
	}
	b.used = b.used.Add(req.Notional)

	b.logger.Info("paper order filled",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("fillPrice", fillPrice.StringFixed(2)),
		zap.String("notional", req.Notional.StringFixed(2)),
		zap.Duration("latency", latency),
	)

	return &Fill{
		Position:    pos,
		FillPrice:   fillPrice,
		SlippagePct: slip * 100,
		Latency:     latency,
	}, nil
}

// ClosePosition closes all or part of a position at the given price and
// realizes the PnL into the balance. fraction in (0, 1].
func (b *PaperBroker) ClosePosition(ctx context.Context, pos types.Position, price decimal.Decimal, fraction float64, reason string) (*types.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fraction <= 0 || fraction > 1 {
		return nil, faults.New(faults.IntegrityFault, "bad_fraction",
			"close fraction %.3f out of range", fraction)
	}

	closeSize := pos.Size.Mul(decimal.NewFromFloat(fraction))
	diff := price.Sub(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	pnl := diff.Mul(closeSize)

	// Release the exact margin reserved at entry; recomputing size*price
	// leaves division dust in the used-margin ledger.
	released := pos.Notional.Mul(decimal.NewFromFloat(fraction))
	if released.IsZero() {
		released = closeSize.Mul(pos.EntryPrice)
	}
	b.used = b.used.Sub(released)
	if b.used.IsNegative() {
		b.used = decimal.Zero
	}
	b.balance = b.balance.Add(pnl)

	trade := &types.ClosedTrade{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Size:       closeSize,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnL:        pnl,
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now().UTC(),
	}

	b.logger.Info("paper position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.Float64("fraction", fraction),
	)

	return trade, nil
}

// Balance returns the current account balance.
func (b *PaperBroker) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// FreeMargin returns balance minus margin locked by open positions.
func (b *PaperBroker) FreeMargin() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance.Sub(b.used)
}

func (b *PaperBroker) simLatencyLocked() time.Duration {
	span := b.config.MaxLatency - b.config.MinLatency
	if span <= 0 {
		return b.config.MinLatency
	}
	return b.config.MinLatency + time.Duration(b.rng.Int63n(int64(span)))
}
