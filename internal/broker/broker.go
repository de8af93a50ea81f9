// Package broker abstracts order placement and position accounting behind a
// narrow interface, with a paper implementation used for simulated runs.
package broker

import (
	"context"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// OrderRequest is a market order to open a position.
type OrderRequest struct {
	Symbol     string
	Side       types.PositionSide
	Notional   decimal.Decimal
	Price      decimal.Decimal // reference price at decision time
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Regime     string
	Reason     string
}

// Fill is the result of a successful order.
type Fill struct {
	Position    types.Position
	FillPrice   decimal.Decimal
	SlippagePct float64
	Latency     time.Duration
}

// Broker places and closes positions.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
	ClosePosition(ctx context.Context, pos types.Position, price decimal.Decimal, fraction float64, reason string) (*types.ClosedTrade, error)
	Balance() decimal.Decimal
	FreeMargin() decimal.Decimal
}

// TradeStore persists closed trades.
type TradeStore interface {
	Append(trade types.ClosedTrade) error
	All() []types.ClosedTrade
	Recent(limit int) []types.ClosedTrade
}
