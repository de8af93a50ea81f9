// Package engine wires every subsystem into the decision loop: market data
// in, indicator snapshot, regime, dual-layer signal, sizing, risk gates, and
// order placement, with exits evaluated ahead of entries every cycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/audit"
	"github.com/atlas-desktop/decision-engine/internal/breaker"
	"github.com/atlas-desktop/decision-engine/internal/broker"
	"github.com/atlas-desktop/decision-engine/internal/exits"
	"github.com/atlas-desktop/decision-engine/internal/expectancy"
	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/internal/market"
	"github.com/atlas-desktop/decision-engine/internal/monitor"
	"github.com/atlas-desktop/decision-engine/internal/notify"
	"github.com/atlas-desktop/decision-engine/internal/portfolio"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/safety"
	"github.com/atlas-desktop/decision-engine/internal/signal"
	"github.com/atlas-desktop/decision-engine/internal/sizing"
	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/atlas-desktop/decision-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the loop parameters.
type Config struct {
	Symbols       []string
	Timeframe     types.Timeframe
	WindowBars    int
	Cadence       time.Duration
	MonitorEveryN int           // cycles between strategy monitor runs
	MaxDataAge    time.Duration // staleness bound for the candle window
	Leverage      float64
	Retry         utils.RetryConfig
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() *Config {
	return &Config{
		Symbols:       []string{"BTC-USD", "ETH-USD", "SOL-USD"},
		Timeframe:     types.Timeframe5m,
		WindowBars:    120,
		Cadence:       30 * time.Second,
		MonitorEveryN: 5,
		MaxDataAge:    15 * time.Minute,
		Leverage:      1,
		Retry:         utils.DefaultRetryConfig(),
	}
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Source     market.Source
	Indicators *indicators.Engine
	Regime     *regime.Detector
	Generator  *signal.Generator
	Validator  *signal.Validator
	Orch       *signal.Orchestrator
	Expectancy *expectancy.Engine
	Sizer      *sizing.Sizer
	Portfolio  *portfolio.Manager
	Safety     *safety.Checker
	Breaker    *breaker.Breaker
	Exits      *exits.Manager
	Monitor    *monitor.Monitor
	Broker     broker.Broker
	Trades     broker.TradeStore
	Audit      audit.Sink
	Notifier   *notify.Notifier
}

// CycleResult summarizes one symbol evaluation.
type CycleResult struct {
	Symbol   string               `json:"symbol"`
	Decision *types.FinalDecision `json:"decision,omitempty"`
	Sizing   *types.SizingDecision `json:"sizing,omitempty"`
	Entered  bool                 `json:"entered"`
	Exited   []string             `json:"exited,omitempty"`
	Skipped  string               `json:"skipped,omitempty"`
}

// Engine is the autonomous decision loop.
type Engine struct {
	logger *zap.Logger
	config *Config
	deps   Deps
	pool   *evalPool

	mu         sync.RWMutex
	positions  map[string]*types.Position // by position ID
	lastReport *types.DegradationReport
	dailyPnL   decimal.Decimal
	dailyDate  string
	cycles     int64

	symMu sync.Mutex
	syms  map[string]*sync.Mutex // serializes cycles per symbol
}

// New creates the engine.
func New(logger *zap.Logger, config *Config, deps Deps) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		logger:    logger.Named("engine"),
		config:    config,
		deps:      deps,
		pool:      newEvalPool(logger, defaultPoolConfig()),
		positions: make(map[string]*types.Position),
		syms:      make(map[string]*sync.Mutex),
	}
	deps.Breaker.OnTransition(func(from, to breaker.Level, reason string) {
		e.record(audit.Entry{Kind: audit.KindBreaker, Payload: map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"reason": reason,
		}})
	})
	return e
}

// lockSymbol serializes evaluation per symbol so two overlapping ticks never
// evaluate or close the same positions concurrently.
func (e *Engine) lockSymbol(symbol string) func() {
	e.symMu.Lock()
	l, ok := e.syms[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.syms[symbol] = l
	}
	e.symMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run drives the loop until the context is cancelled. Each tick evaluates
// every configured symbol on the pool; every MonitorEveryN ticks the strategy
// monitor re-grades performance.
func (e *Engine) Run(ctx context.Context) error {
	e.pool.start()
	defer e.pool.stop()

	e.logger.Info("engine started",
		zap.Strings("symbols", e.config.Symbols),
		zap.Duration("cadence", e.config.Cadence),
	)

	ticker := time.NewTicker(e.config.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	e.cycles++
	cycles := e.cycles
	e.mu.Unlock()

	for _, symbol := range e.config.Symbols {
		sym := symbol
		e.pool.submit(func(taskCtx context.Context) error {
			_, err := e.EvaluateCycle(taskCtx, sym)
			if err != nil && !faults.Is(err, faults.DataUnavailable) {
				e.logger.Warn("cycle failed", zap.String("symbol", sym), zap.Error(err))
			}
			return err
		})
	}

	if e.config.MonitorEveryN > 0 && cycles%int64(e.config.MonitorEveryN) == 0 {
		e.pool.submit(func(context.Context) error {
			e.runMonitor()
			return nil
		})
	}
}

// EvaluateCycle runs the full pipeline for one symbol. It is safe to call
// concurrently for different symbols.
func (e *Engine) EvaluateCycle(ctx context.Context, symbol string) (*CycleResult, error) {
	if e.deps.Breaker.Status().Level == breaker.Shutdown {
		return nil, faults.New(faults.ExecutionFailure, "breaker_shutdown",
			"engine is shut down, manual restart required")
	}

	unlock := e.lockSymbol(symbol)
	defer unlock()

	result := &CycleResult{Symbol: symbol}

	window, err := e.deps.Source.Window(ctx, symbol, e.config.Timeframe, e.config.WindowBars)
	if err != nil {
		return nil, err
	}
	if err := market.ValidateSeries(window, e.config.MaxDataAge, time.Now().UTC()); err != nil {
		return nil, err
	}

	snap, err := e.deps.Indicators.Compute(symbol, window)
	if err != nil {
		if faults.Is(err, faults.IntegrityFault) {
			e.deps.Breaker.ReportFault(err)
		}
		return nil, err
	}

	classification := e.deps.Regime.Classify(snap)

	// Exits run before entries so capital frees up within the same cycle.
	price := decimal.NewFromFloat(snap.Price)
	result.Exited = e.evaluateExits(ctx, symbol, price, classification.Label, snap)

	sig := e.deps.Generator.Generate(snap)
	validation := e.deps.Validator.Validate(sig, snap)
	decision := e.deps.Orch.Decide(sig, validation)
	result.Decision = decision

	e.record(audit.Entry{Kind: audit.KindDecision, Symbol: symbol, Payload: decision})

	if decision.Action == types.ActionWait {
		result.Skipped = "wait"
		return result, nil
	}
	if !e.deps.Regime.ShouldTrade(classification) {
		result.Skipped = "regime_" + string(classification.Label)
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol, Payload: result.Skipped})
		return result, nil
	}

	entered, sizingDec, skipped := e.tryEnter(ctx, symbol, decision, classification, snap, price)
	result.Entered = entered
	result.Sizing = sizingDec
	result.Skipped = skipped
	return result, nil
}

// tryEnter runs sizing and every risk gate, then places the order.
func (e *Engine) tryEnter(ctx context.Context, symbol string, decision *types.FinalDecision, classification *regime.Classification, snap *indicators.Snapshot, price decimal.Decimal) (bool, *types.SizingDecision, string) {
	balance := e.deps.Broker.Balance()

	sized := e.deps.Sizer.Size(sizing.Request{
		Decision:         decision,
		Balance:          balance,
		RegimeMultiplier: classification.RiskMultiplier,
		Volatility:       snap.GKVolatility,
	})
	e.record(audit.Entry{Kind: audit.KindSizing, Symbol: symbol, Payload: sized.Decision})
	if sized.Notional.LessThanOrEqual(decimal.Zero) {
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol, Payload: "sized_to_zero"})
		return false, &sized.Decision, "sized_to_zero"
	}

	open := e.openPositions()
	verdict := e.deps.Portfolio.ValidateAndScale(symbol, sized.Notional, balance, open)
	if !verdict.Approved {
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol, Payload: verdict.Reason})
		return false, &sized.Decision, "portfolio_" + verdict.Reason
	}
	notional := verdict.Notional

	account := safety.Account{
		Balance:    balance,
		FreeMargin: e.deps.Broker.FreeMargin(),
		DailyPnL:   e.currentDailyPnL(),
	}
	check := e.deps.Safety.Validate(safety.Order{
		Symbol:   symbol,
		Notional: notional,
		Leverage: e.config.Leverage,
	}, account)
	e.record(audit.Entry{Kind: audit.KindSafety, Symbol: symbol, Payload: check})
	if !check.Allowed {
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol, Payload: "safety_" + check.Rule})
		return false, &sized.Decision, "safety_" + check.Rule
	}

	if !e.deps.Breaker.AllowEntry(decision.Confidence) {
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol,
			Payload: e.deps.Breaker.Status()})
		return false, &sized.Decision, "breaker_" + e.deps.Breaker.Status().LevelName
	}

	req := broker.OrderRequest{
		Symbol:     symbol,
		Side:       types.SideFor(decision.Action),
		Notional:   notional,
		Price:      price,
		StopLoss:   decision.Signal.StopLoss,
		TakeProfit: decision.Signal.TakeProfit,
		Regime:     string(classification.Label),
		Reason:     decision.Validation.Reasoning,
	}

	start := time.Now()
	fill, err := utils.Retry(e.config.Retry, func() (*broker.Fill, error) {
		return e.deps.Broker.PlaceOrder(ctx, req)
	})
	e.deps.Breaker.RecordLatency(time.Since(start))
	if err != nil {
		e.deps.Breaker.RecordOrderResult(false, 0)
		e.record(audit.Entry{Kind: audit.KindRejection, Symbol: symbol, Payload: err.Error()})
		return false, &sized.Decision, "order_failed"
	}
	e.deps.Breaker.RecordOrderResult(true, 0)
	e.deps.Breaker.RecordSlippage(fill.SlippagePct)

	pos := fill.Position
	e.mu.Lock()
	e.positions[pos.ID] = &pos
	e.mu.Unlock()

	e.record(audit.Entry{Kind: audit.KindEntry, Symbol: symbol, Payload: fill})
	e.deps.Notifier.Publish(notify.Event{
		Topic:   notify.TopicEntry,
		Symbol:  symbol,
		Message: string(decision.Action) + " " + notional.StringFixed(2),
		Payload: pos,
	})

	e.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.String("notional", notional.StringFixed(2)),
		zap.String("branch", decision.Branch),
	)
	return true, &sized.Decision, ""
}

// evaluateExits checks every open position in the symbol and closes those
// with a firing exit condition. Returns the exit reasons applied.
func (e *Engine) evaluateExits(ctx context.Context, symbol string, price decimal.Decimal, current regime.Label, snap *indicators.Snapshot) []string {
	if !e.deps.Breaker.AllowExit() {
		return nil
	}

	open := e.openPositions()
	breakdown := e.deps.Portfolio.ExposureBreakdown(open)
	now := time.Now().UTC()

	var reasons []string
	for _, pos := range open {
		if pos.Symbol != symbol {
			continue
		}
		// Evaluate under the engine lock: the exit manager mutates the
		// position's watermarks, which Status() copies concurrently.
		e.mu.Lock()
		live, ok := e.positions[pos.ID]
		if !ok {
			e.mu.Unlock()
			continue
		}
		d := e.deps.Exits.Evaluate(live, price, current, snap, breakdown.NetExposurePct, now)
		if d.MoveToBreakeven {
			live.StopLoss = live.EntryPrice
		}
		e.mu.Unlock()

		switch {
		case d.ShouldExit:
			if e.closePosition(ctx, live, price, 1.0, d.Reason) {
				reasons = append(reasons, d.Reason)
			}
		case d.PartialFraction > 0:
			if e.closePosition(ctx, live, price, d.PartialFraction, "partial_profit") {
				reasons = append(reasons, "partial_profit")
			}
		}
	}
	return reasons
}

// closePosition executes the close and updates every downstream consumer
// atomically with respect to the position map.
func (e *Engine) closePosition(ctx context.Context, pos *types.Position, price decimal.Decimal, fraction float64, reason string) bool {
	start := time.Now()
	trade, err := e.deps.Broker.ClosePosition(ctx, *pos, price, fraction, reason)
	e.deps.Breaker.RecordLatency(time.Since(start))
	if err != nil {
		e.deps.Breaker.ReportFault(err)
		e.logger.Error("close failed",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return false
	}

	lossPct := 0.0
	if trade.PnL.IsNegative() {
		notional := trade.Size.Mul(trade.EntryPrice)
		if notional.IsPositive() {
			lossPct = trade.PnL.Div(notional).Neg().InexactFloat64() * 100
		}
	}
	e.deps.Breaker.RecordOrderResult(true, lossPct)

	e.mu.Lock()
	if fraction >= 1.0 {
		delete(e.positions, pos.ID)
	} else {
		pos.Size = pos.Size.Sub(trade.Size)
		pos.Notional = pos.Notional.Mul(decimal.NewFromFloat(1 - fraction))
	}
	e.rollDailyLocked()
	e.dailyPnL = e.dailyPnL.Add(trade.PnL)
	e.mu.Unlock()

	if err := e.deps.Trades.Append(*trade); err != nil {
		e.logger.Error("trade log append failed", zap.Error(err))
	}
	e.deps.Expectancy.RecordTrade(*trade)

	e.record(audit.Entry{Kind: audit.KindExit, Symbol: pos.Symbol, Payload: trade})
	e.deps.Notifier.Publish(notify.Event{
		Topic:   notify.TopicExit,
		Symbol:  pos.Symbol,
		Message: reason,
		Payload: trade,
	})

	e.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.String("pnl", trade.PnL.StringFixed(2)),
		zap.Float64("fraction", fraction),
	)
	return true
}

// runMonitor re-grades recent performance and feeds the breaker.
func (e *Engine) runMonitor() {
	trades := e.deps.Trades.Recent(0)
	report := e.deps.Monitor.Evaluate(trades)

	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()

	e.deps.Breaker.ReportDegradation(report)
	e.record(audit.Entry{Kind: audit.KindDegraded, Payload: report})
	if report.IsDegraded {
		e.deps.Notifier.Publish(notify.Event{
			Topic:   notify.TopicDegraded,
			Message: string(report.Severity),
			Payload: report,
		})
	}
}

// Status is the engine's externally visible state.
type Status struct {
	Timestamp   time.Time                `json:"timestamp"`
	Cycles      int64                    `json:"cycles"`
	Breaker     breaker.Status           `json:"breaker"`
	Regime      *regime.Classification   `json:"regime"`
	Positions   []types.Position         `json:"positions"`
	Balance     decimal.Decimal          `json:"balance"`
	DailyPnL    decimal.Decimal          `json:"dailyPnl"`
	Expectancy  expectancy.Snapshot      `json:"expectancy"`
	Degradation *types.DegradationReport `json:"degradation,omitempty"`
	Exposure    portfolio.Breakdown      `json:"exposure"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	open := e.openPositions()

	e.mu.RLock()
	cycles := e.cycles
	report := e.lastReport
	daily := e.dailyPnL
	e.mu.RUnlock()

	return Status{
		Timestamp:   time.Now().UTC(),
		Cycles:      cycles,
		Breaker:     e.deps.Breaker.Status(),
		Regime:      e.deps.Regime.Current(),
		Positions:   open,
		Balance:     e.deps.Broker.Balance(),
		DailyPnL:    daily,
		Expectancy:  e.deps.Expectancy.Export(),
		Degradation: report,
		Exposure:    e.deps.Portfolio.ExposureBreakdown(open),
	}
}

// ForceRecovery steps the breaker down one level.
func (e *Engine) ForceRecovery() error {
	return e.deps.Breaker.ForceRecovery()
}

// ManualOverride pins the breaker at a level.
func (e *Engine) ManualOverride(level breaker.Level) error {
	return e.deps.Breaker.ManualOverride(level)
}

// ClearOverride releases a manual breaker override.
func (e *Engine) ClearOverride() {
	e.deps.Breaker.ClearOverride()
}

func (e *Engine) openPositions() []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) currentDailyPnL() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDailyLocked()
	return e.dailyPnL
}

// rollDailyLocked resets the realized daily PnL at UTC midnight.
func (e *Engine) rollDailyLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if e.dailyDate != today {
		e.dailyDate = today
		e.dailyPnL = decimal.Zero
	}
}

func (e *Engine) record(entry audit.Entry) {
	if err := e.deps.Audit.Record(entry); err != nil {
		e.logger.Error("audit record failed", zap.Error(err))
	}
}
