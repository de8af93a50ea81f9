// Package monitor watches realized trade performance for strategy
// degradation: collapsing win rate, negative risk-adjusted returns, loss
// streaks, and deep drawdowns.
package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Config holds the degradation thresholds.
type Config struct {
	MinSampleSize int
	Lookback      int // trades examined per evaluation

	CriticalWinRate float64
	MinorWinRate    float64

	CriticalSharpe float64
	MinorSharpe    float64

	CriticalStreak int
	HighStreak     int

	CriticalExpectancy float64 // negative, per-trade

	CriticalDrawdownPct float64 // negative
	HighDrawdownPct     float64 // negative
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() *Config {
	return &Config{
		MinSampleSize:       20,
		Lookback:            100,
		CriticalWinRate:     0.35,
		MinorWinRate:        0.45,
		CriticalSharpe:      0.0,
		MinorSharpe:         0.5,
		CriticalStreak:      10,
		HighStreak:          7,
		CriticalExpectancy:  -10.0,
		CriticalDrawdownPct: -15.0,
		HighDrawdownPct:     -8.0,
	}
}

// Monitor evaluates recent closed trades for degradation.
type Monitor struct {
	logger *zap.Logger
	config *Config
}

// NewMonitor creates a strategy monitor.
func NewMonitor(logger *zap.Logger, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Monitor{logger: logger.Named("monitor"), config: config}
}

// Evaluate inspects the most recent trades and grades any degradation.
// Below the minimum sample it reports healthy with no issues.
func (m *Monitor) Evaluate(trades []types.ClosedTrade) *types.DegradationReport {
	cfg := m.config

	report := &types.DegradationReport{
		Timestamp: time.Now().UTC(),
		Severity:  types.SeverityNone,
		Metrics:   make(map[string]float64),
	}

	if len(trades) > cfg.Lookback {
		trades = trades[len(trades)-cfg.Lookback:]
	}
	report.Metrics["sample_size"] = float64(len(trades))
	if len(trades) < cfg.MinSampleSize {
		report.Recommendation = "insufficient sample, continue trading"
		return report
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnLFloat()
	}

	winRate := winRate(pnls)
	sharpe := annualizedSharpe(pnls)
	streak := currentLossStreak(pnls)
	expectancy := meanOf(pnls)
	drawdown := maxDrawdownPct(pnls)

	report.Metrics["win_rate"] = winRate
	report.Metrics["sharpe"] = sharpe
	report.Metrics["loss_streak"] = float64(streak)
	report.Metrics["expectancy"] = expectancy
	report.Metrics["max_drawdown_pct"] = drawdown

	criticals := 0
	addIssue := func(critical bool, format string, args ...any) {
		report.Issues = append(report.Issues, fmt.Sprintf(format, args...))
		if critical {
			criticals++
		}
	}

	if winRate < cfg.CriticalWinRate {
		addIssue(true, "win rate %.1f%% below critical floor %.1f%%", winRate*100, cfg.CriticalWinRate*100)
	} else if winRate < cfg.MinorWinRate {
		addIssue(false, "win rate %.1f%% below %.1f%%", winRate*100, cfg.MinorWinRate*100)
	}

	if sharpe < cfg.CriticalSharpe {
		addIssue(true, "sharpe %.2f is negative", sharpe)
	} else if sharpe < cfg.MinorSharpe {
		addIssue(false, "sharpe %.2f below %.2f", sharpe, cfg.MinorSharpe)
	}

	if streak >= cfg.CriticalStreak {
		addIssue(true, "loss streak of %d trades", streak)
	} else if streak >= cfg.HighStreak {
		addIssue(false, "loss streak of %d trades", streak)
	}

	if expectancy < cfg.CriticalExpectancy {
		addIssue(true, "expectancy %.2f below critical floor %.2f", expectancy, cfg.CriticalExpectancy)
	} else if expectancy < 0 {
		addIssue(false, "expectancy %.4f per trade is negative", expectancy)
	}

	if drawdown <= cfg.CriticalDrawdownPct {
		addIssue(true, "drawdown %.1f%% beyond critical limit %.1f%%", drawdown, cfg.CriticalDrawdownPct)
	} else if drawdown <= cfg.HighDrawdownPct {
		addIssue(false, "drawdown %.1f%% beyond %.1f%%", drawdown, cfg.HighDrawdownPct)
	}

	report.Severity = gradeSeverity(criticals, len(report.Issues))
	report.IsDegraded = report.Severity != types.SeverityNone
	report.Recommendation = recommendationFor(report.Severity)

	if report.IsDegraded {
		m.logger.Warn("strategy degradation detected",
			zap.String("severity", string(report.Severity)),
			zap.Strings("issues", report.Issues),
		)
	}

	return report
}

// gradeSeverity escalates on critical count first, then issue volume.
func gradeSeverity(criticals, issues int) types.Severity {
	switch {
	case criticals >= 2:
		return types.SeverityCritical
	case criticals == 1:
		return types.SeveritySevere
	case issues >= 3:
		return types.SeverityModerate
	case issues > 0:
		return types.SeverityMinor
	default:
		return types.SeverityNone
	}
}

func recommendationFor(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical:
		return "halt trading and review strategy parameters"
	case types.SeveritySevere:
		return "reduce position sizes and monitor closely"
	case types.SeverityModerate:
		return "tighten risk limits"
	case types.SeverityMinor:
		return "monitor, no action required"
	default:
		return "healthy"
	}
}

func winRate(pnls []float64) float64 {
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// annualizedSharpe treats each trade as one period and annualizes over a
// 252-session year.
func annualizedSharpe(pnls []float64) float64 {
	m := meanOf(pnls)
	sd := stddevOf(pnls, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(252)
}

func currentLossStreak(pnls []float64) int {
	streak := 0
	for i := len(pnls) - 1; i >= 0; i-- {
		if pnls[i] >= 0 {
			break
		}
		streak++
	}
	return streak
}

// maxDrawdownPct computes the worst peak-to-trough move of the cumulative
// PnL curve, as a percentage of the running peak equity. Equity starts at
// 100 so percentage math stays stable around zero.
func maxDrawdownPct(pnls []float64) float64 {
	equity := 100.0
	peak := equity
	worst := 0.0
	for _, p := range pnls {
		equity += p
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (equity - peak) / peak * 100
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
