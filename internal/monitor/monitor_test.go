package monitor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func trades(pnls ...float64) []types.ClosedTrade {
	out := make([]types.ClosedTrade, len(pnls))
	for i, p := range pnls {
		out[i] = types.ClosedTrade{
			ID:     fmt.Sprintf("t-%d", i),
			Symbol: "BTC-USD",
			PnL:    decimal.NewFromFloat(p),
		}
	}
	return out
}

// blocks repeats a pnl pattern until n trades exist.
func blocks(n int, pattern ...float64) []float64 {
	out := make([]float64, 0, n)
	for len(out) < n {
		out = append(out, pattern[len(out)%len(pattern)])
	}
	return out
}

func TestInsufficientSampleIsHealthy(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	report := m.Evaluate(trades(blocks(10, -1)...))

	if report.IsDegraded {
		t.Fatalf("report = %+v, 10 trades is below the 20 minimum", report)
	}
	if report.Severity != types.SeverityNone {
		t.Errorf("severity = %s, want none", report.Severity)
	}
}

func TestHealthyStrategy(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// Two wins then a loss keeps every metric comfortably green.
	report := m.Evaluate(trades(blocks(30, 2, 2, -1)...))

	if report.IsDegraded {
		t.Fatalf("report degraded with issues %v", report.Issues)
	}
	if report.Metrics["win_rate"] < 0.6 {
		t.Errorf("win rate = %.2f, want above 0.6", report.Metrics["win_rate"])
	}
}

func TestTotalCollapseIsCritical(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	report := m.Evaluate(trades(blocks(30, -1)...))

	if report.Severity != types.SeverityCritical {
		t.Fatalf("severity = %s, want critical; issues %v", report.Severity, report.Issues)
	}
	if !report.IsDegraded {
		t.Error("report must flag degradation")
	}
	if report.Recommendation != "halt trading and review strategy parameters" {
		t.Errorf("recommendation = %q", report.Recommendation)
	}
}

func TestSingleCriticalIsSevere(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// Twenty healthy wins, then a ten-trade losing streak: the streak is the
	// only critical finding.
	pnls := append(blocks(20, 2), blocks(10, -1)...)
	report := m.Evaluate(trades(pnls...))

	if report.Severity != types.SeveritySevere {
		t.Fatalf("severity = %s, want severe; issues %v", report.Severity, report.Issues)
	}
	if report.Metrics["loss_streak"] != 10 {
		t.Errorf("loss streak = %.0f, want 10", report.Metrics["loss_streak"])
	}
}

func TestThreeMinorIssuesAreModerate(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// 40% win rate at zero expectancy with a closing 7-loss streak: win rate,
	// sharpe, and streak all flag minor, none critical.
	pnls := []float64{
		1.5, -1, 1.5, -1, 1.5, -1, 1.5, -1, 1.5, -1,
		1.5, 1.5, 1.5,
		-1, -1, -1, -1, -1, -1, -1,
	}
	report := m.Evaluate(trades(pnls...))

	if report.Severity != types.SeverityModerate {
		t.Fatalf("severity = %s, want moderate; issues %v", report.Severity, report.Issues)
	}
	if len(report.Issues) < 3 {
		t.Errorf("issues = %v, want at least 3", report.Issues)
	}
}

func TestDeepNegativeExpectancyIsCritical(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// Half the trades win, but the losses are ruinous: expectancy -11 per
	// trade sits below the -10 critical floor.
	report := m.Evaluate(trades(blocks(20, 2, -24)...))

	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, "expectancy") && strings.Contains(issue, "critical floor") {
			found = true
		}
	}
	if !found {
		t.Fatalf("issues = %v, want expectancy graded critical", report.Issues)
	}
	if report.Severity != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", report.Severity)
	}
}

func TestLookbackIgnoresAncientHistory(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// A disastrous early run followed by 100 healthy trades: only the recent
	// window counts.
	pnls := append(blocks(150, -5), blocks(100, 2, 2, -1)...)
	report := m.Evaluate(trades(pnls...))

	if report.Metrics["sample_size"] != 100 {
		t.Fatalf("sample = %.0f, want the 100-trade lookback", report.Metrics["sample_size"])
	}
	if report.IsDegraded {
		t.Errorf("report degraded with issues %v, old trades must not count", report.Issues)
	}
}

func TestDrawdownMetricReported(t *testing.T) {
	m := NewMonitor(zap.NewNop(), nil)
	// Ten wins then a deep slide: peak 120, trough 100, an 18% drawdown.
	pnls := append(blocks(10, 2), blocks(22, -1)...)
	report := m.Evaluate(trades(pnls...))

	if report.Metrics["max_drawdown_pct"] > -15 {
		t.Fatalf("drawdown = %.1f%%, want beyond -15%%", report.Metrics["max_drawdown_pct"])
	}
	if report.Severity != types.SeverityCritical {
		t.Errorf("severity = %s, drawdown plus streak should grade critical", report.Severity)
	}
}
