// Package breaker implements the graduated circuit breaker guarding order
// flow. Execution health feeds a five-level state machine; levels only
// escalate on evidence and only recover one step at a time after a cooldown.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/faults"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Level is a breaker state. Ordering matters: higher is more restrictive.
type Level int

const (
	Closed Level = iota
	Alert
	Throttle
	Halt
	Shutdown
)

func (l Level) String() string {
	switch l {
	case Closed:
		return "CLOSED"
	case Alert:
		return "ALERT"
	case Throttle:
		return "THROTTLE"
	case Halt:
		return "HALT"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Thresholds define when one level engages.
type Thresholds struct {
	AvgLatency       time.Duration // mean over the recent latency samples
	SlippagePct      float64       // mean absolute slippage in the window
	ConsecutiveFails int
	FailRate         float64 // order failure rate in the window, 0 disables
	LossSpikePct     float64 // realized loss in the window, 0 disables
}

// Config holds per-level thresholds and recovery behavior.
type Config struct {
	AlertThresholds    Thresholds
	ThrottleThresholds Thresholds
	HaltThresholds     Thresholds
	ShutdownFails      int // consecutive failures forcing SHUTDOWN

	Window         time.Duration // rolling evidence window
	LatencySamples int           // latency readings averaged

	AlertCooldown    time.Duration
	ThrottleCooldown time.Duration
	HaltCooldown     time.Duration

	ThrottleMinConfidence float64 // entries below this are refused at THROTTLE
}

// DefaultConfig returns the production breaker settings.
func DefaultConfig() *Config {
	return &Config{
		AlertThresholds: Thresholds{
			AvgLatency:       500 * time.Millisecond,
			SlippagePct:      0.1,
			ConsecutiveFails: 2,
		},
		ThrottleThresholds: Thresholds{
			AvgLatency:       1000 * time.Millisecond,
			SlippagePct:      0.3,
			ConsecutiveFails: 3,
			FailRate:         0.30,
		},
		HaltThresholds: Thresholds{
			AvgLatency:       3000 * time.Millisecond,
			SlippagePct:      0.5,
			ConsecutiveFails: 5,
			LossSpikePct:     5.0,
		},
		ShutdownFails:         10,
		Window:                5 * time.Minute,
		LatencySamples:        10,
		AlertCooldown:         time.Minute,
		ThrottleCooldown:      5 * time.Minute,
		HaltCooldown:          15 * time.Minute,
		ThrottleMinConfidence: 0.7,
	}
}

type orderSample struct {
	at      time.Time
	failed  bool
	lossPct float64
}

type slippageSample struct {
	at  time.Time
	pct float64
}

// Status is the externally visible breaker state.
type Status struct {
	Level            Level     `json:"-"`
	LevelName        string    `json:"level"`
	Since            time.Time `json:"since"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	AvgLatencyMs     float64   `json:"avgLatencyMs"`
	AvgSlippagePct   float64   `json:"avgSlippagePct"`
	FailRate         float64   `json:"failRate"`
	Overridden       bool      `json:"overridden"`
	TripCount        int       `json:"tripCount"`
}

// Breaker is the graduated circuit breaker.
type Breaker struct {
	logger *zap.Logger
	config *Config

	mu               sync.Mutex
	level            Level
	since            time.Time
	consecutiveFails int
	latencies        []time.Duration
	orders           []orderSample
	slippages        []slippageSample
	overridden       bool
	overrideLevel    Level
	monitorCritical  bool
	tripCount        int
	onTransition     func(from, to Level, reason string)

	levelGauge  prometheus.Gauge
	trips       *prometheus.CounterVec
	recoveries  prometheus.Counter
	rejections  *prometheus.CounterVec
}

// NewBreaker creates a circuit breaker registered against the given
// prometheus registerer. Pass prometheus.NewRegistry() in tests.
func NewBreaker(logger *zap.Logger, config *Config, reg prometheus.Registerer) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Breaker{
		logger: logger.Named("breaker"),
		config: config,
		level:  Closed,
		since:  time.Now().UTC(),
		levelGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "breaker_level",
			Help: "Current circuit breaker level (0=CLOSED..4=SHUTDOWN)",
		}),
		trips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_trips_total",
			Help: "Breaker escalations by target level",
		}, []string{"level"}),
		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "breaker_recoveries_total",
			Help: "Breaker step-down recoveries",
		}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_rejections_total",
			Help: "Entry attempts refused by the breaker",
		}, []string{"level"}),
	}
}

// OnTransition registers a callback fired after every level change. The
// callback runs with the breaker lock held and must not call back into the
// breaker.
func (b *Breaker) OnTransition(fn func(from, to Level, reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// RecordLatency feeds one order round-trip latency.
func (b *Breaker) RecordLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latencies = append(b.latencies, d)
	if len(b.latencies) > b.config.LatencySamples {
		b.latencies = b.latencies[len(b.latencies)-b.config.LatencySamples:]
	}
	b.evaluateLocked()
}

// RecordSlippage feeds one fill's absolute slippage percentage.
func (b *Breaker) RecordSlippage(pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pct < 0 {
		pct = -pct
	}
	b.slippages = append(b.slippages, slippageSample{at: time.Now().UTC(), pct: pct})
	b.evaluateLocked()
}

// RecordOrderResult feeds one order outcome. lossPct is the realized loss of
// the associated trade as a positive percentage, zero if none.
func (b *Breaker) RecordOrderResult(success bool, lossPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.consecutiveFails = 0
	} else {
		b.consecutiveFails++
	}
	b.orders = append(b.orders, orderSample{at: time.Now().UTC(), failed: !success, lossPct: lossPct})
	b.evaluateLocked()
}

// ReportFault escalates directly on integrity faults; other fault kinds count
// as order failures.
func (b *Breaker) ReportFault(err error) {
	var f *faults.Fault
	if errors.As(err, &f) && f.Kind == faults.IntegrityFault {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.escalateLocked(Shutdown, "integrity_fault")
		return
	}
	b.RecordOrderResult(false, 0)
}

// ReportDegradation feeds the strategy monitor's verdict. A critical report
// forces HALT.
func (b *Breaker) ReportDegradation(report *types.DegradationReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.monitorCritical = report.IsDegraded && report.Severity == types.SeverityCritical
	if b.monitorCritical && b.level < Halt {
		b.escalateLocked(Halt, "strategy_degradation_critical")
	}
}

// AllowEntry reports whether a new entry with the given confidence may pass.
// CLOSED and ALERT admit everything, THROTTLE admits only high-confidence
// entries, HALT and SHUTDOWN admit none.
func (b *Breaker) AllowEntry(confidence float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRecoverLocked()

	switch b.level {
	case Closed, Alert:
		return true
	case Throttle:
		if confidence >= b.config.ThrottleMinConfidence {
			return true
		}
		b.rejections.WithLabelValues(b.level.String()).Inc()
		return false
	default:
		b.rejections.WithLabelValues(b.level.String()).Inc()
		return false
	}
}

// AllowExit reports whether position exits may pass. Only SHUTDOWN blocks
// exits; HALT is exit-only by design intent but exits remain allowed.
func (b *Breaker) AllowExit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRecoverLocked()
	return b.level != Shutdown
}

// Status returns a snapshot of the breaker state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(time.Now().UTC())
	return Status{
		Level:            b.level,
		LevelName:        b.level.String(),
		Since:            b.since,
		ConsecutiveFails: b.consecutiveFails,
		AvgLatencyMs:     float64(b.avgLatencyLocked()) / float64(time.Millisecond),
		AvgSlippagePct:   b.avgSlippageLocked(),
		FailRate:         b.failRateLocked(),
		Overridden:       b.overridden,
		TripCount:        b.tripCount,
	}
}

// ManualOverride pins the breaker at a level until ClearOverride. Overriding
// below SHUTDOWN from SHUTDOWN is refused.
func (b *Breaker) ManualOverride(level Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.level == Shutdown && level < Shutdown {
		return faults.New(faults.ExecutionFailure, "override_refused",
			"cannot override out of SHUTDOWN, restart required")
	}
	b.overridden = true
	b.overrideLevel = level
	b.setLevelLocked(level, "manual_override")
	return nil
}

// ClearOverride releases a manual override; automatic evaluation resumes.
func (b *Breaker) ClearOverride() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.overridden = false
	b.evaluateLocked()
}

// ForceRecovery steps the breaker down one level immediately, skipping the
// cooldown. Recovery from SHUTDOWN is refused.
func (b *Breaker) ForceRecovery() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.level == Shutdown {
		return faults.New(faults.ExecutionFailure, "recovery_refused",
			"SHUTDOWN requires process restart")
	}
	if b.level == Closed {
		return nil
	}
	b.resetEvidenceLocked()
	b.setLevelLocked(b.level-1, "force_recovery")
	b.recoveries.Inc()
	return nil
}

// evaluateLocked re-derives the level from current evidence. Levels never
// skip downward here; recovery is handled separately with cooldowns.
func (b *Breaker) evaluateLocked() {
	if b.overridden {
		return
	}
	now := time.Now().UTC()
	b.pruneLocked(now)

	if b.consecutiveFails >= b.config.ShutdownFails {
		b.escalateLocked(Shutdown, "consecutive_failures")
		return
	}

	target := Closed
	switch {
	case b.breachedLocked(b.config.HaltThresholds) || b.monitorCritical:
		target = Halt
	case b.breachedLocked(b.config.ThrottleThresholds):
		target = Throttle
	case b.breachedLocked(b.config.AlertThresholds):
		target = Alert
	}

	if target > b.level {
		b.escalateLocked(target, "threshold_breach")
	}
}

// breachedLocked reports whether any of the threshold's armed conditions is met.
func (b *Breaker) breachedLocked(t Thresholds) bool {
	if t.AvgLatency > 0 && len(b.latencies) == b.config.LatencySamples &&
		b.avgLatencyLocked() >= t.AvgLatency {
		return true
	}
	if t.SlippagePct > 0 && len(b.slippages) > 0 && b.avgSlippageLocked() >= t.SlippagePct {
		return true
	}
	if t.ConsecutiveFails > 0 && b.consecutiveFails >= t.ConsecutiveFails {
		return true
	}
	if t.FailRate > 0 && len(b.orders) >= 5 && b.failRateLocked() >= t.FailRate {
		return true
	}
	if t.LossSpikePct > 0 && b.windowLossLocked() >= t.LossSpikePct {
		return true
	}
	return false
}

// maybeRecoverLocked steps down one level if the cooldown for the current
// level has elapsed and the evidence no longer supports it.
func (b *Breaker) maybeRecoverLocked() {
	if b.overridden || b.level == Closed || b.level == Shutdown {
		return
	}

	var cooldown time.Duration
	var stillBreached bool
	switch b.level {
	case Alert:
		cooldown = b.config.AlertCooldown
		stillBreached = b.breachedLocked(b.config.AlertThresholds)
	case Throttle:
		cooldown = b.config.ThrottleCooldown
		stillBreached = b.breachedLocked(b.config.ThrottleThresholds)
	case Halt:
		cooldown = b.config.HaltCooldown
		stillBreached = b.breachedLocked(b.config.HaltThresholds) || b.monitorCritical
	}

	if time.Since(b.since) < cooldown || stillBreached {
		return
	}

	b.resetEvidenceLocked()
	b.setLevelLocked(b.level-1, "cooldown_recovery")
	b.recoveries.Inc()
}

func (b *Breaker) escalateLocked(target Level, reason string) {
	if target <= b.level {
		return
	}
	b.tripCount++
	b.trips.WithLabelValues(target.String()).Inc()
	b.setLevelLocked(target, reason)
}

func (b *Breaker) setLevelLocked(level Level, reason string) {
	prev := b.level
	b.level = level
	b.since = time.Now().UTC()
	b.levelGauge.Set(float64(level))
	b.logger.Warn("breaker level changed",
		zap.String("from", prev.String()),
		zap.String("to", level.String()),
		zap.String("reason", reason),
	)
	if b.onTransition != nil && level != prev {
		b.onTransition(prev, level, reason)
	}
}

// resetEvidenceLocked clears rolling evidence after a recovery so a stale
// breach cannot immediately re-trip the level just left.
func (b *Breaker) resetEvidenceLocked() {
	b.latencies = b.latencies[:0]
	b.slippages = b.slippages[:0]
	b.orders = b.orders[:0]
	b.consecutiveFails = 0
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	i := 0
	for i < len(b.orders) && b.orders[i].at.Before(cutoff) {
		i++
	}
	b.orders = b.orders[i:]
	j := 0
	for j < len(b.slippages) && b.slippages[j].at.Before(cutoff) {
		j++
	}
	b.slippages = b.slippages[j:]
}

func (b *Breaker) avgLatencyLocked() time.Duration {
	if len(b.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range b.latencies {
		sum += d
	}
	return sum / time.Duration(len(b.latencies))
}

func (b *Breaker) avgSlippageLocked() float64 {
	if len(b.slippages) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range b.slippages {
		sum += s.pct
	}
	return sum / float64(len(b.slippages))
}

func (b *Breaker) failRateLocked() float64 {
	if len(b.orders) == 0 {
		return 0
	}
	failed := 0
	for _, o := range b.orders {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(b.orders))
}

func (b *Breaker) windowLossLocked() float64 {
	sum := 0.0
	for _, o := range b.orders {
		sum += o.lossPct
	}
	return sum
}
