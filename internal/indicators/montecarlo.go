package indicators

import (
	"math"
	"math/rand"
	"sync"
)

// MonteCarloConfig configures the GBM price simulation.
type MonteCarloConfig struct {
	Simulations int
	Horizon     int     // forecast candles
	DriftWindow int     // returns used to estimate drift/vol
	TimeframeMin float64 // candle length in minutes
	Seed        int64   // 0 = non-deterministic
}

// DefaultMonteCarloConfig returns defaults tuned for short-horizon forecasting.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Simulations:  1000,
		Horizon:      20,
		DriftWindow:  50,
		TimeframeMin: 5,
	}
}

// MCResult is the simulation outcome used by the signal layer.
type MCResult struct {
	ProbabilityUp float64 `json:"probabilityUp"`
	ExpectedPrice float64 `json:"expectedPrice"`
	Drift         float64 `json:"drift"`
	Volatility    float64 `json:"volatility"`
}

// MonteCarlo runs geometric Brownian motion price simulations. Safe for
// concurrent use: each Simulate call draws its own child generator from the
// seed source, so simulations for different symbols never share a rand.Rand.
type MonteCarlo struct {
	config MonteCarloConfig

	mu      sync.Mutex
	seedSrc *rand.Rand
}

// NewMonteCarlo creates a simulator. A non-zero seed makes runs reproducible.
func NewMonteCarlo(config MonteCarloConfig) *MonteCarlo {
	if config.Simulations <= 0 {
		config = DefaultMonteCarloConfig()
	}
	var seedSrc *rand.Rand
	if config.Seed != 0 {
		seedSrc = rand.New(rand.NewSource(config.Seed))
	} else {
		seedSrc = rand.New(rand.NewSource(rand.Int63()))
	}
	return &MonteCarlo{config: config, seedSrc: seedSrc}
}

func (m *MonteCarlo) childRand() *rand.Rand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rand.New(rand.NewSource(m.seedSrc.Int63()))
}

// Simulate estimates the probability of the price finishing above the current
// close and the mean terminal price over the forecast horizon.
func (m *MonteCarlo) Simulate(closes []float64) MCResult {
	current := closes[len(closes)-1]
	if len(closes) < 3 || current <= 0 {
		return MCResult{ProbabilityUp: 0.5, ExpectedPrice: current}
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) == 0 {
		return MCResult{ProbabilityUp: 0.5, ExpectedPrice: current}
	}
	if len(returns) > m.config.DriftWindow {
		returns = returns[len(returns)-m.config.DriftWindow:]
	}

	drift := mean(returns)
	vol := stddev(returns)
	dt := m.config.TimeframeMin / 1440
	rng := m.childRand()

	up := 0
	sumFinal := 0.0
	for i := 0; i < m.config.Simulations; i++ {
		price := current
		for t := 0; t < m.config.Horizon; t++ {
			shock := rng.NormFloat64()
			price *= math.Exp((drift-0.5*vol*vol)*dt + vol*math.Sqrt(dt)*shock)
		}
		if price > current {
			up++
		}
		sumFinal += price
	}

	return MCResult{
		ProbabilityUp: float64(up) / float64(m.config.Simulations),
		ExpectedPrice: sumFinal / float64(m.config.Simulations),
		Drift:         drift,
		Volatility:    vol,
	}
}
