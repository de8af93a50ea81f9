// Package config loads the engine configuration from file and environment,
// with defaults matching each subsystem's production settings.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/breaker"
	"github.com/atlas-desktop/decision-engine/internal/broker"
	"github.com/atlas-desktop/decision-engine/internal/engine"
	"github.com/atlas-desktop/decision-engine/internal/exits"
	"github.com/atlas-desktop/decision-engine/internal/expectancy"
	"github.com/atlas-desktop/decision-engine/internal/indicators"
	"github.com/atlas-desktop/decision-engine/internal/monitor"
	"github.com/atlas-desktop/decision-engine/internal/portfolio"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/safety"
	"github.com/atlas-desktop/decision-engine/internal/signal"
	"github.com/atlas-desktop/decision-engine/internal/sizing"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full engine configuration tree.
type Config struct {
	Engine     *engine.Config
	Indicators *indicators.Config
	Regime     *regime.Config
	Generator  *signal.GeneratorConfig
	Validator  *signal.ValidatorConfig
	Orch       *signal.OrchestratorConfig
	Expectancy *expectancy.Config
	Sizing     *sizing.Config
	Portfolio  *portfolio.Config
	Safety     *safety.Config
	Breaker    *breaker.Config
	Exits      *exits.Config
	Monitor    *monitor.Config
	Paper      *broker.PaperConfig

	Server   types.ServerConfig
	DataDir  string
	AuditLog string
	LogLevel string
	Sectors  map[string]string
}

// Load reads engine.yaml (searched in path, ".", and "./configs") and
// environment variables prefixed ENGINE_. Missing keys fall back to each
// subsystem's defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("engine")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errorsAs(err, &notFound) {
			// No file is fine, defaults plus env carry the config.
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := build(v)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.symbols", []string{"BTC-USD", "ETH-USD", "SOL-USD"})
	v.SetDefault("engine.timeframe", "5m")
	v.SetDefault("engine.windowBars", 120)
	v.SetDefault("engine.cadence", "30s")
	v.SetDefault("engine.monitorEveryN", 5)
	v.SetDefault("engine.maxDataAge", "15m")
	v.SetDefault("engine.leverage", 1.0)

	v.SetDefault("signal.weights.momentum", 0.25)
	v.SetDefault("signal.weights.trend", 0.20)
	v.SetDefault("signal.weights.volatility", 0.15)
	v.SetDefault("signal.weights.volume", 0.10)
	v.SetDefault("signal.weights.meanReversion", 0.20)
	v.SetDefault("signal.weights.probability", 0.10)
	v.SetDefault("signal.actionThreshold", 0.2)

	v.SetDefault("validator.minConfidence", 0.4)
	v.SetDefault("validator.minIndicators", 3)
	v.SetDefault("validator.maxConflicting", 2)

	v.SetDefault("sizing.kellyScale", 0.25)
	v.SetDefault("sizing.explorationRisk", 0.005)
	v.SetDefault("sizing.maxNotionalPct", 0.10)

	v.SetDefault("safety.allowedSymbols", []string{"BTC-USD", "ETH-USD", "SOL-USD"})
	v.SetDefault("safety.maxLeverage", 20.0)
	v.SetDefault("safety.maxPositionPct", 0.10)
	v.SetDefault("safety.dailyLossPct", 0.05)

	v.SetDefault("paper.initialBalance", 10000.0)
	v.SetDefault("paper.slippagePct", 0.05)
	v.SetDefault("paper.failureRate", 0.0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.enableMetrics", true)

	v.SetDefault("dataDir", "./data")
	v.SetDefault("auditLog", "./data/audit.jsonl")
	v.SetDefault("logLevel", "info")
}

func build(v *viper.Viper) *Config {
	eng := engine.DefaultConfig()
	eng.Symbols = v.GetStringSlice("engine.symbols")
	eng.Timeframe = types.Timeframe(v.GetString("engine.timeframe"))
	eng.WindowBars = v.GetInt("engine.windowBars")
	eng.Cadence = getDuration(v, "engine.cadence", eng.Cadence)
	eng.MonitorEveryN = v.GetInt("engine.monitorEveryN")
	eng.MaxDataAge = getDuration(v, "engine.maxDataAge", eng.MaxDataAge)
	eng.Leverage = v.GetFloat64("engine.leverage")

	gen := signal.DefaultGeneratorConfig()
	gen.Weights = signal.CategoryWeights{
		Momentum:      v.GetFloat64("signal.weights.momentum"),
		Trend:         v.GetFloat64("signal.weights.trend"),
		Volatility:    v.GetFloat64("signal.weights.volatility"),
		Volume:        v.GetFloat64("signal.weights.volume"),
		MeanReversion: v.GetFloat64("signal.weights.meanReversion"),
		Probability:   v.GetFloat64("signal.weights.probability"),
	}
	gen.ActionThreshold = v.GetFloat64("signal.actionThreshold")

	val := signal.DefaultValidatorConfig()
	val.MinConfidence = v.GetFloat64("validator.minConfidence")
	val.MinIndicators = v.GetInt("validator.minIndicators")
	val.MaxConflicting = v.GetInt("validator.maxConflicting")

	siz := sizing.DefaultConfig()
	siz.KellyScale = v.GetFloat64("sizing.kellyScale")
	siz.ExplorationRisk = v.GetFloat64("sizing.explorationRisk")
	siz.MaxNotionalPct = v.GetFloat64("sizing.maxNotionalPct")

	saf := safety.DefaultConfig()
	saf.AllowedSymbols = v.GetStringSlice("safety.allowedSymbols")
	saf.MaxLeverage = v.GetFloat64("safety.maxLeverage")
	saf.MaxPositionPct = v.GetFloat64("safety.maxPositionPct")
	saf.DailyLossPct = v.GetFloat64("safety.dailyLossPct")

	paper := broker.DefaultPaperConfig()
	paper.InitialBalance = decimal.NewFromFloat(v.GetFloat64("paper.initialBalance"))
	paper.SlippagePct = v.GetFloat64("paper.slippagePct")
	paper.FailureRate = v.GetFloat64("paper.failureRate")

	return &Config{
		Engine:     eng,
		Indicators: indicators.DefaultConfig(),
		Regime:     regime.DefaultConfig(),
		Generator:  gen,
		Validator:  val,
		Orch:       signal.DefaultOrchestratorConfig(),
		Expectancy: expectancy.DefaultConfig(),
		Sizing:     siz,
		Portfolio:  portfolio.DefaultConfig(),
		Safety:     saf,
		Breaker:    breaker.DefaultConfig(),
		Exits:      exits.DefaultConfig(),
		Monitor:    monitor.DefaultConfig(),
		Paper:      paper,
		Server: types.ServerConfig{
			Host:          v.GetString("server.host"),
			Port:          v.GetInt("server.port"),
			WebSocketPath: v.GetString("server.websocketPath"),
			EnableMetrics: v.GetBool("server.enableMetrics"),
		},
		DataDir:  v.GetString("dataDir"),
		AuditLog: v.GetString("auditLog"),
		LogLevel: v.GetString("logLevel"),
		Sectors:  v.GetStringMapString("sectors"),
	}
}

// Validate rejects configurations that would silently misbehave.
func Validate(cfg *Config) error {
	if sum := cfg.Generator.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("signal category weights sum to %.4f, must sum to 1.0", sum)
	}
	if len(cfg.Engine.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if cfg.Engine.WindowBars < cfg.Indicators.MinBars {
		return fmt.Errorf("windowBars %d below indicator minimum %d",
			cfg.Engine.WindowBars, cfg.Indicators.MinBars)
	}
	if cfg.Sizing.KellyScale <= 0 || cfg.Sizing.KellyScale > 1 {
		return fmt.Errorf("sizing.kellyScale %.3f out of (0, 1]", cfg.Sizing.KellyScale)
	}
	if cfg.Engine.Cadence <= 0 {
		return fmt.Errorf("engine.cadence must be positive")
	}
	return nil
}

func getDuration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
