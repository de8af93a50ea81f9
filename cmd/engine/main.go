// Package main is the entry point for the autonomous decision engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/api"
	"github.com/atlas-desktop/decision-engine/internal/audit"
	"github.com/atlas-desktop/decision-engine/internal/breaker"
	"github.com/atlas-desktop/decision-engine/internal/broker"
	"github.com/atlas-desktop/decision-engine/internal/config"
	"github.com/atlas-desktop/decision-engine/internal/engine"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to engine.yaml (defaults to ./engine.yaml)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting decision engine",
		zap.Strings("symbols", cfg.Engine.Symbols),
		zap.String("timeframe", string(cfg.Engine.Timeframe)),
		zap.Duration("cadence", cfg.Engine.Cadence),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := market.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize market store", zap.Error(err))
	}

	auditSink, err := audit.NewFileSink(logger, cfg.AuditLog)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.Error(err))
	}
	defer auditSink.Close()

	notifier := notify.NewNotifier(logger, 128)
	defer notifier.Close()

	paperBroker := broker.NewPaperBroker(logger, cfg.Paper)
	tradeStore := broker.NewMemoryTradeStore()
	expEngine := expectancy.NewEngine(logger, cfg.Expectancy)

	eng := engine.New(logger, cfg.Engine, engine.Deps{
		Source:     store,
		Indicators: indicators.NewEngine(logger, cfg.Indicators),
		Regime:     regime.NewDetector(logger, cfg.Regime),
		Generator:  signal.NewGenerator(logger, cfg.Generator),
		Validator:  signal.NewValidator(logger, cfg.Validator),
		Orch:       signal.NewOrchestrator(logger, cfg.Orch),
		Expectancy: expEngine,
		Sizer:      sizing.NewSizer(logger, cfg.Sizing, expEngine),
		Portfolio:  portfolio.NewManager(logger, cfg.Portfolio, cfg.Sectors),
		Safety:     safety.NewChecker(logger, cfg.Safety),
		Breaker:    breaker.NewBreaker(logger, cfg.Breaker, registry),
		Exits:      exits.NewManager(logger, cfg.Exits),
		Monitor:    monitor.NewMonitor(logger, cfg.Monitor),
		Broker:     paperBroker,
		Trades:     tradeStore,
		Audit:      auditSink,
		Notifier:   notifier,
	})

	server := api.NewServer(logger, &cfg.Server, eng, notifier, registry)

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine error", zap.Error(err))
		}
	}()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("engine running",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("engine stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
