package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ringo380/inferno-sub006/internal/backend"
	"github.com/ringo380/inferno-sub006/internal/batcher"
	"github.com/ringo380/inferno-sub006/internal/config"
	"github.com/ringo380/inferno-sub006/internal/metrics"
	"github.com/ringo380/inferno-sub006/internal/server"
	"github.com/ringo380/inferno-sub006/internal/tokenizer"
)

func main() {
	benchmark := flag.Int("benchmark", 0, "submit N requests, report throughput and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *benchmark); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, benchmarkN int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tok, err := tokenizer.New(cfg.Batching.Tokenizer)
	if err != nil {
		return err
	}
	be := backend.NewSimulated(backend.SimulatedConfig{
		BaseLatency:     millis(cfg.Backend.BaseLatencyMs),
		PerTokenLatency: millis(cfg.Backend.PerTokenLatencyMs),
		LatencyVariance: cfg.Backend.LatencyVariance,
		MaxBatchTokens:  cfg.Backend.MaxBatchTokens,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []batcher.Option{batcher.WithLogger(logger), batcher.WithTokenizer(tok)}
	if cfg.Metrics.Enabled {
		opts = append(opts, batcher.WithRecorder(metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)))
	}

	b := batcher.NewAdaptiveBatcher(batcher.NewBatcherConfig(cfg.Batching), be, opts...)
	// The batcher outlives the signal context so formed batches can finish
	// during shutdown.
	if err := b.Start(context.Background()); err != nil {
		return err
	}

	srvCfg := server.ConfigFrom(cfg.Server)
	if benchmarkN > 0 {
		rps, benchErr := b.Benchmark(ctx, benchmarkN)
		stopCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()
		if err := errors.Join(benchErr, b.Stop(stopCtx)); err != nil {
			return err
		}
		logger.Info("benchmark finished",
			zap.Int("requests", benchmarkN),
			zap.Float64("requests_per_second", rps),
			zap.Any("metrics", b.Metrics()),
		)
		return nil
	}

	routerOpts := server.RouterOptions{
		Logger:         logger,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}
	if cfg.Metrics.Enabled {
		routerOpts.Gatherer = reg
		routerOpts.MetricsPath = cfg.Metrics.Path
	}
	mgr := server.NewManager(server.NewRouter(ctx, b, routerOpts), srvCfg, logger)
	if err := mgr.Start(); err != nil {
		_ = b.Stop(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-mgr.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()
		// Stop accepting HTTP traffic before draining the scheduler.
		return errors.Join(mgr.Shutdown(shutdownCtx), b.Stop(shutdownCtx))
	})
	return g.Wait()
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		log.Printf("failed to build logger, falling back to production defaults: %v", err)
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "inferno-batching"))
}
