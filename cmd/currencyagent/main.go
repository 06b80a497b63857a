// Command currencyagent serves the currency conversion agent over the
// agent-to-agent protocol.
//
// Usage:
//
//	currencyagent --config config.yaml
//	FXAGENT_LLM_API_KEY=... currencyagent --port 10000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/fxagent/fxagent/a2a"
	"github.com/fxagent/fxagent/agent"
	"github.com/fxagent/fxagent/config"
	"github.com/fxagent/fxagent/internal/metrics"
	"github.com/fxagent/fxagent/llm"
	"github.com/fxagent/fxagent/llm/tools"
	"github.com/fxagent/fxagent/providers"
	"github.com/fxagent/fxagent/providers/gemini"
	"github.com/fxagent/fxagent/providers/openai"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 0, "listen port (overrides config)")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if cfg.LLM.APIKey == "" {
		fmt.Fprintln(os.Stderr, "llm.api_key is not set (FXAGENT_LLM_API_KEY)")
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	provider := buildProvider(cfg.LLM, logger)

	store, err := buildCheckpointStore(cfg.Checkpoint, logger)
	if err != nil {
		logger.Fatal("checkpoint store setup failed", zap.Error(err))
	}

	currencyAgent, err := agent.NewCurrencyAgent(provider, store, logger,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithExchangeRateConfig(tools.ExchangeRateToolConfig{
			BaseURL: cfg.ExchangeRate.BaseURL,
			Timeout: cfg.ExchangeRate.Timeout,
		}))
	if err != nil {
		logger.Fatal("agent setup failed", zap.Error(err))
	}

	baseURL := fmt.Sprintf("http://%s:%d/", cfg.Server.Host, cfg.Server.Port)
	server, err := a2a.NewServer(currencyAgent, a2a.NewInMemoryTaskStore(), a2a.ServerConfig{
		Card:           buildCard(baseURL),
		AuthToken:      cfg.Agent.ExtendedCardToken,
		RequestTimeout: cfg.Agent.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("server setup failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("currencyagent", registry, logger)

	healthCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if status, err := provider.HealthCheck(healthCtx); err != nil {
		logger.Warn("provider health check failed", zap.Error(err))
	} else {
		logger.Info("provider healthy",
			zap.String("provider", provider.Name()),
			zap.Duration("latency", status.Latency))
	}
	cancel()

	if err := run(cfg, collector.InstrumentHandler(server), registry, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildCard(baseURL string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               "Currency Agent",
		Description:        "Helps with exchange rates for currencies",
		URL:                baseURL,
		Version:            "1.0.0",
		DefaultInputModes:  agent.SupportedContentTypes,
		DefaultOutputModes: agent.SupportedContentTypes,
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Skills: []a2a.AgentSkill{{
			ID:          "convert_currency",
			Name:        "Currency Exchange Rates Tool",
			Description: "Helps with exchange values between various currencies",
			Tags:        []string{"currency conversion", "currency exchange"},
			Examples:    []string{"What is exchange rate between USD and GBP?"},
		}},
	}
}

func buildProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(providers.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return gemini.New(providers.GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	}
}

func buildCheckpointStore(cfg config.CheckpointConfig, logger *zap.Logger) (agent.CheckpointStore, error) {
	switch cfg.Backend {
	case config.CheckpointRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return agent.NewRedisCheckpointStore(client, agent.RedisCheckpointOptions{
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Redis.TTL,
		}, logger), nil
	case config.CheckpointSQLite:
		return agent.NewSQLiteCheckpointStore(cfg.SQLite.Path, logger)
	default:
		return agent.NewMemoryCheckpointStore(), nil
	}
}

// run serves the agent and the metrics endpoint until a signal arrives,
// then shuts both down gracefully.
func run(cfg *config.Config, handler http.Handler, registry *prometheus.Registry, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("agent server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
