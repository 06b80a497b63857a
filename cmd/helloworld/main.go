// Command helloworld serves the hello-world agent over the
// agent-to-agent protocol.
//
// Usage:
//
//	helloworld --config config.yaml
//	helloworld --port 9999
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/fxagent/fxagent/a2a"
	"github.com/fxagent/fxagent/agent"
	"github.com/fxagent/fxagent/config"
	"github.com/fxagent/fxagent/internal/metrics"
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

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	baseURL := fmt.Sprintf("http://%s:%d/", cfg.Server.Host, cfg.Server.Port)
	card, extendedCard := buildCards(baseURL)

	authToken := cfg.Agent.ExtendedCardToken
	if authToken == "" {
		extendedCard = nil
		card.SupportsAuthenticatedExtendedCard = false
	}

	server, err := a2a.NewServer(agent.NewHelloWorldAgent(), a2a.NewInMemoryTaskStore(), a2a.ServerConfig{
		Card:           card,
		ExtendedCard:   extendedCard,
		AuthToken:      authToken,
		RequestTimeout: cfg.Agent.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("server setup failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("helloworld", registry, logger)

	if err := run(cfg, collector.InstrumentHandler(server), registry, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// buildCards returns the public card and its extended counterpart.
func buildCards(baseURL string) (*a2a.AgentCard, *a2a.AgentCard) {
	skill := a2a.AgentSkill{
		ID:          "hello_world",
		Name:        "Returns hello world",
		Description: "just returns hello world",
		Tags:        []string{"hello world"},
		Examples:    []string{"hi", "hello world"},
	}

	card := &a2a.AgentCard{
		Name:                              "Hello World Agent",
		Description:                       "Just a hello world agent",
		URL:                               baseURL,
		Version:                           "1.0.0",
		DefaultInputModes:                 agent.SupportedContentTypes,
		DefaultOutputModes:                agent.SupportedContentTypes,
		Capabilities:                      a2a.AgentCapabilities{Streaming: true},
		Skills:                            []a2a.AgentSkill{skill},
		SupportsAuthenticatedExtendedCard: true,
	}

	extended := *card
	extended.Name = "Hello World Agent - Extended Edition"
	extended.Description = "The full-featured hello world agent for authenticated users."
	extended.Version = "1.0.1"
	extended.Skills = []a2a.AgentSkill{skill, {
		ID:          "super_hello_world",
		Name:        "Returns a SUPER Hello World",
		Description: "A more enthusiastic greeting, only for authenticated users.",
		Tags:        []string{"hello world", "super", "extended"},
		Examples:    []string{"super hi", "give me a super hello"},
	}}

	return card, &extended
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
