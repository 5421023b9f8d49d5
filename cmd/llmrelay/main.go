package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmrelay/internal/bus"
	"llmrelay/internal/channel"
	"llmrelay/internal/config"
	"llmrelay/internal/dispatch"
	"llmrelay/internal/domain"
	"llmrelay/internal/metrics"
	"llmrelay/internal/provider"
	"llmrelay/internal/trigger"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmrelay",
		Short:         "Relay Telegram messages to a local Ollama model",
		Long:          "llmrelay answers Telegram messages that start with a trigger prefix (\"!llm\", \"ask llm\") using a locally hosted Ollama model.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a JSON or YAML config file (default: $"+config.EnvConfigPath+", else environment only)")

	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "llmrelay", version)
		},
	})
	return root
}

// resolveConfigPath returns the --config flag, then $LLMRELAY_CONFIG, else "".
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv(config.EnvConfigPath)
}

// newLogger builds the process logger from general.logLevel and general.logFormat.
func newLogger(general config.GeneralConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(general.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(general.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (Telegram polling + dispatcher)",
		Long:  "Connects to Telegram, then answers trigger messages until interrupted. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ollama := newOllama(cfg)
	if err := checkOllama(ctx, ollama, statusCheckTimeout); err != nil {
		logger.Warn("ollama unhealthy at startup", "url", cfg.Ollama.URL, "err", err)
	} else {
		logger.Info("ollama healthy", "url", cfg.Ollama.URL, "model", cfg.Ollama.Model)
	}

	matcher := trigger.New(cfg.Trigger.Prefixes)
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		ParseMode:   cfg.Telegram.ParseMode,
		Prefixes:    matcher.Prefixes(),
		Logger:      logger,
	})
	if err := telegram.Connect(); err != nil {
		return err
	}

	messageBus := bus.New(100, logger)
	dispatcher := dispatch.New(dispatch.Config{
		Matcher:       matcher,
		Inference:     ollama,
		Chat:          telegram,
		Logger:        logger,
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
		EmptyReply:    cfg.Ollama.NoResponse,
		MaxMessageLen: cfg.Telegram.MaxMessageLen,
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics)
	}

	dispatched := make(chan error, 1)
	go func() { dispatched <- dispatcher.Run(ctx, messageBus.Messages()) }()

	go func() {
		publish := func(m domain.IncomingMessage) { messageBus.Publish(m) }
		if err := telegram.Start(ctx, publish); err != nil {
			logger.Error("telegram channel error", "err", err)
			stop()
		}
	}()

	logger.Info("llmrelay started", "version", version, "prefixes", matcher.Prefixes())

	<-ctx.Done()
	timeout := cfg.ShutdownTimeout()
	logger.Info("shutting down, waiting for in-flight messages", "timeout", timeout)

	var shutdownErr error
	select {
	case <-dispatched:
		logger.Info("shutdown complete")
	case <-time.After(timeout):
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = errors.New("shutdown timed out")
	}
	messageBus.Close()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return shutdownErr
}

func newOllama(cfg *config.Config) *provider.Ollama {
	return provider.NewOllama(provider.OllamaConfig{
		Endpoint:     cfg.Ollama.URL,
		Model:        cfg.Ollama.Model,
		SystemPrompt: cfg.Ollama.SystemPrompt,
		NoResponse:   cfg.Ollama.NoResponse,
		Timeout:      cfg.Ollama.Timeout(),
		Logger:       logger,
	})
}

// checkOllama probes the backend with its own short deadline so a hung server
// cannot hold up startup for the full inference timeout.
func checkOllama(ctx context.Context, o *provider.Ollama, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Healthy(ctx)
}

func metricsMux(path string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func startMetricsServer(cfg config.MetricsConfig) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           metricsMux(cfg.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}
