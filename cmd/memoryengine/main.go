package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatmemory/engine/internal/config"
	"github.com/chatmemory/engine/internal/extraction"
	"github.com/chatmemory/engine/internal/handler"
	_ "github.com/chatmemory/engine/internal/handler/simplehandler"
	"github.com/chatmemory/engine/internal/llm"
	"github.com/chatmemory/engine/internal/scheduler"
	"github.com/chatmemory/engine/internal/store/postgres"
	"github.com/chatmemory/engine/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "memoryengine",
	Short: "Conversational memory extraction and recall engine: debounced scheduler, fact extraction pipeline, and vector memory store.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: run,
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("embedding-dims", 1536)
	viper.SetDefault("metrics-addr", ":9090")

	rootCmd.PersistentFlags().String("mode", "dev", `mode, can be "prod", "dev", or "test"`)
	rootCmd.PersistentFlags().String("dsn", "", "postgres connection string")
	rootCmd.PersistentFlags().String("llm-provider", "openai", "LLM provider (openai, deepseek, siliconflow, ollama, zai, dashscope)")
	rootCmd.PersistentFlags().String("llm-model", "", "completion model name")
	rootCmd.PersistentFlags().String("llm-embedding-model", "", "embedding model name")
	rootCmd.PersistentFlags().String("llm-base-url", "", "override the provider's default base URL")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM provider API key")
	rootCmd.PersistentFlags().Int("embedding-dims", 1536, "embedding vector dimension")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "address to serve Prometheus metrics on")

	for _, name := range []string{"mode", "dsn", "llm-provider", "llm-model", "llm-embedding-model", "llm-base-url", "llm-api-key", "embedding-dims", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("memoryengine")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func loadConfig() config.Config {
	return config.Config{
		Mode:        viper.GetString("mode"),
		DatabaseDSN: viper.GetString("dsn"),
		LLM: config.LLMConfig{
			Provider:       viper.GetString("llm-provider"),
			Model:          viper.GetString("llm-model"),
			EmbeddingModel: viper.GetString("llm-embedding-model"),
			BaseURL:        viper.GetString("llm-base-url"),
			APIKey:         viper.GetString("llm-api-key"),
			EmbeddingDims:  viper.GetInt("embedding-dims"),
		},
		EmbeddingDimension: viper.GetInt("embedding-dims"),
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	gateway, err := llm.NewOpenAIGateway(llm.Config{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		EmbeddingDims:  cfg.LLM.EmbeddingDims,
	})
	if err != nil {
		return fmt.Errorf("build LLM gateway: %w", err)
	}

	metrics := telemetry.New(telemetry.Config{})

	pipeline := &extraction.Pipeline{
		Store:    db,
		Handlers: handler.DefaultRegistry,
		LLM:      gateway,
		Metrics:  metrics,
	}

	profile := cfg.ResolveProfile()
	sched := scheduler.New(scheduler.Config{
		Debounce:     profile.Debounce,
		MaxWait:      profile.MaxWait,
		Workers:      profile.Workers,
		MaxAttempts:  profile.MaxAttempts,
		RetryBase:    profile.RetryBase,
		RateLimit:    profile.RateLimit,
		RateWindow:   profile.RateWindow,
		FailedJobTTL: profile.FailedJobTTL,
		Metrics:      metrics,
	}, pipeline.Extract)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	metricsAddr := viper.GetString("metrics-addr")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	slog.Info("memoryengine started", "mode", cfg.Mode, "metrics_addr", metricsAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	<-c

	slog.Info("shutting down")
	sched.Stop(ctx)
	_ = metricsServer.Shutdown(ctx)
	return nil
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
