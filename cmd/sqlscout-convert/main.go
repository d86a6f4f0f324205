package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/convert"
	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/provider"
	"github.com/sqlscout/sqlscout/internal/rpc"
	"github.com/sqlscout/sqlscout/internal/schema"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscout-convert")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	databases, err := config.ParseDatabaseRegistry(cfg.Databases.Registry)
	if err != nil {
		logger.Error("failed to parse database registry", slog.Any("error", err))
		os.Exit(1)
	}

	providerCfg := provider.Config{
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
		MaxRetries:     cfg.AI.MaxRetries,
		RetryBaseDelay: cfg.AI.RetryBaseDelay,
	}

	handler := convert.NewHandler(cfg, convert.Dependencies{
		Logger:          logger,
		Remote:          rpc.NewClient(cfg.Convert.SchemaServiceURL, cfg.Convert.RPCTimeout),
		Databases:       databases,
		DefaultDatabase: cfg.Databases.Default,
		Schemas:         schema.NewCache(),
		Exec:            dbexec.New(),
		NewCompleter: func(credential string) (convert.Completer, error) {
			return provider.NewClient(providerCfg, credential)
		},
		DefaultCredential: cfg.AI.APIKey,
	})

	server := &http.Server{
		Addr:         cfg.ConvertHTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ConvertHTTP.ReadTimeout,
		WriteTimeout: cfg.ConvertHTTP.WriteTimeout,
		IdleTimeout:  cfg.ConvertHTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting convert service", slog.String("addr", cfg.ConvertHTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("convert service failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down convert service")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
