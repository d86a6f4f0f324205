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
	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/schema"
	"github.com/sqlscout/sqlscout/internal/schemarpc"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscout-schema")
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

	handler := schemarpc.NewHandler(cfg, schemarpc.Dependencies{
		Logger:    logger,
		Databases: databases,
		Default:   cfg.Databases.Default,
		Schemas:   schema.NewCache(),
		Executor:  dbexec.New(),
	})

	server := &http.Server{
		Addr:         cfg.SchemaHTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.SchemaHTTP.ReadTimeout,
		WriteTimeout: cfg.SchemaHTTP.WriteTimeout,
		IdleTimeout:  cfg.SchemaHTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting schema service", slog.String("addr", cfg.SchemaHTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("schema service failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down schema service")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
