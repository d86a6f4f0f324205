package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/supervise"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscout-supervisor")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	supervisor := supervise.New(supervise.Options{
		Logger:       logger,
		PollInterval: cfg.Supervisor.HealthInterval,
		PollAttempts: cfg.Supervisor.HealthAttempts,
		PollTimeout:  cfg.Supervisor.HealthTimeout,
		StopGrace:    cfg.Supervisor.StopGrace,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for event := range supervisor.Events() {
			if event.Err != nil {
				logger.Error("service_event",
					slog.String("service", event.Service),
					slog.String("state", event.State.String()),
					slog.Any("error", event.Err),
				)
				continue
			}
			logger.Info("service_event",
				slog.String("service", event.Service),
				slog.String("state", event.State.String()),
			)
		}
	}()

	specs := []supervise.ServiceSpec{
		{
			Name:      "schema",
			Command:   cfg.Supervisor.SchemaCommand,
			HealthURL: healthURL(cfg.SchemaHTTP.Address),
		},
		{
			Name:      "convert",
			Command:   cfg.Supervisor.ConvertCommand,
			HealthURL: healthURL(cfg.ConvertHTTP.Address),
		},
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		if _, err := supervisor.Start(spec); err != nil {
			logger.Error("failed to start service", slog.String("service", spec.Name), slog.Any("error", err))
			supervisor.StopAll()
			os.Exit(1)
		}
		name := spec.Name
		group.Go(func() error {
			return supervisor.AwaitReady(groupCtx, name)
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() == nil {
			logger.Error("services did not become ready", slog.Any("error", err))
			supervisor.StopAll()
			os.Exit(1)
		}
	} else {
		logger.Info("all services ready")
	}

	<-ctx.Done()
	logger.Info("shutting down services")
	supervisor.StopAll()
}

// healthURL turns a listen address like ":8001" into a local health
// check URL.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/health"
}
