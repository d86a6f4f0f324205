// Package schemarpc serves schema inspection and query execution
// over the JSON envelope protocol on POST /rpc.
package schemarpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/schema"
)

// SchemaSource yields a schema descriptor for a database file.
// Satisfied by *schema.Cache.
type SchemaSource interface {
	Get(ctx context.Context, path string) (schema.Descriptor, error)
}

// QueryExecutor runs already-validated SQL against a database file.
// Satisfied by *dbexec.Executor.
type QueryExecutor interface {
	Query(ctx context.Context, path, sqlText string) (dbexec.Result, error)
}

type Dependencies struct {
	Logger *slog.Logger
	// Databases maps logical database names to SQLite file paths.
	// The empty name resolves to Default.
	Databases map[string]string
	Default   string
	Schemas   SchemaSource
	Executor  QueryExecutor
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /rpc", func(w http.ResponseWriter, r *http.Request) {
		handleRPC(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
