// Package convert turns a natural-language question into validated
// SQL and streams the query plus its results back to the caller.
package convert

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/rpc"
	"github.com/sqlscout/sqlscout/internal/schema"
)

// RemoteService is the schema/execution service as seen from the
// conversion side. Satisfied by *rpc.Client.
type RemoteService interface {
	ListTables(ctx context.Context, database string) ([]string, error)
	DescribeTable(ctx context.Context, database, table string) ([]rpc.ColumnInfo, error)
	RunQuery(ctx context.Context, database, sqlText string) (rpc.RunQueryResult, error)
}

// Completer streams a completion for one prompt. Satisfied by
// *provider.Client.
type Completer interface {
	StreamCompletion(ctx context.Context, system, user string, onToken func(string) error) (string, error)
}

// CompleterFactory builds a provider client scoped to one request's
// credential. A new client per request keeps one caller's credential
// out of another caller's calls.
type CompleterFactory func(credential string) (Completer, error)

type SchemaSource interface {
	Get(ctx context.Context, path string) (schema.Descriptor, error)
}

type QueryExecutor interface {
	Query(ctx context.Context, path, sqlText string) (dbexec.Result, error)
}

type Dependencies struct {
	Logger *slog.Logger
	// Remote is the schema/execution service; nil forces the local
	// path for both schema context and execution.
	Remote RemoteService
	// Databases maps logical names to SQLite file paths for the
	// local fallback.
	Databases       map[string]string
	DefaultDatabase string
	Schemas         SchemaSource
	Exec            QueryExecutor
	NewCompleter    CompleterFactory
	// DefaultCredential is the process-level credential used when a
	// request carries none. May be empty.
	DefaultCredential string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /convert", func(w http.ResponseWriter, r *http.Request) {
		handleConvert(deps, w, r)
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

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
	})
}
