package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/provider"
	"github.com/sqlscout/sqlscout/internal/rpc"
	"github.com/sqlscout/sqlscout/internal/sqlcheck"
)

const streamSeparator = "\n\n---\n\n"

type convertRequest struct {
	Question   string `json:"question"`
	Database   string `json:"database,omitempty"`
	Credential string `json:"credential,omitempty"`
	// APIKey is an accepted alias for Credential.
	APIKey string `json:"api_key,omitempty"`
}

// handleConvert runs the full pipeline. Failures detected before any
// stream byte is written answer with a JSON error; everything after
// that is reported inside the stream as an ERROR segment, so the
// caller never sees a silently truncated response.
func handleConvert(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required")
		return
	}

	credential := resolveCredential(r, req, deps.DefaultCredential)
	if credential == "" {
		observability.ObserveConversion("credential_required")
		writeError(w, http.StatusUnauthorized, "CREDENTIAL_REQUIRED", "no credential supplied via header, body, or environment")
		return
	}

	database := req.Database
	if database == "" {
		database = deps.DefaultDatabase
	}
	path, ok := deps.Databases[database]
	if !ok {
		writeError(w, http.StatusBadRequest, "UNKNOWN_DATABASE", fmt.Sprintf("unknown database %q", database))
		return
	}

	schemaText, err := schemaContext(r.Context(), deps, database, path)
	if err != nil {
		observability.ObserveConversion("schema_unavailable")
		writeError(w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "schema could not be obtained from the service or the database file")
		return
	}

	completer, err := deps.NewCompleter(credential)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "PROVIDER_SETUP", "could not construct provider client")
		return
	}

	system, user := buildPrompt(schemaText, req.Question)

	stream := newStreamWriter(w)
	rawSQL, err := completer.StreamCompletion(r.Context(), system, user, func(token string) error {
		return stream.WriteToken(token)
	})
	if err != nil {
		streamProviderError(deps, stream, w, err)
		return
	}

	sqlText := stripMarkdownSQL(rawSQL)
	verdict := sqlcheck.Validate(sqlText)
	if !verdict.Accepted && verdict.Reason == sqlcheck.ReasonMissingLimit {
		// The prompt asks for a LIMIT; when the model omits it,
		// repair once with the default bound rather than failing. The
		// appended clause is streamed so the SQL the caller sees is
		// the SQL that runs.
		repair := fmt.Sprintf(" LIMIT %d", sqlcheck.DefaultRowLimit)
		verdict = sqlcheck.Validate(sqlText + repair)
		if verdict.Accepted {
			if err := stream.WriteToken(repair); err != nil {
				return
			}
		}
	}
	observability.ObserveValidation(verdict.Accepted)
	if !verdict.Accepted {
		observability.ObserveConversion("validation_rejected")
		stream.WriteError(fmt.Sprintf("query rejected: %s", verdict.Reason))
		return
	}

	result, err := execute(r.Context(), deps, database, path, verdict.NormalizedSQL)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		observability.ObserveConversion("execution_error")
		stream.WriteError(fmt.Sprintf("execution failed: %v", err))
		return
	}

	observability.ObserveConversion("ok")
	stream.WriteResults(result)
}

// resolveCredential applies the precedence header > body > default.
// The body accepts both "credential" and the legacy "api_key" field.
func resolveCredential(r *http.Request, req convertRequest, fallback string) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			if trimmed := strings.TrimSpace(token); trimmed != "" {
				return trimmed
			}
		}
	}
	if req.Credential != "" {
		return strings.TrimSpace(req.Credential)
	}
	if req.APIKey != "" {
		return strings.TrimSpace(req.APIKey)
	}
	return strings.TrimSpace(fallback)
}

// schemaContext prefers the schema/execution service and falls back
// to extracting directly from the database file. Both paths produce
// the same rendered shape, so the prompt does not depend on which
// path served the request.
func schemaContext(ctx context.Context, deps Dependencies, database, path string) (string, error) {
	if deps.Remote != nil {
		if text, err := remoteSchema(ctx, deps.Remote, database); err == nil {
			return text, nil
		}
		observability.ObserveSchemaFallback()
		if deps.Logger != nil {
			deps.Logger.WarnContext(ctx, "schema_service_unreachable_falling_back", "database", database)
		}
	}

	descriptor, err := deps.Schemas.Get(ctx, path)
	if err != nil {
		return "", err
	}
	return descriptor.Render(), nil
}

func remoteSchema(ctx context.Context, remote RemoteService, database string) (string, error) {
	tables, err := remote.ListTables(ctx, database)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, table := range tables {
		columns, err := remote.DescribeTable(ctx, database, table)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(table)
		b.WriteByte('(')
		for j, col := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			if col.DeclaredType != "" {
				b.WriteByte(' ')
				b.WriteString(col.DeclaredType)
			}
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

func buildPrompt(schemaText, question string) (system, user string) {
	system = "You translate questions about a SQLite database into SQL. " +
		"Return ONLY a single SELECT statement. No markdown, no explanation."
	user = fmt.Sprintf(
		"Schema:\n%s\n\nQuestion:\n%s\n\nRules:\n- Single SELECT statement only.\n- Always end with LIMIT %d unless the question asks for a specific smaller count.\n- Output SQL only.",
		schemaText,
		strings.TrimSpace(question),
		sqlcheck.DefaultRowLimit,
	)
	return system, user
}

// execute prefers the schema/execution service and falls back to the
// local executor when the service cannot be reached. An error
// envelope from the service is a real execution failure, not a
// transport problem, and is not retried locally.
func execute(ctx context.Context, deps Dependencies, database, path, sqlText string) (dbexec.Result, error) {
	if deps.Remote != nil {
		remote, err := deps.Remote.RunQuery(ctx, database, sqlText)
		if err == nil {
			return dbexec.Result{Columns: remote.Columns, Types: remote.Types, Rows: remote.Rows}, nil
		}
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			return dbexec.Result{}, errors.New(rpcErr.Message)
		}
	}
	return deps.Exec.Query(ctx, path, sqlText)
}

// stripMarkdownSQL peels a markdown code fence off the model output.
// Models add fences despite the prompt asking for bare SQL.
func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

// streamProviderError reports a provider failure. When nothing has
// been streamed yet the error kind is also exposed as a header so
// callers can react to an unauthorized credential without parsing
// the stream.
func streamProviderError(deps Dependencies, stream *streamWriter, w http.ResponseWriter, err error) {
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		observability.ObserveConversion("provider_" + string(provErr.Kind))
		if !stream.started {
			w.Header().Set("X-Error-Kind", string(provErr.Kind))
		}
		stream.WriteError(provErr.Error())
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		observability.ObserveConversion("canceled")
		return
	}
	observability.ObserveConversion("provider_error")
	stream.WriteError(fmt.Sprintf("provider stream failed: %v", err))
}
