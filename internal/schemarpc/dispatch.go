package schemarpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/rpc"
	"github.com/sqlscout/sqlscout/internal/sqlcheck"
)

// handleRPC decodes one envelope, dispatches it, and always answers
// with a well-formed envelope carrying the request's id. A panic in a
// method handler becomes an internal error response, not a dropped
// connection.
func handleRPC(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// The id survives decoding even when the envelope as a whole
		// does not, since it is kept as raw JSON.
		writeEnvelopeError(w, req.ID, rpc.CodeApplicationError, "invalid request envelope")
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			if deps.Logger != nil {
				deps.Logger.ErrorContext(r.Context(), "rpc_panic",
					"method", req.Method,
					"panic", fmt.Sprint(recovered),
				)
			}
			observability.ObserveRPC(req.Method, "internal_error")
			writeEnvelopeError(w, req.ID, rpc.CodeInternalError, "internal error")
		}
	}()

	var (
		result any
		err    *rpc.Error
	)
	switch req.Method {
	case rpc.MethodListTables:
		result, err = handleListTables(deps, r, req.Params)
	case rpc.MethodDescribeTable:
		result, err = handleDescribeTable(deps, r, req.Params)
	case rpc.MethodRunQuery:
		result, err = handleRunQuery(deps, r, req.Params)
	default:
		observability.ObserveRPC(req.Method, "method_not_found")
		writeEnvelopeError(w, req.ID, rpc.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	if err != nil {
		observability.ObserveRPC(req.Method, "error")
		writeEnvelopeError(w, req.ID, err.Code, err.Message)
		return
	}

	observability.ObserveRPC(req.Method, "ok")
	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		writeEnvelopeError(w, req.ID, rpc.CodeInternalError, "encode result")
		return
	}
	writeJSON(w, http.StatusOK, rpc.Response{Version: rpc.Version, ID: req.ID, Result: payload})
}

func writeEnvelopeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, http.StatusOK, rpc.Response{
		Version: rpc.Version,
		ID:      id,
		Error:   &rpc.Error{Code: code, Message: message},
	})
}

func resolveDatabase(deps Dependencies, name string) (string, *rpc.Error) {
	if name == "" {
		name = deps.Default
	}
	path, ok := deps.Databases[name]
	if !ok {
		return "", &rpc.Error{Code: rpc.CodeApplicationError, Message: fmt.Sprintf("unknown database %q", name)}
	}
	return path, nil
}

func handleListTables(deps Dependencies, r *http.Request, params json.RawMessage) (any, *rpc.Error) {
	var p rpc.ListTablesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: "invalid params"}
		}
	}
	path, rpcErr := resolveDatabase(deps, p.Database)
	if rpcErr != nil {
		return nil, rpcErr
	}

	descriptor, err := deps.Schemas.Get(r.Context(), path)
	if err != nil {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: err.Error()}
	}
	return rpc.ListTablesResult{Tables: descriptor.TableNames()}, nil
}

func handleDescribeTable(deps Dependencies, r *http.Request, params json.RawMessage) (any, *rpc.Error) {
	var p rpc.DescribeTableParams
	if err := json.Unmarshal(params, &p); err != nil || p.Table == "" {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: "table is required"}
	}
	path, rpcErr := resolveDatabase(deps, p.Database)
	if rpcErr != nil {
		return nil, rpcErr
	}

	descriptor, err := deps.Schemas.Get(r.Context(), path)
	if err != nil {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: err.Error()}
	}
	table, ok := descriptor.Table(p.Table)
	if !ok {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: fmt.Sprintf("unknown table %q", p.Table)}
	}

	columns := make([]rpc.ColumnInfo, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = rpc.ColumnInfo{
			Name:         col.Name,
			DeclaredType: col.DeclaredType,
			Nullable:     !col.NotNull,
			PrimaryKey:   col.PrimaryKey,
		}
	}
	return rpc.DescribeTableResult{Columns: columns}, nil
}

// handleRunQuery validates before resolving or touching any database
// file. A rejected query never reaches the executor.
func handleRunQuery(deps Dependencies, r *http.Request, params json.RawMessage) (any, *rpc.Error) {
	var p rpc.RunQueryParams
	if err := json.Unmarshal(params, &p); err != nil || p.SQL == "" {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: "sql is required"}
	}

	verdict := sqlcheck.Validate(p.SQL)
	observability.ObserveValidation(verdict.Accepted)
	if !verdict.Accepted {
		return nil, &rpc.Error{
			Code:    rpc.CodeApplicationError,
			Message: fmt.Sprintf("query rejected: %s", verdict.Reason),
		}
	}

	path, rpcErr := resolveDatabase(deps, p.Database)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := deps.Executor.Query(r.Context(), path, verdict.NormalizedSQL)
	if err != nil {
		return nil, &rpc.Error{Code: rpc.CodeApplicationError, Message: fmt.Sprintf("execution failed: %v", err)}
	}
	return rpc.RunQueryResult{Columns: result.Columns, Types: result.Types, Rows: result.Rows}, nil
}
