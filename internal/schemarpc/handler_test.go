package schemarpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/dbexec"
	"github.com/sqlscout/sqlscout/internal/rpc"
	"github.com/sqlscout/sqlscout/internal/schema"
)

type fakeSchemaSource struct {
	descriptor schema.Descriptor
	err        error
	calls      int
}

func (f *fakeSchemaSource) Get(_ context.Context, _ string) (schema.Descriptor, error) {
	f.calls++
	return f.descriptor, f.err
}

type fakeExecutor struct {
	result  dbexec.Result
	err     error
	lastSQL string
	calls   int
}

func (f *fakeExecutor) Query(_ context.Context, _ string, sqlText string) (dbexec.Result, error) {
	f.calls++
	f.lastSQL = sqlText
	return f.result, f.err
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("schema-service", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func testDeps(schemas SchemaSource, exec QueryExecutor) Dependencies {
	return Dependencies{
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Databases: map[string]string{"league": "/data/league.db"},
		Default:   "league",
		Schemas:   schemas,
		Executor:  exec,
	}
}

func postRPC(t *testing.T, handler http.Handler, req rpc.Request) rpc.Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp rpc.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, &fakeExecutor{}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestListTablesEchoesRequestID(t *testing.T) {
	schemas := &fakeSchemaSource{descriptor: schema.Descriptor{Tables: []schema.Table{
		{Name: "teams"}, {Name: "players"},
	}}}
	handler := NewHandler(testConfig(t), testDeps(schemas, &fakeExecutor{}))

	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-7"`), Method: rpc.MethodListTables})
	if string(resp.ID) != `"req-7"` {
		t.Fatalf("response id = %q", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	var result rpc.ListTablesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tables) != 2 || result.Tables[0] != "teams" {
		t.Fatalf("tables = %v", result.Tables)
	}
}

func TestNumericRequestIDEchoedVerbatim(t *testing.T) {
	schemas := &fakeSchemaSource{descriptor: schema.Descriptor{Tables: []schema.Table{{Name: "teams"}}}}
	handler := NewHandler(testConfig(t), testDeps(schemas, &fakeExecutor{}))

	body := `{"version":"2.0","id":7,"method":"list_tables","params":{}}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp rpc.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Fatalf("response id = %s, want 7", resp.ID)
	}
}

func TestNumericRequestIDEchoedOnError(t *testing.T) {
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, &fakeExecutor{}))

	body := `{"version":"2.0","id":42,"method":"no_such_method","params":{}}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))
	var resp rpc.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("error = %v", resp.Error)
	}
	if string(resp.ID) != "42" {
		t.Fatalf("response id = %s, want 42", resp.ID)
	}
}

func TestUnknownMethod(t *testing.T) {
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, &fakeExecutor{}))
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-1"`), Method: "drop_everything"})
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("error = %v", resp.Error)
	}
	if string(resp.ID) != `"req-1"` {
		t.Fatalf("response id = %q", resp.ID)
	}
}

func TestDescribeTable(t *testing.T) {
	schemas := &fakeSchemaSource{descriptor: schema.Descriptor{Tables: []schema.Table{
		{Name: "teams", Columns: []schema.Column{
			{Name: "id", DeclaredType: "INTEGER", PrimaryKey: true},
			{Name: "name", DeclaredType: "TEXT", NotNull: true},
		}},
	}}}
	handler := NewHandler(testConfig(t), testDeps(schemas, &fakeExecutor{}))

	params, _ := json.Marshal(rpc.DescribeTableParams{Table: "teams"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-2"`), Method: rpc.MethodDescribeTable, Params: params})
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	var result rpc.DescribeTableResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Columns) != 2 {
		t.Fatalf("columns = %v", result.Columns)
	}
	if !result.Columns[0].PrimaryKey || result.Columns[0].Nullable != true {
		t.Fatalf("id column = %+v", result.Columns[0])
	}
	if result.Columns[1].Nullable {
		t.Fatalf("name column should not be nullable: %+v", result.Columns[1])
	}
}

func TestDescribeUnknownTable(t *testing.T) {
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, &fakeExecutor{}))
	params, _ := json.Marshal(rpc.DescribeTableParams{Table: "nope"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-3"`), Method: rpc.MethodDescribeTable, Params: params})
	if resp.Error == nil || resp.Error.Code != rpc.CodeApplicationError {
		t.Fatalf("error = %v", resp.Error)
	}
}

func TestRunQueryExecutesValidatedSQL(t *testing.T) {
	exec := &fakeExecutor{result: dbexec.Result{
		Columns: []string{"name"},
		Types:   []string{"TEXT"},
		Rows:    [][]any{{"Hawks"}},
	}}
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, exec))

	params, _ := json.Marshal(rpc.RunQueryParams{SQL: "select name from teams limit 5"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-4"`), Method: rpc.MethodRunQuery, Params: params})
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	if exec.lastSQL != "SELECT name FROM teams LIMIT 5" {
		t.Fatalf("executed sql = %q", exec.lastSQL)
	}
	var result rpc.RunQueryResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "Hawks" {
		t.Fatalf("rows = %v", result.Rows)
	}
}

func TestRunQueryRejectsUnsafeSQLWithoutExecuting(t *testing.T) {
	exec := &fakeExecutor{}
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, exec))

	params, _ := json.Marshal(rpc.RunQueryParams{SQL: "DELETE FROM teams"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-5"`), Method: rpc.MethodRunQuery, Params: params})
	if resp.Error == nil || resp.Error.Code != rpc.CodeApplicationError {
		t.Fatalf("error = %v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "non-read operation") {
		t.Fatalf("message = %q", resp.Error.Message)
	}
	if exec.calls != 0 {
		t.Fatal("rejected query must not reach the executor")
	}
}

func TestRunQueryExecutionError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("no such column: nope")}
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, exec))

	params, _ := json.Marshal(rpc.RunQueryParams{SQL: "SELECT nope FROM teams LIMIT 1"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-6"`), Method: rpc.MethodRunQuery, Params: params})
	if resp.Error == nil || resp.Error.Code != rpc.CodeApplicationError {
		t.Fatalf("error = %v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "execution failed") {
		t.Fatalf("message = %q", resp.Error.Message)
	}
}

func TestRunQueryUnknownDatabase(t *testing.T) {
	handler := NewHandler(testConfig(t), testDeps(&fakeSchemaSource{}, &fakeExecutor{}))
	params, _ := json.Marshal(rpc.RunQueryParams{Database: "absent", SQL: "SELECT 1 FROM t LIMIT 1"})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-8"`), Method: rpc.MethodRunQuery, Params: params})
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "unknown database") {
		t.Fatalf("error = %v", resp.Error)
	}
}

func TestHandlerRecoversFromPanic(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Databases: map[string]string{"league": "/data/league.db"},
		Default:   "league",
		// nil Schemas makes list_tables panic inside the handler.
	})
	resp := postRPC(t, handler, rpc.Request{Version: rpc.Version, ID: json.RawMessage(`"req-9"`), Method: rpc.MethodListTables})
	if resp.Error == nil || resp.Error.Code != rpc.CodeInternalError {
		t.Fatalf("error = %v", resp.Error)
	}
	if string(resp.ID) != `"req-9"` {
		t.Fatalf("response id = %q", resp.ID)
	}
}
