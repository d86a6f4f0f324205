// Package rpc defines the JSON envelope spoken between the
// conversion service and the schema/execution service, plus an HTTP
// client for the caller side.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is carried in every request and response envelope.
const Version = "2.0"

// Error codes. Application errors cover validation rejections and
// execution failures; internal errors cover handler faults.
const (
	CodeMethodNotFound   = -32601
	CodeApplicationError = -32000
	CodeInternalError    = -32603
)

// Method names served by the schema/execution service.
const (
	MethodListTables    = "list_tables"
	MethodDescribeTable = "describe_table"
	MethodRunQuery      = "run_query"
)

// Request and Response carry the id as raw JSON: callers may send
// any JSON value and the service echoes it back byte for byte.
type Request struct {
	Version string          `json:"version"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Version string          `json:"version"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type ListTablesParams struct {
	Database string `json:"database,omitempty"`
}

type ListTablesResult struct {
	Tables []string `json:"tables"`
}

type DescribeTableParams struct {
	Database string `json:"database,omitempty"`
	Table    string `json:"table"`
}

type ColumnInfo struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	Nullable     bool   `json:"nullable"`
	PrimaryKey   bool   `json:"primary_key"`
}

type DescribeTableResult struct {
	Columns []ColumnInfo `json:"columns"`
}

type RunQueryParams struct {
	Database string `json:"database,omitempty"`
	SQL      string `json:"sql"`
}

type RunQueryResult struct {
	Columns []string `json:"columns"`
	Types   []string `json:"types"`
	Rows    [][]any  `json:"rows"`
}
