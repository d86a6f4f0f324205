package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client talks to a schema/execution service over HTTP. Every call
// sends one envelope to POST /rpc and verifies the response echoes
// the request ID before trusting the payload.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Call invokes method with params and unmarshals the result into
// out. A non-nil *Error return means the service answered with an
// error envelope; other errors are transport failures.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return fmt.Errorf("encode id: %w", err)
	}

	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}

	body, err := json.Marshal(Request{Version: Version, ID: id, Method: method, Params: rawParams})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope Response
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !bytes.Equal(envelope.ID, id) {
		return fmt.Errorf("response id %s does not match request id %s", envelope.ID, id)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// ListTables fetches the table names of the given logical database.
func (c *Client) ListTables(ctx context.Context, database string) ([]string, error) {
	var result ListTablesResult
	if err := c.Call(ctx, MethodListTables, ListTablesParams{Database: database}, &result); err != nil {
		return nil, err
	}
	return result.Tables, nil
}

// DescribeTable fetches column metadata for one table.
func (c *Client) DescribeTable(ctx context.Context, database, table string) ([]ColumnInfo, error) {
	var result DescribeTableResult
	if err := c.Call(ctx, MethodDescribeTable, DescribeTableParams{Database: database, Table: table}, &result); err != nil {
		return nil, err
	}
	return result.Columns, nil
}

// RunQuery executes validated SQL remotely.
func (c *Client) RunQuery(ctx context.Context, database, sqlText string) (RunQueryResult, error) {
	var result RunQueryResult
	if err := c.Call(ctx, MethodRunQuery, RunQueryParams{Database: database, SQL: sqlText}, &result); err != nil {
		return RunQueryResult{}, err
	}
	return result, nil
}
