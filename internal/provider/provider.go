// Package provider streams chat completions from an OpenAI-compatible
// endpoint. Failures are classified into kinds so callers can tell a
// bad credential from a transient outage, and rate-limited or
// transient failures are retried with exponential backoff as long as
// no token has been delivered yet.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sqlscout/sqlscout/internal/observability"
	"github.com/sqlscout/sqlscout/internal/redact"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindRateLimited      Kind = "rate_limited"
	KindModelUnavailable Kind = "model_unavailable"
	KindTransient        Kind = "transient"
)

// Error is a classified provider failure. The message never contains
// the credential.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is worth another attempt.
// Unauthorized and model-unavailable failures never are.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

type Config struct {
	BaseURL        string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client talks to one endpoint with one credential. Conversion builds
// a fresh client per request, so a caller-supplied credential never
// leaks into another request's calls.
type Client struct {
	baseURL        string
	credential     string
	model          string
	temperature    float64
	maxRetries     int
	retryBaseDelay time.Duration
	httpClient     *http.Client
}

func NewClient(cfg Config, credential string) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("credential is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retryBase := cfg.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		credential:     strings.TrimSpace(credential),
		model:          model,
		temperature:    cfg.Temperature,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: retryBase,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

// StreamCompletion requests a streamed completion and invokes onToken
// for each content delta as it arrives. It returns the accumulated
// text. Retries happen only before the first token reaches onToken;
// once output has been forwarded the stream cannot be restarted.
func (c *Client) StreamCompletion(ctx context.Context, system, user string, onToken func(string) error) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		text, delivered, err := c.streamOnce(ctx, system, user, onToken)
		if err == nil {
			return text, nil
		}
		lastErr = err

		provErr, ok := err.(*Error)
		if ok {
			observability.ObserveProviderError(string(provErr.Kind))
		}
		if !ok || !provErr.Retryable() || delivered || attempt >= c.maxRetries {
			return "", lastErr
		}

		observability.ObserveProviderRetry()
		delay := c.retryBaseDelay << attempt
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, system, user string, onToken func(string) error) (string, bool, error) {
	payload, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": c.temperature,
		"stream":      true,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, &Error{Kind: KindTransient, Message: redact.Mask(err.Error())}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, classifyStatus(resp.StatusCode, string(body))
	}

	var builder strings.Builder
	delivered := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return builder.String(), delivered, nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		builder.WriteString(token)
		if onToken != nil {
			if err := onToken(token); err != nil {
				return builder.String(), true, err
			}
		}
		delivered = true
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return builder.String(), delivered, ctx.Err()
		}
		return builder.String(), delivered, &Error{Kind: KindTransient, Message: redact.Mask(err.Error())}
	}
	// Stream ended without a [DONE] marker; treat what arrived as the
	// complete text.
	return builder.String(), delivered, nil
}

func classifyStatus(status int, body string) *Error {
	message := redact.Mask(strings.TrimSpace(body))
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, Status: status, Message: "credential rejected by provider"}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Message: message}
	case status == http.StatusNotFound:
		return &Error{Kind: KindModelUnavailable, Status: status, Message: message}
	default:
		return &Error{Kind: KindTransient, Status: status, Message: message}
	}
}
