// ABOUTME: HTTP client for the remote multi-agent endpoint
// ABOUTME: Every failure (network, status, empty or malformed body) is returned as a Result value

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is quoted in Result.Error
const maxErrorBody = 512

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 4 << 20

// SessionContext correlates one agent call with its activity stream
type SessionContext struct {
	SessionID string
}

// Result is the outcome of a single agent call.
// Response is the raw, unvalidated payload and is set only when Success is true.
type Result struct {
	Success  bool
	Response json.RawMessage
	Error    string
}

// Failure builds an unsuccessful Result.
func Failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Invoker performs a single request/response call against a remote agent persona.
// Implementations never return Go errors; failures are Result values.
type Invoker interface {
	Invoke(ctx context.Context, text, agentID string, sc SessionContext) Result
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, text, agentID string, sc SessionContext) Result

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, text, agentID string, sc SessionContext) Result {
	return f(ctx, text, agentID, sc)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	UserID   string
	Timeout  time.Duration
}

// Client talks to the remote agent endpoint over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	userID   string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a new agent client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		userID:   cfg.UserID,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "agent_client"),
	}
}

type invokeRequest struct {
	Text      string `json:"text"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Invoke sends text to the given agent persona and returns the raw JSON reply.
func (c *Client) Invoke(ctx context.Context, text, agentID string, sc SessionContext) Result {
	body, err := json.Marshal(invokeRequest{
		Text:      text,
		AgentID:   agentID,
		SessionID: sc.SessionID,
		UserID:    c.userID,
	})
	if err != nil {
		return Failure("marshaling request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Failure("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("agent request failed", "agent_id", agentID, "session_id", sc.SessionID, "error", err)
		return Failure("sending request: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return Failure("reading response: %v", err)
	}
	if len(payload) > maxResponseBytes {
		return Failure("agent response exceeds %d bytes", maxResponseBytes)
	}

	c.logger.Debug("agent responded",
		"agent_id", agentID,
		"session_id", sc.SessionID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure("agent returned status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(payload)), maxErrorBody))
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Failure("agent returned an empty response")
	}
	if !json.Valid(trimmed) {
		return Failure("agent returned malformed JSON")
	}

	return Result{Success: true, Response: json.RawMessage(trimmed)}
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
