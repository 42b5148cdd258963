package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// Client talks to the AutoStream backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds each request. Zero leaves deadlines to the caller's
	// context and the transport defaults.
	Timeout time.Duration
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(rt),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendMessage posts a user utterance for a session and returns the structured reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, http.MethodPost, "/api/chat", ChatRequest{SessionID: sessionID, Message: message}, &out)
	if err != nil {
		c.logger.Error("backend sendMessage failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	return &out, nil
}

// GetSession returns the backend's view of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	var out SessionState
	err := c.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(sessionID), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = ErrSessionNotFound
		}
		c.logger.Error("backend getSession failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session on the backend.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/session/"+url.PathEscape(sessionID), nil, nil); err != nil {
		c.logger.Error("backend deleteSession failed", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

// Stats returns backend session store statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		c.logger.Error("backend getStats failed", "error", err)
		return nil, err
	}
	return &out, nil
}

// Health calls the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend healthCheck failed", "error", err)
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("health check failed: %d", resp.StatusCode)
		c.logger.Error("backend healthCheck failed", "error", err)
		return nil, err
	}
	var out Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}

func (c *Client) closeBody(resp *http.Response) {
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("failed to close backend response body", "error", err)
	}
}
