// Package gateway is the single HTTP client for the OpenAI-compatible
// chat-completions endpoint. Each Send is one POST with no retries; failures are
// classified into morsel error codes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/prompt"
)

// Defaults for the hosted gateway.
const (
	DefaultURL     = "https://ai.gateway.lovable.dev/v1/chat/completions"
	DefaultModel   = "google/gemini-2.5-flash"
	DefaultTimeout = 60 * time.Second
)

// maxErrorBody caps how much of a failed response body is kept in error details.
const maxErrorBody = 2048

// Shape selects whether the gateway is asked for a JSON object or free text.
type Shape int

const (
	ShapeText Shape = iota
	ShapeJSON
)

func (s Shape) String() string {
	if s == ShapeJSON {
		return "json"
	}
	return "text"
}

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client sends message lists to the gateway.
type Client struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
	log    *zap.Logger
}

// New creates a client, filling unset fields with defaults. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("gateway"),
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []prompt.Message `json:"messages"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Send posts messages and returns the first choice's content.
func (c *Client) Send(ctx context.Context, messages []prompt.Message, shape Shape) (string, error) {
	if c.apiKey == "" {
		c.log.Error("gateway API key not configured")
		return "", errors.NewServiceUnavailable("AI service not configured", nil)
	}

	reqBody := chatRequest{Model: c.model, Messages: messages}
	if shape == ShapeJSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("marshal gateway request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("create gateway request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	c.log.Debug("gateway request",
		zap.String("model", c.model),
		zap.Stringer("shape", shape),
		zap.Int("messages", len(messages)),
		zap.Int("bytes", len(payload)))

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("gateway unreachable", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", errors.NewServiceUnavailable("AI service unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("gateway response read failed", zap.Error(err))
		return "", errors.NewServiceUnavailable("AI service unavailable", err)
	}

	c.log.Debug("gateway response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn("gateway rate limited")
		return "", errors.NewRateLimited()
	case resp.StatusCode == http.StatusPaymentRequired:
		c.log.Warn("gateway credits exhausted")
		return "", errors.NewQuotaExhausted()
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		text := truncate(string(body), maxErrorBody)
		c.log.Error("gateway error", zap.Int("status", resp.StatusCode), zap.String("body", text))
		return "", errors.NewUpstream(resp.StatusCode, text)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.log.Warn("gateway envelope undecodable", zap.Error(err))
		return "", errors.NewEmptyResponse()
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil ||
		strings.TrimSpace(*decoded.Choices[0].Message.Content) == "" {
		c.log.Warn("gateway returned no content")
		return "", errors.NewEmptyResponse()
	}
	return *decoded.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
