// Package completion talks to an OpenAI-compatible chat completion endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"glaze/internal/platform/config"
	"glaze/internal/platform/metrics"
	"glaze/pkg/platform/circuit"
	"glaze/pkg/platform/sentinel"
)

const upstreamName = "completion"

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("completion returned no content")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the generated text and the tokens the provider billed.
type Result struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	http        *http.Client
	breaker     *circuit.Breaker[[]byte]
	estimator   *Estimator
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithEstimator is used to account for responses that omit usage.
func WithEstimator(e *Estimator) Option {
	return func(c *Client) {
		c.estimator = e
	}
}

func New(cfg config.CompletionConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("completion base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("completion model is required")
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = circuit.New[[]byte](upstreamName,
		circuit.WithStateChange(func(name string, from, to circuit.State) {
			c.logger.Warn("circuit breaker state change", "upstream", name, "from", from, "to", to)
		}),
	)
	return c, nil
}

// MaxTokens is the completion length requested on every call.
func (c *Client) MaxTokens() int {
	return c.maxTokens
}

// Complete sends messages and returns the first choice with its usage.
// An empty choice returns ErrEmptyCompletion together with a non-nil Result
// carrying the billed usage.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, payload)
	})
	c.metrics.ObserveUpstream(upstreamName, "chat.completions", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text:             strings.TrimSpace(gjson.GetBytes(body, "choices.0.message.content").String()),
		PromptTokens:     gjson.GetBytes(body, "usage.prompt_tokens").Int(),
		CompletionTokens: gjson.GetBytes(body, "usage.completion_tokens").Int(),
		TotalTokens:      gjson.GetBytes(body, "usage.total_tokens").Int(),
	}
	if res.TotalTokens <= 0 {
		res.TotalTokens = res.PromptTokens + res.CompletionTokens
	}
	if res.TotalTokens <= 0 {
		res.TotalTokens = c.estimator.CountMessages(messages) + c.estimator.Count(res.Text)
		c.logger.WarnContext(ctx, "completion response missing usage, estimated locally",
			"estimated_tokens", res.TotalTokens,
		)
	}
	if res.Text == "" {
		// The provider still billed the prompt; callers record res.TotalTokens.
		return res, ErrEmptyCompletion
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	msg := gjson.GetBytes(body, "error.message").String()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("completion status %d: %s: %w", resp.StatusCode, msg, sentinel.ErrUnavailable)
	}
	return nil, fmt.Errorf("completion status %d: %s", resp.StatusCode, msg)
}
