// Package mistralcompat implements the Mistral chat-completions wire
// protocol shared by the "mistral" and "deepseek" provider types. One
// Provider type serves both vendors, parameterized by the fixed system
// preamble DeepSeek requires and by config-driven endpoint/model/retries.
package mistralcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nulpointcorp/llm-cost-router/internal/providers"
	"github.com/nulpointcorp/llm-cost-router/internal/providers/retry"
)

func init() {
	providers.Register(providers.TypeMistral, func(cfg providers.Config) providers.Adapter {
		return New(cfg, "")
	})
	providers.Register(providers.TypeDeepSeek, func(cfg providers.Config) providers.Adapter {
		return New(cfg, deepseekSystemPreamble)
	})
}

const deepseekSystemPreamble = "You are a helpful assistant."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
	Stream      bool           `json:"stream"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message chatMessage `json:"message"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Provider calls a Mistral-compatible chat-completions endpoint. systemPreamble,
// when non-empty, is sent as a fixed leading system message (DeepSeek requires
// this; Mistral does not).
type Provider struct {
	cfg            providers.Config
	systemPreamble string
	client         *http.Client
}

// New builds a Mistral-compatible adapter for cfg. systemPreamble is prepended
// as a fixed system message on every call when non-empty.
func New(cfg providers.Config, systemPreamble string) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		cfg:            cfg,
		systemPreamble: systemPreamble,
		client:         &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Call(ctx context.Context, prompt string, maxTokens int, temperature float64) (*providers.Result, error) {
	maxRetries := p.cfg.MaxRetries
	return retry.Do(ctx, maxRetries, func(ctx context.Context, _ int) (*providers.Result, error) {
		return p.attempt(ctx, prompt, maxTokens, temperature)
	})
}

func (p *Provider) attempt(ctx context.Context, prompt string, maxTokens int, temperature float64) (*providers.Result, error) {
	messages := p.buildMessages(prompt)

	body, err := json.Marshal(chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.cfg.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TimeoutOrTransportError{Provider: p.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.cfg.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamHTTPError{Provider: p.cfg.Name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", p.cfg.Name, err)
	}

	text := ""
	if len(cr.Choices) > 0 {
		text = cr.Choices[0].Message.Content
	}

	promptTokens := cr.Usage.PromptTokens
	completionTokens := cr.Usage.CompletionTokens
	totalTokens := promptTokens + completionTokens
	if cr.Usage.TotalTokens > 0 {
		totalTokens = cr.Usage.TotalTokens
	}

	return &providers.Result{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
	}, nil
}

func (p *Provider) buildMessages(prompt string) []chatMessage {
	if p.systemPreamble == "" {
		return []chatMessage{{Role: "user", Content: prompt}}
	}
	return []chatMessage{
		{Role: "system", Content: p.systemPreamble},
		{Role: "user", Content: prompt},
	}
}

// UpstreamHTTPError reports a non-2xx response from a Mistral-compatible endpoint.
type UpstreamHTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%s: upstream http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus implements providers.StatusCoder.
func (e *UpstreamHTTPError) HTTPStatus() int { return e.StatusCode }

// TimeoutOrTransportError wraps a transport-level failure (timeout, connection
// refused, DNS failure, etc.) from a Mistral-compatible call.
type TimeoutOrTransportError struct {
	Provider string
	Err      error
}

func (e *TimeoutOrTransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TimeoutOrTransportError) Unwrap() error { return e.Err }
