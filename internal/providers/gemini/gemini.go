// Package gemini implements the Google Gemini generateContent adapter.
// It talks to the REST endpoint directly over net/http rather than through
// the google.golang.org/genai SDK, since the generateContent wire shape
// (query-string API key, usageMetadata field names) is what the provider
// contract is defined in terms of.
package gemini

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
	providers.Register(providers.TypeGoogleGemini, func(cfg providers.Config) providers.Adapter {
		return New(cfg)
	})
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
	Error         *apiErr       `json:"error,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type apiErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Provider calls the Gemini generateContent REST endpoint.
type Provider struct {
	cfg    providers.Config
	client *http.Client
}

func New(cfg providers.Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Call(ctx context.Context, prompt string, maxTokens int, temperature float64) (*providers.Result, error) {
	return retry.Do(ctx, p.cfg.MaxRetries, func(ctx context.Context, _ int) (*providers.Result, error) {
		return p.attempt(ctx, prompt, maxTokens, temperature)
	})
}

func (p *Provider) attempt(ctx context.Context, prompt string, maxTokens int, temperature float64) (*providers.Result, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.cfg.Name, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.cfg.Endpoint, p.cfg.Model, p.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", p.cfg.Name, err)
	}

	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 || gr.Candidates[0].Content.Parts[0].Text == "" {
		return nil, fmt.Errorf("%s: parse response: no candidate text", p.cfg.Name)
	}

	promptTokens := gr.UsageMetadata.PromptTokenCount
	completionTokens := gr.UsageMetadata.CandidatesTokenCount

	return &providers.Result{
		Text:             gr.Candidates[0].Content.Parts[0].Text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}

// UpstreamHTTPError reports a non-2xx response from the Gemini endpoint.
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

// TimeoutOrTransportError wraps a transport-level failure from a Gemini call.
type TimeoutOrTransportError struct {
	Provider string
	Err      error
}

func (e *TimeoutOrTransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TimeoutOrTransportError) Unwrap() error { return e.Err }
