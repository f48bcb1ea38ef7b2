package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-cost-router/internal/ledger"
	"github.com/nulpointcorp/llm-cost-router/internal/metrics"
	"github.com/nulpointcorp/llm-cost-router/internal/router"
	"github.com/nulpointcorp/llm-cost-router/pkg/apierr"
)

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// generateRequest is the POST /generate request body.
type generateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
}

// generateResponse is the POST /generate success body.
type generateResponse struct {
	ProviderUsed     string  `json:"provider_used"`
	Cost             float64 `json:"cost"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Response         string  `json:"response"`
}

// Gateway holds the wired dependencies the HTTP handlers delegate to.
type Gateway struct {
	router      *router.Router
	ledger      *ledger.Ledger
	metrics     *metrics.Registry
	corsOrigins []string
}

// New builds a Gateway over an already-wired router, ledger, and metrics registry.
func New(r *router.Router, l *ledger.Ledger, m *metrics.Registry, corsOrigins []string) *Gateway {
	return &Gateway{router: r, ledger: l, metrics: m, corsOrigins: corsOrigins}
}

func (g *Gateway) handleGenerate(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	defer func() { g.metrics.ObserveHTTP("/generate", ctx.Response.StatusCode(), time.Since(start)) }()

	var req generateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "prompt is required")
		return
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := g.router.Generate(ctx, req.Prompt, maxTokens, temperature)
	if err != nil {
		slog.Warn("generate_failed", slog.String("error", err.Error()))
		apierr.Write(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, generateResponse{
		ProviderUsed:     resp.ProviderUsed,
		Cost:             resp.Cost,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		Response:         resp.Text,
	})
}

func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	defer func() { g.metrics.ObserveHTTP("/stats", ctx.Response.StatusCode(), time.Since(start)) }()

	writeJSON(ctx, fasthttp.StatusOK, g.ledger.Stats())
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	defer func() { g.metrics.ObserveHTTP("/health", ctx.Response.StatusCode(), time.Since(start)) }()

	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
