// Package router implements the dynamic-score failover router: it ranks
// admissible providers by a cost/reliability score, attempts them in order,
// and records every outcome to the usage ledger and circuit breaker.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-cost-router/internal/breaker"
	"github.com/nulpointcorp/llm-cost-router/internal/ledger"
	"github.com/nulpointcorp/llm-cost-router/internal/metrics"
	"github.com/nulpointcorp/llm-cost-router/internal/providers"
)

const (
	recencyWindow   = 300 * time.Second
	recencyFactor   = 1.5
	latencyThresh   = 5 * time.Second
	latencyFactor   = 1.2
	neutralFactor   = 1.0
)

// ErrNoProvidersAvailable means every configured provider's circuit breaker
// currently rejects attempts.
var ErrNoProvidersAvailable = fmt.Errorf("no providers available")

// AllProvidersFailedError carries the concatenated per-provider failure
// messages after every admissible provider was attempted.
type AllProvidersFailedError struct {
	Errors []string
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed: %s", strings.Join(e.Errors, "; "))
}

// entry pairs a configured provider with its adapter.
type entry struct {
	cfg     providers.Config
	adapter providers.Adapter
}

// Response is the normalized, cost-augmented result of a successful generate call.
type Response struct {
	ProviderUsed     string
	Cost             float64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Text             string
}

// Router owns the configured providers, their circuit breakers, and a
// reference to the shared usage ledger. It is stateless across requests
// apart from the breaker.
type Router struct {
	entries []entry
	ledger  *ledger.Ledger
	breaker *breaker.Breaker
	metrics *metrics.Registry
}

// New builds a Router over the given provider configs. adapters must already
// be built (via providers.Build) and aligned by index with cfgs. m may be nil,
// in which case metric observations are skipped.
func New(cfgs []providers.Config, adapters []providers.Adapter, l *ledger.Ledger, b *breaker.Breaker, m *metrics.Registry) *Router {
	entries := make([]entry, len(cfgs))
	for i, cfg := range cfgs {
		entries[i] = entry{cfg: cfg, adapter: adapters[i]}
	}
	return &Router{entries: entries, ledger: l, breaker: b, metrics: m}
}

// score computes the dynamic score for one provider:
//
//	base       = cost_per_1k_tokens
//	fail_ratio = failed_requests / total_requests  (0 if no history)
//	recency    = 1.5 if last failure was under 300s ago, else 1.0
//	latency    = 1.2 if avg_latency > 5s, else 1.0
//	score      = base * (1 + fail_ratio * recency) * latency
func (r *Router) score(cfg providers.Config) float64 {
	base := cfg.CostPer1kTokens

	failRatio, total := r.ledger.FailRatio(cfg.Name)
	if total == 0 {
		return base
	}

	recency := neutralFactor
	if lastFailure, ok := r.ledger.LastFailureTime(cfg.Name); ok && time.Since(lastFailure) < recencyWindow {
		recency = recencyFactor
	}

	latency := neutralFactor
	if avg, ok := r.ledger.AvgLatency(cfg.Name); ok && avg > latencyThresh.Seconds() {
		latency = latencyFactor
	}

	return base * (1 + failRatio*recency) * latency
}

// ranked returns entries admissible per the circuit breaker, sorted by
// ascending score with stable tie-breaking on original (configured) order.
func (r *Router) ranked() []entry {
	admissible := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if r.breaker.CanAttempt(e.cfg.Name) {
			admissible = append(admissible, e)
		} else if r.metrics != nil {
			r.metrics.RecordCircuitBreakerRejection(e.cfg.Name)
		}
		if r.metrics != nil {
			r.metrics.SetCircuitBreaker(e.cfg.Name, r.breaker.StateCode(e.cfg.Name))
		}
	}

	scores := make(map[string]float64, len(admissible))
	for _, e := range admissible {
		scores[e.cfg.Name] = r.score(e.cfg)
		if r.metrics != nil {
			r.metrics.SetProviderScore(e.cfg.Name, scores[e.cfg.Name])
		}
	}

	sort.SliceStable(admissible, func(i, j int) bool {
		return scores[admissible[i].cfg.Name] < scores[admissible[j].cfg.Name]
	})
	return admissible
}

// Generate runs the failover loop: rank admissible providers by score,
// attempt each in order, recording every outcome to the ledger and breaker,
// and return on the first success.
func (r *Router) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Response, error) {
	overallStart := time.Now()

	candidates := r.ranked()
	if len(candidates) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	var errs []string

	for _, e := range candidates {
		result, err := e.adapter.Call(ctx, prompt, maxTokens, temperature)
		duration := time.Since(overallStart)

		if err == nil && result.Text == "" {
			err = fmt.Errorf("%s: empty response text", e.cfg.Name)
		}

		if err != nil {
			r.ledger.Record(e.cfg.Name, 0, 0, 0, false, duration)
			r.breaker.RecordFailure(e.cfg.Name)
			if r.metrics != nil {
				r.metrics.ObserveAttempt(e.cfg.Name, "failure", duration)
			}
			errs = append(errs, fmt.Sprintf("%s: %v", e.cfg.Name, err))
			continue
		}

		cost := computeCost(e.cfg, result.PromptTokens, result.CompletionTokens)
		r.ledger.Record(e.cfg.Name, result.PromptTokens, result.CompletionTokens, cost, true, duration)
		r.breaker.RecordSuccess(e.cfg.Name)
		if r.metrics != nil {
			r.metrics.ObserveAttempt(e.cfg.Name, "success", duration)
			r.metrics.AddTokens(e.cfg.Name, result.PromptTokens, result.CompletionTokens)
			if snap, ok := r.ledger.ProviderTotalCost(e.cfg.Name); ok {
				r.metrics.SetProviderCost(e.cfg.Name, snap)
			}
		}

		return &Response{
			ProviderUsed:     e.cfg.Name,
			Cost:             cost,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens,
			Text:             result.Text,
		}, nil
	}

	return nil, &AllProvidersFailedError{Errors: errs}
}

// computeCost applies the per-direction rate (falling back to the flat
// cost_per_1k_tokens when no override is configured) and rounds to 6 decimals.
func computeCost(cfg providers.Config, promptTokens, completionTokens int) float64 {
	cost := (float64(promptTokens)/1000)*cfg.PromptRate() + (float64(completionTokens)/1000)*cfg.CompletionRate()
	return round(cost, 6)
}

func round(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}
