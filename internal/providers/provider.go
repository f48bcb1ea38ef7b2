// Package providers defines the common contract every LLM adapter implements
// (Gemini, Mistral, DeepSeek) and the closed registry that builds one from a
// Config.
package providers

import (
	"context"
	"fmt"
	"time"
)

// Config describes one configured provider instance. It is the in-memory
// counterpart of a single entry under the YAML `providers:` list.
type Config struct {
	Name                    string
	Type                    string
	Endpoint                string
	Model                   string
	APIKey                  string
	CostPer1kTokens         float64
	PromptCostPer1kTokens   float64 // 0 means "use CostPer1kTokens"
	CompletionCostPer1kTokens float64 // 0 means "use CostPer1kTokens"
	Timeout                 time.Duration
	MaxRetries              int
}

// Result is the normalized outcome of a successful adapter call.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Adapter is the single operation every provider type implements: send one
// prompt, get back normalized usage. Adapters own their own retry policy;
// callers never retry an adapter themselves.
type Adapter interface {
	Call(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Result, error)
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Closed set of supported provider types. Anything else is config-invalid.
const (
	TypeGoogleGemini = "google_gemini"
	TypeMistral      = "mistral"
	TypeDeepSeek     = "deepseek"
)

// SupportedTypes lists the closed adapter-type set. Config validation keeps
// its own copy of the set; Build rejects any type that has no registered
// Builder.
var SupportedTypes = []string{TypeGoogleGemini, TypeMistral, TypeDeepSeek}

// UnsupportedTypeError reports a provider type outside the closed set.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported provider type: %s", e.Type)
}

// Builder constructs an Adapter for a given type. Registered by the
// mistralcompat and gemini packages via Register to avoid an import cycle.
type Builder func(cfg Config) Adapter

var builders = map[string]Builder{}

// Register adds a Builder for the given provider type. Called from package
// init() in the concrete adapter packages.
func Register(providerType string, b Builder) {
	builders[providerType] = b
}

// Build dispatches on cfg.Type and returns the matching adapter, or
// *UnsupportedTypeError if the type is outside the closed set.
func Build(cfg Config) (Adapter, error) {
	b, ok := builders[cfg.Type]
	if !ok {
		return nil, &UnsupportedTypeError{Type: cfg.Type}
	}
	return b(cfg), nil
}

// PromptRate returns the effective per-1k-token rate for prompt tokens.
func (c Config) PromptRate() float64 {
	if c.PromptCostPer1kTokens != 0 {
		return c.PromptCostPer1kTokens
	}
	return c.CostPer1kTokens
}

// CompletionRate returns the effective per-1k-token rate for completion tokens.
func (c Config) CompletionRate() float64 {
	if c.CompletionCostPer1kTokens != 0 {
		return c.CompletionCostPer1kTokens
	}
	return c.CostPer1kTokens
}
