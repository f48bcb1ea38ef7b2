package config

import (
	"testing"

	"github.com/nulpointcorp/llm-cost-router/internal/providers"
)

func ptr[T any](v T) *T { return &v }

func TestBuildProviders_MissingRequiredField(t *testing.T) {
	_, err := buildProviders([]ProviderEntry{
		{Name: "p1", Type: providers.TypeMistral, Model: "mistral-small-latest", CostPer1kTokens: ptr(0.001)},
	})
	if err == nil {
		t.Fatal("expected error for missing endpoint, got nil")
	}
}

func TestBuildProviders_MissingCostIsRejected(t *testing.T) {
	_, err := buildProviders([]ProviderEntry{
		{Name: "p1", Type: providers.TypeMistral, Endpoint: "https://api.mistral.ai/v1", Model: "mistral-small-latest"},
	})
	if err == nil {
		t.Fatal("expected error for omitted cost_per_1k_tokens, got nil")
	}
}

func TestBuildProviders_ExplicitZeroCostIsValid(t *testing.T) {
	// A present cost_per_1k_tokens: 0 is a valid free-tier provider, not a
	// missing field — config_loader.py checks key presence, not truthiness.
	out, err := buildProviders([]ProviderEntry{
		{Name: "p1", Type: providers.TypeMistral, Endpoint: "https://api.mistral.ai/v1", Model: "mistral-small-latest", CostPer1kTokens: ptr(0.0)},
	})
	if err != nil {
		t.Fatalf("unexpected error for explicit zero cost: %v", err)
	}
	if out[0].CostPer1kTokens != 0 {
		t.Errorf("cost_per_1k_tokens = %v, want 0", out[0].CostPer1kTokens)
	}
}

func TestBuildProviders_UnsupportedType(t *testing.T) {
	_, err := buildProviders([]ProviderEntry{
		{Name: "p1", Type: "openai", Endpoint: "https://api.openai.com", Model: "gpt-4o", CostPer1kTokens: ptr(0.01)},
	})
	if err == nil {
		t.Fatal("expected error for unsupported type, got nil")
	}
}

func TestBuildProviders_AppliesTypeDefaults(t *testing.T) {
	out, err := buildProviders([]ProviderEntry{
		{Name: "m", Type: providers.TypeMistral, Endpoint: "https://api.mistral.ai/v1", Model: "mistral-small-latest", CostPer1kTokens: ptr(0.001)},
		{Name: "d", Type: providers.TypeDeepSeek, Endpoint: "https://api.deepseek.com", Model: "deepseek-chat", CostPer1kTokens: ptr(0.0005)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].MaxRetries != 1 {
		t.Errorf("mistral default max_retries = %d, want 1", out[0].MaxRetries)
	}
	if out[1].MaxRetries != 2 {
		t.Errorf("deepseek default max_retries = %d, want 2", out[1].MaxRetries)
	}
}

func TestBuildProviders_ExplicitMaxRetriesOverridesDefault(t *testing.T) {
	out, err := buildProviders([]ProviderEntry{
		{Name: "m", Type: providers.TypeMistral, Endpoint: "https://api.mistral.ai/v1", Model: "mistral-small-latest", CostPer1kTokens: ptr(0.001), MaxRetries: ptr(5)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", out[0].MaxRetries)
	}
}

func TestBuildProviders_ExplicitZeroMaxRetriesIsHonored(t *testing.T) {
	// An explicit max_retries: 0 must disable retries outright, not fall
	// back to the per-type default — mirrors provider.get("max_retries", ...)
	// only applying the default when the key is absent.
	out, err := buildProviders([]ProviderEntry{
		{Name: "m", Type: providers.TypeMistral, Endpoint: "https://api.mistral.ai/v1", Model: "mistral-small-latest", CostPer1kTokens: ptr(0.001), MaxRetries: ptr(0)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].MaxRetries != 0 {
		t.Errorf("max_retries = %d, want 0", out[0].MaxRetries)
	}
}

func TestEnvKeyFor(t *testing.T) {
	if got := envKeyFor("mistral-primary"); got != "MISTRAL_PRIMARY_API_KEY" {
		t.Errorf("envKeyFor = %q, want MISTRAL_PRIMARY_API_KEY", got)
	}
}

func TestBuildProviders_EmptyListIsInvalid(t *testing.T) {
	_, err := buildProviders(nil)
	if err == nil {
		t.Fatal("expected error for empty providers list, got nil")
	}
}
