package gemini

import (
	"context"
	"testing"

	"github.com/nulpointcorp/llm-cost-router/internal/providers"
	"github.com/nulpointcorp/llm-cost-router/internal/providers/testutil"
)

func TestCall_Success(t *testing.T) {
	script := &testutil.Script{ResponseText: "paris", PromptTokens: 4, CompletionTokens: 1}
	srv := testutil.NewGeminiServer(script)
	defer srv.Close()

	p := New(providers.Config{
		Name:       "google_gemini",
		Endpoint:   srv.URL + "/v1beta",
		Model:      "gemini-1.5-flash",
		APIKey:     "test-key",
		MaxRetries: 0,
	})

	result, err := p.Call(context.Background(), "capital of france?", 100, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "paris" {
		t.Errorf("text = %q, want paris", result.Text)
	}
	if result.TotalTokens != 5 {
		t.Errorf("total tokens = %d, want 5", result.TotalTokens)
	}
}

func TestCall_UpstreamErrorFails(t *testing.T) {
	// An always-failing upstream returns HTTP 500; with no retries the
	// adapter surfaces that status through providers.StatusCoder.
	script := &testutil.Script{AlwaysFail: true}
	srv := testutil.NewGeminiServer(script)
	defer srv.Close()

	p := New(providers.Config{
		Name:       "google_gemini",
		Endpoint:   srv.URL + "/v1beta",
		Model:      "gemini-1.5-flash",
		APIKey:     "test-key",
		MaxRetries: 0,
	})

	_, err := p.Call(context.Background(), "hi", 100, 0.2)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var statusErr providers.StatusCoder
	if se, ok := err.(providers.StatusCoder); ok {
		statusErr = se
	}
	if statusErr == nil {
		t.Fatalf("error = %v, want providers.StatusCoder", err)
	}
	if statusErr.HTTPStatus() != 500 {
		t.Errorf("status = %d, want 500", statusErr.HTTPStatus())
	}
}
