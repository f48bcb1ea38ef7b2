package mistralcompat

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-cost-router/internal/providers"
	"github.com/nulpointcorp/llm-cost-router/internal/providers/testutil"
)

func TestCall_Success(t *testing.T) {
	script := &testutil.Script{ResponseText: "hello there", PromptTokens: 5, CompletionTokens: 3}
	srv := testutil.NewMistralCompatServer(script)
	defer srv.Close()

	p := New(providers.Config{
		Name:       "mistral",
		Endpoint:   srv.URL + "/v1/chat/completions",
		Model:      "mistral-small-latest",
		MaxRetries: 0,
	}, "")

	result, err := p.Call(context.Background(), "hi", 100, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("text = %q, want %q", result.Text, "hello there")
	}
	if result.TotalTokens != 8 {
		t.Errorf("total tokens = %d, want 8", result.TotalTokens)
	}
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	script := &testutil.Script{ResponseText: "ok", FailFirstN: 2}
	srv := testutil.NewMistralCompatServer(script)
	defer srv.Close()

	p := New(providers.Config{
		Name:       "mistral",
		Endpoint:   srv.URL + "/v1/chat/completions",
		Model:      "mistral-small-latest",
		MaxRetries: 2,
	}, "")

	start := time.Now()
	result, err := p.Call(context.Background(), "hi", 100, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("text = %q, want ok", result.Text)
	}
	// Two failed attempts means two 1s retry delays elapsed.
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Errorf("elapsed = %v, want >= 2s (two retry delays)", elapsed)
	}
}

func TestCall_ExhaustsRetries(t *testing.T) {
	script := &testutil.Script{AlwaysFail: true}
	srv := testutil.NewMistralCompatServer(script)
	defer srv.Close()

	p := New(providers.Config{
		Name:       "mistral",
		Endpoint:   srv.URL + "/v1/chat/completions",
		Model:      "mistral-small-latest",
		MaxRetries: 1,
	}, "")

	_, err := p.Call(context.Background(), "hi", 100, 0.7)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var httpErr *UpstreamHTTPError
	if !asUpstreamHTTPError(err, &httpErr) {
		t.Fatalf("error = %v, want *UpstreamHTTPError", err)
	}
	if httpErr.HTTPStatus() != 500 {
		t.Errorf("status = %d, want 500", httpErr.HTTPStatus())
	}
}

func TestDeepSeekPrependsSystemPreamble(t *testing.T) {
	p := New(providers.Config{Name: "deepseek"}, deepseekSystemPreamble)
	msgs := p.buildMessages("hi")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != deepseekSystemPreamble {
		t.Errorf("msgs[0] = %+v, want system preamble", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content != "hi" {
		t.Errorf("msgs[1] = %+v, want user/hi", msgs[1])
	}
}

func TestMistralDoesNotPrependSystemPreamble(t *testing.T) {
	p := New(providers.Config{Name: "mistral"}, "")
	msgs := p.buildMessages("hi")
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
}

func asUpstreamHTTPError(err error, target **UpstreamHTTPError) bool {
	if e, ok := err.(*UpstreamHTTPError); ok {
		*target = e
		return true
	}
	return false
}
