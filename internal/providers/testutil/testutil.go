// Package testutil provides httptest-backed fake upstream servers for
// provider adapter unit tests: a Mistral-compatible chat-completions server
// (shared by the mistralcompat adapter tests) and a Gemini generateContent
// server. Each supports scripted latency and error injection so adapters'
// retry and timeout paths can be exercised without a real network.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"
)

// Script controls how a fake server responds to each request it receives.
type Script struct {
	// Latency delays every response by this duration.
	Latency time.Duration
	// FailFirstN causes the first N requests to return a 500; afterward the
	// server responds normally. Useful for exercising adapter retries.
	FailFirstN int32
	// AlwaysFail, when set, makes every request return a 500.
	AlwaysFail bool
	// ResponseText is echoed back as the completion content.
	ResponseText string
	// PromptTokens/CompletionTokens are reported in the usage block.
	PromptTokens     int
	CompletionTokens int

	seen atomic.Int32
}

func (s *Script) shouldFail() bool {
	if s.AlwaysFail {
		return true
	}
	n := s.seen.Add(1)
	return n <= s.FailFirstN
}

// NewMistralCompatServer starts a server simulating the Mistral-compatible
// POST /v1/chat/completions endpoint.
func NewMistralCompatServer(script *Script) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if script.Latency > 0 {
			time.Sleep(script.Latency)
		}
		if script.shouldFail() {
			writeJSONError(w, http.StatusInternalServerError, "mock upstream failure")
			return
		}

		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		text := script.ResponseText
		if text == "" {
			text = "mock completion"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":    "cmpl-mock",
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": text}},
			},
			"usage": map[string]int{
				"prompt_tokens":     script.PromptTokens,
				"completion_tokens": script.CompletionTokens,
				"total_tokens":      script.PromptTokens + script.CompletionTokens,
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})
	return httptest.NewServer(mux)
}

// NewGeminiServer starts a server simulating the Gemini
// POST /v1beta/models/{model}:generateContent endpoint.
func NewGeminiServer(script *Script) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
			return
		}
		if script.Latency > 0 {
			time.Sleep(script.Latency)
		}
		if script.shouldFail() {
			writeJSONError(w, http.StatusInternalServerError, "mock upstream failure")
			return
		}

		text := script.ResponseText
		if text == "" {
			text = "mock completion"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]string{{"text": text}},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]int{
				"promptTokenCount":     script.PromptTokens,
				"candidatesTokenCount": script.CompletionTokens,
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "code": status},
	})
}
