package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
)

// LLMCompleter calls an OpenAI-compatible chat completions API on behalf of
// one user. A client is built per call from the caller's key; nothing about
// the key outlives the call.
type LLMCompleter struct {
	base        string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewLLMCompleter builds a completer from the engine configuration.
func NewLLMCompleter(c Config) *LLMCompleter {
	return &LLMCompleter{
		base:        c.LLMAPIBase,
		temperature: c.LLMTemperature,
		maxTokens:   c.LLMMaxTokens,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Complete sends one system+user exchange and returns the reply with code fences removed.
func (l *LLMCompleter) Complete(ctx context.Context, apiKey, model, system, prompt string) (string, error) {
	if apiKey == "" {
		return "", errors.New("llm: api key is empty")
	}
	metrics.LLMCalls.Add(1)
	client := llm.NewClient(l.base, apiKey, model,
		llm.WithMaxTokens(l.maxTokens),
		llm.WithTemperature(l.temperature),
		llm.WithHTTPClient(l.httpClient),
	)
	resp, err := client.Complete(ctx, system, prompt)
	if err != nil {
		metrics.LLMErrors.Add(1)
		return "", err
	}
	return StripFences(resp), nil
}

// StripFences removes markdown code fences from LLM output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
