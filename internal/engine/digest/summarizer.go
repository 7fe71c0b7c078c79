// Package digest asks a language model for a structured Korean summary of a
// transcript and rejects anything that does not match the four-section shape.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

// MaxTranscriptChars bounds the transcript text placed in the prompt.
const MaxTranscriptChars = 12000

// ErrSummarization matches every SummarizationError via errors.Is.
var ErrSummarization = errors.New("summarization failed")

// SummarizationError means the completion call failed or its response could
// not be mapped to a complete Summary.
type SummarizationError struct {
	VideoID string
	Err     error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarize %s: %v", e.VideoID, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

func (e *SummarizationError) Is(target error) bool { return target == ErrSummarization }

// Completer is an LLM chat completion endpoint called with a per-user key.
type Completer interface {
	Complete(ctx context.Context, apiKey, model, system, prompt string) (string, error)
}

// Request is everything needed to summarize one video.
type Request struct {
	VideoID      string
	VideoTitle   string
	VideoURL     string
	Transcript   string
	APIKey       string // plaintext, dropped when Summarize returns
	Model        string
	Instructions string // optional reader-provided extra instructions
}

// Summarizer produces Summaries through a Completer.
type Summarizer struct {
	llm          Completer
	defaultModel string
}

// New returns a Summarizer. defaultModel is used when a request has none.
func New(llm Completer, defaultModel string) *Summarizer {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &Summarizer{llm: llm, defaultModel: defaultModel}
}

// Summarize returns a validated Summary or a *SummarizationError.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (*Summary, error) {
	fail := func(err error) (*Summary, error) {
		engine.IncrSummariesRejected()
		return nil, &SummarizationError{VideoID: req.VideoID, Err: err}
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}
	system := systemPrompt
	if extra := strings.TrimSpace(req.Instructions); extra != "" {
		system += extraInstructionsHeader + extra
	}
	transcript := engine.FirstRunes(req.Transcript, MaxTranscriptChars)
	prompt := fmt.Sprintf(userPromptTemplate, req.VideoTitle, req.VideoURL, transcript)

	raw, err := s.llm.Complete(ctx, req.APIKey, model, system, prompt)
	if err != nil {
		return fail(fmt.Errorf("completion: %w", err))
	}
	sum, err := Parse(raw)
	if err != nil {
		return fail(err)
	}
	engine.IncrSummariesGenerated()
	return sum, nil
}

// Parse decodes and validates a model response.
func Parse(raw string) (*Summary, error) {
	raw = engine.StripFences(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var sum Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := sum.Validate(); err != nil {
		return nil, fmt.Errorf("invalid summary: %w", err)
	}
	return &sum, nil
}
