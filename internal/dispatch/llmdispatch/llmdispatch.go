// Package llmdispatch is the reference [dispatch.Dispatcher]: it forwards
// the transcript to a language model and parses the reply.
//
// The model is asked for a small JSON object carrying the spoken response
// and an intent classification. Replies that are not valid JSON are treated
// as plain response text with a neutral classification, so a chatty model
// degrades gracefully instead of breaking the pipeline.
package llmdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/earshot-ai/earshot/internal/dispatch"
	"github.com/earshot-ai/earshot/pkg/provider/llm"
)

const defaultSystemPrompt = `You are a voice assistant. Answer the user's request in one or two short sentences suitable for being read aloud.

Respond with a single JSON object and nothing else:
{"text": "<spoken answer>", "intent_category": "<question|tool_use|command|chitchat>", "confidence": <0.0-1.0>}`

// Fallback classification for replies the model did not structure.
const (
	fallbackCategory   = "chitchat"
	fallbackConfidence = 0.5
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSystemPrompt overrides the default instruction prompt.
func WithSystemPrompt(prompt string) Option {
	return func(d *Dispatcher) { d.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) Option {
	return func(d *Dispatcher) { d.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(d *Dispatcher) { d.maxTokens = &n }
}

// Dispatcher answers transcripts with a single LLM completion per turn.
type Dispatcher struct {
	provider     llm.Provider
	systemPrompt string
	temperature  *float64
	maxTokens    *int
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

// New creates a [Dispatcher] over the given language model provider.
func New(provider llm.Provider, opts ...Option) (*Dispatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("llmdispatch: provider is required")
	}
	d := &Dispatcher{
		provider:     provider,
		systemPrompt: defaultSystemPrompt,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// modelReply is the JSON shape requested from the model.
type modelReply struct {
	Text           string  `json:"text"`
	IntentCategory string  `json:"intent_category"`
	Confidence     float64 `json:"confidence"`
}

// Handle sends the transcript to the model and parses the structured reply.
func (d *Dispatcher) Handle(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	content := req.Transcript
	if req.SpeakerID != "" {
		content = fmt.Sprintf("[speaker: %s] %s", req.SpeakerID, req.Transcript)
	}

	creq := llm.CompletionRequest{
		SystemPrompt: d.systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: content},
		},
	}
	if d.temperature != nil {
		creq.Temperature = *d.temperature
	}
	if d.maxTokens != nil {
		creq.MaxTokens = *d.maxTokens
	}

	cres, err := d.provider.Complete(ctx, creq)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("llmdispatch: completion: %w", err)
	}
	if cres == nil {
		return dispatch.Response{}, fmt.Errorf("llmdispatch: provider returned no response")
	}
	return parseReply(cres.Content), nil
}

// parseReply extracts the structured reply, tolerating code fences and
// leading prose. Unparseable content becomes the response text itself.
func parseReply(content string) dispatch.Response {
	raw := strings.TrimSpace(content)

	jsonText := raw
	if i := strings.Index(jsonText, "{"); i >= 0 {
		if j := strings.LastIndex(jsonText, "}"); j > i {
			jsonText = jsonText[i : j+1]
		}
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(jsonText), &reply); err == nil && reply.Text != "" {
		if reply.Confidence < 0 {
			reply.Confidence = 0
		}
		if reply.Confidence > 1 {
			reply.Confidence = 1
		}
		if reply.IntentCategory == "" {
			reply.IntentCategory = fallbackCategory
		}
		return dispatch.Response{
			Text:             reply.Text,
			IntentConfidence: reply.Confidence,
			IntentCategory:   reply.IntentCategory,
		}
	}

	return dispatch.Response{
		Text:             raw,
		IntentConfidence: fallbackConfidence,
		IntentCategory:   fallbackCategory,
	}
}
