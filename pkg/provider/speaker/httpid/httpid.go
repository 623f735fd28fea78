// Package httpid provides a speaker.Verifier backed by an embedding sidecar.
//
// The sidecar is a small HTTP server wrapping a speaker embedding model
// (ECAPA-TDNN or similar): it accepts raw PCM at POST /identify and returns
// the closest enrolled speaker plus the similarity score as JSON. Enrollment
// lives entirely in the sidecar; this client only queries it.
//
// Usage:
//
//	v, err := httpid.New("http://localhost:9902",
//	    httpid.WithTimeout(500*time.Millisecond),
//	)
//	match, err := v.Identify(ctx, utterancePCM)
package httpid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

const (
	defaultTimeout = time.Second
	identifyPath   = "/identify"
)

// Option is a functional option for configuring the Verifier.
type Option func(*Verifier)

// WithTimeout sets the per-request HTTP timeout. Identification runs on
// buffered utterance audio off the frame loop, so the default is more generous
// than the wake scorer's. Default: 1 s.
func WithTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		v.httpClient.Timeout = timeout
	}
}

// WithEmbeddings asks the sidecar to include the raw voice embedding in its
// responses. Off by default since most callers only need the identity.
func WithEmbeddings() Option {
	return func(v *Verifier) {
		v.wantEmbedding = true
	}
}

// Verifier implements speaker.Verifier against an identification HTTP sidecar.
type Verifier struct {
	baseURL       string
	wantEmbedding bool
	httpClient    *http.Client
}

// Compile-time interface assertion.
var _ speaker.Verifier = (*Verifier)(nil)

// New creates a Verifier talking to the sidecar at baseURL
// (e.g., "http://localhost:9902").
func New(baseURL string, opts ...Option) (*Verifier, error) {
	if baseURL == "" {
		return nil, errors.New("httpid: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("httpid: invalid baseURL: %w", err)
	}
	v := &Verifier{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// identifyResponse is the JSON body returned by the sidecar.
type identifyResponse struct {
	SpeakerID  string    `json:"speaker_id"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Identify posts the PCM chunk to the sidecar and returns the best match.
func (v *Verifier) Identify(ctx context.Context, pcm []byte) (speaker.Match, error) {
	u := v.baseURL + identifyPath
	if v.wantEmbedding {
		u += "?embedding=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(pcm))
	if err != nil {
		return speaker.Match{}, fmt.Errorf("httpid: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return speaker.Match{}, fmt.Errorf("httpid: identify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return speaker.Match{}, fmt.Errorf("httpid: sidecar returned %d: %s", resp.StatusCode, body)
	}

	var ir identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return speaker.Match{}, fmt.Errorf("httpid: decode response: %w", err)
	}
	if ir.Confidence < 0 || ir.Confidence > 1 {
		return speaker.Match{}, fmt.Errorf("httpid: confidence %f out of range", ir.Confidence)
	}
	return speaker.Match{
		SpeakerID:  ir.SpeakerID,
		Confidence: ir.Confidence,
		Embedding:  ir.Embedding,
	}, nil
}
