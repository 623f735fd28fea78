// Package openwake provides a wake.Detector backed by an openWakeWord
// scoring sidecar.
//
// The sidecar is a small HTTP server wrapping the openWakeWord runtime: it
// accepts raw PCM frames at POST /score and returns the activation score for
// the configured wake phrase as JSON. Running the model out of process keeps
// the ONNX runtime out of this binary and lets deployments swap wake models
// without a rebuild.
//
// Usage:
//
//	d, err := openwake.New("http://localhost:9901",
//	    openwake.WithModel("hey_earshot"),
//	    openwake.WithTimeout(50*time.Millisecond),
//	)
//	score, err := d.Score(pcmFrame)
package openwake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

const (
	defaultTimeout = 100 * time.Millisecond
	scorePath      = "/score"
)

// Option is a functional option for configuring the Detector.
type Option func(*Detector)

// WithModel selects a named wake model on the sidecar. When empty, the
// sidecar's default model is used.
func WithModel(model string) Option {
	return func(d *Detector) {
		d.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Scoring runs on the worker
// pool, not the audio callback, but should still be bounded well below a
// frame interval backlog. Default: 100 ms.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		d.httpClient.Timeout = timeout
	}
}

// Detector implements wake.Detector against an openWakeWord HTTP sidecar.
type Detector struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

// New creates a Detector talking to the sidecar at baseURL
// (e.g., "http://localhost:9901").
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("openwake: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("openwake: invalid baseURL: %w", err)
	}
	d := &Detector{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// scoreResponse is the JSON body returned by the sidecar.
type scoreResponse struct {
	Score float64 `json:"score"`
	Model string  `json:"model"`
}

// Score posts one PCM frame to the sidecar and returns the activation score.
func (d *Detector) Score(pcm []byte) (float64, error) {
	u := d.baseURL + scorePath
	if d.model != "" {
		u += "?model=" + url.QueryEscape(d.model)
	}

	resp, err := d.httpClient.Post(u, "application/octet-stream", bytes.NewReader(pcm))
	if err != nil {
		return 0, fmt.Errorf("openwake: score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("openwake: sidecar returned %d: %s", resp.StatusCode, body)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("openwake: decode response: %w", err)
	}
	if sr.Score < 0 || sr.Score > 1 {
		return 0, fmt.Errorf("openwake: score %f out of range", sr.Score)
	}
	return sr.Score, nil
}
