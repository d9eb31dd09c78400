// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

// HTTP provider defaults.
const (
	DefaultRequestTimeout = 120 * time.Second
	DefaultRateLimit      = rate.Limit(2) // requests per second
	DefaultRateBurst      = 4

	// maxResponseBytes bounds provider response bodies. Codegen blobs
	// for a single page fit comfortably; anything larger is a runaway.
	maxResponseBytes = 8 << 20
)

// HTTPConfig configures an HTTP-backed provider.
type HTTPConfig struct {
	// Endpoint is the full URL requests are POSTed to.
	Endpoint string

	// Model is an optional model identifier forwarded in the request.
	Model string

	// APIKey is sent as a bearer token. Empty disables auth.
	APIKey string

	// Timeout bounds each request. Zero selects DefaultRequestTimeout.
	Timeout time.Duration

	// RateLimit and RateBurst throttle outbound calls. Zero values
	// select the defaults.
	RateLimit rate.Limit
	RateBurst int

	// Logger receives request/response telemetry. Nil selects the
	// default logger.
	Logger *slog.Logger
}

func (c HTTPConfig) validate(name string) error {
	if c.Endpoint == "" {
		return &errors.ConfigError{
			Key:    fmt.Sprintf("providers.%s.endpoint", name),
			Reason: "endpoint is required",
		}
	}
	return nil
}

// httpClient builds the provider's HTTP client: bearer auth via a
// static token source when a key is configured.
func (c HTTPConfig) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if c.APIKey == "" {
		return &http.Client{Timeout: timeout}
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.APIKey})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = timeout
	return client
}

func (c HTTPConfig) limiter() *rate.Limiter {
	limit := c.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	burst := c.RateBurst
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return rate.NewLimiter(limit, burst)
}

func (c HTTPConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// HTTPCodegen is a CodegenProvider speaking a plain JSON POST contract:
// {"model", "prompt"} in, {"content"} out.
type HTTPCodegen struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPCodegen builds an HTTP code-gen provider.
func NewHTTPCodegen(cfg HTTPConfig) (*HTTPCodegen, error) {
	if err := cfg.validate("codegen"); err != nil {
		return nil, err
	}
	return &HTTPCodegen{
		cfg:     cfg,
		client:  cfg.httpClient(),
		limiter: cfg.limiter(),
		logger:  cfg.logger(),
	}, nil
}

// Name implements CodegenProvider.
func (p *HTTPCodegen) Name() string { return "codegen" }

type codegenRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type codegenResponse struct {
	Content string `json:"content"`
}

// Generate implements CodegenProvider.
func (p *HTTPCodegen) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(codegenRequest{Model: p.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", errors.Wrap(err, "encoding codegen request")
	}

	respBody, err := postWithRetry(ctx, p.client, p.limiter, p.logger, p.Name(), p.cfg.Endpoint, body)
	if err != nil {
		return "", err
	}

	var resp codegenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &errors.ProviderError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("response is not valid JSON: %v", err),
			Cause:    err,
		}
	}
	if resp.Content == "" {
		return "", &errors.ProviderError{
			Provider:   p.Name(),
			Message:    "response carries no content",
			Suggestion: "check the provider's prompt template and model configuration",
		}
	}
	return resp.Content, nil
}

// HTTPScorer is a VisionScorer speaking a plain JSON POST contract:
// {"model", "baseline", "candidate", "irSummary"} in (images base64),
// {"layout", "style", "a11y", "perceptual"} out.
type HTTPScorer struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPScorer builds an HTTP vision-scoring provider.
func NewHTTPScorer(cfg HTTPConfig) (*HTTPScorer, error) {
	if err := cfg.validate("vision"); err != nil {
		return nil, err
	}
	return &HTTPScorer{
		cfg:     cfg,
		client:  cfg.httpClient(),
		limiter: cfg.limiter(),
		logger:  cfg.logger(),
	}, nil
}

// Name implements VisionScorer.
func (p *HTTPScorer) Name() string { return "vision" }

type scoreRequest struct {
	Model      string `json:"model,omitempty"`
	Baseline   string `json:"baseline"`
	Candidate  string `json:"candidate"`
	IRSummary  string `json:"irSummary,omitempty"`
	Target     string `json:"targetId,omitempty"`
	Breakpoint string `json:"breakpointId,omitempty"`
}

// Score implements VisionScorer. A payload that is not the expected
// four-dimension object falls back to the neutral vector; only
// transport and HTTP failures surface as errors.
func (p *HTTPScorer) Score(ctx context.Context, req ScoreRequest) (design.Vector, error) {
	body, err := json.Marshal(scoreRequest{
		Model:      p.cfg.Model,
		Baseline:   base64.StdEncoding.EncodeToString(req.Baseline),
		Candidate:  base64.StdEncoding.EncodeToString(req.Candidate),
		IRSummary:  req.IRSummary,
		Target:     req.TargetID,
		Breakpoint: req.BreakpointID,
	})
	if err != nil {
		return design.Vector{}, errors.Wrap(err, "encoding score request")
	}

	respBody, err := postWithRetry(ctx, p.client, p.limiter, p.logger, p.Name(), p.cfg.Endpoint, body)
	if err != nil {
		return design.Vector{}, err
	}

	vec, ok := parseScorePayload(respBody)
	if !ok {
		p.logger.Warn("malformed scoring payload, using fallback vector",
			"provider", p.Name(), "breakpoint", req.BreakpointID)
		return design.FallbackVector(), nil
	}
	return vec, nil
}

// parseScorePayload decodes a scoring response strictly: exactly the
// four dimensions, each a number in [0, 1].
func parseScorePayload(body []byte) (design.Vector, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var raw struct {
		Layout     *float64 `json:"layout"`
		Style      *float64 `json:"style"`
		A11y       *float64 `json:"a11y"`
		Perceptual *float64 `json:"perceptual"`
	}
	if err := dec.Decode(&raw); err != nil {
		return design.Vector{}, false
	}
	for _, dim := range []*float64{raw.Layout, raw.Style, raw.A11y, raw.Perceptual} {
		if dim == nil || *dim < 0 || *dim > 1 {
			return design.Vector{}, false
		}
	}
	return design.Vector{
		Layout:     *raw.Layout,
		Style:      *raw.Style,
		A11y:       *raw.A11y,
		Perceptual: *raw.Perceptual,
	}, true
}

// postWithRetry issues the POST under the rate limiter, retrying 429
// and 5xx responses with capped backoff.
func postWithRetry(ctx context.Context, client *http.Client, limiter *rate.Limiter, logger *slog.Logger, name, endpoint string, body []byte) ([]byte, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 8*time.Second {
				backoff = 8 * time.Second
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		respBody, err := postOnce(ctx, client, name, endpoint, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		logger.Debug("provider request retrying",
			"provider", name, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func postOnce(ctx context.Context, client *http.Client, name, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building provider request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.ProviderError{
			Provider: name,
			Message:  "request failed",
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: name,
			Message:  "reading response body",
			Cause:    err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.ProviderError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Message:    trimForError(respBody),
			RequestID:  resp.Header.Get("X-Request-Id"),
		}
	}
	return respBody, nil
}

// trimForError keeps error messages readable when providers return
// HTML or long diagnostics.
func trimForError(body []byte) string {
	const max = 256
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
