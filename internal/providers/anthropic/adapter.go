// Package anthropic implements the routing.Adapter for the Anthropic API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/relayforge/modelmux/internal/providers"
	"github.com/relayforge/modelmux/internal/routing"
)

// Adapter implements routing.Adapter for Anthropic. All supported task
// families speak the messages endpoint.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Anthropic adapter. A zero timeout defaults to 120s.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.client = c
	}
}

func (a *Adapter) ID() string { return a.id }

// HealthEndpoint returns a URL for health probing. A GET to the messages
// endpoint returns 405 (Method Not Allowed) which proves reachability.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/messages"
}

func (a *Adapter) Invoke(ctx context.Context, model string, req routing.ProviderRequest) (routing.Payload, error) {
	fields := map[string]any{"model": model}
	if req.Temperature > 0 {
		fields["temperature"] = req.Temperature
	}

	payload, err := providers.MergeInput(req.Input, fields)
	if err != nil {
		return nil, err
	}
	// Anthropic requires max_tokens.
	if req.MaxNewTokens > 0 {
		payload["max_tokens"] = req.MaxNewTokens
	} else if _, ok := payload["max_tokens"]; !ok {
		payload["max_tokens"] = 4096
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return nil, err
	}
	return routing.Payload(body), nil
}

func (a *Adapter) ClassifyError(err error) *routing.ClassifiedError {
	var se *providers.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429 || se.StatusCode == 529:
			ce := &routing.ClassifiedError{Err: err, Class: routing.ErrRateLimited}
			if se.RetryAfterSecs > 0 {
				ce.RetryAfter = se.RetryAfterSecs
			}
			return ce
		case se.StatusCode >= 500:
			return &routing.ClassifiedError{Err: err, Class: routing.ErrTransient}
		case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
			return &routing.ClassifiedError{Err: err, Class: routing.ErrFatal}
		}
	}
	return &routing.ClassifiedError{Err: err, Class: routing.ErrFatal}
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
}
