// Package openai implements the routing.Adapter for OpenAI-compatible APIs.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/relayforge/modelmux/internal/providers"
	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/routing"
)

// Adapter implements routing.Adapter for OpenAI.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter.
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

// HealthEndpoint returns a URL for health probing. A GET to /v1/models
// answers 401 without a key, which still proves reachability.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/models"
}

// endpointFor maps a canonical task family onto the OpenAI endpoint.
func endpointFor(task string) string {
	switch task {
	case registry.FamilyEmbeddings:
		return "/v1/embeddings"
	case registry.FamilyAudio:
		return "/v1/audio/transcriptions"
	case registry.FamilyImageGen:
		return "/v1/images/generations"
	default:
		// Chat, text analysis, and vision all speak chat completions.
		return "/v1/chat/completions"
	}
}

func (a *Adapter) Invoke(ctx context.Context, model string, req routing.ProviderRequest) (routing.Payload, error) {
	fields := map[string]any{"model": model}
	if req.Temperature > 0 {
		fields["temperature"] = req.Temperature
	}
	if req.MaxNewTokens > 0 {
		fields["max_tokens"] = req.MaxNewTokens
	}

	payload, err := providers.MergeInput(req.Input, fields)
	if err != nil {
		return nil, err
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+endpointFor(req.Task), payload, a.authHeaders())
	if err != nil {
		return nil, err
	}
	return routing.Payload(body), nil
}

func (a *Adapter) ClassifyError(err error) *routing.ClassifiedError {
	var se *providers.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			ce := &routing.ClassifiedError{Err: err, Class: routing.ErrRateLimited}
			ce.RetryAfter = se.RetryAfterSecs
			return ce
		case se.StatusCode >= 500:
			return &routing.ClassifiedError{Err: err, Class: routing.ErrTransient}
		case se.StatusCode == 408:
			return &routing.ClassifiedError{Err: err, Class: routing.ErrTimeout}
		}
	}
	return &routing.ClassifiedError{Err: err, Class: routing.ErrFatal}
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}
}
