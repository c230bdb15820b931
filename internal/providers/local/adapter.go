// Package local implements the routing.Adapter for self-hosted
// OpenAI-compatible inference servers (vLLM, llama.cpp, TGI). Supports
// round-robin across multiple replicas.
package local

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/relayforge/modelmux/internal/providers"
	"github.com/relayforge/modelmux/internal/routing"
)

// Adapter implements routing.Adapter for local inference servers.
type Adapter struct {
	id        string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
}

// New creates a local adapter with one or more endpoints.
func New(id string, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		endpoints: []string{endpoint},
		client:    &http.Client{Timeout: 120 * time.Second},
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

// WithEndpoints adds additional replicas for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) {
		a.endpoints = append(a.endpoints, endpoints...)
	}
}

func (a *Adapter) ID() string { return a.id }

// HealthEndpoint returns the /health URL of the first replica for probing.
func (a *Adapter) HealthEndpoint() string {
	return a.endpoints[0] + "/health"
}

// nextEndpoint returns the next replica in round-robin order.
func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
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

	body, err := providers.DoRequest(ctx, a.client, a.nextEndpoint()+"/v1/chat/completions", payload, nil)
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
			if se.RetryAfterSecs > 0 {
				ce.RetryAfter = se.RetryAfterSecs
			}
			return ce
		case se.StatusCode >= 500:
			return &routing.ClassifiedError{Err: err, Class: routing.ErrTransient}
		}
	}
	return &routing.ClassifiedError{Err: err, Class: routing.ErrFatal}
}
