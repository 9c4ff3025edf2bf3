package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"golang.org/x/time/rate"
)

// Transport carries one encoded JSON-RPC payload (single or batch) to the
// server and returns the raw response body.
type Transport interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
}

// HTTPConfig configures an HTTPTransport
type HTTPConfig struct {
	// Endpoint is the JSON-RPC URL (http or https)
	Endpoint string

	// Timeout bounds each round trip; zero disables it
	Timeout time.Duration

	// RateLimit is the allowed round trips per second; zero disables limiting
	RateLimit float64

	// RateBurst is the limiter burst size (defaults to 1)
	RateBurst int

	// Headers are added to every request
	Headers map[string]string

	// Client overrides the underlying HTTP client
	Client *http.Client
}

// HTTPTransport posts JSON-RPC payloads over HTTP.
type HTTPTransport struct {
	endpoint string
	timeout  time.Duration
	headers  map[string]string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPTransport creates an HTTP transport
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	t := &HTTPTransport{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		headers:  cfg.Headers,
		client:   client,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return t, nil
}

// Endpoint returns the target URL
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// RoundTrip implements Transport. Every failure is a *TransportError.
func (t *HTTPTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Endpoint: t.endpoint, Err: err}
		}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxRPCResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &TransportError{
			Endpoint:   t.endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	}

	return body, nil
}
