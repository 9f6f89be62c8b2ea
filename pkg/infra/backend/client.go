package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/httpx"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	ChatCompletionsPath = "/chat/completions"
	ModelsPath          = "/models"
)

var (
	// ErrBackendUnavailable wraps transport failures and timeouts.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBadResponse means the backend body could not be read or decoded.
	ErrBadResponse = errors.New("bad response from backend")
)

// headers never forwarded upstream
var skippedRequestHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"keep-alive":        {},
	"transfer-encoding": {},
}

//go:generate mockery --name=Backend --structname=MockBackend --dir=. --output=./mocks --filename=backend_mock.go --case=underscore
type Backend interface {
	Do(ctx context.Context, r Request) (*types.ResponseContext, error)
	Stream(ctx context.Context, r Request) (*http.Response, error)
}

type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// Client talks to the OpenAI-compatible backend. Buffered calls go through
// the fasthttp adapter; streaming calls use net/http so the body can be read
// incrementally.
type Client struct {
	cfg       config.BackendConfig
	buffered  httpx.Client
	streaming *http.Client
	logger    *logrus.Logger
}

var _ Backend = (*Client)(nil)

type Option func(*Client)

func WithBufferedClient(client httpx.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.buffered = client
		}
	}
}

func WithStreamingClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.streaming = client
		}
	}
}

func NewClient(cfg config.BackendConfig, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.buffered == nil {
		c.buffered = httpx.NewFastHTTPClient(httpx.WithTimeout(cfg.Timeout))
	}
	if c.streaming == nil {
		c.streaming = newStreamingHTTPClient(cfg.StreamTimeout)
	}
	return c
}

func newStreamingHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     false,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Do performs a buffered call. The returned body is already decoded from its
// Content-Encoding. Any status is returned as a response, not an error.
func (c *Client) Do(ctx context.Context, r Request) (*types.ResponseContext, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(ctx, r, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.buffered.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrBadResponse, err)
	}

	decoded, changed, err := httpx.DecodeChain(resp.Header.Get("Content-Encoding"), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if changed {
		c.logger.WithField("content_encoding", resp.Header.Get("Content-Encoding")).Debug("decoded backend body")
	}

	return &types.ResponseContext{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       decoded,
	}, nil
}

// Stream opens a streaming call. The caller owns the returned body.
func (c *Client) Stream(ctx context.Context, r Request) (*http.Response, error) {
	req, err := c.newRequest(ctx, r, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, r Request, stream bool) (*http.Request, error) {
	target := strings.TrimRight(c.cfg.BaseURL, "/") + r.Path
	if q := MergeQuery(r.Query, c.cfg.QueryParams).Encode(); q != "" {
		target += "?" + q
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}

	req.Header = ForwardHeaders(r.Headers, c.cfg.APIKey)
	if stream {
		// the aggregator needs a plain text stream
		req.Header.Del("Accept-Encoding")
	}
	req.Host = c.cfg.Host
	return req, nil
}

// MergeQuery combines client query parameters with the configured ones.
// Configured keys replace client keys.
func MergeQuery(clientParams, fixed url.Values) url.Values {
	merged := make(url.Values, len(clientParams)+len(fixed))
	for k, v := range clientParams {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range fixed {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}

// ForwardHeaders copies the inbound headers for the backend, dropping Host
// and framing headers and replacing Authorization when apiKey is set.
func ForwardHeaders(in http.Header, apiKey string) http.Header {
	out := make(http.Header, len(in)+1)
	for k, v := range in {
		if _, skip := skippedRequestHeaders[strings.ToLower(k)]; skip {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	if apiKey != "" {
		out.Set("Authorization", "Bearer "+apiKey)
	}
	return out
}
