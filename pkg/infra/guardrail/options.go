package guardrail

import "github.com/NeuralTrust/GuardProxy/pkg/infra/httpx"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client httpx.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb httpx.CircuitBreaker) Option {
	return func(c *Client) {
		if cb != nil {
			c.circuitBreaker = cb
		}
	}
}
