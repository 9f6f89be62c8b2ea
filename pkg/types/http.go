package types

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// RequestContext carries the request scoped state of one chat completion
// through the pipelines. It is owned by a single request.
type RequestContext struct {
	Context   context.Context
	RequestID string
	Headers   http.Header
	Query     url.Values
	Body      []byte
	Stream    bool
	// OriginalModel is the model named by the client before any override.
	OriginalModel string
	Flags         Flags
	// ReceivedAt is the arrival time used for end to end latency.
	ReceivedAt time.Time
}

// ResponseContext is a backend result on its way back to the client.
type ResponseContext struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Flags are the per-request scan and redact switches after header overrides
// were applied on top of configuration.
type Flags struct {
	ScanPrompt     bool
	ScanResponse   bool
	RedactPrompt   bool
	RedactResponse bool
}
