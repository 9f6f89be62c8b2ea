package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/httpx"
	"github.com/sirupsen/logrus"
)

const (
	scansPath       = "/scans"
	maxErrorBodyLog = 512
)

// Client submits text to the guardrail service. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	baseURL        string
	token          string
	projectID      string
	timeout        time.Duration
	client         httpx.Client
	circuitBreaker httpx.CircuitBreaker
	logger         *logrus.Logger
}

var _ Scanner = (*Client)(nil)

func NewClient(cfg config.GuardrailConfig, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		token:     cfg.APIToken,
		projectID: cfg.ProjectID,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = httpx.NewFastHTTPClient(httpx.WithTimeout(cfg.Timeout))
	}
	if c.circuitBreaker == nil {
		c.circuitBreaker = httpx.NewCircuitBreaker("guardrail", cfg.BreakerTimeout, cfg.BreakerFailures)
	}
	return c
}

// Scan performs one POST {base}/scans call. It never retries.
func (c *Client) Scan(ctx context.Context, text string) (ScanResult, error) {
	var result ScanResult
	err := c.circuitBreaker.Execute(func() error {
		var execErr error
		result, execErr = c.executeScan(ctx, text)
		return execErr
	})
	if err != nil {
		if errors.Is(err, httpx.ErrCircuitOpen) {
			return ScanResult{}, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return ScanResult{}, err
	}
	return result, nil
}

func (c *Client) executeScan(ctx context.Context, text string) (ScanResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(scanRequest{
		ExternalMetadata: nil,
		ForceEnabled:     []string{},
		Input:            text,
		Project:          c.projectID,
		Verbose:          false,
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scansPath, bytes.NewReader(body))
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to create scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: reading scan response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body":        truncate(respBody, maxErrorBodyLog),
		}).Error("guardrail scan returned non-2xx status")
		return ScanResult{}, fmt.Errorf("%w: status %d", ErrHTTPStatus, resp.StatusCode)
	}

	return decodeScanResponse(respBody, text)
}

func decodeScanResponse(body []byte, input string) (ScanResult, error) {
	var decoded scanResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ScanResult{}, fmt.Errorf("%w: scan response is not valid JSON: %v", ErrProtocol, err)
	}
	if decoded.Result == nil || decoded.Result.Outcome == nil {
		return ScanResult{}, fmt.Errorf("%w: scan response has no result.outcome", ErrProtocol)
	}

	outcome := Outcome(*decoded.Result.Outcome)
	if !outcome.Valid() {
		return ScanResult{}, fmt.Errorf("%w: unknown scan outcome %q", ErrProtocol, outcome)
	}

	result := ScanResult{Outcome: outcome, Output: input}
	if outcome == OutcomeRedacted {
		if decoded.RedactedInput == nil {
			return ScanResult{}, fmt.Errorf("%w: redacted outcome without redactedInput", ErrProtocol)
		}
		result.Output = *decoded.RedactedInput
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
