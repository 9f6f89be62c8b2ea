package guardrail

import (
	"context"
	"errors"
)

type Outcome string

const (
	OutcomeCleared  Outcome = "cleared"
	OutcomeFlagged  Outcome = "flagged"
	OutcomeRedacted Outcome = "redacted"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCleared, OutcomeFlagged, OutcomeRedacted:
		return true
	default:
		return false
	}
}

// ScanResult is the verdict for one scanned text. Output equals the scanned
// input unless Outcome is OutcomeRedacted.
type ScanResult struct {
	Outcome Outcome
	Output  string
}

var (
	// ErrNetwork covers connection failures, timeouts and an open breaker.
	ErrNetwork = errors.New("guardrail network error")
	// ErrProtocol means the service answered with something that is not a
	// valid verdict.
	ErrProtocol = errors.New("guardrail protocol error")
	// ErrHTTPStatus means the service answered with a non-2xx status.
	ErrHTTPStatus = errors.New("guardrail http status error")
)

// ErrorKind returns a short label for a scan error, used in logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrHTTPStatus):
		return "http_status"
	default:
		return "unknown"
	}
}

//go:generate mockery --name=Scanner --dir=. --output=./mocks --filename=scanner_mock.go --case=underscore
type Scanner interface {
	Scan(ctx context.Context, text string) (ScanResult, error)
}

type scanRequest struct {
	ExternalMetadata map[string]any `json:"externalMetadata"`
	ForceEnabled     []string       `json:"forceEnabled"`
	Input            string         `json:"input"`
	Project          string         `json:"project"`
	Verbose          bool           `json:"verbose"`
}

type scanResponse struct {
	Result *struct {
		Outcome *string `json:"outcome"`
	} `json:"result"`
	RedactedInput *string `json:"redactedInput"`
}
