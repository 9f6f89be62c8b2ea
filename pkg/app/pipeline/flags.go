package pipeline

import (
	"net/http"
	"strings"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
)

const (
	HeaderEnableGuardrail = "X-Enable-Guardrail"
	HeaderRedact          = "X-Redact"
)

// ResolveFlags applies the per-request header overrides on top of the
// configured defaults. x-enable-guardrail sets both scan directions and
// x-redact both redaction directions. A present header is true only when its
// value is "true" in any case.
func ResolveFlags(cfg config.GuardrailConfig, headers http.Header) types.Flags {
	flags := types.Flags{
		ScanPrompt:     cfg.ScanPrompt,
		ScanResponse:   cfg.ScanResponse,
		RedactPrompt:   cfg.RedactPrompt,
		RedactResponse: cfg.RedactResponse,
	}
	if enabled, ok := headerBool(headers, HeaderEnableGuardrail); ok {
		flags.ScanPrompt = enabled
		flags.ScanResponse = enabled
	}
	if enabled, ok := headerBool(headers, HeaderRedact); ok {
		flags.RedactPrompt = enabled
		flags.RedactResponse = enabled
	}
	return flags
}

func headerBool(headers http.Header, key string) (bool, bool) {
	values := headers.Values(key)
	if len(values) == 0 {
		return false, false
	}
	return strings.EqualFold(strings.TrimSpace(values[0]), "true"), true
}
