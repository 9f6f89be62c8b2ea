package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/prometheus"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const unknownModel = "unknown"

var filteredResponseHeaders = map[string]struct{}{
	"content-length":    {},
	"content-encoding":  {},
	"transfer-encoding": {},
	"server":            {},
	"date":              {},
}

// ResponsePipeline post-processes backend results before they reach the
// client.
type ResponsePipeline struct {
	scanner guardrail.Scanner
	logger  *logrus.Logger
}

func NewResponsePipeline(scanner guardrail.Scanner, logger *logrus.Logger) *ResponsePipeline {
	return &ResponsePipeline{scanner: scanner, logger: logger}
}

// ScanText scans a complete response text. It returns the text to send,
// which is the redacted text only when redaction is enabled. Scan failures
// are logged and the text is returned unchanged.
func (p *ResponsePipeline) ScanText(ctx context.Context, req *types.RequestContext, text string) (string, error) {
	if !req.Flags.ScanResponse || p.scanner == nil {
		return text, nil
	}
	log := p.logger.WithField("request_id", req.RequestID)

	result, err := p.scanner.Scan(ctx, text)
	if err != nil {
		prometheus.ObserveScanFailure(prometheus.DirectionResponse, guardrail.ErrorKind(err))
		if errors.Is(err, guardrail.ErrNetwork) {
			log.WithError(err).Error("guardrail connection error")
		} else {
			log.WithError(err).Error("guardrail scan error")
		}
		return text, nil
	}
	prometheus.ObserveScan(prometheus.DirectionResponse, string(result.Outcome))
	log.WithField("outcome", result.Outcome).Debug("response scanned")

	switch result.Outcome {
	case guardrail.OutcomeFlagged:
		return "", NewPolicyError(MsgResponseBlocked)
	case guardrail.OutcomeRedacted:
		if req.Flags.RedactResponse {
			return result.Output, nil
		}
	}
	return text, nil
}

// ProcessBuffered scans and restores the model of a non-streaming backend
// response in place. Only 200 responses are touched.
func (p *ResponsePipeline) ProcessBuffered(req *types.RequestContext, resp *types.ResponseContext) error {
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	log := p.logger.WithField("request_id", req.RequestID)

	if req.Flags.ScanResponse && p.scanner != nil {
		if !gjson.ValidBytes(resp.Body) {
			return NewBackendError(http.StatusBadRequest, MsgInvalidJSON+": "+string(resp.Body))
		}
		content := gjson.GetBytes(resp.Body, "choices.0.message.content")
		if content.Type != gjson.String {
			log.WithField("body", string(resp.Body)).Warn("not a valid OpenAI API response, skipping response scan")
		} else {
			text := content.String()
			modified, err := p.ScanText(req.Context, req, text)
			if err != nil {
				return err
			}
			if modified != text {
				body, err := sjson.SetBytes(resp.Body, "choices.0.message.content", modified)
				if err != nil {
					log.WithError(err).Error("failed to apply response redaction")
				} else {
					resp.Body = body
				}
			}
		}
	}

	body, restored, err := RestoreModel(resp.Body, req.OriginalModel)
	if err != nil {
		log.WithError(err).Warn("could not restore original model")
		return nil
	}
	if restored {
		resp.Body = body
	}
	return nil
}

// StreamModel picks the model stamped on re-emitted frames: the client's
// model, else the backend's, else the model sent upstream.
func StreamModel(originalModel string, meta types.StreamMetadata, requestBody []byte) string {
	if originalModel != "" {
		return originalModel
	}
	if meta.Model != nil && *meta.Model != "" {
		return *meta.Model
	}
	if m := gjson.GetBytes(requestBody, "model").String(); m != "" {
		return m
	}
	return unknownModel
}

// FilterResponseHeaders drops hop and framing headers the proxy recomputes.
func FilterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, drop := filteredResponseHeaders[strings.ToLower(k)]; drop {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}
