package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/prometheus"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PromptPipeline prepares an inbound chat completion request for the backend.
type PromptPipeline struct {
	systemPrompt string
	model        string
	scanner      guardrail.Scanner
	logger       *logrus.Logger
}

// NewPromptPipeline builds the prompt side. scanner may be nil, in which case
// scan flags have no effect.
func NewPromptPipeline(cfg *config.Config, scanner guardrail.Scanner, logger *logrus.Logger) *PromptPipeline {
	return &PromptPipeline{
		systemPrompt: cfg.Backend.SystemPrompt,
		model:        cfg.Backend.Model,
		scanner:      scanner,
		logger:       logger,
	}
}

// Process runs system prompt injection, prompt scanning and model override on
// req.Body in that order. A *RejectError means the request must not reach the
// backend.
func (p *PromptPipeline) Process(req *types.RequestContext) error {
	log := p.logger.WithField("request_id", req.RequestID)

	body, injected, err := InjectSystemPrompt(req.Body, p.systemPrompt)
	if err != nil {
		log.WithError(err).Error("failed to inject system prompt")
	} else if injected {
		log.Debug("injected system prompt")
	}
	req.Body = body

	if req.Flags.ScanPrompt && p.scanner != nil {
		if err := p.scanPrompt(req.Context, req, log); err != nil {
			return err
		}
	}

	body, original, err := OverrideModel(req.Body, p.model)
	req.OriginalModel = original
	if err != nil {
		log.WithError(err).Error("failed to override model")
		return nil
	}
	if p.model != "" {
		log.WithFields(logrus.Fields{
			"original_model": original,
			"model":          p.model,
		}).Debug("overriding model")
	}
	req.Body = body
	return nil
}

func (p *PromptPipeline) scanPrompt(ctx context.Context, req *types.RequestContext, log *logrus.Entry) error {
	messages := gjson.GetBytes(req.Body, "messages").Array()
	if len(messages) == 0 {
		log.Error("guardrail scan error: request has no messages")
		return nil
	}
	lastIdx := len(messages) - 1
	last := messages[lastIdx]
	if last.Get("role").String() != types.RoleUser {
		return NewClientError(MsgLastMessageNotUser)
	}

	text, ok := MessageText(last.Get("content"))
	if !ok {
		log.Warn("guardrail scan skipped: last message has no text content")
		return nil
	}

	result, err := p.scanner.Scan(ctx, text)
	if err != nil {
		kind := guardrail.ErrorKind(err)
		prometheus.ObserveScanFailure(prometheus.DirectionPrompt, kind)
		if errors.Is(err, guardrail.ErrNetwork) {
			log.WithError(err).Error("guardrail connection error")
		} else {
			log.WithError(err).Error("guardrail scan error")
		}
		return nil
	}
	prometheus.ObserveScan(prometheus.DirectionPrompt, string(result.Outcome))
	log.WithField("outcome", result.Outcome).Debug("prompt scanned")

	switch result.Outcome {
	case guardrail.OutcomeFlagged:
		return NewPolicyError(MsgPromptBlocked)
	case guardrail.OutcomeRedacted:
		if !req.Flags.RedactPrompt {
			return nil
		}
		body, err := sjson.SetBytes(req.Body, fmt.Sprintf("messages.%d.content", lastIdx), result.Output)
		if err != nil {
			log.WithError(err).Error("failed to apply prompt redaction")
			return nil
		}
		req.Body = body
		log.Debug("prompt redacted")
	}
	return nil
}
