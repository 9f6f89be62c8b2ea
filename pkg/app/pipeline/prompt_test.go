package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail/mocks"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/logger"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newRequest(body string, flags types.Flags) *types.RequestContext {
	return &types.RequestContext{
		Context:   context.Background(),
		RequestID: "req-1",
		Body:      []byte(body),
		Flags:     flags,
	}
}

func promptConfig(systemPrompt, model string) *config.Config {
	return &config.Config{Backend: config.BackendConfig{SystemPrompt: systemPrompt, Model: model}}
}

var scanAll = types.Flags{ScanPrompt: true, ScanResponse: true, RedactPrompt: true, RedactResponse: true}

func TestPromptPipeline_Cleared(t *testing.T) {
	scanner := new(mocks.Scanner)
	scanner.On("Scan", mock.Anything, "hello").
		Return(guardrail.ScanResult{Outcome: guardrail.OutcomeCleared, Output: "hello"}, nil)

	p := NewPromptPipeline(promptConfig("Be nice.", "llama3"), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}]}`, scanAll)

	require.NoError(t, p.Process(req))

	assert.Equal(t, "gpt-4", req.OriginalModel)
	assert.Equal(t, "llama3", gjson.GetBytes(req.Body, "model").String())
	assert.Equal(t, "system", gjson.GetBytes(req.Body, "messages.0.role").String())
	assert.Equal(t, "Be nice.", gjson.GetBytes(req.Body, "messages.0.content").String())
	assert.Equal(t, "hello", gjson.GetBytes(req.Body, "messages.1.content").String())
	scanner.AssertExpectations(t)
}

func TestPromptPipeline_Flagged(t *testing.T) {
	scanner := new(mocks.Scanner)
	scanner.On("Scan", mock.Anything, "bad").
		Return(guardrail.ScanResult{Outcome: guardrail.OutcomeFlagged, Output: "bad"}, nil)

	p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"messages":[{"role":"user","content":"bad"}]}`, scanAll)

	err := p.Process(req)

	rej, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, 400, rej.Status)
	assert.Equal(t, MsgPromptBlocked, rej.Message)
	assert.Equal(t, KindPolicy, rej.Kind)
}

func TestPromptPipeline_Redaction(t *testing.T) {
	tests := []struct {
		name        string
		redact      bool
		wantContent string
	}{
		{"redaction enabled replaces content", true, "my ssn is ***"},
		{"redaction disabled keeps content", false, "my ssn is 123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := new(mocks.Scanner)
			scanner.On("Scan", mock.Anything, "my ssn is 123").
				Return(guardrail.ScanResult{Outcome: guardrail.OutcomeRedacted, Output: "my ssn is ***"}, nil)

			p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
			req := newRequest(`{"messages":[{"role":"system","content":"s"},{"role":"user","content":"my ssn is 123"}]}`,
				types.Flags{ScanPrompt: true, RedactPrompt: tt.redact})

			require.NoError(t, p.Process(req))
			assert.Equal(t, tt.wantContent, gjson.GetBytes(req.Body, "messages.1.content").String())
			assert.Equal(t, "s", gjson.GetBytes(req.Body, "messages.0.content").String())
		})
	}
}

func TestPromptPipeline_MultimodalRedaction(t *testing.T) {
	scanner := new(mocks.Scanner)
	scanner.On("Scan", mock.Anything, "look at\nthis").
		Return(guardrail.ScanResult{Outcome: guardrail.OutcomeRedacted, Output: "look at ***"}, nil)

	p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"messages":[{"role":"user","content":[{"type":"text","text":"look at"},{"type":"image_url","image_url":{"url":"u"}},{"type":"text","text":"this"}]}]}`, scanAll)

	require.NoError(t, p.Process(req))
	assert.Equal(t, "look at ***", gjson.GetBytes(req.Body, "messages.0.content").String())
}

func TestPromptPipeline_LastMessageNotUser(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}`, scanAll)

	err := p.Process(req)

	rej, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, MsgLastMessageNotUser, rej.Message)
	assert.Equal(t, KindClient, rej.Kind)
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestPromptPipeline_FailOpen(t *testing.T) {
	for _, scanErr := range []error{guardrail.ErrNetwork, guardrail.ErrProtocol, guardrail.ErrHTTPStatus} {
		t.Run(scanErr.Error(), func(t *testing.T) {
			scanner := new(mocks.Scanner)
			scanner.On("Scan", mock.Anything, "hello").
				Return(guardrail.ScanResult{}, fmt.Errorf("%w: boom", scanErr))

			p := NewPromptPipeline(promptConfig("", "llama3"), scanner, logger.NewDiscardLogger())
			req := newRequest(`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}]}`, scanAll)

			require.NoError(t, p.Process(req))
			assert.Equal(t, "hello", gjson.GetBytes(req.Body, "messages.0.content").String())
			assert.Equal(t, "llama3", gjson.GetBytes(req.Body, "model").String())
		})
	}
}

func TestPromptPipeline_ScanDisabledOrNoScanner(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"messages":[{"role":"assistant","content":"x"}]}`, types.Flags{})
	require.NoError(t, p.Process(req))
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)

	p = NewPromptPipeline(promptConfig("", ""), nil, logger.NewDiscardLogger())
	req = newRequest(`{"messages":[{"role":"assistant","content":"x"}]}`, scanAll)
	assert.NoError(t, p.Process(req))
}

func TestPromptPipeline_NoMessagesFailsOpen(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewPromptPipeline(promptConfig("", ""), scanner, logger.NewDiscardLogger())
	req := newRequest(`{"model":"m"}`, scanAll)

	require.NoError(t, p.Process(req))
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}
