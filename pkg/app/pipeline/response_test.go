package pipeline

import (
	"net/http"
	"testing"

	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail/mocks"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/logger"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const completion = `{"id":"chatcmpl-1","model":"llama3","choices":[{"index":0,"message":{"role":"assistant","content":"secret 42"},"finish_reason":"stop"}]}`

func okResponse(body string) *types.ResponseContext {
	return &types.ResponseContext{StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestResponsePipeline_ScanText(t *testing.T) {
	tests := []struct {
		name    string
		result  guardrail.ScanResult
		scanErr error
		flags   types.Flags
		want    string
		wantRej bool
	}{
		{
			name:   "cleared",
			result: guardrail.ScanResult{Outcome: guardrail.OutcomeCleared, Output: "text"},
			flags:  scanAll,
			want:   "text",
		},
		{
			name:    "flagged",
			result:  guardrail.ScanResult{Outcome: guardrail.OutcomeFlagged, Output: "text"},
			flags:   scanAll,
			wantRej: true,
		},
		{
			name:   "redacted with redaction",
			result: guardrail.ScanResult{Outcome: guardrail.OutcomeRedacted, Output: "t**t"},
			flags:  scanAll,
			want:   "t**t",
		},
		{
			name:   "redacted without redaction",
			result: guardrail.ScanResult{Outcome: guardrail.OutcomeRedacted, Output: "t**t"},
			flags:  types.Flags{ScanResponse: true},
			want:   "text",
		},
		{
			name:    "scan error fails open",
			scanErr: guardrail.ErrHTTPStatus,
			flags:   scanAll,
			want:    "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := new(mocks.Scanner)
			scanner.On("Scan", mock.Anything, "text").Return(tt.result, tt.scanErr)
			p := NewResponsePipeline(scanner, logger.NewDiscardLogger())

			got, err := p.ScanText(t.Context(), newRequest(`{}`, tt.flags), "text")

			if tt.wantRej {
				rej, ok := AsReject(err)
				require.True(t, ok)
				assert.Equal(t, MsgResponseBlocked, rej.Message)
				assert.Equal(t, http.StatusBadRequest, rej.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponsePipeline_ProcessBuffered_Redacts(t *testing.T) {
	scanner := new(mocks.Scanner)
	scanner.On("Scan", mock.Anything, "secret 42").
		Return(guardrail.ScanResult{Outcome: guardrail.OutcomeRedacted, Output: "secret **"}, nil)
	p := NewResponsePipeline(scanner, logger.NewDiscardLogger())

	req := newRequest(`{}`, scanAll)
	req.OriginalModel = "gpt-4"
	resp := okResponse(completion)

	require.NoError(t, p.ProcessBuffered(req, resp))
	assert.Equal(t, "secret **", gjson.GetBytes(resp.Body, "choices.0.message.content").String())
	assert.Equal(t, "gpt-4", gjson.GetBytes(resp.Body, "model").String())
	assert.Equal(t, "chatcmpl-1", gjson.GetBytes(resp.Body, "id").String())
}

func TestResponsePipeline_ProcessBuffered_Flagged(t *testing.T) {
	scanner := new(mocks.Scanner)
	scanner.On("Scan", mock.Anything, "secret 42").
		Return(guardrail.ScanResult{Outcome: guardrail.OutcomeFlagged, Output: "secret 42"}, nil)
	p := NewResponsePipeline(scanner, logger.NewDiscardLogger())

	err := p.ProcessBuffered(newRequest(`{}`, scanAll), okResponse(completion))

	rej, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, MsgResponseBlocked, rej.Message)
}

func TestResponsePipeline_ProcessBuffered_InvalidJSON(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewResponsePipeline(scanner, logger.NewDiscardLogger())

	err := p.ProcessBuffered(newRequest(`{}`, scanAll), okResponse(`<html>oops</html>`))

	rej, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, rej.Status)
	assert.Equal(t, "Invalid JSON body: <html>oops</html>", rej.Message)
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestResponsePipeline_ProcessBuffered_MissingContentPassesThrough(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewResponsePipeline(scanner, logger.NewDiscardLogger())
	resp := okResponse(`{"object":"list","data":[]}`)

	require.NoError(t, p.ProcessBuffered(newRequest(`{}`, scanAll), resp))
	assert.Equal(t, `{"object":"list","data":[]}`, string(resp.Body))
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestResponsePipeline_ProcessBuffered_NonOKUntouched(t *testing.T) {
	scanner := new(mocks.Scanner)
	p := NewResponsePipeline(scanner, logger.NewDiscardLogger())
	req := newRequest(`{}`, scanAll)
	req.OriginalModel = "gpt-4"
	resp := &types.ResponseContext{StatusCode: http.StatusTooManyRequests, Body: []byte(`{"error":"rate","model":"x"}`)}

	require.NoError(t, p.ProcessBuffered(req, resp))
	assert.Equal(t, `{"error":"rate","model":"x"}`, string(resp.Body))
}

func TestResponsePipeline_ProcessBuffered_RestoreSkipsInvalidJSON(t *testing.T) {
	p := NewResponsePipeline(nil, logger.NewDiscardLogger())
	req := newRequest(`{}`, types.Flags{})
	req.OriginalModel = "gpt-4"
	resp := okResponse(`plain text`)

	require.NoError(t, p.ProcessBuffered(req, resp))
	assert.Equal(t, `plain text`, string(resp.Body))
}

func TestStreamModel(t *testing.T) {
	backend := "llama3"
	empty := ""

	assert.Equal(t, "gpt-4", StreamModel("gpt-4", types.StreamMetadata{Model: &backend}, nil))
	assert.Equal(t, "llama3", StreamModel("", types.StreamMetadata{Model: &backend}, []byte(`{"model":"sent"}`)))
	assert.Equal(t, "sent", StreamModel("", types.StreamMetadata{Model: &empty}, []byte(`{"model":"sent"}`)))
	assert.Equal(t, "unknown", StreamModel("", types.StreamMetadata{}, []byte(`{}`)))
}

func TestFilterResponseHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", "12")
	h.Set("Content-Encoding", "gzip")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Server", "uvicorn")
	h.Set("Date", "today")
	h.Add("X-Request-Id", "a")
	h.Add("X-Request-Id", "b")
	// non canonical key, as some transports produce
	h["content-LENGTH"] = []string{"3"}

	out := FilterResponseHeaders(h)

	assert.Equal(t, http.Header{
		"Content-Type": {"application/json"},
		"X-Request-Id": {"a", "b"},
	}, out)
}
