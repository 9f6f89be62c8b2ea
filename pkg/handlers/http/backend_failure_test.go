package http_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/app/pipeline"
	"github.com/NeuralTrust/GuardProxy/pkg/config"
	handlers "github.com/NeuralTrust/GuardProxy/pkg/handlers/http"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend/mocks"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var errRefused = fmt.Errorf("%w: connection refused", backend.ErrBackendUnavailable)

func newMockedApp(t *testing.T, b *mocks.MockBackend, legacy bool) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{LegacyStreamErrors: legacy},
		Backend: config.BackendConfig{
			Model:           "llama3",
			Timeout:         time.Second,
			StreamTimeout:   time.Second,
			StreamChunkSize: 5,
		},
	}
	log := logger.NewDiscardLogger()

	app := fiber.New()
	app.Post(chatPath, handlers.NewChatCompletionsHandler(handlers.ChatCompletionsHandlerDeps{
		Logger:   log,
		Cfg:      cfg,
		Backend:  b,
		Prompt:   pipeline.NewPromptPipeline(cfg, nil, log),
		Response: pipeline.NewResponsePipeline(nil, log),
	}).Handle)
	app.Get("/v1/models", handlers.NewModelsHandler(log, b).Handle)
	return app
}

func send(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, string(raw)
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, chatPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatCompletions_BackendUnreachable(t *testing.T) {
	b := &mocks.MockBackend{}
	b.On("Do", mock.Anything, mock.MatchedBy(func(r backend.Request) bool {
		return r.Method == http.MethodPost &&
			r.Path == backend.ChatCompletionsPath &&
			gjson.GetBytes(r.Body, "model").String() == "llama3"
	})).Return(nil, errRefused).Once()

	resp, body := send(t, newMockedApp(t, b, true), chatRequest(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, pipeline.MsgBadBackendResponse, body)
	b.AssertExpectations(t)
}

func TestChatCompletions_StreamingBackendUnreachable(t *testing.T) {
	tests := []struct {
		name       string
		legacy     bool
		wantStatus int
		wantDone   bool
	}{
		{"legacy", true, http.StatusBadRequest, false},
		{"propagated", false, http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mocks.MockBackend{}
			b.On("Stream", mock.Anything, mock.AnythingOfType("backend.Request")).Return(nil, errRefused).Once()

			resp, body := send(t, newMockedApp(t, b, tt.legacy), chatRequest(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
			assert.Contains(t, body, pipeline.MsgBadBackendResponse)
			assert.Equal(t, tt.wantDone, strings.HasSuffix(body, "data: [DONE]\n\n"))
			b.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
			b.AssertExpectations(t)
		})
	}
}

func TestChatCompletions_StreamInterrupted(t *testing.T) {
	b := &mocks.MockBackend{}
	b.On("Stream", mock.Anything, mock.Anything).Return(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(io.MultiReader(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n"), failingReader{})),
	}, nil).Once()

	resp, body := send(t, newMockedApp(t, b, true), chatRequest(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, pipeline.MsgBadBackendResponse)
	assert.NotContains(t, body, "par")
}

func TestModels_BackendUnreachable(t *testing.T) {
	b := &mocks.MockBackend{}
	b.On("Do", mock.Anything, mock.MatchedBy(func(r backend.Request) bool {
		return r.Method == http.MethodGet && r.Path == backend.ModelsPath
	})).Return(nil, errRefused).Once()

	resp, body := send(t, newMockedApp(t, b, true), httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, pipeline.MsgBadBackendResponse, body)
	b.AssertExpectations(t)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}
