package http

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/app/pipeline"
	"github.com/NeuralTrust/GuardProxy/pkg/common"
	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/prometheus"
	"github.com/NeuralTrust/GuardProxy/pkg/sse"
	"github.com/NeuralTrust/GuardProxy/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxLoggedBody = 2048

// ChatCompletionsHandlerDeps contains all dependencies for the chat
// completions handler.
type ChatCompletionsHandlerDeps struct {
	Logger   *logrus.Logger
	Cfg      *config.Config
	Backend  backend.Backend
	Prompt   *pipeline.PromptPipeline
	Response *pipeline.ResponsePipeline
}

type chatCompletionsHandler struct {
	logger   *logrus.Logger
	cfg      *config.Config
	backend  backend.Backend
	prompt   *pipeline.PromptPipeline
	response *pipeline.ResponsePipeline
	emitter  *sse.Emitter
}

func NewChatCompletionsHandler(deps ChatCompletionsHandlerDeps) Handler {
	return &chatCompletionsHandler{
		logger:   deps.Logger,
		cfg:      deps.Cfg,
		backend:  deps.Backend,
		prompt:   deps.Prompt,
		response: deps.Response,
		emitter:  sse.NewEmitter(deps.Cfg.Backend.StreamChunkSize),
	}
}

// Handle drives one request through Received, PromptProcessed,
// BackendDispatched, ResponseProcessed and Sent. Any step may end in Error.
func (h *chatCompletionsHandler) Handle(c *fiber.Ctx) error {
	// the fasthttp body buffer is reused once the handler returns and the
	// streaming writer runs after that
	body := append([]byte(nil), c.Body()...)

	req := &types.RequestContext{
		Context:    context.Background(),
		RequestID:  requestID(c),
		Headers:    requestHeaders(c),
		Query:      queryParams(c),
		Body:       body,
		ReceivedAt: time.Now(),
	}
	log := h.logger.WithField("request_id", req.RequestID)

	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		h.stage(log, common.StageError, false).Debug("invalid JSON body")
		return h.finish(c, req, false, writeReject(c, pipeline.NewClientError(pipeline.MsgInvalidJSON), false))
	}
	req.Stream = gjson.GetBytes(body, "stream").Bool()
	req.Flags = pipeline.ResolveFlags(h.cfg.Guardrail, req.Headers)
	log = log.WithField("stream", req.Stream)
	h.stage(log, common.StageReceived, req.Stream).WithField("flags", req.Flags).Debug("request received")

	if err := h.prompt.Process(req); err != nil {
		return h.finish(c, req, req.Stream, h.reject(c, log, err, req.Stream))
	}
	h.stage(log, common.StagePromptProcessed, req.Stream).Debug("prompt processed")

	if req.Stream {
		return h.handleStreaming(c, log, req)
	}
	return h.handleBuffered(c, log, req)
}

func (h *chatCompletionsHandler) handleBuffered(c *fiber.Ctx, log *logrus.Entry, req *types.RequestContext) error {
	backendStarted := time.Now()
	resp, err := h.backend.Do(req.Context, h.backendRequest(req))
	prometheus.ObserveBackend(prometheus.EndpointChatCompletions, false, backendStarted)
	if err != nil {
		h.stage(log, common.StageError, false).WithError(err).Error("backend call failed")
		rej := pipeline.NewBackendError(http.StatusBadGateway, pipeline.MsgBadBackendResponse)
		return h.finish(c, req, false, writeReject(c, rej, false))
	}
	h.stage(log, common.StageBackendDispatched, false).
		WithField("status", resp.StatusCode).
		WithField("body", truncate(resp.Body)).
		Debug("backend responded")

	if err := h.response.ProcessBuffered(req, resp); err != nil {
		return h.finish(c, req, false, h.reject(c, log, err, false))
	}
	h.stage(log, common.StageResponseProcessed, false).Debug("response processed")

	copyHeaders(c, pipeline.FilterResponseHeaders(resp.Headers))
	sendErr := c.Status(resp.StatusCode).Send(resp.Body)
	h.stage(log, common.StageSent, false).Debug("response sent")
	return h.finish(c, req, false, sendErr)
}

func (h *chatCompletionsHandler) handleStreaming(c *fiber.Ctx, log *logrus.Entry, req *types.RequestContext) error {
	legacy := h.cfg.Server.LegacyStreamErrors

	backendStarted := time.Now()
	resp, err := h.backend.Stream(req.Context, h.backendRequest(req))
	if err != nil {
		prometheus.ObserveBackend(prometheus.EndpointChatCompletions, true, backendStarted)
		h.stage(log, common.StageError, true).WithError(err).Error("backend stream failed")
		return h.finish(c, req, true, writeStreamBackendError(c, http.StatusBadGateway, legacy))
	}
	defer resp.Body.Close()
	h.stage(log, common.StageBackendDispatched, true).WithField("status", resp.StatusCode).Debug("backend responded")

	if resp.StatusCode != http.StatusOK {
		prometheus.ObserveBackend(prometheus.EndpointChatCompletions, true, backendStarted)
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
		h.stage(log, common.StageError, true).
			WithField("status", resp.StatusCode).
			WithField("body", string(errBody)).
			Warn("bad response from backend")
		return h.finish(c, req, true, writeStreamBackendError(c, resp.StatusCode, legacy))
	}

	text, meta, err := sse.Aggregate(resp.Body)
	prometheus.ObserveBackend(prometheus.EndpointChatCompletions, true, backendStarted)
	if err != nil {
		h.stage(log, common.StageError, true).WithError(err).Error("backend stream interrupted")
		return h.finish(c, req, true, writeStreamBackendError(c, http.StatusBadGateway, legacy))
	}
	log.WithField("text", truncate([]byte(text))).Debug("backend stream aggregated")

	text, err = h.response.ScanText(req.Context, req, text)
	if err != nil {
		return h.finish(c, req, true, h.reject(c, log, err, true))
	}
	h.stage(log, common.StageResponseProcessed, true).Debug("response processed")

	id := fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
	if meta.ID != nil && *meta.ID != "" {
		id = *meta.ID
	}
	model := pipeline.StreamModel(req.OriginalModel, meta, req.Body)

	copyHeaders(c, pipeline.FilterResponseHeaders(resp.Header))
	c.Set(fiber.HeaderContentType, common.ContentTypeEventStream)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	frames := h.emitter.Frames(id, model, text)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for frame := range frames {
			if _, err := w.Write(frame); err != nil {
				log.WithError(err).Debug("client went away")
				return
			}
			if err := w.Flush(); err != nil {
				log.WithError(err).Debug("client went away")
				return
			}
		}
		h.stage(log, common.StageSent, true).Debug("stream sent")
	})
	return h.finish(c, req, true, nil)
}

func (h *chatCompletionsHandler) backendRequest(req *types.RequestContext) backend.Request {
	return backend.Request{
		Method:  http.MethodPost,
		Path:    backend.ChatCompletionsPath,
		Headers: req.Headers,
		Query:   req.Query,
		Body:    req.Body,
	}
}

func (h *chatCompletionsHandler) reject(c *fiber.Ctx, log *logrus.Entry, err error, stream bool) error {
	rej, ok := pipeline.AsReject(err)
	if !ok {
		h.stage(log, common.StageError, stream).WithError(err).Error("request failed")
		rej = pipeline.NewBackendError(http.StatusInternalServerError, "Internal server error")
	} else {
		h.stage(log, common.StageError, stream).
			WithField("kind", rej.Kind).
			WithField("reason", rej.Message).
			Info("request rejected")
	}
	return writeReject(c, rej, stream)
}

func (h *chatCompletionsHandler) finish(c *fiber.Ctx, req *types.RequestContext, stream bool, err error) error {
	prometheus.ObserveRequest(prometheus.EndpointChatCompletions, c.Response().StatusCode(), stream, req.ReceivedAt)
	return err
}

func (h *chatCompletionsHandler) stage(log *logrus.Entry, stage common.Stage, stream bool) *logrus.Entry {
	return log.WithFields(logrus.Fields{"stage": stage, "stream": stream})
}

func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return string(b[:maxLoggedBody]) + "..."
}
