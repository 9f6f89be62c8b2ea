package http

import (
	"context"
	"net/http"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/app/pipeline"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/prometheus"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type modelsHandler struct {
	logger  *logrus.Logger
	backend backend.Backend
}

// NewModelsHandler passes GET /v1/models through to the backend.
func NewModelsHandler(logger *logrus.Logger, b backend.Backend) Handler {
	return &modelsHandler{logger: logger, backend: b}
}

func (h *modelsHandler) Handle(c *fiber.Ctx) error {
	started := time.Now()
	log := h.logger.WithField("request_id", requestID(c))

	resp, err := h.backend.Do(context.Background(), backend.Request{
		Method:  http.MethodGet,
		Path:    backend.ModelsPath,
		Headers: requestHeaders(c),
		Query:   queryParams(c),
	})
	prometheus.ObserveBackend(prometheus.EndpointModels, false, started)
	if err != nil {
		log.WithError(err).Error("models backend call failed")
		sendErr := writeReject(c, pipeline.NewBackendError(http.StatusBadGateway, pipeline.MsgBadBackendResponse), false)
		prometheus.ObserveRequest(prometheus.EndpointModels, http.StatusBadGateway, false, started)
		return sendErr
	}

	copyHeaders(c, pipeline.FilterResponseHeaders(resp.Headers))
	sendErr := c.Status(resp.StatusCode).Send(resp.Body)
	prometheus.ObserveRequest(prometheus.EndpointModels, resp.StatusCode, false, started)
	log.WithField("status", resp.StatusCode).Debug("models listed")
	return sendErr
}
