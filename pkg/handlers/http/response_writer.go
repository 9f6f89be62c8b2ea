package http

import (
	"net/http"

	"github.com/NeuralTrust/GuardProxy/pkg/app/pipeline"
	"github.com/NeuralTrust/GuardProxy/pkg/common"
	"github.com/NeuralTrust/GuardProxy/pkg/sse"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// writeReject renders a short-circuit as plain text, or as one SSE error
// frame without a [DONE] terminator when the client asked for a stream.
func writeReject(c *fiber.Ctx, rej *pipeline.RejectError, stream bool) error {
	if stream {
		c.Set(fiber.HeaderContentType, common.ContentTypeEventStream)
		return c.Status(rej.Status).Send(sse.ErrorFrame(rej.Message))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(rej.Status).SendString(rej.Message)
}

// writeStreamBackendError answers a streaming request whose backend call
// failed. Legacy mode collapses every failure to 400 and omits [DONE].
func writeStreamBackendError(c *fiber.Ctx, status int, legacy bool) error {
	c.Set(fiber.HeaderContentType, common.ContentTypeEventStream)
	if legacy {
		return c.Status(http.StatusBadRequest).Send(sse.ErrorFrame(pipeline.MsgBadBackendResponse))
	}
	body := append(sse.ErrorFrame(pipeline.MsgBadBackendResponse), sse.DoneFrame()...)
	return c.Status(status).Send(body)
}

func copyHeaders(c *fiber.Ctx, h http.Header) {
	for k, values := range h {
		for i, v := range values {
			if i == 0 {
				c.Set(k, v)
				continue
			}
			c.Response().Header.Add(k, v)
		}
	}
}

func requestHeaders(c *fiber.Ctx) http.Header {
	h := make(http.Header)
	c.Request().Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return h
}

func queryParams(c *fiber.Ctx) map[string][]string {
	q := make(map[string][]string)
	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		q[string(k)] = append(q[string(k)], string(v))
	})
	return q
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(common.RequestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
