package middleware

import (
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/common"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type accessLogMiddleware struct {
	logger *logrus.Logger
}

// NewAccessLogMiddleware logs one line per request once the handler returns.
// For streamed answers the line is written before the body is flushed.
func NewAccessLogMiddleware(logger *logrus.Logger) Middleware {
	return &accessLogMiddleware{logger: logger}
}

func (m *accessLogMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		nextErr := c.Next()

		status := c.Response().StatusCode()
		if nextErr != nil {
			if fe, ok := nextErr.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		entry := m.logger.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if id, ok := c.Locals(common.RequestIDKey).(string); ok {
			entry = entry.WithField("request_id", id)
		}
		if nextErr != nil {
			entry.WithError(nextErr).Error("request failed")
			return nextErr
		}
		entry.Info("request handled")
		return nil
	}
}
