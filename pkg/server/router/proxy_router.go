package router

import (
	handlers "github.com/NeuralTrust/GuardProxy/pkg/handlers/http"
	"github.com/NeuralTrust/GuardProxy/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
)

const (
	ChatCompletionsPath = "/v1/chat/completions"
	ModelsPath          = "/v1/models"
	VersionPath         = "/version"
)

type proxyRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    handlers.HandlerTransport
}

func NewProxyRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &proxyRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *proxyRouter) BuildRoutes(router *fiber.App) error {
	t := r.handlerTransport
	if t.ChatCompletionsHandler == nil || t.ModelsHandler == nil || t.GetVersionHandler == nil {
		return ErrInvalidHandlerTransport
	}

	router.Get(VersionPath, t.GetVersionHandler.Handle)

	v1 := router.Group("/", r.middlewareTransport.GetMiddlewares()...)
	v1.Post(ChatCompletionsPath, t.ChatCompletionsHandler.Handle)
	v1.Get(ModelsPath, t.ModelsHandler.Handle)

	return nil
}
