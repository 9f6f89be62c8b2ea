package dependency_container

import (
	"github.com/NeuralTrust/GuardProxy/pkg/app/pipeline"
	"github.com/NeuralTrust/GuardProxy/pkg/config"
	handlers "github.com/NeuralTrust/GuardProxy/pkg/handlers/http"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/backend"
	"github.com/NeuralTrust/GuardProxy/pkg/infra/guardrail"
	"github.com/NeuralTrust/GuardProxy/pkg/server/middleware"
	"github.com/NeuralTrust/GuardProxy/pkg/server/router"
	"github.com/sirupsen/logrus"
)

type Container struct {
	Scanner             guardrail.Scanner
	Backend             backend.Backend
	PromptPipeline      *pipeline.PromptPipeline
	ResponsePipeline    *pipeline.ResponsePipeline
	HandlerTransport    handlers.HandlerTransport
	MiddlewareTransport *middleware.Transport
}

type ContainerDI struct {
	Cfg     *config.Config
	Logger  *logrus.Logger
	Scanner guardrail.Scanner
	Backend backend.Backend
}

// NewContainer wires the proxy. Scanner and Backend are built from Cfg when
// left nil. Without a complete guardrail configuration no scanner is built
// and every scan flag is inert.
func NewContainer(di ContainerDI) *Container {
	scanner := di.Scanner
	if scanner == nil && di.Cfg.Guardrail.Enabled() {
		scanner = guardrail.NewClient(di.Cfg.Guardrail, di.Logger)
	}
	if scanner == nil {
		di.Logger.Warn("guardrail is not configured, scans are disabled")
	}

	backendClient := di.Backend
	if backendClient == nil {
		backendClient = backend.NewClient(di.Cfg.Backend, di.Logger)
	}

	prompt := pipeline.NewPromptPipeline(di.Cfg, scanner, di.Logger)
	response := pipeline.NewResponsePipeline(scanner, di.Logger)

	return &Container{
		Scanner:          scanner,
		Backend:          backendClient,
		PromptPipeline:   prompt,
		ResponsePipeline: response,
		HandlerTransport: handlers.HandlerTransport{
			ChatCompletionsHandler: handlers.NewChatCompletionsHandler(handlers.ChatCompletionsHandlerDeps{
				Logger:   di.Logger,
				Cfg:      di.Cfg,
				Backend:  backendClient,
				Prompt:   prompt,
				Response: response,
			}),
			ModelsHandler:     handlers.NewModelsHandler(di.Logger, backendClient),
			GetVersionHandler: handlers.NewGetVersionHandler(),
		},
		MiddlewareTransport: middleware.NewTransport(
			middleware.NewRequestIDMiddleware(),
			middleware.NewAccessLogMiddleware(di.Logger),
		),
	}
}

func (c *Container) Routers() []router.ServerRouter {
	return []router.ServerRouter{
		router.NewProxyRouter(c.MiddlewareTransport, c.HandlerTransport),
	}
}
