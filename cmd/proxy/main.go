package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/NeuralTrust/GuardProxy/pkg/dependency_container"
	infraLogger "github.com/NeuralTrust/GuardProxy/pkg/infra/logger"
	"github.com/NeuralTrust/GuardProxy/pkg/server"
	"github.com/NeuralTrust/GuardProxy/pkg/version"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, closeLogs, err := infraLogger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer closeLogs()

	logger.WithFields(logrus.Fields{
		"app":     version.AppName,
		"version": version.Version,
	}).Info("starting")
	logger.WithFields(cfg.Fields()).Debug("loaded configuration")

	container := dependency_container.NewContainer(dependency_container.ContainerDI{
		Cfg:    cfg,
		Logger: logger,
	})

	srv := server.NewProxyServer(server.ProxyServerDI{
		Config:  cfg,
		Logger:  logger,
		Routers: container.Routers(),
	})

	if err := run(srv, logger); err != nil {
		logger.WithError(err).Error("server stopped with error")
		closeLogs()
		os.Exit(1)
	}
	logger.Info("server gracefully stopped")
}

func run(srv server.Server, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
