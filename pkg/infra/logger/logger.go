package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/NeuralTrust/GuardProxy/pkg/config"
	"github.com/sirupsen/logrus"
)

const fileBufferSize = 32 * 1024

// NewLogger builds the process logger. When a log file is configured the
// entries go to an async file writer and are mirrored to stdout by a console
// hook. The returned func flushes and closes the file.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	logger.SetLevel(level(cfg))
	logger.SetOutput(os.Stdout)

	if cfg.File == "" {
		return logger, func() {}, nil
	}

	logFile := filepath.Clean(cfg.File)
	if err := os.MkdirAll(filepath.Dir(logFile), 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	asyncWriter, err := NewAsyncFileWriter(logFile, fileBufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize async log writer: %w", err)
	}

	logger.SetOutput(asyncWriter)
	logger.AddHook(NewConsoleHook(os.Stdout))

	return logger, asyncWriter.Close, nil
}

// NewDiscardLogger is used by tests and tools that do not want output.
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func level(cfg config.LogConfig) logrus.Level {
	if cfg.Debug || cfg.Level == "debug" {
		return logrus.DebugLevel
	}
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		return lvl
	}
	return logrus.InfoLevel
}
