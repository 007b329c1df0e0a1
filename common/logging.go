// Package common holds ambient plumbing shared by every binary in this
// module: structured logging setup and shared CLI flags.
package common

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
	UID     bool
}

// SetupLogger builds the slog.Logger used throughout the process, tagging
// every record with service/version and, optionally, a per-process
// correlation id.
func SetupLogger(opts LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler).With(
		slog.String("service", opts.Service),
		slog.String("version", opts.Version),
	)

	if opts.UID {
		logger = logger.With(slog.String("uid", uuid.New().String()))
	}

	return logger
}

// SetupZapLogger builds a zap.Logger mirroring the slog configuration, for
// components (chi middleware) that expect zap specifically.
func SetupZapLogger(opts LoggingOpts) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	if !opts.JSON {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}
	return logger.With(zap.String("service", opts.Service), zap.String("version", opts.Version)), nil
}

// SetupLoggerFromCLI reads the common logging flags off a urfave/cli context.
func SetupLoggerFromCLI(cCtx *cli.Context, service string) *slog.Logger {
	return SetupLogger(LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: service,
		Version: Version,
		UID:     cCtx.Bool(LogUidFlag.Name),
	})
}
