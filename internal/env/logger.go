package environment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"orderdesk-bot/internal/config"
)

const serviceName = "orderdesk-bot"

func initLogger(cfg config.Config) (*slog.Logger, error) {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Env == "local" {
		// Text handler for local development
		handler = slog.NewTextHandler(w, opts)
	} else {
		// JSON handler for production
		opts.AddSource = level <= slog.LevelDebug
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", serviceName, "env", cfg.Env), nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOGGER_LEVEL %q", level)
	}
}
