package workers

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

type cronLogger struct {
	logger *slog.Logger
}

// CronLogger routes cron's internal logging into slog.
func CronLogger(logger *slog.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
