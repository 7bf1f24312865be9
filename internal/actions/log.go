package actions

import (
	"context"
	"log/slog"

	"github.com/fsmhost/fsmhost/internal/ectx"
)

// logAction implements log: emit a structured log record and a
// realtime log frame. Always succeeds (spec.md §4.3).
type logAction struct{ deps *Deps }

func (a *logAction) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	message := cfgString(cfg, "message", "")
	level := cfgString(cfg, "level", "info")

	logAtLevel(level, message, a.deps.MachineName)

	_ = a.deps.Store.PutRealtimeFrame("log", a.deps.MachineName, map[string]any{
		"message": message,
		"level":   level,
	})

	return cfgString(cfg, "success", "success"), nil
}

func logAtLevel(level, message, machineName string) {
	logger := slog.Default().With("machine_name", machineName)
	switch level {
	case "debug":
		logger.Debug(message)
	case "warn", "warning":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
}
