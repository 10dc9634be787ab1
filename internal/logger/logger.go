package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Configure installs the process-wide slog logger. A dev env gets tint's
// coloured output, anything else gets JSON lines.
func Configure(levelStr string, env string) {
	slog.SetDefault(New(os.Stdout, levelStr, env))
}

func New(w io.Writer, levelStr string, env string) *slog.Logger {
	level := parseLogLevel(levelStr)
	var handler slog.Handler

	switch strings.ToLower(env) {
	case "dev", "development":
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
