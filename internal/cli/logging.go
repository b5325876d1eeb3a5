package cli

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger, set up by InitLogging.
var Logger *slog.Logger

// InitLogging configures slog from the DTO_LOG environment variable.
func InitLogging() {
	level := new(slog.LevelVar)

	switch strings.ToUpper(os.Getenv("DTO_LOG")) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "WARN":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(Logger)
}
