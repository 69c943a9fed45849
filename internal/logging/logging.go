package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

// Options select the level, format and destination of log output.
type Options struct {
	Level  string
	Format string
	File   string
}

// Init installs the default logger configured from LOG_LEVEL, LOG_FORMAT and
// LOG_FILE. def is used when LOG_LEVEL is unset or unknown.
func Init(def slog.Level) {
	opts := Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	}
	slog.SetDefault(New(opts, def, os.Stderr))
}

// New builds a logger. When opts.File is set, output goes to a rotated file
// instead of w.
func New(opts Options, def slog.Level, w io.Writer) *slog.Logger {
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level, def)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

func ParseLevel(l string, def slog.Level) slog.Level {
	switch strings.ToLower(l) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}
