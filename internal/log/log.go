package log

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// InitDevLog installs a colored stderr handler as the default slog logger.
func InitDevLog(level slog.Level) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.StampMilli,
		}),
	))

	slog.SetLogLoggerLevel(level)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is debug.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelDebug
	}
	return level
}
