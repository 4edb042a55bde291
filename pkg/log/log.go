package log

import (
	"io"
	"os"
	"strings"
	"time"

	"archiver/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a zerolog.Logger for cfg. Path selects the sink: "stdout",
// "stderr", "console" for human readable output on stderr, or a file path
// rotated by lumberjack.
func New(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(Writer(cfg)).With().Timestamp().Logger().Level(level)
}

// Writer returns the output configured by cfg.Path.
func Writer(cfg config.LogConfig) io.Writer {
	switch strings.ToLower(cfg.Path) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}
