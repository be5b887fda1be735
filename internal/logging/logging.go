// Package logging bootstraps the daemon's zerolog logger: console
// output on a TTY, structured JSON otherwise, with rotated log files
// alongside either.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output and rotation.
type Options struct {
	Level           string // "debug", "info", "warn", "error"
	LogsDir         string
	RotateBytes     int64
	MaxLogFiles     int
	ConsoleForHuman bool
}

// Init configures the global zerolog logger and returns it. Safe to call
// once at process startup.
func Init(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if opts.ConsoleForHuman {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		writers = append(writers, os.Stderr)
	}

	if opts.LogsDir != "" {
		maxMB := int(opts.RotateBytes / (1024 * 1024))
		if maxMB < 1 {
			maxMB = 1
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.LogsDir + "/marcus.log",
			MaxSize:    maxMB,
			MaxBackups: opts.MaxLogFiles,
			Compress:   true,
		}
		writers = append(writers, rotator)
	}

	out := io.MultiWriter(writers...)
	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
