package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes.
type Options struct {
	// FilePath is the rotating log file. Empty disables file output.
	FilePath string
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Console mirrors log lines to stderr in human-readable form.
	Console bool
	// Stream receives human-readable lines, e.g. the websocket log hub.
	Stream io.Writer
}

var (
	current atomic.Pointer[zerolog.Logger]
	level   atomic.Int32
	file    *lumberjack.Logger
)

func init() {
	level.Store(int32(zerolog.InfoLevel))
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	current.Store(&l)
}

// Setup replaces the active log sinks. It is safe to call more than once.
func Setup(opts Options) error {
	var writers []io.Writer

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return fmt.Errorf("could not create log directory: %w", err)
		}
		if file != nil {
			file.Close()
		}
		file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 5),
			MaxBackups: orDefault(opts.MaxBackups, 1),
		}
		writers = append(writers, file)
	}
	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if opts.Stream != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Stream, NoColor: true, TimeFormat: time.RFC3339})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	SetOutput(zerolog.MultiLevelWriter(writers...))
	Info("--- Log session started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// SetOutput sends all log output to w as JSON lines.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Logger()
	current.Store(&l)
}

// Close flushes and closes the log file, if any.
func Close() {
	if file != nil {
		file.Close()
		file = nil
	}
}

// SetLevelFromString updates the active level. Unknown values mean INFO.
func SetLevelFromString(s string) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		level.Store(int32(zerolog.DebugLevel))
	case "WARN":
		level.Store(int32(zerolog.WarnLevel))
	case "ERROR":
		level.Store(int32(zerolog.ErrorLevel))
	default:
		level.Store(int32(zerolog.InfoLevel))
	}
}

// Level returns the active level name.
func Level() string {
	return strings.ToUpper(zerolog.Level(level.Load()).String())
}

func log() *zerolog.Logger {
	l := current.Load().Level(zerolog.Level(level.Load()))
	return &l
}

func Debug(format string, v ...interface{}) {
	log().Debug().Msgf(format, v...)
}

func Info(format string, v ...interface{}) {
	log().Info().Msgf(format, v...)
}

func Warn(format string, v ...interface{}) {
	log().Warn().Msgf(format, v...)
}

func Error(format string, v ...interface{}) {
	log().Error().Msgf(format, v...)
}

// Fatal logs the message, closes the log file and exits the process.
func Fatal(format string, v ...interface{}) {
	log().WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	Close()
	os.Exit(1)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
