package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelDebug for detailed debug information
	LevelDebug LogLevel = iota
	// LevelInfo for general operational information
	LevelInfo
	// LevelWarning for potentially problematic situations
	LevelWarning
	// LevelError for error conditions
	LevelError
	// LevelNone disables all logging
	LevelNone
)

var (
	// Logger is the process-wide logger instance
	Logger zerolog.Logger

	// currentLevel is the current logging level
	currentLevel = LevelInfo
)

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// ParseLevel converts a textual level ("debug", "info", ...) to a LogLevel.
// Unknown values map to LevelInfo.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "none", "off", "disabled":
		return LevelNone
	default:
		return LevelInfo
	}
}

// String returns the textual form of the level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "none"
	}
}

// Init initializes the logger with the specified level and output format.
// Debug level also records the caller of every entry.
func Init(level string, pretty bool) {
	InitWriter(os.Stderr, level, pretty)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, pretty bool) {
	var output = w
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if ParseLevel(level) == LevelDebug {
		ctx = ctx.Caller()
	}
	Logger = ctx.Logger()
	SetLevel(ParseLevel(level))
}

// SetLevel changes the current logging level
func SetLevel(level LogLevel) {
	currentLevel = level
	zerolog.SetGlobalLevel(toZerolog(level))
}

// Level returns the current logging level
func Level() LogLevel {
	return currentLevel
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// Fatal logs a fatal error message and exits the program
func Fatal(format string, args ...interface{}) {
	Logger.Fatal().Msgf(format, args...)
}
