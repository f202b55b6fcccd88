package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

const (
	LOG_INFO  = "info"
	LOG_DEBUG = "debug"
	LOG_WARN  = "warn"
	LOG_ERROR = "error"
	LOG_TRACE = "trace"
)

// Output formats accepted by Configure
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects the level and format of the process logger
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func init() {
	// Silent until a command turns output on
	SetSilentMode(true)
}

// SetSilentMode configures whether logging should be silent or output to stderr
func SetSilentMode(silent bool) {
	if silent {
		SetOutput(io.Discard)
		return
	}
	SetOutput(consoleWriter(os.Stderr))
}

// Configure sends logs to stderr in the requested format and sets the level
func Configure(cfg Config) error {
	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		SetOutput(consoleWriter(os.Stderr))
	case FormatJSON:
		SetOutput(os.Stderr)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.Level == "" {
		return nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

// SetOutput replaces the writer of the process logger and resets the level to info.
// Tests use it to capture log lines.
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// New returns the process logger
func New() zerolog.Logger {
	return logger
}

// GetLogger returns a child logger tagged with the given component name. Loggers obtained
// before a later SetOutput keep writing to the previous writer.
func GetLogger(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// SetLevel sets the global log level; unknown names mean info
func SetLevel(level string) {
	switch level {
	case LOG_TRACE:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case LOG_DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LOG_WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LOG_ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
