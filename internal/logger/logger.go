package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped zerolog logger.
type Logger struct {
	*zerolog.Logger
	component string
}

var (
	// Default level per APP_ENV
	envLevels = map[string]zerolog.Level{
		"development": zerolog.DebugLevel,
		"staging":     zerolog.InfoLevel,
		"production":  zerolog.InfoLevel,
		"test":        zerolog.WarnLevel,
	}
)

// Config represents logger configuration
type Config struct {
	AppEnv string
	// Level overrides the environment default when set (debug, info, warn, error).
	Level string
	// JSON switches from the colored console writer to plain JSON lines.
	JSON bool
	// Out defaults to os.Stdout.
	Out io.Writer
}

// New creates a logger for a component using APP_ENV, LOG_LEVEL and LOG_FORMAT.
func New(component string) *Logger {
	env := os.Getenv("APP_ENV")
	return NewWithConfig(component, Config{
		AppEnv: env,
		Level:  os.Getenv("LOG_LEVEL"),
		JSON:   os.Getenv("LOG_FORMAT") == "json" || env == "production",
	})
}

// NewWithConfig creates a new logger instance with custom configuration
func NewWithConfig(component string, config Config) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	var zl zerolog.Logger
	if config.JSON {
		zl = zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	} else {
		console := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
			FormatMessage: func(i interface{}) string {
				return fmt.Sprintf("[%s] %v", component, i)
			},
			FormatLevel: func(i interface{}) string {
				level, ok := i.(string)
				if !ok {
					return "???"
				}
				switch level {
				case "debug":
					return "\033[36m[DEBUG]\033[0m"
				case "info":
					return "\033[34m[INFO]\033[0m"
				case "warn":
					return "\033[33m[WARN]\033[0m"
				case "error":
					return "\033[31m[ERROR]\033[0m"
				case "fatal":
					return "\033[35m[FATAL]\033[0m"
				default:
					return fmt.Sprintf("[%s]", strings.ToUpper(level))
				}
			},
		}
		zl = zerolog.New(console).With().Timestamp().Logger()
	}
	zl = zl.Level(resolveLevel(config))

	return &Logger{Logger: &zl, component: component}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	zl := zerolog.Nop()
	return &Logger{Logger: &zl, component: "nop"}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	child := l.Logger.With().Str(key, value).Logger()
	return &Logger{Logger: &child, component: l.component}
}

// Component returns the component name the logger was created for.
func (l *Logger) Component() string { return l.component }

func resolveLevel(config Config) zerolog.Level {
	if config.Level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(config.Level)); err == nil {
			return lvl
		}
	}
	if lvl, ok := envLevels[config.AppEnv]; ok {
		return lvl
	}
	return zerolog.DebugLevel
}

func (l *Logger) Debug() *zerolog.Event { return l.Logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.Logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.Logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.Logger.Error() }

// Simple logging methods
func (l *Logger) LogInfo(msg string) {
	l.Info().Msg(msg)
}

func (l *Logger) LogWarn(msg string) {
	l.Warn().Msg(msg)
}

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogFatal(msg string, err error) {
	if err != nil {
		l.Fatal().Err(err).Msg(msg)
		return
	}
	l.Fatal().Msg(msg)
}

// Formatted logging methods
func (l *Logger) LogInfof(format string, v ...interface{}) {
	l.Info().Msgf(format, v...)
}

func (l *Logger) LogWarnf(format string, v ...interface{}) {
	l.Warn().Msgf(format, v...)
}

func (l *Logger) LogErrorf(format string, v ...interface{}) {
	l.Error().Msgf(format, v...)
}
