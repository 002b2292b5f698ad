package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
}

// WithLevel returns a copy of the config with the level overridden. An
// empty override keeps the configured level.
func (c Config) WithLevel(level string) Config {
	if level != "" {
		c.Level = level
	}
	return c
}

// New builds the process root logger. Every package derives its own logger
// from this one through Component.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = timeFormat(cfg)

	logger := zerolog.New(output(cfg)).Level(level(cfg))
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

// Component derives a logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// level parses the configured level, falling back to info on anything
// unparseable. zerolog accepts the empty string as NoLevel, which would
// disable level filtering entirely, so it is rejected here too.
func level(cfg Config) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

func timeFormat(cfg Config) string {
	if cfg.TimeFormat != "" {
		return cfg.TimeFormat
	}
	return time.RFC3339
}

func output(cfg Config) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: timeFormat(cfg),
		}
	}
	return os.Stdout
}
