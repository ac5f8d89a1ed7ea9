package logging

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/internal/config"
)

// New builds the application logger and installs it as the zerolog global.
func New(cfg config.EnvConfig) (zerolog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg config.EnvConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "[logging.New] parse level %q", cfg.GetLogLevel())
	}

	w := out
	if cfg.GetLogPretty() {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("app", cfg.GetAppName()).
		Str("env", cfg.GetEnv()).
		Logger()
	log.Logger = logger
	return logger, nil
}
