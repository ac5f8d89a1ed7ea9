package logging_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/membership-session/internal/config"
	"github.com/jrsteele09/membership-session/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	cfg := config.EnvVars{AppName: "test-app", Env: "TEST", LogLevel: "warn"}
	var buf bytes.Buffer

	logger, err := logging.NewWithWriter(cfg, &buf)
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), `"message":"kept"`)
	require.Contains(t, buf.String(), `"app":"test-app"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logging.NewWithWriter(config.EnvVars{LogLevel: "chatty"}, &bytes.Buffer{})
	require.Error(t, err)
}
