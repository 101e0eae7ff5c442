package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/config"
)

func withLogConfig(t *testing.T, format, logConfig string) {
	t.Helper()
	prevFormat, prevConfig := config.LogFormat, config.LogConfig
	config.LogFormat = format
	config.LogConfig = logConfig
	t.Cleanup(func() {
		config.LogFormat = prevFormat
		config.LogConfig = prevConfig
	})
}

func TestSetupLoggerReadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("debug:dispatch* info:*"), 0o600))
	withLogConfig(t, "json", path)

	logger, err := setupLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestSetupLoggerMissingRulesFile(t *testing.T) {
	withLogConfig(t, "json", filepath.Join(t.TempDir(), "nope.txt"))

	_, err := setupLogger()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read log config")
}

func TestSetupLoggerMalformedRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("chatty:*"), 0o600))
	withLogConfig(t, "json", path)

	require.NotPanics(t, func() {
		_, err := setupLogger()
		assert.Error(t, err)
	})
}

func TestSetupLoggerWithoutRules(t *testing.T) {
	withLogConfig(t, "json", "")
	logger, err := setupLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	withLogConfig(t, "text", "")
	logger, err = setupLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, parseDuration("250ms", time.Second))
	assert.Equal(t, time.Second, parseDuration("garbage", time.Second))
	assert.Equal(t, time.Second, parseDuration("", time.Second))
}

func TestParseLogLevelFallback(t *testing.T) {
	assert.Equal(t, log.InfoLevel, parseLogLevel("chatty", log.InfoLevel))
	assert.Equal(t, log.DebugLevel, parseLogLevel("debug", log.InfoLevel))
}
