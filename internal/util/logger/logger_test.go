package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("test")
	log.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "subsystem=test")
	assert.Contains(t, output, "level=info")
}

func TestLoggerCached(t *testing.T) {
	assert.Same(t, Logger("cached"), Logger("cached"))
}

func TestParseLevelSpec(t *testing.T) {
	cfg := &Config{DefaultLevel: slog.LevelInfo, SubsystemLevels: map[string]slog.Level{}}
	parseLevelSpec(cfg, "relay=debug, host=warn ,error,bogus=nope")

	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("relay"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("host"))
	assert.Equal(t, slog.LevelError, cfg.LevelForSubsystem("other"))
	_, ok := cfg.SubsystemLevels["bogus"]
	assert.False(t, ok)
}

func TestApplyAdjustsExistingLoggers(t *testing.T) {
	ResetConfig()
	defer ResetConfig()

	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("apply-test")
	Apply("apply-test=error", "")
	log.Warn("hidden")
	assert.Empty(t, buf.String())

	Apply("apply-test=debug", "")
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
