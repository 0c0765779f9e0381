package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZerologLogger(&buf, "warn")
	require.NoError(t, err)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("stale response for %s", "SPECIFICATION")
	logger.Error("commit failed: %v", "disk full")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "stale response for SPECIFICATION", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestZerologLogger_InvalidLevel(t *testing.T) {
	_, err := NewZerologLogger(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
}

func TestNewLoggerFromConfig_File(t *testing.T) {
	path := t.TempDir() + "/logs/odoogen.log"
	logger, closer, err := NewLoggerFromConfig(LogConfig{Level: "info", Output: "file", File: path})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hello")
	require.NoError(t, closer.Close())
}

func TestNewLoggerFromConfig_Errors(t *testing.T) {
	_, _, err := NewLoggerFromConfig(LogConfig{Level: "info", Output: "file"})
	assert.Error(t, err)

	_, _, err = NewLoggerFromConfig(LogConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)
}

func TestSetLogger_IgnoresNil(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	SetLogger(NopLogger{})
	SetLogger(nil)
	assert.Equal(t, NopLogger{}, GetLogger())
}
