package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocare-rag/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.AppConfig{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := New(config.AppConfig{
		LogLevel:    "info",
		LogFormat:   "json",
		LogFile:     path,
		Environment: "test",
	})
	require.NoError(t, err)

	Module(logger, "rag").Info("answer generated")
	Module(logger, "rag").Debug("filtered out")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "answer generated", entry["message"])
	assert.Equal(t, "rag", entry["module"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestModuleWithNilLogger(t *testing.T) {
	assert.NotNil(t, Module(nil, "x"))
}
