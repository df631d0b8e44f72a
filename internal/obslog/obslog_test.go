package obslog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DefaultsToStderrText(t *testing.T) {
	logger := Init(Options{})
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestInit_DebugLowersLevel(t *testing.T) {
	logger := Init(Options{Debug: true})
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestInit_FileRotationWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rlm.log")

	logger := Init(Options{FilePath: path, JSON: true})
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestSlogJSONHandlerProducesParseableLines(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)
	logger.Info("json line")
	assert.Contains(t, buf.String(), `"msg":"json line"`)
}
