package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.log")

	log, err := NewWithOutput(false, path)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("scan stored", zap.Int64("scan_id", 7))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "scan stored", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 7, entry["scan_id"])
	assert.Equal(t, "tiger-claw-station", entry["app"])
}

func TestDebugLevel(t *testing.T) {
	log, err := New(true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))
}
