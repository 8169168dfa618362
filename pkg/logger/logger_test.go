package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestNew_JSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spatial.log")
	log, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	require.Equal(t, "kept", records[0]["msg"])
	require.Equal(t, "WARN", records[0]["level"])
	require.Equal(t, DefaultService, records[0]["service"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spatial.log")
	log, err := New(Config{Level: "chatty", OutputFile: path, Service: "cli"})
	require.NoError(t, err)

	log.Debug("dropped")
	log.Info("kept")
	require.NoError(t, log.Sync())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	require.Equal(t, "cli", records[0]["service"])
}

func TestNew_BadOutputPath(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
}
