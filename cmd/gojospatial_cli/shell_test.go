package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojospatial/config"
	"github.com/sushant-115/gojospatial/core/indexmanager"
	"go.uber.org/zap"
)

// --- Test Helpers ---

func newTestShell(t *testing.T, kind string) (*shell, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default().Index
	cfg.Kind = kind
	cfg.RootEnvelope = []float64{0, 0, 100, 100}
	cfg.Fanout = 4
	index, err := config.NewIndex(cfg, nil)
	require.NoError(t, err)
	manager, err := indexmanager.NewSpatialIndexManager(index, nil, nil, indexmanager.Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	return &shell{manager: manager, logger: zap.NewNop(), out: &out}, &out
}

// exec runs one command line and returns what it printed.
func exec(t *testing.T, sh *shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.False(t, sh.processCommand(context.Background(), strings.Fields(line)))
	return out.String()
}

// --- Test Cases ---

func TestShell_InsertQueryRemove(t *testing.T) {
	sh, out := newTestShell(t, config.KindRTree)

	require.Equal(t, "OK\n", exec(t, sh, out, "insert 1 10 10 20 20"))
	require.Equal(t, "OK\n", exec(t, sh, out, "insert 2 30 30 15 15"))
	require.Contains(t, exec(t, sh, out, "insert 3 200 200 300 300"), "Rejected")
	require.Equal(t, "2 result(s): [1 2]\n", exec(t, sh, out, "query 0 0 50 50"))
	require.Equal(t, "OK\n", exec(t, sh, out, "remove 1"))
	require.Equal(t, "Not found: 1\n", exec(t, sh, out, "remove 1"))
	require.Equal(t, "1 result(s): [2]\n", exec(t, sh, out, "QUERY 0 0 50 50"))
	require.Equal(t, "kind=rtree entries=1 envelope=[0 0 100 100] lsn=3\n", exec(t, sh, out, "stats"))
}

func TestShell_ArgumentErrors(t *testing.T) {
	sh, out := newTestShell(t, config.KindQTree)

	require.Contains(t, exec(t, sh, out, "insert 1 2 3"), "insert requires")
	require.Contains(t, exec(t, sh, out, "insert x 0 0 1 1"), "invalid id")
	require.Contains(t, exec(t, sh, out, "query 0 0 a 1"), "invalid coordinate")
	require.Contains(t, exec(t, sh, out, "remove"), "remove requires")
	require.Contains(t, exec(t, sh, out, "frobnicate"), "Unknown command")
	require.Contains(t, exec(t, sh, out, "save "+filepath.Join(t.TempDir(), "x")), "does not support persistence")
	require.Empty(t, exec(t, sh, out, ""))
	require.True(t, sh.processCommand(context.Background(), []string{"quit"}))
}

func TestShell_BulkSaveLoad(t *testing.T) {
	sh, out := newTestShell(t, config.KindRTree)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "features.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(strings.Join([]string{
		"id,minx,miny,maxx,maxy",
		"# comment",
		"1,0,0,5,5",
		"2, 10, 10, 12, 12",
		"3,50,50,60,60",
		"4,500,500,600,600",
		"5,90,90,95,95",
		"6,20,70,25,75",
	}, "\n")), 0o644))

	require.Equal(t, "Loaded 5 of 6 entries\n", exec(t, sh, out, "bulk "+csvPath))
	require.Equal(t, "2 result(s): [1 2]\n", exec(t, sh, out, "query 0 0 12 12"))

	treePath := filepath.Join(dir, "features.rtree")
	require.Contains(t, exec(t, sh, out, "save "+treePath), "Saved 5 entries")
	require.Equal(t, "OK\n", exec(t, sh, out, "clear"))
	require.Equal(t, "0 result(s): []\n", exec(t, sh, out, "query 0 0 100 100"))
	require.Contains(t, exec(t, sh, out, "load "+treePath), "Loaded 5 entries")
	require.Equal(t, "5 result(s): [1 2 3 5 6]\n", exec(t, sh, out, "query 0 0 100 100"))
}

func TestReadEntries(t *testing.T) {
	entries, err := readEntries(strings.NewReader("7,3,4,1,2\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 7, entries[0].Value)
	require.Equal(t, [4]float64{1, 2, 3, 4}, entries[0].Envelope.Array())

	_, err = readEntries(strings.NewReader("1,0,0,1,1\nx,0,0,1,1\n"))
	require.ErrorContains(t, err, "line 2")

	_, err = readEntries(strings.NewReader("1,0,0,1\n"))
	require.Error(t, err)
}
