package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Owner   string `json:"owner"`
	Version int    `json:"version"`
}

func TestWriteJSONAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.json")

	require.NoError(t, WriteJSON(path, record{Owner: "alice", Version: 1}))
	require.NoError(t, WriteJSON(path, record{Owner: "bob", Version: 2}))

	var got record
	found, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record{Owner: "bob", Version: 2}, got)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(filepath.Join(dir, "x"), []byte("data"), 0600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReadJSONMissing(t *testing.T) {
	var got record
	found, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	var got record
	_, err := ReadJSON(path, &got)
	assert.Error(t, err)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "gone")))
}
