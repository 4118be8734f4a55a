package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONCreatesFileAndCleansUpTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	require.NoError(t, WriteJSON(path, map[string]string{"key": "value"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"value"}`, string(content))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSONOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	require.NoError(t, WriteJSON(path, "first"))
	require.NoError(t, WriteJSON(path, "second"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(content))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	require.NoError(t, WriteFile(path, []byte("hello world"), 0o644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
