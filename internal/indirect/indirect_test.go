package indirect

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCloseSuccessPublishesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")

	f, err := Open(target)
	require.NoError(t, err)
	_, writeErr := f.Write([]byte("hello"))
	require.NoError(t, writeErr)
	require.NoError(t, f.Close(nil))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not survive a successful close")
}

func TestOpenCloseFailurePathLeavesFinalUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(target, []byte("previous"), 0o644))

	f, err := Open(target)
	require.NoError(t, err)
	_, writeErr := f.Write([]byte("partial"))
	require.NoError(t, writeErr)
	err = f.Close(fmt.Errorf("checksum mismatch"))
	require.Error(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data), "final path must be unchanged on failure")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed on failure")
}

func TestOpenRejectsNonNormalizedPath(t *testing.T) {
	_, err := Open("/tmp/../tmp/out.bin")
	assert.Error(t, err)
}
